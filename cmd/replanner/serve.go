package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/grid-replanner/internal/api"
	"github.com/signalsfoundry/grid-replanner/internal/logging"
	"github.com/signalsfoundry/grid-replanner/internal/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over HTTP with Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
				if err := a.revalidate(); err != nil {
					return err
				}
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// serve runs the HTTP API until ctx is cancelled, then drains in-flight
// requests within the configured shutdown timeout.
func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	log := a.log

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	planner, err := observability.NewPlannerCollector(reg)
	if err != nil {
		return err
	}
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(cfg,
		api.WithLogger(log),
		api.WithPlannerMetrics(planner),
		api.WithHTTPMetrics(httpMetrics),
		api.WithMetricsHandler(planner.Handler()),
	)
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gCtx, "starting HTTP API",
			logging.String("addr", cfg.Server.Addr),
			logging.String("metrics_path", cfg.Server.MetricsPath),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info(context.Background(), "shutting down HTTP API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
