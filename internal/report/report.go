// Package report renders grids, paths and run summaries as text.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/model"
)

// Map glyphs.
const (
	GlyphFree      = '.'
	GlyphObstacle  = '#'
	GlyphStart     = 'S'
	GlyphGoal      = 'E'
	GlyphPath      = '*'
	GlyphAgent     = 'A'
	GlyphTraversed = 'x'
	GlyphPlanned   = '+'
)

var (
	colorObstacle = lipgloss.Color("#5C6770")
	colorEndpoint = lipgloss.Color("#2CD7C7")
	colorPath     = lipgloss.Color("#F4D03F")
	colorAgent    = lipgloss.Color("#E74C3C")
	colorTrail    = lipgloss.Color("#1D9DA0")
	colorMuted    = lipgloss.Color("#2C4A54")
)

// Overlay marks positions drawn on top of the grid cells.
type Overlay struct {
	Path      []model.Position // static search result
	Planned   []model.Position // current plan of a dynamic run
	Traversed []model.Position // cells the agent has already visited
	Agent     *model.Position
}

// Renderer formats reports, optionally with terminal colours.
type Renderer struct {
	color  bool
	styles map[rune]lipgloss.Style
	title  lipgloss.Style
	good   lipgloss.Style
	bad    lipgloss.Style
}

// NewRenderer colours output only when w is a terminal.
func NewRenderer(w io.Writer) *Renderer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return newRenderer(color)
}

// NewPlainRenderer never emits escape sequences.
func NewPlainRenderer() *Renderer { return newRenderer(false) }

func newRenderer(color bool) *Renderer {
	r := &Renderer{color: color}
	if !color {
		return r
	}
	r.styles = map[rune]lipgloss.Style{
		GlyphFree:      lipgloss.NewStyle().Foreground(colorMuted),
		GlyphObstacle:  lipgloss.NewStyle().Foreground(colorObstacle).Bold(true),
		GlyphStart:     lipgloss.NewStyle().Foreground(colorEndpoint).Bold(true),
		GlyphGoal:      lipgloss.NewStyle().Foreground(colorEndpoint).Bold(true),
		GlyphPath:      lipgloss.NewStyle().Foreground(colorPath),
		GlyphPlanned:   lipgloss.NewStyle().Foreground(colorPath),
		GlyphTraversed: lipgloss.NewStyle().Foreground(colorTrail),
		GlyphAgent:     lipgloss.NewStyle().Foreground(colorAgent).Bold(true),
	}
	r.title = lipgloss.NewStyle().Bold(true).Foreground(colorEndpoint)
	r.good = lipgloss.NewStyle().Foreground(colorEndpoint)
	r.bad = lipgloss.NewStyle().Foreground(colorAgent)
	return r
}

// Grid draws env one row per line with cells separated by spaces. The agent
// wins over every other glyph, then start, goal and obstacles, then the
// traversed trail, then planned or path cells.
func (r *Renderer) Grid(env *core.GridEnvironment, ov Overlay) string {
	marks := make(map[model.Position]rune, len(ov.Path)+len(ov.Planned)+len(ov.Traversed))
	for _, p := range ov.Path {
		marks[p] = GlyphPath
	}
	for _, p := range ov.Planned {
		marks[p] = GlyphPlanned
	}
	for _, p := range ov.Traversed {
		marks[p] = GlyphTraversed
	}

	var sb strings.Builder
	for row := 0; row < env.Rows(); row++ {
		for col := 0; col < env.Cols(); col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			p := model.Position{Row: row, Col: col}
			sb.WriteString(r.glyph(cellGlyph(env, p, marks, ov.Agent)))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func cellGlyph(env *core.GridEnvironment, p model.Position, marks map[model.Position]rune, agent *model.Position) rune {
	if agent != nil && *agent == p {
		return GlyphAgent
	}
	switch env.Cell(p) {
	case model.CellStart:
		return GlyphStart
	case model.CellGoal:
		return GlyphGoal
	case model.CellObstacle:
		return GlyphObstacle
	}
	if m, ok := marks[p]; ok {
		return m
	}
	return GlyphFree
}

func (r *Renderer) glyph(g rune) string {
	if st, ok := r.styles[g]; ok {
		return st.Render(string(g))
	}
	return string(g)
}

func (r *Renderer) heading(s string) string {
	if !r.color {
		return s
	}
	return r.title.Render(s)
}

func (r *Renderer) verdict(ok bool, s string) string {
	if !r.color {
		return s
	}
	if ok {
		return r.good.Render(s)
	}
	return r.bad.Render(s)
}

// SearchSummary describes a single search.
func (r *Renderer) SearchSummary(res core.SearchResult) string {
	var sb strings.Builder
	fmt.Fprintln(&sb, r.heading("A* search"))
	fmt.Fprintf(&sb, "  outcome:          %s\n", r.verdict(res.PathFound, string(res.Outcome)))
	if res.PathFound {
		fmt.Fprintf(&sb, "  total cost:       %g\n", res.TotalCost)
		fmt.Fprintf(&sb, "  path length:      %d\n", len(res.Path))
		fmt.Fprintf(&sb, "  path:             %s\n", FormatPath(res.Path))
	}
	fmt.Fprintf(&sb, "  nodes generated:  %d\n", res.NodesGenerated)
	fmt.Fprintf(&sb, "  nodes inspected:  %d\n", res.NodesInspected)
	fmt.Fprintf(&sb, "  iterations:       %d\n", res.Iterations)
	return sb.String()
}

// DynamicSummary describes a finished dynamic run.
func (r *Renderer) DynamicSummary(res core.DynamicResult) string {
	var sb strings.Builder
	fmt.Fprintln(&sb, r.heading("Dynamic replanning"))
	fmt.Fprintf(&sb, "  outcome:               %s\n", r.verdict(res.Success, string(res.Outcome)))
	fmt.Fprintf(&sb, "  steps:                 %d\n", res.StepCount)
	fmt.Fprintf(&sb, "  total cost:            %g\n", res.TotalCost)
	fmt.Fprintf(&sb, "  cycles:                %d\n", res.Cycles)
	fmt.Fprintf(&sb, "  planning failures:     %d (consecutive at end: %d)\n", res.TotalFailures, res.ConsecutiveFailures)
	fmt.Fprintf(&sb, "  nodes generated:       %d\n", res.TotalNodesGenerated())
	fmt.Fprintf(&sb, "  nodes inspected:       %d\n", res.TotalNodesInspected())
	fmt.Fprintf(&sb, "  mean obstacle ratio:   %.3f\n", res.MeanObstacleRatio())
	fmt.Fprintf(&sb, "  path:                  %s\n", FormatPath(res.CompletePath))
	return sb.String()
}

// CycleLine is a one-line description of a replanning cycle.
func (r *Renderer) CycleLine(c core.CycleReport) string {
	if !c.Search.PathFound {
		return fmt.Sprintf("cycle %3d  at %-9s  no path (%s, %d consecutive)  obstacles %.3f",
			c.Cycle, c.Position, c.Search.Outcome, c.ConsecutiveFailures, c.ObstacleRatio)
	}
	return fmt.Sprintf("cycle %3d  at %-9s  plan cost %-6g len %-3d  inspected %-5d obstacles %.3f",
		c.Cycle, c.Position, c.Search.TotalCost, len(c.Search.Path), c.Search.NodesInspected, c.ObstacleRatio)
}

// FormatPath renders positions as "(r,c) -> (r,c)".
func FormatPath(path []model.Position) string {
	if len(path) == 0 {
		return "-"
	}
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = p.String()
	}
	return strings.Join(parts, " -> ")
}
