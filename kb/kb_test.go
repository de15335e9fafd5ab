package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/model"
)

func openGrid(t *testing.T) *core.GridEnvironment {
	t.Helper()
	env, err := core.NewOpenGrid(4, 4, model.Position{}, model.Position{Row: 3, Col: 3}, nil)
	if err != nil {
		t.Fatalf("NewOpenGrid: %v", err)
	}
	return env
}

func TestAddAndGetGrid(t *testing.T) {
	store := NewGridStore()
	info, err := store.Add("warehouse", openGrid(t))
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if info.ID == "" || info.Name != "warehouse" {
		t.Fatalf("Add returned %#v", info)
	}
	got, err := store.Get(info.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Rows != 4 || got.Cols != 4 || got.Goal != (model.Position{Row: 3, Col: 3}) {
		t.Fatalf("Get returned %#v", got)
	}
	if id, err := store.Resolve("Warehouse"); err != nil || id != info.ID {
		t.Fatalf("Resolve(name) = %q, %v; want %q", id, err, info.ID)
	}
}

func TestAddGridDuplicateName(t *testing.T) {
	store := NewGridStore()
	if _, err := store.Add("g", openGrid(t)); err != nil {
		t.Fatalf("first Add error: %v", err)
	}
	if _, err := store.Add("G", openGrid(t)); !errors.Is(err, ErrGridExists) {
		t.Fatalf("duplicate Add err = %v, want ErrGridExists", err)
	}
}

func TestGetMissingGrid(t *testing.T) {
	store := NewGridStore()
	if _, err := store.Get("nope"); !errors.Is(err, ErrGridNotFound) {
		t.Fatalf("Get err = %v, want ErrGridNotFound", err)
	}
	if err := store.Remove("nope"); !errors.Is(err, ErrGridNotFound) {
		t.Fatalf("Remove err = %v, want ErrGridNotFound", err)
	}
	if err := store.WithGrid("nope", func(*core.GridEnvironment) error { return nil }); !errors.Is(err, ErrGridNotFound) {
		t.Fatalf("WithGrid err = %v, want ErrGridNotFound", err)
	}
}

func TestListAndRemove(t *testing.T) {
	store := NewGridStore()
	var ids []string
	for i := range 3 {
		info, err := store.Add(fmt.Sprintf("g-%d", i), openGrid(t))
		if err != nil {
			t.Fatalf("Add error: %v", err)
		}
		ids = append(ids, info.ID)
	}
	if got := len(store.List()); got != 3 {
		t.Fatalf("List len=%d, want 3", got)
	}
	if err := store.Remove(ids[1]); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}
	if _, err := store.Resolve("g-1"); !errors.Is(err, ErrGridNotFound) {
		t.Fatalf("removed name still resolves: %v", err)
	}
}

func TestWithGridMutatesAndNotifies(t *testing.T) {
	store := NewGridStore()
	info, _ := store.Add("g", openGrid(t))

	var events []Event
	unsubscribe := store.Subscribe(func(ev Event) { events = append(events, ev) })

	err := store.WithGrid(info.ID, func(env *core.GridEnvironment) error {
		return env.SetCell(model.Position{Row: 1, Col: 1}, model.CellObstacle)
	})
	if err != nil {
		t.Fatalf("WithGrid error: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventGridUpdated {
		t.Fatalf("events = %#v, want one update", events)
	}
	if want := 1.0 / 16; events[0].Grid.ObstacleRatio != want {
		t.Fatalf("ObstacleRatio = %v, want %v", events[0].Grid.ObstacleRatio, want)
	}

	unsubscribe()
	unsubscribe()
	if err := store.Remove(info.ID); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("unsubscribed callback still invoked: %d events", len(events))
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	store := NewGridStore()
	info, _ := store.Add("g", openGrid(t))
	snap, err := store.Snapshot(info.ID)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if err := snap.SetCell(model.Position{Row: 1, Col: 2}, model.CellObstacle); err != nil {
		t.Fatalf("SetCell error: %v", err)
	}
	got, _ := store.Get(info.ID)
	if got.ObstacleRatio != 0 {
		t.Fatalf("snapshot mutation leaked into store: ratio %v", got.ObstacleRatio)
	}
}

func TestConcurrentWithGrid(t *testing.T) {
	store := NewGridStore()
	info, _ := store.Add("g", openGrid(t))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_ = store.WithGrid(info.ID, func(env *core.GridEnvironment) error {
					return env.Mutate(0.2, 0.2)
				})
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(info.ID)
	if got.ObstacleRatio > core.MaxObstacleRatio {
		t.Fatalf("ObstacleRatio = %v exceeds cap", got.ObstacleRatio)
	}
}
