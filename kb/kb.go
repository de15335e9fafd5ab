package kb

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/grid-replanner/core"
	"github.com/signalsfoundry/grid-replanner/model"
)

var (
	ErrGridExists   = errors.New("grid already exists")
	ErrGridNotFound = errors.New("grid not found")
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventGridAdded EventType = iota
	EventGridUpdated
	EventGridRemoved
)

func (t EventType) String() string {
	switch t {
	case EventGridAdded:
		return "added"
	case EventGridUpdated:
		return "updated"
	case EventGridRemoved:
		return "removed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is emitted to subscribers when a grid changes.
type Event struct {
	Type EventType
	Grid GridInfo
}

// GridInfo is a point-in-time summary of a stored grid.
type GridInfo struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Rows          int            `json:"rows"`
	Cols          int            `json:"cols"`
	Start         model.Position `json:"start"`
	Goal          model.Position `json:"goal"`
	ObstacleRatio float64        `json:"obstacle_ratio"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type entry struct {
	mu        sync.Mutex // serialises access to env
	id        string
	name      string
	env       *core.GridEnvironment
	createdAt time.Time
	updatedAt time.Time
}

func (e *entry) info() GridInfo {
	return GridInfo{
		ID:            e.id,
		Name:          e.name,
		Rows:          e.env.Rows(),
		Cols:          e.env.Cols(),
		Start:         e.env.Start(),
		Goal:          e.env.Goal(),
		ObstacleRatio: e.env.ObstacleRatio(),
		CreatedAt:     e.createdAt,
		UpdatedAt:     e.updatedAt,
	}
}

// GridStore is an in-memory, thread-safe registry of named grid
// environments. Each grid carries its own lock so searches on different grids
// proceed in parallel.
type GridStore struct {
	mu sync.RWMutex

	grids  map[string]*entry
	byName map[string]string

	subs   map[int]func(Event)
	nextID int
	now    func() time.Time
}

// NewGridStore constructs an empty store.
func NewGridStore() *GridStore {
	return &GridStore{
		grids:  make(map[string]*entry),
		byName: make(map[string]string),
		subs:   make(map[int]func(Event)),
		now:    time.Now,
	}
}

// Add registers env under name and returns its generated ID. Names are unique
// (case-insensitive); an empty name defaults to the ID.
func (s *GridStore) Add(name string, env *core.GridEnvironment) (GridInfo, error) {
	if env == nil {
		return GridInfo{}, fmt.Errorf("grid %q: nil environment", name)
	}
	id := uuid.NewString()
	if strings.TrimSpace(name) == "" {
		name = id
	}
	key := strings.ToLower(name)

	s.mu.Lock()
	if _, exists := s.byName[key]; exists {
		s.mu.Unlock()
		return GridInfo{}, fmt.Errorf("grid %q: %w", name, ErrGridExists)
	}
	now := s.now()
	e := &entry{id: id, name: name, env: env, createdAt: now, updatedAt: now}
	s.grids[id] = e
	s.byName[key] = id
	info := e.info()
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, Event{Type: EventGridAdded, Grid: info})
	return info, nil
}

// Get returns the summary of the grid with the given ID.
func (s *GridStore) Get(id string) (GridInfo, error) {
	e, err := s.lookup(id)
	if err != nil {
		return GridInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info(), nil
}

// Resolve maps an ID or a grid name to the grid's ID.
func (s *GridStore) Resolve(ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.grids[ref]; ok {
		return ref, nil
	}
	if id, ok := s.byName[strings.ToLower(ref)]; ok {
		return id, nil
	}
	return "", fmt.Errorf("grid %q: %w", ref, ErrGridNotFound)
}

// List returns summaries of all grids ordered by creation time, then name.
func (s *GridStore) List() []GridInfo {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.grids))
	for _, e := range s.grids {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	res := make([]GridInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		res = append(res, e.info())
		e.mu.Unlock()
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].Name < res[j].Name
	})
	return res
}

// Snapshot returns an independent copy of the grid's current layout.
func (s *GridStore) Snapshot(id string) (*core.GridEnvironment, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.env.Clone(), nil
}

// WithGrid runs fn with exclusive access to the grid. fn may mutate the
// environment; subscribers are notified once it returns.
func (s *GridStore) WithGrid(id string, fn func(env *core.GridEnvironment) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	fnErr := fn(e.env)
	e.updatedAt = s.now()
	info := e.info()
	e.mu.Unlock()

	s.mu.RLock()
	_, still := s.grids[id]
	subs := s.subscribers()
	s.mu.RUnlock()
	if still {
		notify(subs, Event{Type: EventGridUpdated, Grid: info})
	}
	return fnErr
}

// Remove deletes the grid with the given ID.
func (s *GridStore) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.grids[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("grid %q: %w", id, ErrGridNotFound)
	}
	delete(s.grids, id)
	delete(s.byName, strings.ToLower(e.name))
	subs := s.subscribers()
	s.mu.Unlock()

	e.mu.Lock()
	info := e.info()
	e.mu.Unlock()
	notify(subs, Event{Type: EventGridRemoved, Grid: info})
	return nil
}

// Len is the number of stored grids.
func (s *GridStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grids)
}

// Subscribe registers a callback for store events. It returns an unsubscribe
// function that is safe to call more than once.
func (s *GridStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *GridStore) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.grids[id]
	if !ok {
		return nil, fmt.Errorf("grid %q: %w", id, ErrGridNotFound)
	}
	return e, nil
}

// subscribers copies the callback set; callers hold s.mu.
func (s *GridStore) subscribers() []func(Event) {
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

// notify runs callbacks outside the store lock so they may call back in.
func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
