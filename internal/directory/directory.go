package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/burrow/internal/events"
	"github.com/user/burrow/internal/types"
)

var (
	ErrNotFound  = errors.New("agent not found")
	ErrAmbiguous = errors.New("agent id is ambiguous")
)

// DefaultRetention is how long a completed agent is kept after its last activity.
const DefaultRetention = 30 * time.Minute

// Directory is the process-wide set of agents. It is constructed once and
// handed to whatever needs it.
type Directory struct {
	mu        sync.RWMutex
	agents    map[types.AgentID]*Agent
	store     Store
	bus       *events.EventBus
	retention time.Duration
}

// New creates an empty directory backed by store.
func New(store Store, bus *events.EventBus, retention time.Duration) *Directory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Directory{
		agents:    make(map[types.AgentID]*Agent),
		store:     store,
		bus:       bus,
		retention: retention,
	}
}

// Add inserts a and writes its first checkpoint.
func (d *Directory) Add(ctx context.Context, a *Agent) error {
	d.mu.Lock()
	d.agents[a.ID()] = a
	d.mu.Unlock()
	return d.Checkpoint(ctx, a)
}

// Get looks an agent up by full ID.
func (d *Directory) Get(id types.AgentID) (*Agent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.agents[id]
	return a, ok
}

// Lookup resolves a full ID or a unique prefix of one.
func (d *Directory) Lookup(ref string) (*Agent, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a, ok := d.agents[types.AgentID(ref)]; ok {
		return a, nil
	}
	var found *Agent
	for id, a := range d.agents {
		if strings.HasPrefix(string(id), ref) {
			if found != nil {
				return nil, fmt.Errorf("%w: %q", ErrAmbiguous, ref)
			}
			found = a
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	return found, nil
}

// List returns all agents, oldest first.
func (d *Directory) List() []*Agent {
	d.mu.RLock()
	out := make([]*Agent, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i].CreatedAt(), out[j].CreatedAt()
		if ci.Equal(cj) {
			return out[i].ID() < out[j].ID()
		}
		return ci.Before(cj)
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.agents)
}

// Checkpoint persists the agent's current state. Failures are logged and
// returned; the in-memory state stays authoritative. Removed agents are not
// written back.
func (d *Directory) Checkpoint(ctx context.Context, a *Agent) error {
	a.save.Lock()
	defer a.save.Unlock()
	if a.Removed() {
		return nil
	}
	rec := a.Snapshot()
	if err := d.store.Save(ctx, &rec); err != nil {
		slog.Error("checkpoint agent", "agent", a.ID(), "error", err)
		return fmt.Errorf("checkpoint agent %s: %w", a.ID(), err)
	}
	return nil
}

// Load reads every stored record into memory and returns the agents whose
// stored status is running, which need restart recovery.
func (d *Directory) Load(ctx context.Context) ([]*Agent, error) {
	recs, err := d.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	var interrupted []*Agent
	d.mu.Lock()
	for _, rec := range recs {
		a := NewAgent(*rec)
		d.agents[rec.ID] = a
		if rec.Status == StatusRunning {
			interrupted = append(interrupted, a)
		}
	}
	d.mu.Unlock()
	slog.Info("agents loaded", "total", len(recs), "interrupted", len(interrupted))
	return interrupted, nil
}

// CollectGarbage removes completed agents whose last activity is older than
// the retention window, from memory and from the store. It returns how many
// were removed.
func (d *Directory) CollectGarbage(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-d.retention)
	var expired []*Agent
	d.mu.Lock()
	for id, a := range d.agents {
		if a.expire(cutoff) {
			delete(d.agents, id)
			expired = append(expired, a)
		}
	}
	d.mu.Unlock()

	for _, a := range expired {
		if err := d.remove(ctx, a); err != nil {
			slog.Error("delete expired agent", "agent", a.ID(), "error", err)
		}
		slog.Info("agent collected", "agent", a.ID())
		events.Emit(d.bus, events.Event{Type: events.AgentRemoved, AgentID: a.ID()})
	}
	return len(expired)
}

// Clear removes every agent. Running episodes keep going but their
// checkpoints are no longer written.
func (d *Directory) Clear(ctx context.Context) (int, error) {
	d.mu.Lock()
	all := make([]*Agent, 0, len(d.agents))
	for id, a := range d.agents {
		a.markRemoved()
		all = append(all, a)
		delete(d.agents, id)
	}
	d.mu.Unlock()

	var errs []error
	for _, a := range all {
		if err := d.remove(ctx, a); err != nil {
			errs = append(errs, err)
		}
		events.Emit(d.bus, events.Event{Type: events.AgentRemoved, AgentID: a.ID()})
	}
	return len(all), errors.Join(errs...)
}

// remove deletes the stored record of an agent already marked removed. It
// waits for any checkpoint in progress so that save cannot land afterwards.
func (d *Directory) remove(ctx context.Context, a *Agent) error {
	a.save.Lock()
	defer a.save.Unlock()
	return d.store.Delete(ctx, a.ID())
}
