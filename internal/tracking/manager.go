package tracking

import (
	"context"
	"log"
	"sync"

	"backend-cycletracker/internal/location"
	"backend-cycletracker/internal/recovery"
)

// ProfileLookup resolves a rider's settings.
type ProfileLookup interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

type ManagerDeps struct {
	Sources     func(userID string) location.Source
	Gateway     Gateway
	Cache       recovery.Cache
	Broadcaster Broadcaster
	Profiles    ProfileLookup
}

// Manager owns one controller per user. A controller is built on first use
// and immediately attempts crash recovery, so the first request after a
// restart picks up an interrupted ride.
type Manager struct {
	deps ManagerDeps
	cfg  Config

	mu      sync.Mutex
	entries map[string]*managed
}

type managed struct {
	once sync.Once
	ctrl *Controller
}

func NewManager(deps ManagerDeps, cfg Config) *Manager {
	if deps.Cache == nil {
		deps.Cache = recovery.NewMemoryCache()
	}
	return &Manager{deps: deps, cfg: cfg, entries: map[string]*managed{}}
}

func (m *Manager) Controller(ctx context.Context, userID string) *Controller {
	m.mu.Lock()
	e, ok := m.entries[userID]
	if !ok {
		e = &managed{}
		m.entries[userID] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		e.ctrl = NewController(userID, Deps{
			Source:      m.deps.Sources(userID),
			Gateway:     m.deps.Gateway,
			Cache:       m.deps.Cache,
			Broadcaster: m.deps.Broadcaster,
		}, m.cfg)
		m.refreshProfile(ctx, userID, e.ctrl)
		if err := e.ctrl.Recover(ctx); err != nil {
			log.Printf("crash recovery for %s: %v", userID, err)
		}
	})
	return e.ctrl
}

// RefreshProfile reloads the rider settings into the user's controller.
func (m *Manager) RefreshProfile(ctx context.Context, userID string) *Controller {
	c := m.Controller(ctx, userID)
	m.refreshProfile(ctx, userID, c)
	return c
}

func (m *Manager) refreshProfile(ctx context.Context, userID string, c *Controller) {
	if m.deps.Profiles == nil {
		return
	}
	c.SetProfile(m.Profile(ctx, userID))
}

// Close shuts every controller down, keeping recovery markers in place.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*managed, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	for _, e := range entries {
		// Waits out a construction still in flight.
		e.once.Do(func() {})
		if e.ctrl != nil {
			e.ctrl.Close()
		}
	}
}

// Profile returns the rider settings. Fields the rider has not set, or all of
// them when the lookup fails, come from the manager's default profile.
func (m *Manager) Profile(ctx context.Context, userID string) Profile {
	p := m.cfg.withDefaults().Profile
	if m.deps.Profiles == nil {
		return p
	}
	got, err := m.deps.Profiles.Profile(ctx, userID)
	if err != nil {
		log.Printf("profile lookup for %s: %v", userID, err)
		return p
	}
	if got.WeightKg > 0 {
		p.WeightKg = got.WeightKg
	}
	if got.Unit != "" {
		p.Unit = got.Unit
	}
	return p
}
