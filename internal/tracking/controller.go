package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-cycletracker/internal/location"
	"backend-cycletracker/internal/recovery"
	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"
)

const (
	defaultCheckpointEvery  = 10
	defaultLocationTimeout  = 10 * time.Second
	defaultAggregateRetries = 3
)

// Broadcaster receives the live view after every processed sample.
type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

type Deps struct {
	Source      location.Source
	Gateway     Gateway
	Cache       recovery.Cache
	Broadcaster Broadcaster
}

type Config struct {
	// CheckpointEvery is how many route samples pass between local snapshots.
	CheckpointEvery  int
	LocationTimeout  time.Duration
	Location         location.Options
	AggregateRetries int
	Profile          Profile
	Now              func() time.Time
}

func (c Config) withDefaults() Config {
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}
	if c.LocationTimeout <= 0 {
		c.LocationTimeout = defaultLocationTimeout
	}
	if c.AggregateRetries <= 0 {
		c.AggregateRetries = defaultAggregateRetries
	}
	if c.Profile.WeightKg <= 0 {
		c.Profile.WeightKg = stats.DefaultWeightKg
	}
	if c.Profile.Unit == "" {
		c.Profile.Unit = geo.UnitKm
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Controller runs the ride lifecycle for one user. Transitions are serialized
// by op; sample handling only takes mu, so it never waits on a transition
// that is itself waiting for the feed to drain.
type Controller struct {
	userID string
	deps   Deps
	cfg    Config
	cp     *checkpointer

	op sync.Mutex

	mu        sync.Mutex
	state     State
	sessionID string
	startMs   int64
	route     []geo.Sample
	acc       *stats.Accumulator
	stats     stats.Stats
	profile   Profile
	feed      *feed
}

func NewController(userID string, deps Deps, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	if deps.Cache == nil {
		deps.Cache = recovery.NewMemoryCache()
	}
	return &Controller{
		userID:  userID,
		deps:    deps,
		cfg:     cfg,
		cp:      newCheckpointer(deps.Cache, keysFor(userID)),
		state:   StateIdle,
		profile: cfg.Profile,
		acc:     stats.NewAccumulator(0),
	}
}

// Start opens a new ride. Calling it while a ride is active or paused
// returns the current snapshot unchanged.
func (c *Controller) Start(ctx context.Context) (Snapshot, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if s := c.currentState(); s == StateActive || s == StatePaused {
		return c.Snapshot(), nil
	}

	lctx, cancel := context.WithTimeout(ctx, c.cfg.LocationTimeout)
	defer cancel()
	if err := c.deps.Source.RequestPermission(lctx); err != nil {
		return c.Snapshot(), err
	}
	first, err := c.deps.Source.CurrentSample(lctx)
	if err != nil {
		return c.Snapshot(), err
	}

	start := c.cfg.Now()
	if first.TimestampMs > 0 {
		start = first.Time()
	}
	sessionID, err := c.deps.Gateway.CreateSession(ctx, c.userID, start)
	if err != nil {
		return c.Snapshot(), fmt.Errorf("%w: create session: %v", ErrPersistenceUnavailable, err)
	}

	c.mu.Lock()
	c.state = StateActive
	c.sessionID = sessionID
	c.startMs = start.UnixMilli()
	c.route = []geo.Sample{first}
	c.acc = stats.NewAccumulator(c.startMs)
	c.acc.Add(first)
	c.stats = stats.Stats{}
	c.mu.Unlock()

	if err := c.subscribe(sessionID); err != nil {
		c.reset()
		if uerr := c.deps.Gateway.UpdateSession(ctx, sessionID, SessionPatch{Status: StatusDiscarded}); uerr != nil {
			log.Printf("discard unstarted session %s: %v", sessionID, uerr)
		}
		return c.Snapshot(), err
	}

	if err := c.cp.mark(ctx, sessionID, c.startMs, []geo.Sample{first}); err != nil {
		log.Printf("recovery marker for %s: %v", sessionID, err)
	}
	snap := c.Snapshot()
	c.broadcast(snap)
	return snap, nil
}

// Pause releases the subscription and checkpoints the ride.
func (c *Controller) Pause(ctx context.Context) (Snapshot, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if c.currentState() != StateActive {
		return c.Snapshot(), ErrInvalidTransition
	}
	c.unsubscribe()

	c.mu.Lock()
	c.state = StatePaused
	st := c.stats
	sessionID := c.sessionID
	route := cloneRoute(c.route)
	c.mu.Unlock()

	c.cp.submit(route)
	if err := c.deps.Gateway.UpdateSession(ctx, sessionID, SessionPatch{Status: StatusPaused, Stats: &st}); err != nil {
		log.Printf("pause checkpoint for %s: %v", sessionID, err)
	}
	snap := c.Snapshot()
	c.broadcast(snap)
	return snap, nil
}

// Resume reopens the subscription. Resuming an active ride is a no-op.
func (c *Controller) Resume(ctx context.Context) (Snapshot, error) {
	c.op.Lock()
	defer c.op.Unlock()

	switch c.currentState() {
	case StateActive:
		return c.Snapshot(), nil
	case StatePaused:
	default:
		return c.Snapshot(), ErrInvalidTransition
	}

	c.mu.Lock()
	c.state = StateActive
	sessionID := c.sessionID
	c.mu.Unlock()

	if err := c.subscribe(sessionID); err != nil {
		c.mu.Lock()
		c.state = StatePaused
		c.mu.Unlock()
		return c.Snapshot(), err
	}
	if err := c.deps.Gateway.UpdateSession(ctx, sessionID, SessionPatch{Status: StatusActive}); err != nil {
		log.Printf("resume status for %s: %v", sessionID, err)
	}
	snap := c.Snapshot()
	c.broadcast(snap)
	return snap, nil
}

// Stop finalizes the ride and folds it into the user's totals. If the record
// cannot be written the ride stays active or paused so the caller can retry.
func (c *Controller) Stop(ctx context.Context) (SessionRecord, error) {
	c.op.Lock()
	defer c.op.Unlock()

	prev := c.currentState()
	if prev != StateActive && prev != StatePaused {
		return SessionRecord{}, ErrInvalidTransition
	}
	c.unsubscribe()

	c.mu.Lock()
	end := c.cfg.Now()
	rec := SessionRecord{
		ID:        c.sessionID,
		UserID:    c.userID,
		StartTime: time.UnixMilli(c.startMs),
		EndTime:   &end,
		Route:     cloneRoute(c.route),
		Status:    StatusCompleted,
	}
	rec.applyStats(c.stats)
	c.mu.Unlock()

	if err := c.deps.Gateway.FinalizeSession(ctx, rec); err != nil {
		if prev == StateActive {
			if serr := c.subscribe(rec.ID); serr != nil {
				log.Printf("resubscribe after failed stop: %v", serr)
				c.mu.Lock()
				c.state = StatePaused
				c.mu.Unlock()
			}
		}
		return SessionRecord{}, fmt.Errorf("%w: finalize session: %v", ErrPersistenceUnavailable, err)
	}

	c.updateAggregate(ctx, completionDelta(rec))
	if err := c.cp.clear(ctx); err != nil {
		log.Printf("clear recovery cache: %v", err)
	}

	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	c.broadcast(c.Snapshot())
	c.reset()
	return rec, nil
}

func (c *Controller) updateAggregate(ctx context.Context, delta AggregateDelta) {
	var err error
	for attempt := 1; attempt <= c.cfg.AggregateRetries; attempt++ {
		if _, err = c.deps.Gateway.UpdateUserAggregate(ctx, c.userID, delta); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	log.Printf("user aggregate update for %s failed: %v", c.userID, err)
}

// Discard abandons the ride without touching the user's totals.
func (c *Controller) Discard(ctx context.Context) (Snapshot, error) {
	c.op.Lock()
	defer c.op.Unlock()

	if s := c.currentState(); s != StateActive && s != StatePaused {
		return c.Snapshot(), ErrInvalidTransition
	}
	c.unsubscribe()

	c.mu.Lock()
	sessionID := c.sessionID
	c.state = StateDiscarded
	c.mu.Unlock()

	if err := c.deps.Gateway.UpdateSession(ctx, sessionID, SessionPatch{Status: StatusDiscarded}); err != nil {
		log.Printf("mark %s discarded: %v", sessionID, err)
	}
	if err := c.cp.clear(ctx); err != nil {
		log.Printf("clear recovery cache: %v", err)
	}
	snap := c.Snapshot()
	c.broadcast(snap)
	c.reset()
	return snap, nil
}

// Recover resumes a ride interrupted by a crash, using the local recovery
// cache. No new session record is created.
func (c *Controller) Recover(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	if c.currentState() != StateIdle {
		return nil
	}
	m, ok, err := c.cp.load(ctx)
	if err != nil {
		return fmt.Errorf("load recovery marker: %w", err)
	}
	if !ok {
		return nil
	}

	rec, err := c.deps.Gateway.GetSession(ctx, m.sessionID)
	switch {
	case errors.Is(err, ErrNotFound), err == nil && rec.Status.Terminal():
		if cerr := c.cp.clear(ctx); cerr != nil {
			log.Printf("clear stale recovery marker: %v", cerr)
		}
		return nil
	case err != nil:
		log.Printf("recovering %s from local cache only: %v", m.sessionID, err)
	}

	startMs := m.startMs
	if startMs == 0 && len(m.route) > 0 {
		startMs = m.route[0].TimestampMs
	}
	acc := stats.NewAccumulator(startMs)
	for _, s := range m.route {
		acc.Add(s)
	}

	c.mu.Lock()
	c.state = StateActive
	c.sessionID = m.sessionID
	c.startMs = startMs
	c.route = m.route
	c.acc = acc
	c.stats = acc.Stats(c.profile.WeightKg)
	c.mu.Unlock()

	if err := c.subscribe(m.sessionID); err != nil {
		c.mu.Lock()
		c.state = StatePaused
		c.mu.Unlock()
		return fmt.Errorf("resume recovered session: %w", err)
	}
	if rec.Status != StatusActive {
		if err := c.deps.Gateway.UpdateSession(ctx, m.sessionID, SessionPatch{Status: StatusActive}); err != nil {
			log.Printf("recovered status for %s: %v", m.sessionID, err)
		}
	}
	c.broadcast(c.Snapshot())
	return nil
}

// SetProfile changes the rider settings used for calories and the view.
func (c *Controller) SetProfile(p Profile) {
	if p.WeightKg <= 0 {
		p.WeightKg = stats.DefaultWeightKg
	}
	if p.Unit == "" {
		p.Unit = geo.UnitKm
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
	c.stats = c.acc.Stats(p.WeightKg)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:       c.state,
		SessionID:   c.sessionID,
		SampleCount: len(c.route),
		Stats:       c.stats,
		View:        stats.Present(c.stats, c.profile.Unit),
	}
	if c.sessionID != "" {
		start := time.UnixMilli(c.startMs)
		snap.StartTime = &start
	}
	return snap
}

// Route returns a copy of the samples recorded so far.
func (c *Controller) Route() []geo.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRoute(c.route)
}

// Close releases the subscription and flushes pending checkpoints. The
// recovery marker is kept so an active ride resumes on the next start.
func (c *Controller) Close() {
	c.op.Lock()
	defer c.op.Unlock()
	c.unsubscribe()
	c.cp.close()
}

// ingest handles one sample from the feed. Samples for another session or
// arriving outside the active state are dropped.
func (c *Controller) ingest(sessionID string, s geo.Sample) {
	c.mu.Lock()
	if c.state != StateActive || c.sessionID != sessionID {
		c.mu.Unlock()
		return
	}
	c.route = append(c.route, s)
	c.acc.Add(s)
	c.stats = c.acc.Stats(c.profile.WeightKg)
	var snapshot []geo.Sample
	if len(c.route)%c.cfg.CheckpointEvery == 0 {
		snapshot = cloneRoute(c.route)
	}
	c.mu.Unlock()

	if snapshot != nil {
		c.cp.submit(snapshot)
	}
	c.broadcast(c.Snapshot())
}

func (c *Controller) subscribe(sessionID string) error {
	c.unsubscribe()
	f, err := startFeed(c.deps.Source, c.cfg.Location, func(s geo.Sample) { c.ingest(sessionID, s) })
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.feed = f
	c.mu.Unlock()
	return nil
}

// unsubscribe must not be called with mu held: it waits for in-flight
// samples, which need mu.
func (c *Controller) unsubscribe() {
	c.mu.Lock()
	f := c.feed
	c.feed = nil
	c.mu.Unlock()
	if f != nil {
		f.stop()
	}
}

func (c *Controller) reset() {
	c.unsubscribe()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.sessionID = ""
	c.startMs = 0
	c.route = nil
	c.acc = stats.NewAccumulator(0)
	c.stats = stats.Stats{}
}

func (c *Controller) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) broadcast(snap Snapshot) {
	if c.deps.Broadcaster == nil || snap.SessionID == "" {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.deps.Broadcaster.Broadcast(snap.SessionID, payload)
}

func cloneRoute(route []geo.Sample) []geo.Sample {
	return append([]geo.Sample{}, route...)
}
