package tracking

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"backend-cycletracker/internal/recovery"
	"backend-cycletracker/internal/shared/geo"
)

const checkpointTimeout = 5 * time.Second

type recoveryKeys struct {
	sessionID string
	startTime string
	route     string
}

func keysFor(userID string) recoveryKeys {
	prefix := "ride:" + userID + ":"
	return recoveryKeys{
		sessionID: prefix + "currentSessionId",
		startTime: prefix + "startTime",
		route:     prefix + "routeSnapshot",
	}
}

func (k recoveryKeys) all() []string {
	return []string{k.sessionID, k.startTime, k.route}
}

// checkpointer writes route snapshots to the recovery cache off the sample
// path. Only the newest pending snapshot is kept; older ones are superseded.
type checkpointer struct {
	cache recovery.Cache
	keys  recoveryKeys

	// io orders cache writes against clears.
	io sync.Mutex

	mu      sync.Mutex
	pending []geo.Sample
	gen     uint64

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newCheckpointer(cache recovery.Cache, keys recoveryKeys) *checkpointer {
	cp := &checkpointer{
		cache: cache,
		keys:  keys,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go cp.run()
	return cp
}

// submit queues route for writing and returns immediately.
func (cp *checkpointer) submit(route []geo.Sample) {
	cp.mu.Lock()
	cp.pending = route
	cp.mu.Unlock()
	select {
	case cp.wake <- struct{}{}:
	default:
	}
}

func (cp *checkpointer) run() {
	defer close(cp.done)
	for {
		select {
		case <-cp.quit:
			cp.flush()
			return
		case <-cp.wake:
			cp.flush()
		}
	}
}

func (cp *checkpointer) flush() {
	cp.mu.Lock()
	route, gen := cp.pending, cp.gen
	cp.pending = nil
	cp.mu.Unlock()
	if route == nil {
		return
	}

	cp.io.Lock()
	defer cp.io.Unlock()
	cp.mu.Lock()
	stale := gen != cp.gen
	cp.mu.Unlock()
	if stale {
		return
	}
	if err := cp.writeRoute(route); err != nil {
		log.Printf("route checkpoint failed: %v", err)
	}
}

func (cp *checkpointer) writeRoute(route []geo.Sample) error {
	payload, err := json.Marshal(route)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	return cp.cache.Save(ctx, cp.keys.route, payload)
}

// mark records the interrupted-session marker for a new session.
func (cp *checkpointer) mark(ctx context.Context, sessionID string, startMs int64, route []geo.Sample) error {
	cp.io.Lock()
	defer cp.io.Unlock()
	if err := cp.cache.Save(ctx, cp.keys.sessionID, []byte(sessionID)); err != nil {
		return err
	}
	if err := cp.cache.Save(ctx, cp.keys.startTime, []byte(strconv.FormatInt(startMs, 10))); err != nil {
		return err
	}
	return cp.writeRoute(route)
}

// clear drops any pending snapshot and removes every recovery key.
func (cp *checkpointer) clear(ctx context.Context) error {
	cp.mu.Lock()
	cp.pending = nil
	cp.gen++
	cp.mu.Unlock()

	cp.io.Lock()
	defer cp.io.Unlock()
	return cp.cache.Clear(ctx, cp.keys.all()...)
}

type marker struct {
	sessionID string
	startMs   int64
	route     []geo.Sample
}

// load reads the interrupted-session marker. ok is false when none exists.
func (cp *checkpointer) load(ctx context.Context) (marker, bool, error) {
	cp.io.Lock()
	defer cp.io.Unlock()

	id, ok, err := cp.cache.Load(ctx, cp.keys.sessionID)
	if err != nil || !ok || len(id) == 0 {
		return marker{}, false, err
	}
	m := marker{sessionID: string(id), route: []geo.Sample{}}

	if raw, ok, err := cp.cache.Load(ctx, cp.keys.startTime); err != nil {
		return marker{}, false, err
	} else if ok {
		m.startMs, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return marker{}, false, err
		}
	}

	if raw, ok, err := cp.cache.Load(ctx, cp.keys.route); err != nil {
		return marker{}, false, err
	} else if ok {
		if err := json.Unmarshal(raw, &m.route); err != nil {
			return marker{}, false, err
		}
	}
	return m, true, nil
}

func (cp *checkpointer) close() {
	select {
	case <-cp.quit:
	default:
		close(cp.quit)
	}
	<-cp.done
}
