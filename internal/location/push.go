package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-cycletracker/internal/shared/geo"
)

const defaultMaxAge = 30 * time.Second

// PushSource is fed by a device over HTTP. The latest sample answers
// CurrentSample while it is fresh; otherwise CurrentSample waits for the
// next push.
type PushSource struct {
	maxAge time.Duration
	now    func() time.Time

	mu         sync.Mutex
	denied     bool
	latest     geo.Sample
	receivedAt time.Time
	hasLatest  bool
	waiters    []chan geo.Sample
	subs       map[uint64]*pushSub
	nextID     uint64
}

func NewPushSource() *PushSource {
	return &PushSource{
		maxAge: defaultMaxAge,
		now:    time.Now,
		subs:   map[uint64]*pushSub{},
	}
}

// SetPermission records the device's OS-level location permission.
func (p *PushSource) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = !granted
}

func (p *PushSource) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return ErrPermissionDenied
	}
	return nil
}

func (p *PushSource) CurrentSample(ctx context.Context) (geo.Sample, error) {
	p.mu.Lock()
	if p.denied {
		p.mu.Unlock()
		return geo.Sample{}, ErrPermissionDenied
	}
	if p.hasLatest && p.now().Sub(p.receivedAt) <= p.maxAge {
		s := p.latest
		p.mu.Unlock()
		return s, nil
	}
	ch := make(chan geo.Sample, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		p.dropWaiter(ch)
		return geo.Sample{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, ctx.Err())
	}
}

func (p *PushSource) dropWaiter(ch chan geo.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Push delivers a sample reported by the device to waiters and subscribers.
func (p *PushSource) Push(s geo.Sample) {
	p.mu.Lock()
	p.latest = s
	p.receivedAt = p.now()
	p.hasLatest = true
	for _, w := range p.waiters {
		w <- s
	}
	p.waiters = nil
	subs := make([]*pushSub, 0, len(p.subs))
	for _, sub := range p.subs {
		subs = append(subs, sub)
	}
	p.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(s)
	}
}

func (p *PushSource) Subscribe(opts Options, onSample func(geo.Sample)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.denied {
		return nil, ErrPermissionDenied
	}
	p.nextID++
	sub := &pushSub{
		id:       p.nextID,
		source:   p,
		onSample: onSample,
		throttle: throttle{opts: opts},
	}
	p.subs[sub.id] = sub
	return sub, nil
}

func (p *PushSource) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

type pushSub struct {
	id       uint64
	source   *PushSource
	onSample func(geo.Sample)

	mu        sync.Mutex
	throttle  throttle
	cancelled bool
}

func (s *pushSub) deliver(sample geo.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || !s.throttle.admit(sample) {
		return
	}
	s.onSample(sample)
}

func (s *pushSub) Cancel() {
	s.source.mu.Lock()
	delete(s.source.subs, s.id)
	s.source.mu.Unlock()

	// Waits for an in-flight delivery to finish.
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Registry hands out one PushSource per user.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*PushSource
}

func NewRegistry() *Registry {
	return &Registry{sources: map[string]*PushSource{}}
}

func (r *Registry) Source(userID string) *PushSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[userID]
	if !ok {
		src = NewPushSource()
		r.sources[userID] = src
	}
	return src
}
