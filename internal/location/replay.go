package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-cycletracker/internal/shared/geo"

	"github.com/tkrajina/gpxgo/gpx"
)

// LoadGPX reads every track point of a GPX file as samples.
func LoadGPX(path string) ([]geo.Sample, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return samplesFromGPX(g), nil
}

func ParseGPX(data []byte) ([]geo.Sample, error) {
	g, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	return samplesFromGPX(g), nil
}

// samplesFromGPX flattens tracks and segments. GPX carries no speed, so it is
// derived from the previous point.
func samplesFromGPX(g *gpx.GPX) []geo.Sample {
	var samples []geo.Sample
	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			for _, p := range segment.Points {
				s := geo.Sample{
					Latitude:    p.Point.Latitude,
					Longitude:   p.Point.Longitude,
					TimestampMs: p.Timestamp.UnixMilli(),
				}
				if p.Point.Elevation.NotNull() {
					s.AltitudeM = p.Point.Elevation.Value()
				}
				if n := len(samples); n > 0 {
					prev := samples[n-1]
					if dt := float64(s.TimestampMs-prev.TimestampMs) / 1000; dt > 0 {
						s.SpeedMps = geo.HaversineKm(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude) * 1000 / dt
					}
				}
				samples = append(samples, s)
			}
		}
	}
	return samples
}

// ReplaySource plays a recorded route back as if it were live. The first
// sample answers CurrentSample; subscriptions emit the rest in order and a
// later subscription continues where the previous one was cancelled.
type ReplaySource struct {
	interval time.Duration

	mu      sync.Mutex
	samples []geo.Sample
	next    int
	done    chan struct{}
	closed  bool
}

func NewReplaySource(samples []geo.Sample, interval time.Duration) *ReplaySource {
	return &ReplaySource{
		interval: interval,
		samples:  samples,
		next:     1,
		done:     make(chan struct{}),
	}
}

func (r *ReplaySource) RequestPermission(context.Context) error {
	return nil
}

func (r *ReplaySource) CurrentSample(context.Context) (geo.Sample, error) {
	if len(r.samples) == 0 {
		return geo.Sample{}, ErrLocationUnavailable
	}
	return r.samples[0], nil
}

// Done is closed once every sample has been emitted.
func (r *ReplaySource) Done() <-chan struct{} {
	return r.done
}

func (r *ReplaySource) Subscribe(opts Options, onSample func(geo.Sample)) (Subscription, error) {
	if len(r.samples) == 0 {
		return nil, errors.New("replay: empty route")
	}
	sub := &replaySub{stop: make(chan struct{}), finished: make(chan struct{})}
	go r.play(sub, throttle{opts: opts}, onSample)
	return sub, nil
}

func (r *ReplaySource) play(sub *replaySub, th throttle, onSample func(geo.Sample)) {
	defer close(sub.finished)
	for {
		r.mu.Lock()
		if r.next >= len(r.samples) {
			if !r.closed {
				r.closed = true
				close(r.done)
			}
			r.mu.Unlock()
			return
		}
		s := r.samples[r.next]
		r.next++
		r.mu.Unlock()

		if th.admit(s) {
			onSample(s)
		}

		if r.interval > 0 {
			select {
			case <-sub.stop:
				return
			case <-time.After(r.interval):
			}
		} else {
			select {
			case <-sub.stop:
				return
			default:
			}
		}
	}
}

type replaySub struct {
	once     sync.Once
	stop     chan struct{}
	finished chan struct{}
}

func (s *replaySub) Cancel() {
	s.once.Do(func() { close(s.stop) })
	<-s.finished
}
