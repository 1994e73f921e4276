// Package location provides the sources of location samples consumed by the
// ride tracker.
package location

import (
	"context"
	"errors"
	"time"

	"backend-cycletracker/internal/shared/geo"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
)

type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyLow      Accuracy = "low"
)

// Options throttle what a subscription delivers.
type Options struct {
	Accuracy     Accuracy
	MinInterval  time.Duration
	MinDistanceM float64
}

// Subscription is a live feed of samples. After Cancel returns no further
// callbacks are invoked.
type Subscription interface {
	Cancel()
}

type Source interface {
	RequestPermission(ctx context.Context) error
	CurrentSample(ctx context.Context) (geo.Sample, error)
	Subscribe(opts Options, onSample func(geo.Sample)) (Subscription, error)
}

// throttle drops samples that arrive too soon or too close to the last
// delivered one.
type throttle struct {
	opts Options
	last geo.Sample
	has  bool
}

func (t *throttle) admit(s geo.Sample) bool {
	if t.has {
		if t.opts.MinInterval > 0 && s.TimestampMs-t.last.TimestampMs < t.opts.MinInterval.Milliseconds() {
			return false
		}
		if t.opts.MinDistanceM > 0 {
			moved := geo.DistanceKm(t.last.Latitude, t.last.Longitude, s.Latitude, s.Longitude) * 1000
			if moved < t.opts.MinDistanceM {
				return false
			}
		}
	}
	t.last = s
	t.has = true
	return true
}
