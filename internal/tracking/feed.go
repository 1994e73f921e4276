package tracking

import (
	"backend-cycletracker/internal/location"
	"backend-cycletracker/internal/shared/geo"
)

const feedBuffer = 64

// feed serializes delivery from a location subscription onto one worker
// goroutine, so samples are handled one at a time in arrival order no matter
// how the source invokes its callback.
type feed struct {
	samples chan geo.Sample
	done    chan struct{}
	sub     location.Subscription
}

func startFeed(src location.Source, opts location.Options, handle func(geo.Sample)) (*feed, error) {
	f := &feed{
		samples: make(chan geo.Sample, feedBuffer),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		for s := range f.samples {
			handle(s)
		}
	}()

	sub, err := src.Subscribe(opts, func(s geo.Sample) { f.samples <- s })
	if err != nil {
		close(f.samples)
		<-f.done
		return nil, err
	}
	f.sub = sub
	return f, nil
}

// stop releases the subscription and returns once every queued sample has
// been handled.
func (f *feed) stop() {
	f.sub.Cancel()
	close(f.samples)
	<-f.done
}
