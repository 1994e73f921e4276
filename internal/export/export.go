// Package export encodes completed rides as GPX and FIT files.
package export

import (
	"errors"
	"time"

	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"
)

var ErrEmptyRoute = errors.New("ride has no route")

type Format string

const (
	FormatGPX Format = "gpx"
	FormatFIT Format = "fit"
)

// ParseFormat returns ok=false for anything other than gpx or fit.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatGPX, FormatFIT:
		return Format(s), true
	case "":
		return FormatGPX, true
	}
	return "", false
}

func (f Format) ContentType() string {
	if f == FormatFIT {
		return "application/vnd.ant.fit"
	}
	return "application/gpx+xml"
}

type Ride struct {
	ID        string
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Route     []geo.Sample
	Stats     stats.Stats
}

// Encode dispatches to the encoder for f.
func Encode(f Format, ride Ride) ([]byte, error) {
	if len(ride.Route) == 0 {
		return nil, ErrEmptyRoute
	}
	if f == FormatFIT {
		return FIT(ride)
	}
	return GPX(ride)
}
