// Package stats derives ride statistics from a route of location samples.
//
// The Accumulator is the only implementation of the aggregation rules; live
// tracking folds samples into it one at a time and Compute folds a whole
// route, so both paths produce identical results for the same input.
package stats

import (
	"math"

	"backend-cycletracker/internal/shared/geo"
)

const (
	// JumpThresholdKm is the largest segment credited to the distance total.
	// Longer segments are treated as GPS jumps.
	JumpThresholdKm = 0.1
	DefaultWeightKg = 70.0

	mpsToKmh = 3.6
)

// Stats is the canonical (metric) aggregate for a route.
type Stats struct {
	DistanceKm      float64 `json:"distance_km"`
	CurrentSpeedKmh float64 `json:"current_speed_kmh"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh"`
	MinSpeedKmh     float64 `json:"min_speed_kmh"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	ElevationGainM  float64 `json:"elevation_gain_m"`
	DurationSec     float64 `json:"duration_sec"`
	CaloriesBurned  int     `json:"calories_burned"`
}

// Options are the inputs besides the route itself.
type Options struct {
	// StartMs anchors the duration. Zero means the first sample's timestamp.
	StartMs  int64
	WeightKg float64
	Unit     geo.Unit
}

type Accumulator struct {
	startMs int64
	count   int
	last    geo.Sample

	distanceKm     float64
	elevationGainM float64
	rejected       int

	currentSpeed float64
	maxSpeed     float64
	minSpeed     float64
	hasMin       bool
	speedSum     float64
	speedCount   int
}

func NewAccumulator(startMs int64) *Accumulator {
	return &Accumulator{startMs: startMs}
}

// Add folds s into the aggregates and returns the distance credited for the
// segment that ends at s.
func (a *Accumulator) Add(s geo.Sample) float64 {
	var credited float64
	if a.count == 0 {
		if a.startMs == 0 {
			a.startMs = s.TimestampMs
		}
	} else {
		seg := geo.DistanceKm(a.last.Latitude, a.last.Longitude, s.Latitude, s.Longitude)
		if seg > JumpThresholdKm {
			a.rejected++
		} else {
			credited = seg
			a.distanceKm += seg
		}
		if rise := s.AltitudeM - a.last.AltitudeM; rise > 0 {
			a.elevationGainM += rise
		}
	}

	a.currentSpeed = 0
	if s.SpeedMps > 0 {
		kmh := s.SpeedMps * mpsToKmh
		a.currentSpeed = kmh
		if kmh > a.maxSpeed {
			a.maxSpeed = kmh
		}
		if !a.hasMin || kmh < a.minSpeed {
			a.minSpeed = kmh
			a.hasMin = true
		}
		a.speedSum += kmh
		a.speedCount++
	}

	a.last = s
	a.count++
	return credited
}

func (a *Accumulator) Count() int { return a.count }

// Rejected reports how many segments were dropped as GPS jumps.
func (a *Accumulator) Rejected() int { return a.rejected }

func (a *Accumulator) DistanceKm() float64 { return a.distanceKm }

// Stats resolves the running aggregates. Fewer than two samples yields the
// zero value.
func (a *Accumulator) Stats(weightKg float64) Stats {
	if a.count < 2 {
		return Stats{}
	}

	avg := 0.0
	if a.speedCount > 0 {
		avg = a.speedSum / float64(a.speedCount)
	}
	minSpeed := 0.0
	if a.hasMin {
		minSpeed = a.minSpeed
	}
	duration := math.Max(0, float64(a.last.TimestampMs-a.startMs)/1000)

	return Stats{
		DistanceKm:      a.distanceKm,
		CurrentSpeedKmh: a.currentSpeed,
		MaxSpeedKmh:     a.maxSpeed,
		MinSpeedKmh:     minSpeed,
		AverageSpeedKmh: avg,
		ElevationGainM:  a.elevationGainM,
		DurationSec:     duration,
		CaloriesBurned:  Calories(avg, duration, weightKg),
	}
}

// Compute recomputes Stats for a whole route from scratch.
func Compute(route []geo.Sample, opts Options) Stats {
	acc := NewAccumulator(opts.StartMs)
	for _, s := range route {
		acc.Add(s)
	}
	return acc.Stats(opts.WeightKg)
}
