package stats

import (
	"math"

	"backend-cycletracker/internal/shared/geo"
)

// View is Stats converted into the rider's unit for display. Elevation stays
// in metres regardless of unit.
type View struct {
	Unit           geo.Unit `json:"unit"`
	SpeedUnit      string   `json:"speed_unit"`
	Distance       float64  `json:"distance"`
	CurrentSpeed   float64  `json:"current_speed"`
	MaxSpeed       float64  `json:"max_speed"`
	MinSpeed       float64  `json:"min_speed"`
	AverageSpeed   float64  `json:"average_speed"`
	ElevationGainM float64  `json:"elevation_gain_m"`
	DurationSec    float64  `json:"duration_sec"`
	Calories       int      `json:"calories"`
	CurrentPace    *Pace    `json:"current_pace,omitempty"`
	AveragePace    *Pace    `json:"average_pace,omitempty"`
	Series         *Series  `json:"series,omitempty"`
}

type Point struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

type PacePoint struct {
	TimestampMs int64 `json:"timestamp_ms"`
	Pace
}

type Series struct {
	Speed    []Point     `json:"speed"`
	Altitude []Point     `json:"altitude"`
	Pace     []PacePoint `json:"pace"`
}

// Present converts canonical stats into unit.
func Present(s Stats, unit geo.Unit) View {
	v := View{
		Unit:           unit,
		SpeedUnit:      unit.SpeedLabel(),
		Distance:       unit.FromKm(s.DistanceKm),
		CurrentSpeed:   unit.FromKm(s.CurrentSpeedKmh),
		MaxSpeed:       unit.FromKm(s.MaxSpeedKmh),
		MinSpeed:       unit.FromKm(s.MinSpeedKmh),
		AverageSpeed:   unit.FromKm(s.AverageSpeedKmh),
		ElevationGainM: s.ElevationGainM,
		DurationSec:    s.DurationSec,
		Calories:       s.CaloriesBurned,
	}
	if p, ok := PaceFor(v.CurrentSpeed); ok {
		v.CurrentPace = &p
	}
	if p, ok := PaceFor(v.AverageSpeed); ok {
		v.AveragePace = &p
	}
	return v
}

// BuildSeries produces the chart series for a route in unit.
func BuildSeries(route []geo.Sample, unit geo.Unit) Series {
	series := Series{
		Speed:    make([]Point, 0, len(route)),
		Altitude: make([]Point, 0, len(route)),
		Pace:     []PacePoint{},
	}
	for _, s := range route {
		speed := 0.0
		if s.SpeedMps > 0 {
			speed = unit.FromKm(s.SpeedMps * mpsToKmh)
		}
		series.Speed = append(series.Speed, Point{TimestampMs: s.TimestampMs, Value: round1(speed)})
		series.Altitude = append(series.Altitude, Point{TimestampMs: s.TimestampMs, Value: round1(s.AltitudeM)})

		if p, ok := PaceFor(speed); ok && p.Realistic() {
			series.Pace = append(series.Pace, PacePoint{TimestampMs: s.TimestampMs, Pace: p})
		}
	}
	return series
}

// Analyze is the offline path: full recomputation plus series.
func Analyze(route []geo.Sample, opts Options) View {
	v := Present(Compute(route, opts), opts.Unit)
	series := BuildSeries(route, opts.Unit)
	v.Series = &series
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
