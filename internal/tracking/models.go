package tracking

import (
	"time"

	"backend-cycletracker/internal/shared/geo"
	"backend-cycletracker/internal/stats"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateDiscarded State = "discarded"
)

// Status is the persisted status of a session record.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusDiscarded Status = "discarded"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDiscarded
}

type Summary struct {
	TopSpeedKmh     float64 `json:"top_speed_kmh"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	CaloriesBurned  int     `json:"calories_burned"`
	ElevationGainM  float64 `json:"elevation_gain_m"`
}

type SessionRecord struct {
	ID              string       `json:"id"`
	UserID          string       `json:"user_id"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         *time.Time   `json:"end_time,omitempty"`
	DurationSec     float64      `json:"duration_sec"`
	DistanceKm      float64      `json:"distance_km"`
	MaxSpeedKmh     float64      `json:"max_speed_kmh"`
	MinSpeedKmh     float64      `json:"min_speed_kmh"`
	AverageSpeedKmh float64      `json:"average_speed_kmh"`
	Route           []geo.Sample `json:"route"`
	Summary         Summary      `json:"summary"`
	Status          Status       `json:"status"`
}

// Stats rebuilds the stored aggregates of the record.
func (r SessionRecord) Stats() stats.Stats {
	return stats.Stats{
		DistanceKm:      r.DistanceKm,
		MaxSpeedKmh:     r.MaxSpeedKmh,
		MinSpeedKmh:     r.MinSpeedKmh,
		AverageSpeedKmh: r.AverageSpeedKmh,
		ElevationGainM:  r.Summary.ElevationGainM,
		DurationSec:     r.DurationSec,
		CaloriesBurned:  r.Summary.CaloriesBurned,
	}
}

func (r *SessionRecord) applyStats(st stats.Stats) {
	r.DurationSec = st.DurationSec
	r.DistanceKm = st.DistanceKm
	r.MaxSpeedKmh = st.MaxSpeedKmh
	r.MinSpeedKmh = st.MinSpeedKmh
	r.AverageSpeedKmh = st.AverageSpeedKmh
	r.Summary = Summary{
		TopSpeedKmh:     st.MaxSpeedKmh,
		AverageSpeedKmh: st.AverageSpeedKmh,
		CaloriesBurned:  st.CaloriesBurned,
		ElevationGainM:  st.ElevationGainM,
	}
}

// SessionPatch is a partial update of an in-progress record. A nil Stats
// leaves the stored aggregates untouched.
type SessionPatch struct {
	Status Status
	Stats  *stats.Stats
}

type UserAggregate struct {
	Rides           int     `json:"rides"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalTimeSec    float64 `json:"total_time_sec"`
}

type AggregateDelta struct {
	Rides      int
	DistanceKm float64
	TimeSec    float64
}

// Apply adds d to a. Totals never go below zero.
func (a UserAggregate) Apply(d AggregateDelta) UserAggregate {
	a.Rides += d.Rides
	a.TotalDistanceKm += d.DistanceKm
	a.TotalTimeSec += d.TimeSec
	if a.Rides < 0 {
		a.Rides = 0
	}
	if a.TotalDistanceKm < 0 {
		a.TotalDistanceKm = 0
	}
	if a.TotalTimeSec < 0 {
		a.TotalTimeSec = 0
	}
	return a
}

func completionDelta(r SessionRecord) AggregateDelta {
	return AggregateDelta{Rides: 1, DistanceKm: r.DistanceKm, TimeSec: r.DurationSec}
}

func removalDelta(r SessionRecord) AggregateDelta {
	return AggregateDelta{Rides: -1, DistanceKm: -r.DistanceKm, TimeSec: -r.DurationSec}
}

// Profile holds the rider settings the engine needs.
type Profile struct {
	WeightKg float64  `json:"weight_kg"`
	Unit     geo.Unit `json:"unit"`
}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	State       State       `json:"state"`
	SessionID   string      `json:"session_id,omitempty"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	SampleCount int         `json:"sample_count"`
	Stats       stats.Stats `json:"stats"`
	View        stats.View  `json:"view"`
}
