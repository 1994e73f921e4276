package stats

import "math"

// maxPaceMinutes bounds paces kept in the pace series.
const maxPaceMinutes = 60

type Pace struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// PaceFor converts a speed (distance unit per hour) into minutes and seconds
// per distance unit. ok is false for non-positive speeds.
func PaceFor(speed float64) (p Pace, ok bool) {
	if speed <= 0 {
		return Pace{}, false
	}
	total := 60 / speed
	minutes := math.Floor(total)
	seconds := math.Round((total - minutes) * 60)
	if seconds >= 60 {
		minutes++
		seconds = 0
	}
	return Pace{Minutes: int(minutes), Seconds: int(seconds)}, true
}

func (p Pace) Realistic() bool {
	return p.Minutes < maxPaceMinutes
}
