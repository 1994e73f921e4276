package stats

import "math"

// MET returns the metabolic equivalent for cycling at the given average speed.
func MET(avgSpeedKmh float64) float64 {
	switch {
	case avgSpeedKmh < 16:
		return 4.0
	case avgSpeedKmh < 20:
		return 6.8
	case avgSpeedKmh < 25:
		return 8.0
	default:
		return 10.0
	}
}

// Calories estimates energy burned. A non-positive weight falls back to
// DefaultWeightKg.
func Calories(avgSpeedKmh, durationSec, weightKg float64) int {
	if weightKg <= 0 {
		weightKg = DefaultWeightKg
	}
	hours := durationSec / 3600
	return int(math.Round(MET(avgSpeedKmh) * 3.5 * weightKg * hours / 200 * 100))
}
