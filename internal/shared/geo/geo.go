package geo

import (
	"math"
	"time"
)

const earthRadiusKm = 6371.0

// Sample is a single location fix reported by a device.
type Sample struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	TimestampMs int64   `json:"timestamp_ms"`
	SpeedMps    float64 `json:"speed_mps,omitempty"`
	AltitudeM   float64 `json:"altitude_m,omitempty"`
}

func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMs)
}

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceKm is HaversineKm with an unset (zero) coordinate treated as no
// displacement.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	if lat1 == 0 || lng1 == 0 || lat2 == 0 || lng2 == 0 {
		return 0
	}
	return HaversineKm(lat1, lng1, lat2, lng2)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
