package geo

import "strings"

const milesPerKm = 0.621371

// Unit is the rider's preferred distance unit. Everything is accumulated in
// kilometres; conversion happens only when values are presented.
type Unit string

const (
	UnitKm Unit = "km"
	UnitMi Unit = "mi"
)

func ParseUnit(s string) Unit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mi", "mile", "miles", "imperial":
		return UnitMi
	default:
		return UnitKm
	}
}

// FromKm converts a km or km/h value into u.
func (u Unit) FromKm(v float64) float64 {
	if u == UnitMi {
		return v * milesPerKm
	}
	return v
}

// ToKm converts a value expressed in u back to km or km/h.
func (u Unit) ToKm(v float64) float64 {
	if u == UnitMi {
		return v / milesPerKm
	}
	return v
}

func (u Unit) SpeedLabel() string {
	if u == UnitMi {
		return "mph"
	}
	return "km/h"
}
