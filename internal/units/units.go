// Package units provides shared constants and conversions for angle units
package units

import "math"

// Unit constants
const (
	Rad = "rad"
	Deg = "deg"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Rad, Deg}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "rad, deg"
}

// ConvertAngle converts an angle from radians to the target units.
// The estimator works in radians throughout.
func ConvertAngle(rad float64, targetUnits string) float64 {
	switch targetUnits {
	case Deg:
		return rad * 180 / math.Pi
	default:
		return rad
	}
}

// ConvertVariance converts an angle variance (rad²) to the target units squared.
func ConvertVariance(radSq float64, targetUnits string) float64 {
	switch targetUnits {
	case Deg:
		k := 180 / math.Pi
		return radSq * k * k
	default:
		return radSq
	}
}

// ToRadians converts an angle in the given units back to radians.
func ToRadians(v float64, units string) float64 {
	if units == Deg {
		return v * math.Pi / 180
	}
	return v
}
