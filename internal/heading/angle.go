package heading

import "math"

// WrapPi wraps an angle in radians to the interval [-π, π].
// Non-finite inputs are returned unchanged so callers can reject them.
func WrapPi(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	if a >= -math.Pi && a <= math.Pi {
		return a
	}
	w := math.Mod(a+math.Pi, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w - math.Pi
}

// AngleDiff returns wrap(a - b).
func AngleDiff(a, b float64) float64 {
	return WrapPi(a - b)
}

// YawFromQuaternion extracts the Euler yaw (3-2-1 sequence) of the rotation
// described by the unit quaternion (w, x, y, z).
func YawFromQuaternion(w, x, y, z float64) float64 {
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
