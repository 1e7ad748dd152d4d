package fusion

import "github.com/banshee-data/heading.fusion/internal/heading"

// KalmanCore is the numerical filter the controllers gate access to.
type KalmanCore interface {
	// FuseHeading runs the filter's innovation consistency test and, when
	// it passes, the state/covariance correction. It fills the innovation
	// variance and test ratio of status and reports acceptance.
	FuseHeading(innovation, variance float64, status *heading.AidSourceStatus) bool

	// ResetHeading overwrites the heading state and its covariance block.
	ResetHeading(yaw, variance float64)

	// Yaw returns the current heading estimate (rad, wrapped).
	Yaw() float64
}
