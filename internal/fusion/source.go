package fusion

import "github.com/banshee-data/heading.fusion/internal/heading"

// SourceID identifies one aid source sharing a filter instance.
type SourceID string

const (
	SourceVision      SourceID = "ev_yaw"
	SourceGNSS        SourceID = "gnss_yaw"
	SourceMag         SourceID = "mag_heading"
	SourceGPSPosition SourceID = "gps_position"
)

// Flags are the estimator mode bits the controllers read every cycle.
// The estimator owns them; controllers only change YawAlign (activation)
// and GPS (through the gps position sibling's stop operation).
type Flags struct {
	TiltAlign bool // tilt alignment complete
	YawAlign  bool // absolute heading established
	GPS       bool // GPS heading/position fusion active
	InAir     bool
}

// Profile holds the source-specific wiring of one controller instance.
type Profile struct {
	ID   SourceID
	Name string // human readable, used in rendered events

	// Enabled is the administrative switch for this source.
	Enabled bool

	// NoiseStdDev is the configured heading noise (rad). The observation
	// variance is floored at its square.
	NoiseStdDev float64

	// FixedFrame overrides the sample's frame tag when not FrameUnknown.
	FixedFrame heading.Frame

	// RequireSharedFrameWithGPS disqualifies non-NED samples while GPS
	// heading is active and aligned.
	RequireSharedFrameWithGPS bool
}

// VisionProfile is the external vision yaw source.
func VisionProfile(enabled bool, noise float64) Profile {
	return Profile{
		ID:                        SourceVision,
		Name:                      "EV yaw",
		Enabled:                   enabled,
		NoiseStdDev:               noise,
		RequireSharedFrameWithGPS: true,
	}
}

// GNSSProfile is the dual-antenna GNSS heading source.
func GNSSProfile(enabled bool, noise float64) Profile {
	return Profile{
		ID:          SourceGNSS,
		Name:        "GNSS yaw",
		Enabled:     enabled,
		NoiseStdDev: noise,
		FixedFrame:  heading.FrameNED,
	}
}

// MagProfile is the declination-corrected magnetometer heading source.
func MagProfile(enabled bool, noise float64) Profile {
	return Profile{
		ID:          SourceMag,
		Name:        "mag heading",
		Enabled:     enabled,
		NoiseStdDev: noise,
		FixedFrame:  heading.FrameNED,
	}
}

// Params are the timing and budget parameters shared by every controller.
type Params struct {
	NoAidTimeoutUs  uint64 // fusion is failing after this long without a fuse
	StartDebounceUs uint64 // minimum gap between last fuse and reactivation
	ResetBudget     int
	FaultLatch      bool // latch exhaustion as a persistent fault
}

// DefaultParams mirrors config defaults: 5 s no-aid timeout, 1 s debounce,
// five resets, no fault latching.
func DefaultParams() Params {
	return Params{
		NoAidTimeoutUs:  5_000_000,
		StartDebounceUs: 1_000_000,
		ResetBudget:     DefaultResetBudget,
	}
}
