package heading

import (
	"fmt"
	"strings"
)

// Frame is the reference frame an incoming heading sample is expressed in.
type Frame int

const (
	FrameUnknown Frame = iota
	// FrameNED is a locally-level, earth-fixed frame shared by every source.
	FrameNED
	// FrameFRD is a body-relative frame that is only comparable to itself.
	FrameFRD
)

func (f Frame) String() string {
	switch f {
	case FrameNED:
		return "ned"
	case FrameFRD:
		return "frd"
	default:
		return "unknown"
	}
}

// Shared reports whether samples in this frame can be differenced against
// other heading sources.
func (f Frame) Shared() bool {
	return f == FrameNED
}

// ParseFrame accepts "ned" or "frd" (case-insensitive).
func ParseFrame(s string) (Frame, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ned":
		return FrameNED, nil
	case "frd":
		return FrameFRD, nil
	}
	return FrameUnknown, fmt.Errorf("unknown reference frame %q", s)
}
