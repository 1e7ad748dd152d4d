package fusion

import "github.com/banshee-data/heading.fusion/internal/heading"

// ConditionInput is everything the condition predicates look at.
type ConditionInput struct {
	Flags       Flags
	Inhibit     bool
	Faulted     bool
	Observation float64
	Variance    float64
	Frame       heading.Frame

	StartingRequested bool
	TimeLastFuse      uint64
	NowUs             uint64
}

// Conditions is the result of one evaluation.
type Conditions struct {
	Continuing bool
	Starting   bool

	// FrameIncompatible is set when the sample was disqualified only because
	// its frame cannot be cross-checked against an aligned GPS heading. The
	// controller then logs a delta-heading innovation.
	FrameIncompatible bool
}

// ConditionEvaluator computes the starting and continuing conditions of
// one source. It holds no state between cycles.
type ConditionEvaluator struct {
	Profile    Profile
	DebounceUs uint64
}

// Evaluate applies the predicates in order: administrative switch, tilt
// alignment, inhibit, finite observation, then frame compatibility.
func (e ConditionEvaluator) Evaluate(in ConditionInput) Conditions {
	var c Conditions

	c.Continuing = e.Profile.Enabled &&
		in.Flags.TiltAlign &&
		!in.Inhibit &&
		heading.IsFinite(in.Observation) &&
		heading.IsFinite(in.Variance)

	if e.Profile.RequireSharedFrameWithGPS &&
		in.Flags.GPS && in.Flags.YawAlign &&
		in.Frame != heading.FrameNED {
		c.Continuing = false
		c.FrameIncompatible = true
	}

	c.Starting = in.StartingRequested &&
		c.Continuing &&
		!in.Faulted &&
		Elapsed(in.TimeLastFuse, e.DebounceUs, in.NowUs)

	return c
}
