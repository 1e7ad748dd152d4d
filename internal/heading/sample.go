package heading

// Sample is one time-stamped heading observation delivered by an upstream
// sample provider.
type Sample struct {
	TimeUs   uint64  // capture time, microseconds
	Yaw      float64 // radians
	Variance float64 // rad², as reported by the sensor; may be zero
	Frame    Frame

	// SourceReset is set when the external source reports that it has just
	// reset its own heading reference.
	SourceReset bool
}
