package heading

import "encoding/json"

// AidSourceStatus is the per-cycle result record of one heading aid source.
// It is rebuilt every cycle; only TimeLastFuse carries over between cycles.
type AidSourceStatus struct {
	TimestampSample     uint64  `json:"timestamp_sample"`
	Observation         float64 `json:"observation"`
	ObservationVariance float64 `json:"observation_variance"`
	Innovation          float64 `json:"innovation"`
	InnovationVariance  float64 `json:"innovation_variance"`
	TestRatio           float64 `json:"test_ratio"`
	FusionEnabled       bool    `json:"fusion_enabled"`
	InnovationRejected  bool    `json:"innovation_rejected"`
	Fused               bool    `json:"fused"`

	// TimeLastFuse advances only when the observation was blended into the
	// filter, through an accepted fuse or a reset.
	TimeLastFuse uint64 `json:"time_last_fuse"`
}

// Clear returns every transient field to its neutral value. TimeLastFuse is
// kept: the reactivation debounce is measured from it.
func (s *AidSourceStatus) Clear() {
	*s = AidSourceStatus{TimeLastFuse: s.TimeLastFuse}
}

// MarshalJSON writes non-finite values as null; encoding/json rejects NaN.
func (s AidSourceStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TimestampSample     uint64   `json:"timestamp_sample"`
		Observation         *float64 `json:"observation"`
		ObservationVariance *float64 `json:"observation_variance"`
		Innovation          *float64 `json:"innovation"`
		InnovationVariance  *float64 `json:"innovation_variance"`
		TestRatio           *float64 `json:"test_ratio"`
		FusionEnabled       bool     `json:"fusion_enabled"`
		InnovationRejected  bool     `json:"innovation_rejected"`
		Fused               bool     `json:"fused"`
		TimeLastFuse        uint64   `json:"time_last_fuse"`
	}{
		TimestampSample:     s.TimestampSample,
		Observation:         finitePtr(s.Observation),
		ObservationVariance: finitePtr(s.ObservationVariance),
		Innovation:          finitePtr(s.Innovation),
		InnovationVariance:  finitePtr(s.InnovationVariance),
		TestRatio:           finitePtr(s.TestRatio),
		FusionEnabled:       s.FusionEnabled,
		InnovationRejected:  s.InnovationRejected,
		Fused:               s.Fused,
		TimeLastFuse:        s.TimeLastFuse,
	})
}

func finitePtr(v float64) *float64 {
	if !IsFinite(v) {
		return nil
	}
	return &v
}
