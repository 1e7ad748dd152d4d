package estimator

import (
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
)

// SourceSnapshot is the state of one heading source.
type SourceSnapshot struct {
	ID              fusion.SourceID         `json:"id"`
	Name            string                  `json:"name"`
	State           string                  `json:"state"`
	Status          heading.AidSourceStatus `json:"status"`
	ResetsAvailable int                     `json:"resets_available"`
	Inhibited       bool                    `json:"inhibited"`
	Faulted         bool                    `json:"faulted"`
}

// Snapshot is a point-in-time view of the estimator.
type Snapshot struct {
	TimeUs         uint64            `json:"time_us"`
	Cycles         uint64            `json:"cycles"`
	Yaw            float64           `json:"yaw"`
	YawVariance    float64           `json:"yaw_variance"`
	Flags          fusion.Flags      `json:"flags"`
	Holders        []fusion.SourceID `json:"holders"`
	ExclusiveOwner fusion.SourceID   `json:"exclusive_owner,omitempty"`
	ResetCount     int               `json:"reset_count"`
	LastResetDelta float64           `json:"last_reset_delta"`
	Sources        []SourceSnapshot  `json:"sources"`
}

// Source returns the snapshot of id, if present.
func (s Snapshot) Source(id fusion.SourceID) (SourceSnapshot, bool) {
	for _, src := range s.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceSnapshot{}, false
}
