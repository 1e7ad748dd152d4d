// Package heading holds the leaf types shared by every heading aid source:
// the per-cycle AidSourceStatus record, the sample reference frame tag and
// the angle helpers used to keep yaw values wrapped to [-π, π].
package heading
