// Package fusion implements the admission control for heading aid sources.
//
// Each heading source (vision yaw, GNSS dual-antenna yaw, magnetometer
// heading) gets one Controller. Every estimator cycle the controller
// evaluates its starting and continuing conditions, then runs an explicit
// Inactive/Active state machine whose transition functions return commands
// (fuse, reset, claim, stop siblings, emit event) instead of calling the
// Kalman core inline. The controller executes those commands itself, so at
// most one filter-mutating call is issued per source per cycle.
//
// Controllers sharing one filter share one Registry. The registry enforces
// that a body-relative (FRD) source owns heading estimation exclusively and
// gives the activating controller a way to stop its siblings.
//
// Nothing in this package blocks, spawns goroutines or returns errors from
// the per-cycle path: every failure mode is expressed as a state transition
// plus an Event for the configured EventSink.
package fusion
