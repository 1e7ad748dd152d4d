// Package kalman provides a small reference heading filter implementing
// fusion.KalmanCore. It estimates yaw and the z-axis gyro bias from gyro
// integration and scalar heading observations. Production estimators plug
// their own core in; this one drives replays and tests.
package kalman
