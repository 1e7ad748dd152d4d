package kalman

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/heading.fusion/internal/heading"
)

// State indices.
const (
	iYaw  = 0
	iBias = 1
)

// Config holds the noise parameters of the heading filter.
type Config struct {
	YawProcessNoise     float64 // gyro noise, rad/s
	BiasProcessNoise    float64 // gyro bias random walk, rad/s²
	InnovationGate      float64 // gate size in standard deviations
	InitialYawVariance  float64 // rad²
	InitialBiasVariance float64 // (rad/s)²
}

// DefaultConfig returns conservative defaults for a MEMS gyro.
func DefaultConfig() Config {
	return Config{
		YawProcessNoise:     0.015,
		BiasProcessNoise:    0.001,
		InnovationGate:      2.6,
		InitialYawVariance:  0.5,
		InitialBiasVariance: 1e-4,
	}
}

// HeadingFilter is a two-state (yaw, gyro z bias) Kalman filter.
type HeadingFilter struct {
	cfg Config
	x   *mat.VecDense
	p   *mat.SymDense

	resetCount     int
	lastResetDelta float64
}

// NewHeadingFilter starts at zero yaw with the configured initial
// uncertainty.
func NewHeadingFilter(cfg Config) *HeadingFilter {
	if cfg.InnovationGate <= 0 {
		cfg.InnovationGate = DefaultConfig().InnovationGate
	}
	return &HeadingFilter{
		cfg: cfg,
		x:   mat.NewVecDense(2, nil),
		p:   mat.NewSymDense(2, []float64{cfg.InitialYawVariance, 0, 0, cfg.InitialBiasVariance}),
	}
}

// Predict integrates the bias-corrected z rate over dt seconds.
func (f *HeadingFilter) Predict(gyroZ, dt float64) {
	if dt <= 0 || !heading.IsFinite(gyroZ) {
		return
	}
	yaw := f.x.AtVec(iYaw) + (gyroZ-f.x.AtVec(iBias))*dt
	f.x.SetVec(iYaw, heading.WrapPi(yaw))

	F := mat.NewDense(2, 2, []float64{
		1, -dt,
		0, 1,
	})
	var fp, fpf mat.Dense
	fp.Mul(F, f.p)
	fpf.Mul(&fp, F.T())

	qYaw := f.cfg.YawProcessNoise * dt
	qBias := f.cfg.BiasProcessNoise * dt
	q := [2]float64{qYaw * qYaw, qBias * qBias}

	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			v := 0.5 * (fpf.At(i, j) + fpf.At(j, i))
			if i == j {
				v += q[i]
			}
			f.p.SetSym(i, j, v)
		}
	}
}

// FuseHeading applies a scalar heading correction. innovation is
// predicted minus observed. The correction is skipped when the normalised
// innovation falls outside the gate.
func (f *HeadingFilter) FuseHeading(innovation, variance float64, status *heading.AidSourceStatus) bool {
	s := f.p.At(iYaw, iYaw) + variance
	gate := f.cfg.InnovationGate
	ratio := math.Inf(1)
	if s > 0 {
		ratio = innovation * innovation / (gate * gate * s)
	}
	if status != nil {
		status.InnovationVariance = s
		status.TestRatio = ratio
	}
	if s <= 0 || !heading.IsFinite(innovation) || ratio > 1 {
		return false
	}

	ph := mat.NewVecDense(2, []float64{f.p.At(iYaw, iYaw), f.p.At(iBias, iYaw)})
	f.x.AddScaledVec(f.x, -innovation/s, ph)
	f.x.SetVec(iYaw, heading.WrapPi(f.x.AtVec(iYaw)))

	// P = P - (P Hᵀ)(H P)/S
	f.p.SymRankOne(f.p, -1/s, ph)
	return true
}

// ResetHeading overwrites yaw and decouples it from the bias state.
func (f *HeadingFilter) ResetHeading(yaw, variance float64) {
	yaw = heading.WrapPi(yaw)
	f.lastResetDelta = heading.AngleDiff(yaw, f.x.AtVec(iYaw))
	f.x.SetVec(iYaw, yaw)
	f.p.SetSym(iYaw, iBias, 0)
	f.p.SetSym(iYaw, iYaw, variance)
	f.resetCount++
}

// Yaw returns the heading estimate in radians.
func (f *HeadingFilter) Yaw() float64 { return f.x.AtVec(iYaw) }

// Bias returns the estimated gyro z bias in rad/s.
func (f *HeadingFilter) Bias() float64 { return f.x.AtVec(iBias) }

// YawVariance returns the heading variance in rad².
func (f *HeadingFilter) YawVariance() float64 { return f.p.At(iYaw, iYaw) }

// ResetCount is the number of heading resets since construction.
func (f *HeadingFilter) ResetCount() int { return f.resetCount }

// LastResetDelta is the wrapped yaw jump of the most recent reset.
func (f *HeadingFilter) LastResetDelta() float64 { return f.lastResetDelta }
