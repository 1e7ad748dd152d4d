package fusion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/heading.fusion/internal/heading"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario A: locally-level sample while heading is already aligned joins
// without touching the filter.
func TestController_ActivatesNEDWithoutResetWhenAligned(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()

	st := c.Update(nedInput(t0, 0.3))

	assert.Equal(t, Active, c.State())
	assert.Equal(t, t0, st.TimeLastFuse)
	assert.True(t, st.FusionEnabled)
	assert.Empty(t, h.core.resets)
	assert.Empty(t, h.core.fuses)
	assert.Equal(t, 5, c.ResetsAvailable())
	assert.True(t, h.reg.Holds(SourceVision))
	assert.Equal(t, EventStarted, h.log.last().Kind)
}

func TestController_ActivatesNEDWithResetWhenNotAligned(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.flags.YawAlign = false
	c := h.vision()

	st := c.Update(nedInput(t0, 1.1))

	assert.Equal(t, Active, c.State())
	require.Len(t, h.core.resets, 1)
	assert.InDelta(t, 1.1, h.core.resets[0].Yaw, 1e-12)
	assert.True(t, h.flags.YawAlign)
	assert.True(t, st.Fused)
	assert.Equal(t, t0, st.TimeLastFuse)
	assert.Equal(t, EventStartedWithReset, h.log.last().Kind)
}

func TestController_ActivatesFRDExclusively(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()

	c.Update(frdInput(t0, -0.4))

	assert.Equal(t, Active, c.State())
	require.Len(t, h.core.resets, 1)
	assert.False(t, h.flags.YawAlign, "body-relative reset must not claim absolute heading")
	owner, ok := h.reg.Exclusive()
	require.True(t, ok)
	assert.Equal(t, SourceVision, owner)
}

// Scenario E: a body-relative activation stops an active locally-level
// sibling and the GPS position sibling.
func TestController_FRDActivationStopsSiblings(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.flags.GPS = true
	h.reg.Register(SourceGPSPosition, StopFunc(func() { h.flags.GPS = false }))

	mag := h.controller(MagProfile(true, 0.3), DefaultParams())
	vision := h.vision()

	mag.Update(nedInput(t0, 0.2))
	require.Equal(t, Active, mag.State())

	// GPS heading is active and aligned, so an FRD sample would be
	// disqualified; drop alignment first the way a GPS yaw reset would.
	h.flags.YawAlign = false
	vision.Update(frdInput(t0+10_000, 0.25))

	assert.Equal(t, Active, vision.State())
	assert.Equal(t, Inactive, mag.State())
	assert.False(t, h.reg.Holds(SourceMag))
	assert.False(t, h.flags.GPS)
	assert.Equal(t, []SourceID{SourceVision}, h.reg.Holders())
	assert.Equal(t, heading.AidSourceStatus{TimeLastFuse: t0}, mag.Status())

	var displaced []SourceID
	for _, e := range h.log.events {
		if e.Reason == ReasonSiblingExclusive {
			displaced = append(displaced, e.Source)
		}
	}
	assert.Equal(t, []SourceID{SourceMag}, displaced)
}

func TestController_NEDBlockedWhileFRDOwnsHeading(t *testing.T) {
	t.Parallel()
	h := newHarness()
	vision := h.vision()
	mag := h.controller(MagProfile(true, 0.3), DefaultParams())

	vision.Update(frdInput(t0, 0.1))
	require.Equal(t, Active, vision.State())

	mag.Update(nedInput(t0+10_000, 0.1))
	assert.Equal(t, Inactive, mag.State())
	assert.Len(t, h.core.resets, 1, "blocked activation must not reset")
}

func TestController_UnknownFrameNeverActivates(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()

	in := nedInput(t0, 0.1)
	in.Sample.Frame = heading.FrameUnknown
	c.Update(in)

	assert.Equal(t, Inactive, c.State())
	assert.Empty(t, h.log.events)
}

func TestController_SteadyStateFusesAndAdvancesLastFuse(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	in := nedInput(t0+20_000, 0.3)
	in.FilterYaw = 0.35
	st := c.Update(in)

	require.Len(t, h.core.fuses, 1)
	assert.InDelta(t, 0.05, h.core.fuses[0].Innovation, 1e-12)
	assert.True(t, st.Fused)
	assert.Equal(t, t0+20_000, st.TimeLastFuse)
	assert.Greater(t, st.InnovationVariance, 0.0)
}

func TestController_RejectedFuseKeepsLastFuse(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	h.core.accept = false
	st := c.Update(nedInput(t0+20_000, 0.3))

	assert.Equal(t, t0, st.TimeLastFuse)
	assert.False(t, st.Fused)
	assert.False(t, st.InnovationRejected, "gate rejection is not a quality rejection")
}

func TestController_QualityInsufficientMarksRejected(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	in := nedInput(t0+20_000, 0.3)
	in.QualitySufficient = false
	st := c.Update(in)

	assert.True(t, st.InnovationRejected)
	assert.Empty(t, h.core.fuses)
	assert.Equal(t, t0, st.TimeLastFuse)
	assert.Equal(t, Active, c.State())
}

func TestController_SourceResetWithQualityResets(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	in := nedInput(t0+20_000, -2.0)
	in.Sample.SourceReset = true
	st := c.Update(in)

	require.Len(t, h.core.resets, 1)
	assert.InDelta(t, -2.0, h.core.resets[0].Yaw, 1e-12)
	assert.Empty(t, h.core.fuses)
	assert.Equal(t, t0+20_000, st.TimeLastFuse)
	assert.Equal(t, EventSourceReset, h.log.last().Kind)
	assert.Equal(t, Active, c.State())
}

// Scenario B: external reset with insufficient quality stops immediately.
func TestController_SourceResetWithoutQualityStops(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	in := nedInput(t0+20_000, -2.0)
	in.Sample.SourceReset = true
	in.QualitySufficient = false
	st := c.Update(in)

	assert.Equal(t, Inactive, c.State())
	assert.Empty(t, h.core.resets)
	assert.Empty(t, h.core.fuses)
	assert.Equal(t, heading.AidSourceStatus{TimeLastFuse: t0}, st)
	assert.False(t, h.reg.Holds(SourceVision))
	assert.Equal(t, ReasonSourceResetLowQuality, h.log.last().Reason)
}

func TestController_ContinuingConditionsFailingStops(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	in := nedInput(t0+20_000, math.NaN())
	c.Update(in)

	assert.Equal(t, Inactive, c.State())
	ev := h.log.last()
	assert.Equal(t, EventStopped, ev.Kind)
	assert.Equal(t, ReasonConditionsFailing, ev.Reason)
	assert.Equal(t, 0, c.ResetsAvailable())
}

// Scenario C: budget exhausted with good starting conditions stops with a
// fault-style warning.
func TestController_ExhaustedBudgetDeclaresFaulty(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	h.core.accept = false
	c.budget.Arm(0)
	st := c.Update(nedInput(t0+6_000_000, 0.3))

	assert.Equal(t, Inactive, c.State())
	assert.Empty(t, h.core.resets)
	ev := h.log.last()
	assert.Equal(t, ReasonSourceFaulty, ev.Reason)
	assert.Equal(t, SeverityWarning, ev.Severity)
	assert.False(t, st.FusionEnabled)
	assert.False(t, c.Faulted(), "faults are not latched by default")
}

func TestController_ExhaustedBudgetWithoutStartingConditions(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	h.core.accept = false
	c.budget.Arm(0)
	in := nedInput(t0+6_000_000, 0.3)
	in.StartingRequested = false
	c.Update(in)

	assert.Equal(t, Inactive, c.State())
	assert.Equal(t, ReasonFusionFailing, h.log.last().Reason)
}

func TestController_FailingWithBadQualityAndBudgetStops(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	in := nedInput(t0+6_000_000, 0.3)
	in.QualitySufficient = false
	c.Update(in)

	assert.Equal(t, Inactive, c.State())
	assert.Empty(t, h.core.resets)
	assert.Equal(t, ReasonSourceFaulty, h.log.last().Reason)
}

// Scenario D: failing fusion with budget left resets and stays active.
func TestController_FailingFusionUsesBudget(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		inAir bool
		want  int
	}{
		{"airborne", true, 2},
		{"grounded", false, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			c := h.vision()
			c.Update(nedInput(t0, 0.3))

			h.flags.InAir = tc.inAir
			h.core.accept = false
			c.budget.Arm(3)

			now := t0 + 6_000_000
			st := c.Update(nedInput(now, 0.6))

			assert.Equal(t, Active, c.State())
			require.Len(t, h.core.resets, 1)
			assert.InDelta(t, 0.6, h.core.resets[0].Yaw, 1e-12, "reset goes to the observation")
			assert.Equal(t, tc.want, c.ResetsAvailable())
			assert.Equal(t, now, st.TimeLastFuse)
			assert.Equal(t, EventFailingReset, h.log.last().Kind)
		})
	}
}

func TestController_FaultLatchBlocksRestart(t *testing.T) {
	t.Parallel()
	h := newHarness()
	params := DefaultParams()
	params.FaultLatch = true
	c := h.controller(VisionProfile(true, 0.05), params)
	c.Update(nedInput(t0, 0.3))

	h.core.accept = false
	c.budget.Arm(0)
	c.Update(nedInput(t0+6_000_000, 0.3))
	require.True(t, c.Faulted())

	c.Update(nedInput(t0+9_000_000, 0.3))
	assert.Equal(t, Inactive, c.State())

	c.ClearFault()
	c.Update(nedInput(t0+9_100_000, 0.3))
	assert.Equal(t, Active, c.State())
}

func TestController_DebounceAfterStop(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	c.SetInhibit(true)
	c.Update(nedInput(t0+100_000, 0.3))
	require.Equal(t, Inactive, c.State())
	c.SetInhibit(false)

	for _, dt := range []uint64{200_000, 500_000, 999_999} {
		c.Update(nedInput(t0+dt, 0.3))
		assert.Equal(t, Inactive, c.State(), "reactivated %dus after last fuse", dt)
	}

	c.Update(nedInput(t0+1_000_000, 0.3))
	assert.Equal(t, Active, c.State(), "debounce window is inclusive")
}

func TestController_IdleStopsSilentSource(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))
	require.Equal(t, Active, c.State())

	_, changed := c.Idle(t0 + 5_000_000)
	assert.False(t, changed)
	assert.Equal(t, Active, c.State())
	assert.Equal(t, []SourceID{SourceVision}, h.reg.Holders())

	st, changed := c.Idle(t0 + 5_000_001)
	assert.True(t, changed)
	assert.Equal(t, Inactive, c.State())
	assert.False(t, st.FusionEnabled)
	assert.Empty(t, h.reg.Holders())
	assert.Equal(t, EventStopped, h.log.last().Kind)
	assert.Equal(t, ReasonDataStopped, h.log.last().Reason)

	n := len(h.log.events)
	_, changed = c.Idle(t0 + 9_000_000)
	assert.False(t, changed, "inactive sources are left alone")
	assert.Len(t, h.log.events, n)
}

type controllerSnapshot struct {
	State   State
	Status  heading.AidSourceStatus
	Budget  int
	Holders []SourceID
	Align   bool
}

func snapshot(h *harness, c *Controller) controllerSnapshot {
	return controllerSnapshot{
		State:   c.State(),
		Status:  c.Status(),
		Budget:  c.ResetsAvailable(),
		Holders: h.reg.Holders(),
		Align:   h.flags.YawAlign,
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.vision()
	c.Update(nedInput(t0, 0.3))

	c.Stop()
	once := snapshot(h, c)
	c.Stop()
	twice := snapshot(h, c)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second Stop changed state (-once +twice):\n%s", diff)
	}
	assert.Equal(t, Inactive, twice.State)
	assert.Equal(t, 0, twice.Budget)
}

func TestController_DeltaInnovationWhenFrameIncompatible(t *testing.T) {
	t.Parallel()
	h := newHarness()
	h.flags.GPS = true
	c := h.vision()

	in := frdInput(t0, 0.10)
	in.FilterYaw = 1.00
	c.Update(in)
	require.Equal(t, Inactive, c.State())

	in = frdInput(t0+20_000, 0.15)
	in.FilterYaw = 1.02
	st := c.Update(in)

	// filter moved 0.02, raw moved 0.05
	assert.InDelta(t, -0.03, st.Innovation, 1e-9)
	assert.Empty(t, h.core.fuses)
}

func TestController_ObservationVarianceFloor(t *testing.T) {
	t.Parallel()
	h := newHarness()
	c := h.controller(VisionProfile(true, 0), DefaultParams())

	in := nedInput(t0, 0.3)
	in.Sample.Variance = 0
	st := c.Update(in)
	assert.InDelta(t, 1e-4, st.ObservationVariance, 1e-12)

	c2 := h.controller(MagProfile(true, 0.3), DefaultParams())
	st = c2.Update(nedInput(t0, 0.3))
	assert.InDelta(t, 0.09, st.ObservationVariance, 1e-12)
}

// Property: whatever the input sequence, innovations stay wrapped and no
// cycle issues more than one filter mutation per source.
func TestController_RandomSequenceInvariants(t *testing.T) {
	t.Parallel()
	h := newHarness()
	vision := h.vision()
	mag := h.controller(MagProfile(true, 0.3), DefaultParams())

	rng := rand.New(rand.NewSource(7))
	now := t0
	for i := 0; i < 5000; i++ {
		now += uint64(5_000 + rng.Intn(400_000))
		h.flags.InAir = rng.Intn(2) == 0
		h.flags.GPS = rng.Intn(5) == 0
		h.core.accept = rng.Intn(3) != 0

		for _, c := range []*Controller{mag, vision} {
			in := Input{
				Sample: heading.Sample{
					TimeUs:      now,
					Yaw:         (rng.Float64() - 0.5) * 20,
					Variance:    rng.Float64() * 0.1,
					Frame:       heading.Frame(rng.Intn(3)),
					SourceReset: rng.Intn(20) == 0,
				},
				QualitySufficient: rng.Intn(4) != 0,
				StartingRequested: rng.Intn(5) != 0,
				NowUs:             now,
				FilterYaw:         h.core.Yaw(),
			}
			before := c.ResetsAvailable()
			wasActive := c.State() == Active

			st := c.Update(in)

			require.LessOrEqual(t, h.core.takeMutations(), 1, "cycle %d", i)
			require.Equal(t, st.Innovation, heading.WrapPi(st.Innovation))
			require.GreaterOrEqual(t, c.ResetsAvailable(), 0)
			if wasActive && c.State() == Active {
				require.LessOrEqual(t, c.ResetsAvailable(), before, "budget grew without activation")
			}
			if c.State() == Active {
				require.True(t, h.reg.Holds(c.ID()))
			}
		}

		if owner, ok := h.reg.Exclusive(); ok {
			require.Equal(t, []SourceID{owner}, h.reg.Holders())
		}
	}
}
