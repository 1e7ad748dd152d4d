package fusion

import (
	"math"

	"github.com/banshee-data/heading.fusion/internal/heading"
)

// State is the lifecycle state of one heading source.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// minObservationStdDev floors the observation variance at (0.01 rad)².
const minObservationStdDev = 0.01

// Input is the per-cycle input of a controller.
type Input struct {
	Sample            heading.Sample
	QualitySufficient bool
	StartingRequested bool

	// NowUs is the fusion time horizon of the estimator. It is what gets
	// recorded as TimeLastFuse.
	NowUs uint64

	// FilterYaw is the filter's heading at NowUs.
	FilterYaw float64
}

// cycle is the read-only view the transition functions decide on.
type cycle struct {
	source  SourceID
	name    string
	nowUs   uint64
	inAir   bool
	quality bool

	sourceReset bool
	frame       heading.Frame
	cond        Conditions

	observation float64
	variance    float64
	innovation  float64

	yawAligned      bool
	blocked         bool
	budgetAvailable bool
	noAidTimeoutUs  uint64
	resetBudget     int
	faultLatch      bool
}

func (c cycle) event(kind EventKind, sev Severity, reason StopReason) Command {
	return EmitCommand{Event: Event{
		Source:   c.source,
		Name:     c.name,
		TimeUs:   c.nowUs,
		Kind:     kind,
		Severity: sev,
		Reason:   reason,
	}}
}

func (c cycle) stop(reason StopReason) Transition {
	return Transition{
		Next:     Inactive,
		Commands: []Command{c.event(EventStopped, SeverityWarning, reason), StopCommand{}},
	}
}

// planConditionsFailing handles Active with continuing conditions false.
func planConditionsFailing(c cycle) Transition {
	return c.stop(ReasonConditionsFailing)
}

// planActive is the fusion phase of an Active cycle.
func planActive(c cycle) Transition {
	if c.sourceReset {
		if !c.quality {
			// cannot align to an unknown post-reset state
			return c.stop(ReasonSourceResetLowQuality)
		}
		return Transition{Next: Active, Commands: []Command{
			c.event(EventSourceReset, SeverityInfo, ReasonNone),
			ResetCommand{Yaw: c.observation, Variance: c.variance},
		}}
	}

	if c.quality {
		return Transition{Next: Active, Commands: []Command{
			FuseCommand{Innovation: c.innovation, Variance: c.variance},
		}}
	}
	return Transition{Next: Active, Commands: []Command{MarkRejectedCommand{}}}
}

// planFailure is the failure phase of an Active cycle, evaluated after the
// fusion phase has run with the updated last fuse time.
func planFailure(c cycle, timeLastFuse uint64) Transition {
	if !TimedOut(timeLastFuse, c.noAidTimeoutUs, c.nowUs) {
		return Transition{Next: Active}
	}

	if c.budgetAvailable && c.quality {
		return Transition{Next: Active, Commands: []Command{
			c.event(EventFailingReset, SeverityWarning, ReasonNone),
			ConsumeBudgetCommand{InAir: c.inAir},
			ResetCommand{Yaw: c.observation, Variance: c.variance},
		}}
	}

	if c.cond.Starting {
		// good data, no budget left: the source itself disagrees
		t := c.stop(ReasonSourceFaulty)
		if c.faultLatch {
			t.Commands = append([]Command{LatchFaultCommand{}}, t.Commands...)
		}
		return t
	}
	return c.stop(ReasonFusionFailing)
}

// planDataStopped handles an Active cycle without a sample. The source is
// stopped once its last sample is older than the no-aid timeout.
func planDataStopped(c cycle, timeLastSample uint64) Transition {
	if !TimedOut(timeLastSample, c.noAidTimeoutUs, c.nowUs) {
		return Transition{Next: Active}
	}
	return c.stop(ReasonDataStopped)
}

// planActivation is the Inactive cycle.
func planActivation(c cycle) Transition {
	if !c.cond.Starting {
		return Transition{Next: Inactive}
	}

	switch c.frame {
	case heading.FrameNED:
		if c.blocked {
			return Transition{Next: Inactive}
		}
		if c.yawAligned {
			return Transition{Next: Active, Commands: []Command{
				ClaimCommand{Frame: heading.FrameNED},
				c.event(EventStarted, SeverityInfo, ReasonNone),
				MarkFusedCommand{},
				ArmBudgetCommand{N: c.resetBudget},
			}}
		}
		return Transition{Next: Active, Commands: []Command{
			ClaimCommand{Frame: heading.FrameNED},
			c.event(EventStartedWithReset, SeverityInfo, ReasonNone),
			ResetCommand{Yaw: c.observation, Variance: c.variance},
			SetYawAlignCommand{Aligned: true},
			ArmBudgetCommand{N: c.resetBudget},
		}}

	case heading.FrameFRD:
		return Transition{Next: Active, Commands: []Command{
			StopSiblingsCommand{},
			ClaimCommand{Frame: heading.FrameFRD},
			c.event(EventStartedWithReset, SeverityInfo, ReasonNone),
			ResetCommand{Yaw: c.observation, Variance: c.variance},
			// a body-relative reset does not establish absolute heading
			SetYawAlignCommand{Aligned: false},
			ArmBudgetCommand{N: c.resetBudget},
		}}
	}
	return Transition{Next: Inactive}
}

// Controller is the fusion lifecycle state machine of one heading source.
// It is not safe for concurrent use; all controllers of one filter run on
// the estimator's thread in a fixed order.
type Controller struct {
	profile  Profile
	params   Params
	eval     ConditionEvaluator
	core     KalmanCore
	registry *Registry
	flags    *Flags
	sink     EventSink

	state   State
	status  heading.AidSourceStatus
	budget  ResetBudget
	inhibit bool
	faulted bool

	// lastSampleUs is the horizon of the last Update.
	lastSampleUs uint64

	havePrev      bool
	prevRawYaw    float64
	prevFilterYaw float64
}

// NewController builds a controller and registers it as a sibling in reg.
// A nil sink discards events.
func NewController(p Profile, params Params, core KalmanCore, reg *Registry, flags *Flags, sink EventSink) *Controller {
	if sink == nil {
		sink = discardSink{}
	}
	c := &Controller{
		profile:  p,
		params:   params,
		eval:     ConditionEvaluator{Profile: p, DebounceUs: params.StartDebounceUs},
		core:     core,
		registry: reg,
		flags:    flags,
		sink:     sink,
	}
	reg.Register(p.ID, c)
	return c
}

// ID returns the source identifier.
func (c *Controller) ID() SourceID { return c.profile.ID }

// Name returns the human readable source name.
func (c *Controller) Name() string { return c.profile.Name }

// State returns the current lifecycle state.
func (c *Controller) State() State { return c.state }

// Status returns the status record of the last cycle.
func (c *Controller) Status() heading.AidSourceStatus { return c.status }

// ResetsAvailable returns the remaining reset budget.
func (c *Controller) ResetsAvailable() int { return c.budget.Remaining() }

// SetInhibit blocks (or unblocks) use of the source.
func (c *Controller) SetInhibit(v bool) { c.inhibit = v }

// Inhibited reports the inhibit switch.
func (c *Controller) Inhibited() bool { return c.inhibit }

// Faulted reports whether an exhaustion stop has latched a fault.
func (c *Controller) Faulted() bool { return c.faulted }

// ClearFault allows a latched source to start again.
func (c *Controller) ClearFault() { c.faulted = false }

// Stop ends fusion of this source. It clears the status record, releases
// the heading claim and disarms the reset budget. Stopping an inactive
// source does nothing.
func (c *Controller) Stop() {
	if c.state != Active {
		return
	}
	c.status.Clear()
	c.registry.Release(c.profile.ID)
	c.budget.Disarm()
	c.state = Inactive
}

// frameOf resolves the reference frame of a sample for this source.
func (c *Controller) frameOf(s heading.Sample) heading.Frame {
	if c.profile.FixedFrame != heading.FrameUnknown {
		return c.profile.FixedFrame
	}
	return s.Frame
}

// Update runs one estimator cycle for this source and returns the
// finalized status record.
func (c *Controller) Update(in Input) heading.AidSourceStatus {
	c.status.Clear()

	frame := c.frameOf(in.Sample)
	obs := heading.WrapPi(in.Sample.Yaw)
	variance := observationVariance(in.Sample.Variance, c.profile.NoiseStdDev)

	c.status.TimestampSample = in.Sample.TimeUs
	c.status.Observation = obs
	c.status.ObservationVariance = variance
	c.status.Innovation = heading.AngleDiff(in.FilterYaw, obs)

	cond := c.eval.Evaluate(ConditionInput{
		Flags:             *c.flags,
		Inhibit:           c.inhibit,
		Faulted:           c.faulted,
		Observation:       obs,
		Variance:          variance,
		Frame:             frame,
		StartingRequested: in.StartingRequested,
		TimeLastFuse:      c.status.TimeLastFuse,
		NowUs:             in.NowUs,
	})

	if cond.FrameIncompatible {
		c.status.Innovation = c.deltaInnovation(in.Sample.Yaw, in.FilterYaw)
	}

	cy := cycle{
		source:          c.profile.ID,
		name:            c.profile.Name,
		nowUs:           in.NowUs,
		inAir:           c.flags.InAir,
		quality:         in.QualitySufficient,
		sourceReset:     in.Sample.SourceReset,
		frame:           frame,
		cond:            cond,
		observation:     obs,
		variance:        variance,
		innovation:      c.status.Innovation,
		yawAligned:      c.flags.YawAlign,
		blocked:         c.registry.Blocked(c.profile.ID, frame),
		budgetAvailable: c.budget.Available(),
		noAidTimeoutUs:  c.params.NoAidTimeoutUs,
		resetBudget:     c.params.ResetBudget,
		faultLatch:      c.params.FaultLatch,
	}

	if c.state == Active {
		if !cond.Continuing {
			c.apply(cy, planConditionsFailing(cy))
		} else if c.apply(cy, planActive(cy)) == Active {
			c.apply(cy, planFailure(cy, c.status.TimeLastFuse))
		}
	} else {
		c.apply(cy, planActivation(cy))
	}

	c.status.FusionEnabled = c.state == Active
	c.lastSampleUs = in.NowUs

	c.prevRawYaw = in.Sample.Yaw
	c.prevFilterYaw = in.FilterYaw
	c.havePrev = true

	return c.status
}

// Idle runs a cycle in which no sample of this source was due. An active
// source that has delivered nothing for longer than the no-aid timeout is
// stopped and its heading claim released. The second result
// reports whether the state changed.
func (c *Controller) Idle(nowUs uint64) (heading.AidSourceStatus, bool) {
	if c.state != Active {
		return c.status, false
	}
	cy := cycle{
		source:         c.profile.ID,
		name:           c.profile.Name,
		nowUs:          nowUs,
		inAir:          c.flags.InAir,
		noAidTimeoutUs: c.params.NoAidTimeoutUs,
	}
	if c.apply(cy, planDataStopped(cy, c.lastSampleUs)) == Active {
		return c.status, false
	}
	c.status.FusionEnabled = false
	return c.status, true
}

// deltaInnovation is the change of the filter heading minus the change of
// the raw heading since the previous sample. It is only logged.
func (c *Controller) deltaInnovation(rawYaw, filterYaw float64) float64 {
	if !c.havePrev {
		return 0
	}
	return heading.WrapPi(heading.AngleDiff(filterYaw, c.prevFilterYaw) - heading.AngleDiff(rawYaw, c.prevRawYaw))
}

// apply executes the commands of t in order and settles the state. A
// failed claim aborts the rest of the transition and leaves the source
// inactive.
func (c *Controller) apply(cy cycle, t Transition) State {
	for _, cmd := range t.Commands {
		switch cmd := cmd.(type) {
		case FuseCommand:
			if c.core.FuseHeading(cmd.Innovation, cmd.Variance, &c.status) {
				c.status.TimeLastFuse = cy.nowUs
				c.status.Fused = true
			}
		case ResetCommand:
			c.core.ResetHeading(cmd.Yaw, cmd.Variance)
			c.status.TimeLastFuse = cy.nowUs
			c.status.Fused = true
		case ClaimCommand:
			if err := c.registry.Claim(c.profile.ID, cmd.Frame); err != nil {
				return c.state
			}
			c.state = Active
		case StopSiblingsCommand:
			for _, id := range c.registry.Holders() {
				if id == c.profile.ID {
					continue
				}
				c.sink.Emit(Event{
					Source:   id,
					Name:     string(id),
					TimeUs:   cy.nowUs,
					Kind:     EventStopped,
					Severity: SeverityWarning,
					Reason:   ReasonSiblingExclusive,
				})
			}
			c.registry.StopOthers(c.profile.ID)
		case SetYawAlignCommand:
			c.flags.YawAlign = cmd.Aligned
		case MarkFusedCommand:
			c.status.TimeLastFuse = cy.nowUs
		case MarkRejectedCommand:
			c.status.InnovationRejected = true
		case ArmBudgetCommand:
			c.budget.Arm(cmd.N)
		case ConsumeBudgetCommand:
			c.budget.Consume(cmd.InAir)
		case LatchFaultCommand:
			c.faulted = true
		case EmitCommand:
			c.sink.Emit(cmd.Event)
		case StopCommand:
			c.Stop()
		}
	}
	c.state = t.Next
	return c.state
}

func observationVariance(sampleVar, noiseStdDev float64) float64 {
	if !heading.IsFinite(sampleVar) {
		return sampleVar
	}
	return math.Max(sampleVar, math.Max(noiseStdDev*noiseStdDev, minObservationStdDev*minObservationStdDev))
}
