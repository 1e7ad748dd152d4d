package fusion

import (
	"github.com/banshee-data/heading.fusion/internal/heading"
)

// fakeCore records every call and accepts or rejects fuses on demand.
type fakeCore struct {
	yaw    float64
	accept bool

	fuses  []FuseCommand
	resets []ResetCommand

	// mutations counts state-changing calls since the last take.
	mutations int
}

func (f *fakeCore) FuseHeading(innovation, variance float64, status *heading.AidSourceStatus) bool {
	f.fuses = append(f.fuses, FuseCommand{Innovation: innovation, Variance: variance})
	status.InnovationVariance = variance + 0.01
	status.TestRatio = innovation * innovation / status.InnovationVariance
	if f.accept {
		f.mutations++
	}
	return f.accept
}

func (f *fakeCore) ResetHeading(yaw, variance float64) {
	f.resets = append(f.resets, ResetCommand{Yaw: yaw, Variance: variance})
	f.yaw = yaw
	f.mutations++
}

func (f *fakeCore) Yaw() float64 { return f.yaw }

func (f *fakeCore) takeMutations() int {
	n := f.mutations
	f.mutations = 0
	return n
}

// eventLog collects emitted events.
type eventLog struct {
	events []Event
}

func (l *eventLog) Emit(e Event) { l.events = append(l.events, e) }

func (l *eventLog) last() Event {
	if len(l.events) == 0 {
		return Event{}
	}
	return l.events[len(l.events)-1]
}

type harness struct {
	core  *fakeCore
	reg   *Registry
	flags *Flags
	log   *eventLog
}

func newHarness() *harness {
	return &harness{
		core:  &fakeCore{accept: true},
		reg:   NewRegistry(),
		flags: &Flags{TiltAlign: true, YawAlign: true},
		log:   &eventLog{},
	}
}

func (h *harness) controller(p Profile, params Params) *Controller {
	return NewController(p, params, h.core, h.reg, h.flags, h.log)
}

func (h *harness) vision() *Controller {
	return h.controller(VisionProfile(true, 0.05), DefaultParams())
}

const t0 uint64 = 2_000_000

func nedInput(now uint64, yaw float64) Input {
	return Input{
		Sample:            heading.Sample{TimeUs: now, Yaw: yaw, Variance: 0.01, Frame: heading.FrameNED},
		QualitySufficient: true,
		StartingRequested: true,
		NowUs:             now,
		FilterYaw:         yaw + 0.02,
	}
}

func frdInput(now uint64, yaw float64) Input {
	in := nedInput(now, yaw)
	in.Sample.Frame = heading.FrameFRD
	return in
}
