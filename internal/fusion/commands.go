package fusion

import "github.com/banshee-data/heading.fusion/internal/heading"

// Command is one side effect requested by a transition function.
type Command interface {
	command()
}

// FuseCommand submits the innovation to the Kalman core.
type FuseCommand struct {
	Innovation float64
	Variance   float64
}

// ResetCommand overwrites the filter heading. A reset always counts as a
// fuse for TimeLastFuse.
type ResetCommand struct {
	Yaw      float64
	Variance float64
}

// ClaimCommand takes heading ownership in the registry.
type ClaimCommand struct {
	Frame heading.Frame
}

// StopSiblingsCommand stops every other source sharing the filter.
type StopSiblingsCommand struct{}

// SetYawAlignCommand updates the shared yaw alignment flag.
type SetYawAlignCommand struct {
	Aligned bool
}

// MarkFusedCommand records the cycle time as the last fuse time without
// touching the filter.
type MarkFusedCommand struct{}

// MarkRejectedCommand flags the innovation as withheld for quality.
type MarkRejectedCommand struct{}

// ArmBudgetCommand re-arms the reset budget.
type ArmBudgetCommand struct {
	N int
}

// ConsumeBudgetCommand spends one reset if airborne.
type ConsumeBudgetCommand struct {
	InAir bool
}

// LatchFaultCommand marks the source faulty until cleared.
type LatchFaultCommand struct{}

// EmitCommand forwards an event to the sink.
type EmitCommand struct {
	Event Event
}

// StopCommand stops this source.
type StopCommand struct{}

func (FuseCommand) command()          {}
func (ResetCommand) command()         {}
func (ClaimCommand) command()         {}
func (StopSiblingsCommand) command()  {}
func (SetYawAlignCommand) command()   {}
func (MarkFusedCommand) command()     {}
func (MarkRejectedCommand) command()  {}
func (ArmBudgetCommand) command()     {}
func (ConsumeBudgetCommand) command() {}
func (LatchFaultCommand) command()    {}
func (EmitCommand) command()          {}
func (StopCommand) command()          {}

// Transition is the output of a transition function: the state the source
// should be in after the commands run, and the commands themselves.
type Transition struct {
	Next     State
	Commands []Command
}

// Mutations counts the commands that change filter state.
func (t Transition) Mutations() int {
	n := 0
	for _, c := range t.Commands {
		switch c.(type) {
		case FuseCommand, ResetCommand:
			n++
		}
	}
	return n
}
