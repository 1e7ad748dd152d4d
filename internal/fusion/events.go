package fusion

// Severity grades an event for the notification sink.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "info"
}

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventStarted          EventKind = "fusion_started"
	EventStartedWithReset EventKind = "fusion_started_reset"
	EventSourceReset      EventKind = "source_reset"
	EventFailingReset     EventKind = "fusion_failing_reset"
	EventStopped          EventKind = "fusion_stopped"
)

// StopReason explains an EventStopped.
type StopReason string

const (
	ReasonNone                  StopReason = ""
	ReasonConditionsFailing     StopReason = "continuing_conditions_failing"
	ReasonSourceResetLowQuality StopReason = "source_reset_low_quality"
	ReasonSourceFaulty          StopReason = "source_faulty"
	ReasonFusionFailing         StopReason = "fusion_failing"
	ReasonSiblingExclusive      StopReason = "sibling_exclusive"
	ReasonDataStopped           StopReason = "data_stopped"
)

// Event is a structured lifecycle notification. Rendering is left to the
// sink.
type Event struct {
	Source   SourceID   `json:"source"`
	Name     string     `json:"name"`
	TimeUs   uint64     `json:"time_us"`
	Kind     EventKind  `json:"kind"`
	Severity Severity   `json:"severity"`
	Reason   StopReason `json:"reason,omitempty"`
}

// EventSink consumes lifecycle events.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// MultiSink fans events out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

type discardSink struct{}

func (discardSink) Emit(Event) {}
