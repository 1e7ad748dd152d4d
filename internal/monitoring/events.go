package monitoring

import (
	"fmt"

	"github.com/banshee-data/heading.fusion/internal/fusion"
)

// FormatEvent renders a lifecycle event as a one-line operator message.
func FormatEvent(e fusion.Event) string {
	name := e.Name
	if name == "" {
		name = string(e.Source)
	}
	switch e.Kind {
	case fusion.EventStarted:
		return fmt.Sprintf("starting %s fusion", name)
	case fusion.EventStartedWithReset:
		return fmt.Sprintf("starting %s fusion, resetting state", name)
	case fusion.EventSourceReset:
		return fmt.Sprintf("%s source reset, resetting state", name)
	case fusion.EventFailingReset:
		return fmt.Sprintf("%s fusion failing, resetting", name)
	case fusion.EventStopped:
		switch e.Reason {
		case fusion.ReasonConditionsFailing:
			return fmt.Sprintf("stopping %s fusion, continuing conditions failing", name)
		case fusion.ReasonSourceResetLowQuality:
			return fmt.Sprintf("stopping %s fusion, reset not valid", name)
		case fusion.ReasonSourceFaulty:
			return fmt.Sprintf("%s fusion failing, stopping, %s may be faulty", name, name)
		case fusion.ReasonFusionFailing:
			return fmt.Sprintf("stopping %s fusion, fusion failing", name)
		case fusion.ReasonSiblingExclusive:
			return fmt.Sprintf("stopping %s fusion, heading taken exclusively", name)
		case fusion.ReasonDataStopped:
			return fmt.Sprintf("stopping %s fusion, no data", name)
		}
		return fmt.Sprintf("stopping %s fusion", name)
	}
	return fmt.Sprintf("%s: %s", name, e.Kind)
}

// LogSink is a fusion.EventSink that writes events through Logf.
type LogSink struct {
	// Prefix is prepended to every line, e.g. "[heading] ".
	Prefix string
}

// Emit implements fusion.EventSink.
func (s LogSink) Emit(e fusion.Event) {
	if e.Severity == fusion.SeverityWarning {
		Logf("%sWARNING: %s (t=%dus)", s.Prefix, FormatEvent(e), e.TimeUs)
		return
	}
	Logf("%s%s (t=%dus)", s.Prefix, FormatEvent(e), e.TimeUs)
}
