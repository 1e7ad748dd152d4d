package db

import (
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
	"github.com/banshee-data/heading.fusion/internal/monitoring"
)

// Recorder writes the status records and events of one run. It satisfies
// estimator.Publisher and fusion.EventSink. Write failures are logged and
// counted, never returned to the estimator.
type Recorder struct {
	db    *DB
	runID string

	Failures int
}

// NewRecorder starts a run labelled label.
func NewRecorder(db *DB, label string) (*Recorder, error) {
	runID, err := db.StartRun(label)
	if err != nil {
		return nil, err
	}
	return &Recorder{db: db, runID: runID}, nil
}

// RunID returns the identifier of the recorded run.
func (r *Recorder) RunID() string { return r.runID }

// PublishStatus implements estimator.Publisher.
func (r *Recorder) PublishStatus(id fusion.SourceID, st heading.AidSourceStatus) {
	if err := r.db.RecordStatus(r.runID, id, st); err != nil {
		r.fail(err)
	}
}

// Emit implements fusion.EventSink.
func (r *Recorder) Emit(e fusion.Event) {
	if err := r.db.RecordEvent(r.runID, e, monitoring.FormatEvent(e)); err != nil {
		r.fail(err)
	}
}

func (r *Recorder) fail(err error) {
	r.Failures++
	if r.Failures%100 == 1 {
		monitoring.Logf("telemetry recorder: %v (%d failures)", err, r.Failures)
	}
}
