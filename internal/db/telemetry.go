package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
)

// Run is one replay or live session.
type Run struct {
	RunID     string    `json:"run_id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
}

// StatusRow is a stored status record.
type StatusRow struct {
	RunID  string                  `json:"run_id"`
	Source fusion.SourceID         `json:"source"`
	Status heading.AidSourceStatus `json:"status"`
}

// EventRow is a stored lifecycle event.
type EventRow struct {
	RunID   string       `json:"run_id"`
	Event   fusion.Event `json:"event"`
	Message string       `json:"message"`
}

// StartRun registers a new run and returns its identifier.
func (db *DB) StartRun(label string) (string, error) {
	return db.startRunAt(label, time.Now())
}

func (db *DB) startRunAt(label string, at time.Time) (string, error) {
	runID := fmt.Sprintf("run_%s", uuid.NewString())
	_, err := db.Exec(`INSERT INTO runs (run_id, label, started_at) VALUES (?, ?, ?)`,
		runID, label, at.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return runID, nil
}

// Runs lists every run, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT run_id, label, started_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		if err := rows.Scan(&r.RunID, &r.Label, &startedAt); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, startedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordStatus stores one finalized status record.
func (db *DB) RecordStatus(runID string, source fusion.SourceID, st heading.AidSourceStatus) error {
	_, err := db.Exec(`
		INSERT INTO aid_source_status (
			run_id, source, timestamp_sample, observation, observation_variance,
			innovation, innovation_variance, test_ratio,
			fusion_enabled, innovation_rejected, fused, time_last_fuse
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, string(source), int64(st.TimestampSample),
		finiteOrNil(st.Observation), finiteOrNil(st.ObservationVariance),
		finiteOrNil(st.Innovation), finiteOrNil(st.InnovationVariance), finiteOrNil(st.TestRatio),
		st.FusionEnabled, st.InnovationRejected, st.Fused, int64(st.TimeLastFuse),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s status: %w", source, err)
	}
	return nil
}

// Statuses returns stored records of a run in sample order. An empty
// source selects every source; limit <= 0 returns all rows.
func (db *DB) Statuses(runID string, source fusion.SourceID, limit int) ([]StatusRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT run_id, source, timestamp_sample, observation, observation_variance,
			innovation, innovation_variance, test_ratio,
			fusion_enabled, innovation_rejected, fused, time_last_fuse
		FROM aid_source_status
		WHERE run_id = ? AND (? = '' OR source = ?)
		ORDER BY timestamp_sample, rowid
		LIMIT ?`, runID, string(source), string(source), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusRow
	for rows.Next() {
		var (
			r                      StatusRow
			src                    string
			ts, lastFuse           int64
			obs, obsVar, innov     nullFloat
			innovVar, ratio        nullFloat
			enabled, rejected, fus bool
		)
		if err := rows.Scan(&r.RunID, &src, &ts, &obs, &obsVar, &innov, &innovVar, &ratio,
			&enabled, &rejected, &fus, &lastFuse); err != nil {
			return nil, err
		}
		r.Source = fusion.SourceID(src)
		r.Status = heading.AidSourceStatus{
			TimestampSample:     uint64(ts),
			Observation:         obs.value(),
			ObservationVariance: obsVar.value(),
			Innovation:          innov.value(),
			InnovationVariance:  innovVar.value(),
			TestRatio:           ratio.value(),
			FusionEnabled:       enabled,
			InnovationRejected:  rejected,
			Fused:               fus,
			TimeLastFuse:        uint64(lastFuse),
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordEvent stores one lifecycle event with its rendered message.
func (db *DB) RecordEvent(runID string, e fusion.Event, message string) error {
	_, err := db.Exec(`
		INSERT INTO fusion_events (run_id, source, time_us, kind, severity, reason, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, string(e.Source), int64(e.TimeUs), string(e.Kind), e.Severity.String(), string(e.Reason), message)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Events returns the events of a run in time order.
func (db *DB) Events(runID string) ([]EventRow, error) {
	rows, err := db.Query(`
		SELECT run_id, source, time_us, kind, severity, reason, message
		FROM fusion_events WHERE run_id = ? ORDER BY time_us, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			r                      EventRow
			src, kind, sev, reason string
			ts                     int64
		)
		if err := rows.Scan(&r.RunID, &src, &ts, &kind, &sev, &reason, &r.Message); err != nil {
			return nil, err
		}
		r.Event = fusion.Event{
			Source: fusion.SourceID(src),
			Name:   src,
			TimeUs: uint64(ts),
			Kind:   fusion.EventKind(kind),
			Reason: fusion.StopReason(reason),
		}
		if sev == fusion.SeverityWarning.String() {
			r.Event.Severity = fusion.SeverityWarning
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
