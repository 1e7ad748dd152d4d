package estimator

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heading.fusion/internal/config"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
	"github.com/banshee-data/heading.fusion/internal/ingest"
	"github.com/banshee-data/heading.fusion/internal/kalman"
)

const t0 = 1_000_000

type eventLog struct{ events []fusion.Event }

func (l *eventLog) Emit(e fusion.Event) { l.events = append(l.events, e) }

func (l *eventLog) kinds() []fusion.EventKind {
	var out []fusion.EventKind
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

type statusLog struct {
	byID map[fusion.SourceID][]heading.AidSourceStatus
}

func (s *statusLog) PublishStatus(id fusion.SourceID, st heading.AidSourceStatus) {
	if s.byID == nil {
		s.byID = make(map[fusion.SourceID][]heading.AidSourceStatus)
	}
	s.byID[id] = append(s.byID[id], st)
}

type fixture struct {
	est    *Estimator
	filter *kalman.HeadingFilter
	events *eventLog
	status *statusLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.MustLoadDefaultConfig()
	f := &fixture{
		filter: kalman.NewHeadingFilter(FilterConfigFromConfig(cfg)),
		events: &eventLog{},
		status: &statusLog{},
	}
	opts := OptionsFromConfig(cfg)
	opts.Sink = f.events
	opts.Publishers = []Publisher{f.status}
	f.est = New(f.filter, opts)
	return f
}

func (f *fixture) feed(t *testing.T, lines ...string) {
	t.Helper()
	for _, line := range lines {
		rec, err := ingest.ParseLine(line)
		require.NoError(t, err, line)
		f.est.Apply(rec)
	}
}

func imu(ts uint64) string { return fmt.Sprintf("imu,%d,0,0.01", ts) }

func flags(ts uint64, tilt, gps, inAir bool) string {
	return fmt.Sprintf("flags,%d,%t,%t,%t", ts, tilt, gps, inAir)
}

func yaw(src fusion.SourceID, ts uint64, v float64, frame string, quality bool) string {
	return fmt.Sprintf("yaw,%s,%d,%g,0.0001,%s,0,%t", src, ts, v, frame, quality)
}

func sourceState(t *testing.T, e *Estimator, id fusion.SourceID) SourceSnapshot {
	t.Helper()
	src, ok := e.Snapshot().Source(id)
	require.True(t, ok, "source %s", id)
	return src
}

func TestEstimator_MagActivatesAndAligns(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, false),
		yaw(fusion.SourceMag, t0, 1.2, "ned", true),
		imu(t0),
	)

	mag := sourceState(t, f.est, fusion.SourceMag)
	assert.Equal(t, "active", mag.State)
	assert.Equal(t, 5, mag.ResetsAvailable)
	assert.True(t, f.est.Flags().YawAlign)
	assert.InDelta(t, 1.2, f.filter.Yaw(), 1e-9)
	assert.Equal(t, 1, f.filter.ResetCount())
	assert.Equal(t, []fusion.EventKind{fusion.EventStartedWithReset}, f.events.kinds())

	require.Len(t, f.status.byID[fusion.SourceMag], 1)
	assert.True(t, f.status.byID[fusion.SourceMag][0].FusionEnabled)
}

func TestEstimator_SecondNEDSourceJoinsWithoutReset(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, false),
		yaw(fusion.SourceMag, t0, 0.4, "ned", true),
		imu(t0),
		yaw(fusion.SourceGNSS, t0+10_000, 0.41, "ned", true),
		imu(t0+10_000),
	)

	snap := f.est.Snapshot()
	assert.Equal(t, []fusion.SourceID{fusion.SourceGNSS, fusion.SourceMag}, snap.Holders)
	assert.Equal(t, 1, snap.ResetCount, "aligned NED activation must not reset")
	assert.Equal(t, fusion.EventStarted, f.events.events[len(f.events.events)-1].Kind)
}

// A body-relative vision sample stops the active mag controller.
func TestEstimator_FRDVisionStopsMag(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, false),
		yaw(fusion.SourceMag, t0, 0.2, "ned", true),
		imu(t0),
		yaw(fusion.SourceVision, t0+10_000, -0.7, "frd", true),
		imu(t0+10_000),
	)

	snap := f.est.Snapshot()
	vision, _ := snap.Source(fusion.SourceVision)
	mag, _ := snap.Source(fusion.SourceMag)
	assert.Equal(t, "active", vision.State)
	assert.Equal(t, "inactive", mag.State)
	assert.Equal(t, fusion.SourceVision, snap.ExclusiveOwner)
	assert.False(t, snap.Flags.YawAlign)
	assert.Equal(t, 2, snap.ResetCount)
	assert.InDelta(t, -0.9, snap.LastResetDelta, 1e-9)

	var displaced []fusion.SourceID
	for _, e := range f.events.events {
		if e.Reason == fusion.ReasonSiblingExclusive {
			displaced = append(displaced, e.Source)
		}
	}
	assert.Equal(t, []fusion.SourceID{fusion.SourceMag}, displaced)

	// mag cannot come back while vision owns heading
	f.feed(t,
		yaw(fusion.SourceMag, t0+2_000_000, 0.2, "ned", true),
		imu(t0+2_000_000),
	)
	assert.Equal(t, "inactive", sourceState(t, f.est, fusion.SourceMag).State)
}

// A body-relative source that goes quiet gives heading back once the
// no-aid timeout has passed.
func TestEstimator_SilentFRDVisionReleasesHeading(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, true),
		yaw(fusion.SourceVision, t0, 0.3, "frd", true),
		imu(t0),
	)
	require.Equal(t, "active", sourceState(t, f.est, fusion.SourceVision).State)

	var ts uint64
	for ts = t0 + 100_000; ts <= t0+5_000_000; ts += 100_000 {
		f.feed(t, yaw(fusion.SourceMag, ts, 0.2, "ned", true), imu(ts))
	}
	assert.Equal(t, "active", sourceState(t, f.est, fusion.SourceVision).State)
	assert.Equal(t, "inactive", sourceState(t, f.est, fusion.SourceMag).State)

	for ; ts <= t0+6_000_000; ts += 100_000 {
		f.feed(t, yaw(fusion.SourceMag, ts, 0.2, "ned", true), imu(ts))
	}

	snap := f.est.Snapshot()
	vision, _ := snap.Source(fusion.SourceVision)
	mag, _ := snap.Source(fusion.SourceMag)
	assert.Equal(t, "inactive", vision.State)
	assert.Equal(t, "active", mag.State)
	assert.Equal(t, []fusion.SourceID{fusion.SourceMag}, snap.Holders)
	assert.True(t, snap.Flags.YawAlign)

	var stopped []fusion.StopReason
	for _, e := range f.events.events {
		if e.Source == fusion.SourceVision && e.Kind == fusion.EventStopped {
			stopped = append(stopped, e.Reason)
		}
	}
	assert.Equal(t, []fusion.StopReason{fusion.ReasonDataStopped}, stopped)

	statuses := f.status.byID[fusion.SourceVision]
	require.NotEmpty(t, statuses)
	assert.False(t, statuses[len(statuses)-1].FusionEnabled)
}

func TestEstimator_FRDVisionClearsGPS(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, true, false),
		yaw(fusion.SourceVision, t0, 0.3, "frd", true),
		imu(t0),
	)

	assert.Equal(t, "active", sourceState(t, f.est, fusion.SourceVision).State)
	assert.False(t, f.est.Flags().GPS)
}

func TestEstimator_FRDVisionRejectedWhileGPSAligned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, true, false),
		yaw(fusion.SourceGNSS, t0, 0.3, "ned", true),
		imu(t0),
		yaw(fusion.SourceVision, t0+10_000, 0.1, "frd", true),
		imu(t0+10_000),
	)

	assert.Equal(t, "inactive", sourceState(t, f.est, fusion.SourceVision).State)
	assert.Equal(t, "active", sourceState(t, f.est, fusion.SourceGNSS).State)
	assert.True(t, f.est.Flags().GPS)
}

func TestEstimator_SamplesWaitForFusionHorizon(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, false),
		yaw(fusion.SourceMag, t0+50_000, 0.5, "ned", true),
		imu(t0),
	)
	assert.Equal(t, "inactive", sourceState(t, f.est, fusion.SourceMag).State)
	assert.Empty(t, f.status.byID[fusion.SourceMag])

	f.feed(t, imu(t0+50_000))
	assert.Equal(t, "active", sourceState(t, f.est, fusion.SourceMag).State)
}

func TestEstimator_StaleSampleDoesNotStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, false),
		yaw(fusion.SourceMag, t0, 0.5, "ned", true),
		imu(t0+DefaultMaxSampleAgeUs+1),
	)
	assert.Equal(t, "inactive", sourceState(t, f.est, fusion.SourceMag).State)
}

func TestEstimator_InhibitAndUnknownSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.est.SetInhibit(fusion.SourceMag, true))
	assert.Error(t, f.est.SetInhibit("sonar", true))
	assert.Error(t, f.est.ClearFault("sonar"))

	f.feed(t,
		flags(t0, true, false, false),
		yaw(fusion.SourceMag, t0, 0.5, "ned", true),
		imu(t0),
	)
	mag := sourceState(t, f.est, fusion.SourceMag)
	assert.Equal(t, "inactive", mag.State)
	assert.True(t, mag.Inhibited)
}

func TestEstimator_NoTiltAlignNoFusion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		yaw(fusion.SourceGNSS, t0, 0.5, "ned", true),
		imu(t0),
	)
	assert.Equal(t, "inactive", sourceState(t, f.est, fusion.SourceGNSS).State)
	assert.Empty(t, f.events.events)
}

// A source that keeps disagreeing with the filter triggers a budgeted
// reset once the no-aid timeout elapses.
func TestEstimator_FailingResetWithReferenceFilter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.feed(t,
		flags(t0, true, false, true),
		yaw(fusion.SourceMag, t0, 0.0, "ned", true),
		imu(t0),
	)
	require.Equal(t, "active", sourceState(t, f.est, fusion.SourceMag).State)

	// the source jumps by 2.5 rad and the gate rejects every fuse
	var ts uint64
	for ts = t0 + 100_000; ts <= t0+5_100_000; ts += 100_000 {
		f.feed(t, yaw(fusion.SourceMag, ts, 2.5, "ned", true), imu(ts))
	}

	mag := sourceState(t, f.est, fusion.SourceMag)
	assert.Equal(t, "active", mag.State)
	assert.Equal(t, 4, mag.ResetsAvailable)
	assert.Equal(t, 2, f.filter.ResetCount())
	assert.InDelta(t, 2.5, f.filter.Yaw(), 1e-9)
	assert.Contains(t, f.events.kinds(), fusion.EventFailingReset)

	statuses := f.status.byID[fusion.SourceMag]
	require.NotEmpty(t, statuses)
	for _, st := range statuses {
		assert.LessOrEqual(t, math.Abs(st.Innovation), math.Pi)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	t.Parallel()
	cfg := config.EmptyFusionConfig()
	opts := OptionsFromConfig(cfg)

	assert.Equal(t, fusion.DefaultParams(), opts.Params)
	require.Len(t, opts.Profiles, 3)
	assert.Equal(t, fusion.SourceGNSS, opts.Profiles[0].ID)
	assert.Equal(t, fusion.SourceMag, opts.Profiles[1].ID)
	assert.Equal(t, fusion.SourceVision, opts.Profiles[2].ID)
	assert.Equal(t, 0.3, opts.Profiles[1].NoiseStdDev)

	k := FilterConfigFromConfig(cfg)
	assert.Equal(t, 2.6, k.InnovationGate)
}
