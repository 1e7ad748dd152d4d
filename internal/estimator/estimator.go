// Package estimator wires the heading source controllers to one Kalman
// core and drives them from decoded records.
package estimator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/heading.fusion/internal/config"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
	"github.com/banshee-data/heading.fusion/internal/ingest"
	"github.com/banshee-data/heading.fusion/internal/kalman"
)

// DefaultMaxSampleAgeUs is how old a buffered sample may be, relative to
// the fusion horizon, and still request a start.
const DefaultMaxSampleAgeUs = 200_000

// ErrUnknownSource is returned for ids no controller is registered under.
var ErrUnknownSource = errors.New("unknown heading source")

// Publisher receives every finalized status record.
type Publisher interface {
	PublishStatus(id fusion.SourceID, st heading.AidSourceStatus)
}

// Predictor is implemented by cores that integrate gyro rate.
type Predictor interface {
	Predict(gyroZ, dt float64)
}

// resetReporter is implemented by cores that keep reset bookkeeping.
type resetReporter interface {
	ResetCount() int
	LastResetDelta() float64
}

type yawVariancer interface {
	YawVariance() float64
}

// Options configures an Estimator.
type Options struct {
	Params fusion.Params

	// Profiles in update order. Defaults to GNSS, mag, vision.
	Profiles []fusion.Profile

	Sink       fusion.EventSink
	Publishers []Publisher

	MaxSampleAgeUs uint64
}

// OptionsFromConfig derives Options from the fusion configuration.
func OptionsFromConfig(cfg *config.FusionConfig) Options {
	return Options{
		Params: fusion.Params{
			NoAidTimeoutUs:  uint64(cfg.GetNoAidTimeout().Microseconds()),
			StartDebounceUs: uint64(cfg.GetStartDebounce().Microseconds()),
			ResetBudget:     cfg.GetResetBudget(),
			FaultLatch:      cfg.GetFaultLatch(),
		},
		Profiles: []fusion.Profile{
			fusion.GNSSProfile(cfg.GetGNSSYawEnabled(), cfg.GetGNSSHeadingNoise()),
			fusion.MagProfile(cfg.GetMagYawEnabled(), cfg.GetMagHeadingNoise()),
			fusion.VisionProfile(cfg.GetEVYawEnabled(), cfg.GetEVAttNoise()),
		},
	}
}

// FilterConfigFromConfig derives the reference filter noise parameters.
func FilterConfigFromConfig(cfg *config.FusionConfig) kalman.Config {
	k := kalman.DefaultConfig()
	k.YawProcessNoise = cfg.GetYawProcessNoise()
	k.BiasProcessNoise = cfg.GetGyroBiasProcessNoise()
	k.InnovationGate = cfg.GetHeadingInnovGate()
	k.InitialYawVariance = cfg.GetInitialYawVariance()
	return k
}

type pending struct {
	sample  heading.Sample
	quality bool
}

// Estimator owns the flags, the heading registry and one controller per
// source. Methods are safe to call from several goroutines; controllers
// themselves only ever run under the estimator lock.
type Estimator struct {
	mu sync.Mutex

	core       fusion.KalmanCore
	flags      fusion.Flags
	registry   *fusion.Registry
	ctrls      []*fusion.Controller
	byID       map[fusion.SourceID]*fusion.Controller
	pending    map[fusion.SourceID]pending
	publishers []Publisher
	maxAgeUs   uint64

	nowUs  uint64
	cycles uint64
}

// New builds an estimator around core.
func New(core fusion.KalmanCore, opts Options) *Estimator {
	if len(opts.Profiles) == 0 {
		opts.Profiles = []fusion.Profile{
			fusion.GNSSProfile(true, 0),
			fusion.MagProfile(true, 0),
			fusion.VisionProfile(true, 0),
		}
	}
	if opts.Params == (fusion.Params{}) {
		opts.Params = fusion.DefaultParams()
	}
	if opts.MaxSampleAgeUs == 0 {
		opts.MaxSampleAgeUs = DefaultMaxSampleAgeUs
	}

	e := &Estimator{
		core:       core,
		registry:   fusion.NewRegistry(),
		byID:       make(map[fusion.SourceID]*fusion.Controller),
		pending:    make(map[fusion.SourceID]pending),
		publishers: opts.Publishers,
		maxAgeUs:   opts.MaxSampleAgeUs,
	}
	for _, p := range opts.Profiles {
		c := fusion.NewController(p, opts.Params, core, e.registry, &e.flags, opts.Sink)
		e.ctrls = append(e.ctrls, c)
		e.byID[p.ID] = c
	}
	// gps position fusion cannot share the filter with a body-relative
	// heading
	e.registry.Register(fusion.SourceGPSPosition, fusion.StopFunc(func() { e.flags.GPS = false }))
	return e
}

// Apply feeds one record. Heading samples are buffered per source; an IMU
// record advances the fusion horizon and runs one cycle of every
// controller that has a buffered sample, in profile order.
func (e *Estimator) Apply(rec ingest.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch rec.Kind {
	case ingest.KindFlags:
		e.flags.TiltAlign = rec.Flags.TiltAlign
		e.flags.GPS = rec.Flags.GPS
		e.flags.InAir = rec.Flags.InAir

	case ingest.KindHeading:
		if _, ok := e.byID[rec.Heading.Source]; !ok {
			return
		}
		e.pending[rec.Heading.Source] = pending{sample: rec.Heading.Sample, quality: rec.Heading.Quality}

	case ingest.KindIMU:
		if p, ok := e.core.(Predictor); ok {
			p.Predict(rec.IMU.GyroZ, rec.IMU.Dt)
		}
		if rec.TimeUs > e.nowUs {
			e.nowUs = rec.TimeUs
		}
		e.cycle()
	}
}

func (e *Estimator) cycle() {
	e.cycles++
	for _, c := range e.ctrls {
		p, ok := e.pending[c.ID()]
		if !ok || p.sample.TimeUs > e.nowUs {
			if st, changed := c.Idle(e.nowUs); changed {
				e.publish(c.ID(), st)
			}
			continue
		}
		delete(e.pending, c.ID())

		st := c.Update(fusion.Input{
			Sample:            p.sample,
			QualitySufficient: p.quality,
			StartingRequested: e.nowUs-p.sample.TimeUs <= e.maxAgeUs,
			NowUs:             e.nowUs,
			FilterYaw:         e.core.Yaw(),
		})
		e.publish(c.ID(), st)
	}
}

func (e *Estimator) publish(id fusion.SourceID, st heading.AidSourceStatus) {
	for _, pub := range e.publishers {
		pub.PublishStatus(id, st)
	}
}

// SetInhibit blocks or unblocks one source.
func (e *Estimator) SetInhibit(id fusion.SourceID, inhibit bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSource, id)
	}
	c.SetInhibit(inhibit)
	return nil
}

// ClearFault releases a latched source fault.
func (e *Estimator) ClearFault(id fusion.SourceID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownSource, id)
	}
	c.ClearFault()
	return nil
}

// Flags returns a copy of the current mode bits.
func (e *Estimator) Flags() fusion.Flags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

// Snapshot captures the estimator state.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		TimeUs:  e.nowUs,
		Cycles:  e.cycles,
		Yaw:     e.core.Yaw(),
		Flags:   e.flags,
		Holders: e.registry.Holders(),
	}
	if owner, ok := e.registry.Exclusive(); ok {
		s.ExclusiveOwner = owner
	}
	if v, ok := e.core.(yawVariancer); ok {
		s.YawVariance = v.YawVariance()
	}
	if r, ok := e.core.(resetReporter); ok {
		s.ResetCount = r.ResetCount()
		s.LastResetDelta = r.LastResetDelta()
	}
	for _, c := range e.ctrls {
		s.Sources = append(s.Sources, SourceSnapshot{
			ID:              c.ID(),
			Name:            c.Name(),
			State:           c.State().String(),
			Status:          c.Status(),
			ResetsAvailable: c.ResetsAvailable(),
			Inhibited:       c.Inhibited(),
			Faulted:         c.Faulted(),
		})
	}
	return s
}
