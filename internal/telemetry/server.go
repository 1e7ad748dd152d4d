package telemetry

import (
	"context"
	"log"
	"math"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/heading.fusion/internal/estimator"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
)

var _ TelemetryServer = (*Server)(nil)

// Server keeps the latest estimator state for RPC clients. It is fed as
// an estimator.Publisher (per-cycle status) and SnapshotPublisher.
type Server struct {
	mu       sync.RWMutex
	latest   estimator.Snapshot
	have     bool
	statuses map[fusion.SourceID]heading.AidSourceStatus

	subsMu sync.Mutex
	subs   map[chan estimator.Snapshot]struct{}
}

// NewServer returns an empty telemetry server.
func NewServer() *Server {
	return &Server{
		statuses: make(map[fusion.SourceID]heading.AidSourceStatus),
		subs:     make(map[chan estimator.Snapshot]struct{}),
	}
}

// PublishStatus implements estimator.Publisher.
func (s *Server) PublishStatus(id fusion.SourceID, st heading.AidSourceStatus) {
	s.mu.Lock()
	s.statuses[id] = st
	s.mu.Unlock()
}

// PublishSnapshot implements estimator.SnapshotPublisher. Slow watchers
// miss snapshots rather than stall the runner.
func (s *Server) PublishSnapshot(snap estimator.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	s.have = true
	s.mu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Snapshot returns the most recent snapshot.
func (s *Server) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.RLock()
	snap, have := s.latest, s.have
	s.mu.RUnlock()
	if !have {
		return nil, status.Error(codes.Unavailable, "no snapshot published yet")
	}
	return s.encode(snap)
}

// Watch streams every published snapshot until the client goes away.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ch := make(chan estimator.Snapshot, 4)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	defer func() {
		s.subsMu.Lock()
		delete(s.subs, ch)
		s.subsMu.Unlock()
	}()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-ch:
			msg, err := s.encode(snap)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				log.Printf("[gRPC] Watch send error: %v", err)
				return err
			}
		}
	}
}

// Watchers returns the number of connected Watch streams.
func (s *Server) Watchers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

func (s *Server) encode(snap estimator.Snapshot) (*structpb.Struct, error) {
	s.mu.RLock()
	latest := make(map[string]interface{}, len(s.statuses))
	for id, st := range s.statuses {
		latest[string(id)] = statusMap(st)
	}
	s.mu.RUnlock()

	m := snapshotMap(snap)
	m["latest_status"] = latest
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode snapshot: %v", err)
	}
	return st, nil
}

// num maps non-finite values to null; protobuf JSON cannot carry them.
func num(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func statusMap(st heading.AidSourceStatus) map[string]interface{} {
	return map[string]interface{}{
		"timestamp_sample":     float64(st.TimestampSample),
		"observation":          num(st.Observation),
		"observation_variance": num(st.ObservationVariance),
		"innovation":           num(st.Innovation),
		"innovation_variance":  num(st.InnovationVariance),
		"test_ratio":           num(st.TestRatio),
		"fusion_enabled":       st.FusionEnabled,
		"innovation_rejected":  st.InnovationRejected,
		"fused":                st.Fused,
		"time_last_fuse":       float64(st.TimeLastFuse),
	}
}

func snapshotMap(snap estimator.Snapshot) map[string]interface{} {
	holders := make([]interface{}, 0, len(snap.Holders))
	for _, h := range snap.Holders {
		holders = append(holders, string(h))
	}
	sources := make([]interface{}, 0, len(snap.Sources))
	for _, src := range snap.Sources {
		sources = append(sources, map[string]interface{}{
			"id":               string(src.ID),
			"name":             src.Name,
			"state":            src.State,
			"status":           statusMap(src.Status),
			"resets_available": float64(src.ResetsAvailable),
			"inhibited":        src.Inhibited,
			"faulted":          src.Faulted,
		})
	}
	return map[string]interface{}{
		"time_us":          float64(snap.TimeUs),
		"cycles":           float64(snap.Cycles),
		"yaw":              num(snap.Yaw),
		"yaw_variance":     num(snap.YawVariance),
		"reset_count":      float64(snap.ResetCount),
		"last_reset_delta": num(snap.LastResetDelta),
		"exclusive_owner":  string(snap.ExclusiveOwner),
		"holders":          holders,
		"flags": map[string]interface{}{
			"tilt_align": snap.Flags.TiltAlign,
			"yaw_align":  snap.Flags.YawAlign,
			"gps":        snap.Flags.GPS,
			"in_air":     snap.Flags.InAir,
		},
		"sources": sources,
	}
}
