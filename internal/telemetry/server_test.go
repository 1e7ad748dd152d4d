package telemetry

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/heading.fusion/internal/estimator"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
)

func startServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	srv := NewServer()

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	Register(g, srv)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, NewClient(conn)
}

func sampleSnapshot() estimator.Snapshot {
	return estimator.Snapshot{
		TimeUs:         3_000_000,
		Cycles:         42,
		Yaw:            0.5,
		YawVariance:    0.01,
		Flags:          fusion.Flags{TiltAlign: true, YawAlign: true},
		Holders:        []fusion.SourceID{fusion.SourceMag},
		ResetCount:     1,
		LastResetDelta: 0.5,
		Sources: []estimator.SourceSnapshot{{
			ID:              fusion.SourceMag,
			Name:            "mag heading",
			State:           "active",
			ResetsAvailable: 5,
			Status: heading.AidSourceStatus{
				Observation:   math.NaN(),
				FusionEnabled: true,
			},
		}},
	}
}

func TestSnapshot_UnavailableBeforePublish(t *testing.T) {
	_, client := startServer(t)

	_, err := client.Snapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestSnapshot_ReturnsLatest(t *testing.T) {
	srv, client := startServer(t)
	srv.PublishStatus(fusion.SourceMag, heading.AidSourceStatus{TimestampSample: 7, Fused: true})
	srv.PublishSnapshot(sampleSnapshot())

	got, err := client.Snapshot(context.Background())
	require.NoError(t, err)

	m := got.AsMap()
	assert.Equal(t, 3_000_000.0, m["time_us"])
	assert.Equal(t, 0.5, m["yaw"])
	assert.Equal(t, []interface{}{"mag_heading"}, m["holders"])
	flags := m["flags"].(map[string]interface{})
	assert.Equal(t, true, flags["yaw_align"])

	sources := m["sources"].([]interface{})
	require.Len(t, sources, 1)
	src := sources[0].(map[string]interface{})
	assert.Equal(t, "active", src["state"])
	st := src["status"].(map[string]interface{})
	assert.Nil(t, st["observation"], "NaN is carried as null")

	latest := m["latest_status"].(map[string]interface{})
	mag := latest["mag_heading"].(map[string]interface{})
	assert.Equal(t, 7.0, mag["timestamp_sample"])
	assert.Equal(t, true, mag["fused"])
}

func TestWatch_StreamsPublishedSnapshots(t *testing.T) {
	srv, client := startServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *structpb.Struct, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.Watch(ctx, func(s *structpb.Struct) error {
			got <- s
			return nil
		})
	}()

	require.Eventually(t, func() bool { return srv.Watchers() == 1 }, 2*time.Second, time.Millisecond)
	srv.PublishSnapshot(sampleSnapshot())

	select {
	case s := <-got:
		assert.Equal(t, 42.0, s.AsMap()["cycles"])
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot streamed")
	}

	cancel()
	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled, "got %v", err)
	require.Eventually(t, func() bool { return srv.Watchers() == 0 }, 2*time.Second, time.Millisecond)
}

func TestWatch_CallbackErrorStops(t *testing.T) {
	srv, client := startServer(t)
	stop := errors.New("enough")

	done := make(chan error, 1)
	go func() {
		done <- client.Watch(context.Background(), func(*structpb.Struct) error { return stop })
	}()
	require.Eventually(t, func() bool { return srv.Watchers() == 1 }, 2*time.Second, time.Millisecond)
	srv.PublishSnapshot(sampleSnapshot())

	assert.ErrorIs(t, <-done, stop)
}
