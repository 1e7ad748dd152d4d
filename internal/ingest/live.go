package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/heading.fusion/internal/serialmux"
)

// ReadSerial subscribes to the companion link and decodes its lines until
// ctx is cancelled or the mux closes.
func ReadSerial(ctx context.Context, mux serialmux.SerialMuxInterface, out chan<- Record) (Stats, error) {
	var stats Stats
	sink := lineSink{out: out, stats: &stats}

	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return stats, nil
			}
			if err := sink.handle(ctx, line); err != nil {
				return stats, err
			}
		}
	}
}

// ListenUDP receives line records as UDP datagrams on addr until ctx is
// cancelled.
func ListenUDP(ctx context.Context, addr string, out chan<- Record) (Stats, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer conn.Close()
	return ServeUDP(ctx, conn, out)
}

// ServeUDP decodes datagrams from conn. Each datagram may carry several
// newline separated lines.
func ServeUDP(ctx context.Context, conn *net.UDPConn, out chan<- Record) (Stats, error) {
	var stats Stats
	sink := lineSink{out: out, stats: &stats}

	buf := make([]byte, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		// short deadline so cancellation is noticed without a second goroutine
		conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return stats, fmt.Errorf("udp read: %w", err)
		}
		stats.Packets++
		for _, line := range bytes.Split(buf[:n], []byte("\n")) {
			if err := sink.handle(ctx, string(line)); err != nil {
				return stats, err
			}
		}
	}
}
