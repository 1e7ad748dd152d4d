package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/heading.fusion/internal/monitoring"
)

var logf = monitoring.Prefixed("ingest: ")

// Stats counts what a reader saw.
type Stats struct {
	Lines   int
	Records int
	Errors  int
	Packets int
}

// lineSink parses lines and forwards records, honouring ctx.
type lineSink struct {
	out   chan<- Record
	stats *Stats
}

func (s lineSink) handle(ctx context.Context, line string) error {
	s.stats.Lines++
	rec, err := ParseLine(line)
	if errors.Is(err, ErrEmptyLine) {
		return nil
	}
	if err != nil {
		s.stats.Errors++
		logf("skipping line %d: %v", s.stats.Lines, err)
		return nil
	}
	select {
	case s.out <- rec:
		s.stats.Records++
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadLines decodes r line by line into out until EOF or ctx is cancelled.
// Malformed lines are logged and skipped. out is not closed.
func ReadLines(ctx context.Context, r io.Reader, out chan<- Record) (Stats, error) {
	var stats Stats
	sink := lineSink{out: out, stats: &stats}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := sink.handle(ctx, scanner.Text()); err != nil {
			return stats, err
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read lines: %w", err)
	}
	return stats, nil
}

// ReadPcap replays a pcap capture, decoding the UDP payloads sent to port
// as line records. Non-UDP packets and other ports are ignored.
func ReadPcap(ctx context.Context, r io.Reader, port uint16, out chan<- Record) (Stats, error) {
	var stats Stats
	sink := lineSink{out: out, stats: &stats}

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to open pcap stream: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || uint16(udp.DstPort) != port || len(udp.Payload) == 0 {
			continue
		}

		for _, line := range bytes.Split(udp.Payload, []byte("\n")) {
			if err := sink.handle(ctx, string(line)); err != nil {
				return stats, err
			}
		}
	}
}
