// Package ingest decodes the companion-link line protocol into estimator
// records and reads it from streams, UDP captures and serial ports.
package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/heading"
)

var (
	// ErrUnknownRecord is returned for lines whose tag is not recognised.
	ErrUnknownRecord = errors.New("unknown record type")
	// ErrEmptyLine is returned for blank and comment lines.
	ErrEmptyLine = errors.New("empty line")
)

// Kind tags the payload carried by a Record.
type Kind int

const (
	KindIMU Kind = iota + 1
	KindFlags
	KindHeading
)

func (k Kind) String() string {
	switch k {
	case KindIMU:
		return "imu"
	case KindFlags:
		return "flags"
	case KindHeading:
		return "heading"
	}
	return "unknown"
}

// IMU is one gyro integration step.
type IMU struct {
	GyroZ float64 // rad/s
	Dt    float64 // s
}

// FlagsUpdate carries the estimator mode bits reported by the flight stack.
type FlagsUpdate struct {
	TiltAlign bool
	GPS       bool
	InAir     bool
}

// HeadingSample is a heading observation for one source.
type HeadingSample struct {
	Source  fusion.SourceID
	Sample  heading.Sample
	Quality bool
}

// Record is one decoded line.
type Record struct {
	Kind    Kind
	TimeUs  uint64
	IMU     IMU
	Flags   FlagsUpdate
	Heading HeadingSample
}

// ParseLine decodes one CSV line:
//
//	imu,<time_us>,<gyro_z>,<dt>
//	flags,<time_us>,<tilt_align>,<gps>,<in_air>
//	yaw,<source>,<time_us>,<yaw>,<variance>,<frame>,<reset>,<quality>
//	quat,<source>,<time_us>,<w>,<x>,<y>,<z>,<variance>,<frame>,<reset>,<quality>
//
// Blank lines and lines starting with '#' return ErrEmptyLine.
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Record{}, ErrEmptyLine
	}
	f := strings.Split(line, ",")
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}

	switch f[0] {
	case "imu":
		if err := wantFields(f, 4); err != nil {
			return Record{}, err
		}
		p := fieldParser{fields: f}
		r := Record{Kind: KindIMU, TimeUs: p.u64(1, "time_us")}
		r.IMU = IMU{GyroZ: p.f64(2, "gyro_z"), Dt: p.f64(3, "dt")}
		return r, p.err

	case "flags":
		if err := wantFields(f, 5); err != nil {
			return Record{}, err
		}
		p := fieldParser{fields: f}
		r := Record{Kind: KindFlags, TimeUs: p.u64(1, "time_us")}
		r.Flags = FlagsUpdate{
			TiltAlign: p.flag(2, "tilt_align"),
			GPS:       p.flag(3, "gps"),
			InAir:     p.flag(4, "in_air"),
		}
		return r, p.err

	case "yaw":
		if err := wantFields(f, 8); err != nil {
			return Record{}, err
		}
		p := fieldParser{fields: f}
		src := p.source(1)
		r := Record{Kind: KindHeading, TimeUs: p.u64(2, "time_us")}
		r.Heading = HeadingSample{
			Source: src,
			Sample: heading.Sample{
				TimeUs:      r.TimeUs,
				Yaw:         p.f64(3, "yaw"),
				Variance:    p.f64(4, "variance"),
				Frame:       p.frame(5),
				SourceReset: p.flag(6, "reset"),
			},
			Quality: p.flag(7, "quality"),
		}
		return r, p.err

	case "quat":
		if err := wantFields(f, 11); err != nil {
			return Record{}, err
		}
		p := fieldParser{fields: f}
		src := p.source(1)
		r := Record{Kind: KindHeading, TimeUs: p.u64(2, "time_us")}
		yaw := heading.YawFromQuaternion(p.f64(3, "w"), p.f64(4, "x"), p.f64(5, "y"), p.f64(6, "z"))
		r.Heading = HeadingSample{
			Source: src,
			Sample: heading.Sample{
				TimeUs:      r.TimeUs,
				Yaw:         yaw,
				Variance:    p.f64(7, "variance"),
				Frame:       p.frame(8),
				SourceReset: p.flag(9, "reset"),
			},
			Quality: p.flag(10, "quality"),
		}
		return r, p.err
	}
	return Record{}, fmt.Errorf("%w: %q", ErrUnknownRecord, f[0])
}

func wantFields(f []string, n int) error {
	if len(f) != n {
		return fmt.Errorf("%s record: want %d fields, got %d", f[0], n, len(f))
	}
	return nil
}

// fieldParser keeps the first error so decoders read straight through.
type fieldParser struct {
	fields []string
	err    error
}

func (p *fieldParser) fail(name string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s record: field %s: %w", p.fields[0], name, err)
	}
}

func (p *fieldParser) u64(i int, name string) uint64 {
	v, err := strconv.ParseUint(p.fields[i], 10, 64)
	if err != nil {
		p.fail(name, err)
	}
	return v
}

func (p *fieldParser) f64(i int, name string) float64 {
	v, err := strconv.ParseFloat(p.fields[i], 64)
	if err != nil {
		p.fail(name, err)
	}
	return v
}

func (p *fieldParser) flag(i int, name string) bool {
	v, err := strconv.ParseBool(p.fields[i])
	if err != nil {
		p.fail(name, err)
	}
	return v
}

// frame keeps unknown tags as FrameUnknown; the controller refuses them.
func (p *fieldParser) frame(i int) heading.Frame {
	fr, err := heading.ParseFrame(p.fields[i])
	if err != nil {
		return heading.FrameUnknown
	}
	return fr
}

func (p *fieldParser) source(i int) fusion.SourceID {
	id := fusion.SourceID(p.fields[i])
	switch id {
	case fusion.SourceVision, fusion.SourceGNSS, fusion.SourceMag:
		return id
	}
	p.fail("source", fmt.Errorf("unknown heading source %q", p.fields[i]))
	return ""
}
