// Package report renders innovation histories recorded by the telemetry
// store, as PNG plots for offline review and as live HTML charts.
package report

import (
	"math"
	"sort"

	"github.com/banshee-data/heading.fusion/internal/db"
	"github.com/banshee-data/heading.fusion/internal/fusion"
)

// Point is one fusion attempt of a source.
type Point struct {
	TimeUs     uint64
	Innovation float64
	TestRatio  float64
	Rejected   bool
}

// Series is the innovation history of one source.
type Series struct {
	Source fusion.SourceID
	Points []Point
}

// Rejections counts the points the innovation gate refused.
func (s Series) Rejections() int {
	n := 0
	for _, p := range s.Points {
		if p.Rejected {
			n++
		}
	}
	return n
}

// SeriesFromStatuses groups status rows by source, keeping only cycles in
// which fusion was enabled and produced a finite innovation. Series come
// back sorted by source id with points in time order.
func SeriesFromStatuses(rows []db.StatusRow) []Series {
	bySource := make(map[fusion.SourceID][]Point)
	for _, row := range rows {
		st := row.Status
		if !st.FusionEnabled || math.IsNaN(st.Innovation) || math.IsInf(st.Innovation, 0) {
			continue
		}
		bySource[row.Source] = append(bySource[row.Source], Point{
			TimeUs:     st.TimestampSample,
			Innovation: st.Innovation,
			TestRatio:  st.TestRatio,
			Rejected:   st.InnovationRejected,
		})
	}

	out := make([]Series, 0, len(bySource))
	for id, pts := range bySource {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].TimeUs < pts[j].TimeUs })
		out = append(out, Series{Source: id, Points: pts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// startUs is the earliest sample time across series, used as the x origin.
func startUs(series []Series) uint64 {
	var first uint64
	for _, s := range series {
		if len(s.Points) == 0 {
			continue
		}
		if t := s.Points[0].TimeUs; first == 0 || t < first {
			first = t
		}
	}
	return first
}

func seconds(t, origin uint64) float64 {
	return float64(t-origin) / 1e6
}
