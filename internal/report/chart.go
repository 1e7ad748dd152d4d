package report

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/heading.fusion/internal/db"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/httputil"
	"github.com/banshee-data/heading.fusion/internal/units"
)

// InnovationChart builds an interactive line chart of innovations, one
// series per source.
func InnovationChart(subtitle string, series []Series, angleUnits string) *charts.Line {
	origin := startUs(series)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Heading Innovations", Theme: "dark", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heading innovations", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: fmt.Sprintf("innovation (%s)", angleUnits), NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	for _, s := range series {
		data := make([]opts.LineData, 0, len(s.Points))
		for _, pt := range s.Points {
			data = append(data, opts.LineData{Value: []interface{}{
				seconds(pt.TimeUs, origin),
				units.ConvertAngle(pt.Innovation, angleUnits),
			}})
		}
		line.AddSeries(string(s.Source), data)
	}
	return line
}

// StatusStore is the slice of the telemetry store the chart handler reads.
type StatusStore interface {
	Runs() ([]db.Run, error)
	Statuses(runID string, source fusion.SourceID, limit int) ([]db.StatusRow, error)
}

// Handler serves the innovation chart for ?run_id=, defaulting to the most
// recent run. An optional ?source= narrows it to one source.
func Handler(store StatusStore, angleUnits string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		runID := q.Get("run_id")
		if runID == "" {
			runs, err := store.Runs()
			if err != nil {
				httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
				return
			}
			if len(runs) == 0 {
				httputil.NotFound(w, "no runs recorded")
				return
			}
			runID = runs[0].RunID
		}
		limit := -1
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}

		rows, err := store.Statuses(runID, fusion.SourceID(q.Get("source")), limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query statuses: %v", err))
			return
		}
		series := SeriesFromStatuses(rows)

		chart := InnovationChart(fmt.Sprintf("run=%s sources=%d", runID, len(series)), series, angleUnits)
		var buf bytes.Buffer
		if err := chart.Render(&buf); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		httputil.WriteHTML(w, buf.Bytes())
	})
}

// AttachAdminRoutes mounts the chart at /debug/innovations.
func AttachAdminRoutes(mux *http.ServeMux, store StatusStore, angleUnits string) {
	debug := tsweb.Debugger(mux)
	debug.Handle("innovations", "Innovation chart (HTML)", Handler(store, angleUnits))
}
