// Package api exposes the running estimator over HTTP: state snapshots
// and per-source operator controls.
package api

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/heading.fusion/internal/config"
	"github.com/banshee-data/heading.fusion/internal/estimator"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/httputil"
	"github.com/banshee-data/heading.fusion/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Controls is the part of the estimator operators may drive.
type Controls interface {
	Snapshot() estimator.Snapshot
	SetInhibit(id fusion.SourceID, inhibit bool) error
	ClearFault(id fusion.SourceID) error
}

type Server struct {
	est   Controls
	cfg   *config.FusionConfig
	units string
}

func NewServer(est Controls, cfg *config.FusionConfig, units string) *Server {
	return &Server{
		est:   est,
		cfg:   cfg,
		units: units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", only(http.MethodGet, s.showSnapshot))
	mux.HandleFunc("/api/config", only(http.MethodGet, s.showConfig))
	mux.HandleFunc("/api/sources/{id}/inhibit", only(http.MethodPost, s.setInhibit))
	mux.HandleFunc("/api/sources/{id}/clear-fault", only(http.MethodPost, s.clearFault))
	return mux
}

// only rejects requests whose method is not method with a JSON 405.
func only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			httputil.MethodNotAllowed(w, method)
			return
		}
		h(w, r)
	}
}

// SnapshotView is a snapshot with angles in the server's display units.
type SnapshotView struct {
	estimator.Snapshot
	Units         string  `json:"units"`
	YawDisplay    float64 `json:"yaw_display"`
	YawStdDisplay float64 `json:"yaw_std_display"`
	ResetDisplay  float64 `json:"last_reset_delta_display"`
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.est.Snapshot()
	view := SnapshotView{
		Snapshot:     snap,
		Units:        s.units,
		YawDisplay:   units.ConvertAngle(snap.Yaw, s.units),
		ResetDisplay: units.ConvertAngle(snap.LastResetDelta, s.units),
	}
	if snap.YawVariance > 0 {
		view.YawStdDisplay = units.ConvertAngle(math.Sqrt(snap.YawVariance), s.units)
	}
	httputil.WriteJSONOK(w, view)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	config := map[string]interface{}{
		"units":              s.units,
		"no_aid_timeout":     s.cfg.GetNoAidTimeout().String(),
		"start_debounce":     s.cfg.GetStartDebounce().String(),
		"reset_budget":       s.cfg.GetResetBudget(),
		"fault_latch":        s.cfg.GetFaultLatch(),
		"ev_yaw_enabled":     s.cfg.GetEVYawEnabled(),
		"gnss_yaw_enabled":   s.cfg.GetGNSSYawEnabled(),
		"mag_yaw_enabled":    s.cfg.GetMagYawEnabled(),
		"heading_innov_gate": s.cfg.GetHeadingInnovGate(),
	}
	httputil.WriteJSONOK(w, config)
}

func (s *Server) setInhibit(w http.ResponseWriter, r *http.Request) {
	id := fusion.SourceID(r.PathValue("id"))
	inhibit := true
	if v := r.URL.Query().Get("value"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "Invalid 'value' parameter")
			return
		}
		inhibit = b
	}
	if err := s.est.SetInhibit(id, inhibit); err != nil {
		s.writeControlError(w, err)
		return
	}
	log.Printf("source %s inhibit=%t", id, inhibit)
	httputil.WriteJSONOK(w, map[string]interface{}{"source": id, "inhibited": inhibit})
}

func (s *Server) clearFault(w http.ResponseWriter, r *http.Request) {
	id := fusion.SourceID(r.PathValue("id"))
	if err := s.est.ClearFault(id); err != nil {
		s.writeControlError(w, err)
		return
	}
	log.Printf("source %s fault cleared", id)
	httputil.WriteJSONOK(w, map[string]interface{}{"source": id, "faulted": false})
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, estimator.ErrUnknownSource) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, fmt.Sprintf("Failed to update source: %v", err))
}
