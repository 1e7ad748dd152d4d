package db

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/httputil"
)

// AttachAdminRoutes mounts live SQL and JSON views of the telemetry under
// /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://heading.db", db.DB, &tailsql.DBOptions{
		Label: "Heading telemetry",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Recorded runs (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runs, err := db.Runs()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
			return
		}
		httputil.WriteJSONOK(w, runs)
	}))

	debug.HandleSilentFunc("statuses", func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Query().Get("run_id")
		if runID == "" {
			httputil.BadRequest(w, "missing run_id")
			return
		}
		limit := 1000
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		rows, err := db.Statuses(runID, fusion.SourceID(r.URL.Query().Get("source")), limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query statuses: %v", err))
			return
		}
		httputil.WriteJSONOK(w, rows)
	})

	debug.HandleSilentFunc("events", func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Query().Get("run_id")
		if runID == "" {
			httputil.BadRequest(w, "missing run_id")
			return
		}
		rows, err := db.Events(runID)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query events: %v", err))
			return
		}
		httputil.WriteJSONOK(w, rows)
	})
}
