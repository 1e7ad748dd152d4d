// Command headingfusion runs the heading source admission logic against a
// recorded or live stream of IMU, mode-flag and heading records.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/heading.fusion/internal/api"
	"github.com/banshee-data/heading.fusion/internal/config"
	"github.com/banshee-data/heading.fusion/internal/db"
	"github.com/banshee-data/heading.fusion/internal/estimator"
	"github.com/banshee-data/heading.fusion/internal/fusion"
	"github.com/banshee-data/heading.fusion/internal/ingest"
	"github.com/banshee-data/heading.fusion/internal/kalman"
	"github.com/banshee-data/heading.fusion/internal/monitoring"
	"github.com/banshee-data/heading.fusion/internal/report"
	"github.com/banshee-data/heading.fusion/internal/security"
	"github.com/banshee-data/heading.fusion/internal/serialmux"
	"github.com/banshee-data/heading.fusion/internal/telemetry"
	"github.com/banshee-data/heading.fusion/internal/units"
	"github.com/banshee-data/heading.fusion/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Fusion configuration JSON")
	dbPath      = flag.String("db", "", "SQLite telemetry database (empty disables recording)")
	replayPath  = flag.String("replay", "", "Replay a CSV record file ('-' for stdin)")
	pcapPath    = flag.String("pcap", "", "Replay records carried in UDP packets of a pcap capture")
	udpPort     = flag.Int("udp-port", 14660, "UDP port carrying records (live listen, or pcap filter)")
	udpListen   = flag.Bool("udp", false, "Listen for live records on -udp-port")
	serialPort  = flag.String("serial", "", "Serial device carrying records")
	baudRate    = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	listen      = flag.String("listen", "", "HTTP listen address for the API and /debug/ (empty disables)")
	grpcListen  = flag.String("grpc-listen", "", "gRPC telemetry listen address (empty disables)")
	plotPath    = flag.String("plot", "", "Write an innovation plot PNG here on exit (requires -db)")
	runLabel    = flag.String("label", "", "Label stored with the recorded run")
	angleUnits  = flag.String("units", units.Deg, "Display units for angles: "+units.GetValidUnitsString())
	interval    = flag.Duration("snapshot-interval", estimator.DefaultPublishInterval, "Snapshot publish interval")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// inputs counts the record sources selected on the command line.
func inputs() int {
	n := 0
	for _, set := range []bool{*replayPath != "", *pcapPath != "", *udpListen, *serialPort != ""} {
		if set {
			n++
		}
	}
	return n
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if !units.IsValid(*angleUnits) {
		log.Fatalf("invalid -units %q: must be one of %s", *angleUnits, units.GetValidUnitsString())
	}
	if inputs() != 1 {
		log.Fatal("exactly one of -replay, -pcap, -udp or -serial is required")
	}
	if *plotPath != "" && *dbPath == "" {
		log.Fatal("-plot requires -db")
	}

	cfg, err := config.LoadFusionConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config %s: %v", *configPath, err)
	}

	label := *runLabel
	if label == "" {
		label = defaultLabel(time.Now())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event and status sinks
	logSink := monitoring.LogSink{Prefix: "[heading] "}
	telemetrySrv := telemetry.NewServer()
	opts := estimator.OptionsFromConfig(cfg)
	opts.Sink = logSink
	opts.Publishers = []estimator.Publisher{telemetrySrv}

	var store *db.DB
	var recorder *db.Recorder
	if *dbPath != "" {
		if err := security.ValidateOutputPath(*dbPath); err != nil {
			log.Fatalf("refusing -db path: %v", err)
		}
		store, err = db.OpenAndMigrate(*dbPath)
		if err != nil {
			log.Fatalf("failed to open telemetry database: %v", err)
		}
		defer store.Close()

		recorder, err = db.NewRecorder(store, label)
		if err != nil {
			log.Fatalf("failed to start run: %v", err)
		}
		log.Printf("recording run %s (%s) to %s", recorder.RunID(), label, *dbPath)
		opts.Sink = fusion.MultiSink{logSink, recorder}
		opts.Publishers = append(opts.Publishers, recorder)
	}
	if *plotPath != "" {
		if err := security.ValidateOutputPath(*plotPath); err != nil {
			log.Fatalf("refusing -plot path: %v", err)
		}
	}

	filter := kalman.NewHeadingFilter(estimator.FilterConfigFromConfig(cfg))
	est := estimator.New(filter, opts)

	var wg sync.WaitGroup
	records := make(chan ingest.Record, 1024)

	// Record source
	var mux serialmux.SerialMuxInterface
	if *serialPort != "" {
		port, err := serialmux.NewRealSerialMux(*serialPort, serialmux.PortOptions{BaudRate: *baudRate})
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
		defer port.Close()
		mux = port

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("failed to monitor serial port: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(records)
		stats, err := readInput(ctx, mux, records)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("input error: %v", err)
		}
		log.Printf("input finished: %d lines, %d records, %d errors, %d packets",
			stats.Lines, stats.Records, stats.Errors, stats.Packets)
	}()

	// gRPC telemetry
	var grpcServer *grpc.Server
	if *grpcListen != "" {
		lis, err := net.Listen("tcp", *grpcListen)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", *grpcListen, err)
		}
		grpcServer = grpc.NewServer()
		telemetry.Register(grpcServer, telemetrySrv)
		go func() {
			log.Printf("gRPC telemetry listening on %s", *grpcListen)
			if err := grpcServer.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	// HTTP server
	var httpServer *http.Server
	if *listen != "" {
		httpMux := http.NewServeMux()
		if store != nil {
			store.AttachAdminRoutes(httpMux)
			report.AttachAdminRoutes(httpMux, store, *angleUnits)
		}
		if mux != nil {
			mux.AttachAdminRoutes(httpMux)
		}
		httpMux.Handle("/api/", api.NewServer(est, cfg, *angleUnits).ServeMux())

		httpServer = &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(httpMux),
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
	}

	runner := &estimator.Runner{
		Estimator:  est,
		Interval:   *interval,
		Publishers: []estimator.SnapshotPublisher{telemetrySrv, estimator.SnapshotFunc(logSnapshot)},
	}
	if err := runner.Run(ctx, records); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("estimator error: %v", err)
	}

	// Replays end on their own; keep serving until interrupted when there
	// is something to serve.
	if (httpServer != nil || grpcServer != nil) && ctx.Err() == nil && (*replayPath != "" || *pcapPath != "") {
		log.Print("replay complete, serving until interrupted")
		<-ctx.Done()
	}
	stop()

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		cancel()
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	wg.Wait()

	if recorder != nil && recorder.Failures > 0 {
		log.Printf("telemetry recorder dropped %d writes", recorder.Failures)
	}
	if *plotPath != "" && recorder != nil {
		if err := writePlot(store, recorder.RunID(), *plotPath, *angleUnits); err != nil {
			log.Printf("failed to write plot: %v", err)
		} else {
			log.Printf("wrote innovation plot to %s", *plotPath)
		}
	}
	log.Printf("Graceful shutdown complete")
}

func readInput(ctx context.Context, mux serialmux.SerialMuxInterface, out chan<- ingest.Record) (ingest.Stats, error) {
	switch {
	case *replayPath == "-":
		return ingest.ReadLines(ctx, os.Stdin, out)
	case *replayPath != "":
		f, err := os.Open(*replayPath)
		if err != nil {
			return ingest.Stats{}, err
		}
		defer f.Close()
		return ingest.ReadLines(ctx, f, out)
	case *pcapPath != "":
		f, err := os.Open(*pcapPath)
		if err != nil {
			return ingest.Stats{}, err
		}
		defer f.Close()
		return ingest.ReadPcap(ctx, f, uint16(*udpPort), out)
	case *udpListen:
		return ingest.ListenUDP(ctx, fmt.Sprintf(":%d", *udpPort), out)
	case mux != nil:
		return ingest.ReadSerial(ctx, mux, out)
	}
	return ingest.Stats{}, errors.New("no input selected")
}

func logSnapshot(s estimator.Snapshot) {
	monitoring.Logf("t=%dus yaw=%.2f%s holders=%v resets=%d",
		s.TimeUs, units.ConvertAngle(s.Yaw, *angleUnits), *angleUnits, s.Holders, s.ResetCount)
}

func defaultLabel(now time.Time) string {
	switch {
	case *replayPath != "" && *replayPath != "-":
		return security.SanitizeFilename(filepath.Base(*replayPath))
	case *pcapPath != "":
		return security.SanitizeFilename(filepath.Base(*pcapPath))
	}
	return "live-" + now.UTC().Format("20060102T150405Z")
}

func writePlot(store *db.DB, runID, path, angleUnits string) error {
	rows, err := store.Statuses(runID, "", 0)
	if err != nil {
		return err
	}
	return report.PlotInnovations(report.SeriesFromStatuses(rows), angleUnits, path)
}
