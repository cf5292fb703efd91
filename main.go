package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/greenwave.report/internal/analyzer"
	"github.com/banshee-data/greenwave.report/internal/api"
	"github.com/banshee-data/greenwave.report/internal/config"
	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/metrics"
	"github.com/banshee-data/greenwave.report/internal/session"
	"github.com/banshee-data/greenwave.report/internal/store"
	"github.com/banshee-data/greenwave.report/internal/timeutil"
	"github.com/banshee-data/greenwave.report/internal/version"
	"github.com/banshee-data/greenwave.report/internal/video"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "greenwave.db", "Path to the telemetry sqlite database")
	configFile  = flag.String("config", "", "Path to a tuning config JSON file")
	detectorURL = flag.String("detector", "", "Base URL of the detection sidecar (overrides config)")
	resultsDir  = flag.String("results", "results", "Directory for annotated artifacts")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("greenwave %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	url := cfg.GetDetectorURL()
	if *detectorURL != "" {
		url = *detectorURL
	}
	detector := detect.NewRemoteDetector(url, httputil.NewStandardClient(nil))

	if err := os.MkdirAll(*resultsDir, 0o755); err != nil {
		log.Fatalf("failed to create results dir: %v", err)
	}

	db, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	clock := timeutil.RealClock{}
	met := metrics.New()
	opener := video.NewFFmpegOpener(cfg.GetFFmpegPath(), cfg.GetFFprobePath())
	converter := &video.FFmpegConverter{Path: cfg.GetFFmpegPath()}

	sessCfg := session.Config{
		TargetFPS:   cfg.GetLiveTargetFPS(),
		Alpha:       cfg.GetEMAAlpha(),
		SlopeWindow: int64(cfg.GetLiveSlopeWindowSeconds()),
		SampleCap:   cfg.GetSampleCapacity(),
		StopGrace:   time.Duration(cfg.GetStopGraceSeconds()) * time.Second,
		Request: detect.Request{
			Classes:       cfg.GetVehicleClasses(),
			MinConfidence: cfg.GetVehicleConfidence(),
		},
		MaxFrameSide: cfg.GetMaxFrameSidePixels(),
	}
	manager := session.NewManager(detector, opener, clock, met, db, sessCfg)
	an := analyzer.New(detector, detector, opener, met)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		db.AttachAdminRoutes(mux)
		mux.Handle("/metrics", met.Handler())

		apiMux := api.NewServer(detector, manager, an, db, cfg, clock, converter, *resultsDir, cfg.GetFFmpegPath()).ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/results/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		if *devMode {
			log.Printf("dev mode: listening on %s, detector at %s", *listen, url)
		}

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Stop live sessions once the signal context fires so their ffmpeg
	// children do not outlive the process.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		manager.Shutdown()
		log.Printf("session manager stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
