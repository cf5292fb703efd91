// Command analyze runs the offline video analysis pipeline against a
// local file and prints the resulting metrics as JSON, optionally
// writing rate-series charts.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/greenwave.report/internal/analyzer"
	"github.com/banshee-data/greenwave.report/internal/config"
	"github.com/banshee-data/greenwave.report/internal/detect"
	"github.com/banshee-data/greenwave.report/internal/httputil"
	"github.com/banshee-data/greenwave.report/internal/report"
	"github.com/banshee-data/greenwave.report/internal/signalplan"
	"github.com/banshee-data/greenwave.report/internal/video"
)

func main() {
	var videoPath string
	var configPath string
	var detectorURL string
	var chartPath string
	var plotPath string
	var annotatedPath string

	flag.StringVar(&videoPath, "video", "", "path to the video file to analyze")
	flag.StringVar(&configPath, "config", "", "path to a tuning config JSON file")
	flag.StringVar(&detectorURL, "detector", "", "base URL of the detection sidecar (overrides config)")
	flag.StringVar(&chartPath, "chart", "", "write an interactive HTML rate chart to this path")
	flag.StringVar(&plotPath, "plot", "", "write a PNG rate plot to this path")
	flag.StringVar(&annotatedPath, "annotated", "", "write an annotated video artifact to this path")
	flag.Parse()

	if videoPath == "" {
		log.Fatalf("a -video path must be provided")
	}
	if _, err := os.Stat(videoPath); err != nil {
		log.Fatalf("cannot stat video: %v", err)
	}

	cfg := config.EmptyTuningConfig()
	if configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}
	url := cfg.GetDetectorURL()
	if detectorURL != "" {
		url = detectorURL
	}

	detector := detect.NewRemoteDetector(url, httputil.NewStandardClient(nil))
	opener := video.NewFFmpegOpener(cfg.GetFFmpegPath(), cfg.GetFFprobePath())
	an := analyzer.New(detector, detector, opener, nil)

	opts := analyzer.DefaultOptions()
	opts.TargetFPS = cfg.GetOfflineTargetFPS()
	opts.Alpha = cfg.GetEMAAlpha()
	opts.SlopeWindow = int64(cfg.GetOfflineSlopeWindowSeconds())
	opts.MaxBuckets = cfg.GetMaxAnalysisBuckets()
	opts.Request = detect.Request{
		Classes:       cfg.GetVehicleClasses(),
		MinConfidence: cfg.GetTrackedConfidence(),
	}
	opts.MaxFrameSide = cfg.GetMaxFrameSidePixels()
	if annotatedPath != "" {
		opts.Annotator = &analyzer.FFmpegAnnotator{
			FFmpegPath: cfg.GetFFmpegPath(),
			OutPath:    annotatedPath,
			FPS:        opts.TargetFPS,
		}
	}

	vm := an.AnalyzeVideo(context.Background(), videoPath, opts)

	out := struct {
		analyzer.VideoMetrics
		GreenSeconds int `json:"signalTime"`
	}{
		VideoMetrics: vm,
		GreenSeconds: signalplan.ForVideo(vm.VehicleCount, vm.RateOfChange, time.Now(), false),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode result: %v", err)
	}

	if chartPath != "" {
		f, err := os.Create(chartPath)
		if err != nil {
			log.Fatalf("create chart file: %v", err)
		}
		subtitle := fmt.Sprintf("source=%s samples=%d", videoPath, len(vm.Samples))
		if err := report.RenderRateChartHTML(f, "Vehicle Flow Rate", subtitle, vm.Samples); err != nil {
			log.Fatalf("render chart: %v", err)
		}
		f.Close()
		fmt.Printf("wrote chart to %s\n", chartPath)
	}
	if plotPath != "" {
		if err := report.SaveRatePlotPNG(plotPath, "Vehicle Flow Rate", vm.Samples); err != nil {
			log.Fatalf("render plot: %v", err)
		}
		fmt.Printf("wrote plot to %s\n", plotPath)
	}
}
