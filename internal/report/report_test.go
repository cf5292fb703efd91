package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/greenwave.report/internal/flow"
)

func rateSamples() []flow.Sample {
	return []flow.Sample{
		{Bucket: 100, Rate: 1.0},
		{Bucket: 101, Rate: 1.4},
		{Bucket: 102, Rate: 2.1},
		{Bucket: 103, Rate: 1.8},
	}
}

func TestRenderRateChartHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderRateChartHTML(&buf, "session abc", "4 samples", rateSamples()); err != nil {
		t.Fatalf("RenderRateChartHTML() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "echarts") {
		t.Error("rendered page does not embed echarts")
	}
	if !strings.Contains(out, "session abc") {
		t.Error("rendered page missing title")
	}
}

func TestRenderRateChartHTMLEmptySeries(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderRateChartHTML(&buf, "empty", "", nil); err != nil {
		t.Fatalf("RenderRateChartHTML() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Error("empty series should still render a page")
	}
}

func TestSaveRatePlotPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.png")
	if err := SaveRatePlotPNG(path, "offline analysis", rateSamples()); err != nil {
		t.Fatalf("SaveRatePlotPNG() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat plot: %v", err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)
	if got := FormatTimestamp(ts); got != "20260825_143005" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}
