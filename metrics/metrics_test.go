package metrics

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHappyPath(t *testing.T) {
	m := NewMetrics()

	m.RecordProcessed()
	m.RecordProcessed()
	m.RecordBatchWritten()
	m.RecordError()
	m.RecordCorrupt()
	m.RecordTick()
	m.RecordReading()
	m.RecordUnavailable()

	time.Sleep(50 * time.Millisecond)

	report := m.GenerateReport()

	if report.TotalItems != 2 {
		t.Errorf("expected 2 items processed, got %d", report.TotalItems)
	}
	if report.CorruptCount != 1 {
		t.Errorf("expected 1 corrupt item, got %d", report.CorruptCount)
	}
	if report.Ticks != 1 || report.Readings != 1 || report.Unavailable != 1 {
		t.Errorf("unexpected simulator counters: %+v", report)
	}
	if report.Duration < 50*time.Millisecond {
		t.Errorf("expected duration >= 50ms, got %v", report.Duration)
	}
	if report.Throughput <= 0 {
		t.Errorf("expected positive throughput, got %f", report.Throughput)
	}
	if !strings.Contains(report.String(), "Ticks: 1") {
		t.Errorf("unexpected string representation: %s", report.String())
	}
}

func TestReportJSONDuration(t *testing.T) {
	r := Report{Duration: 1500 * time.Millisecond, Ticks: 3}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["duration"] != "1.5s" {
		t.Errorf("expected duration 1.5s, got %v", decoded["duration"])
	}
	if decoded["ticks"] != float64(3) {
		t.Errorf("expected ticks 3, got %v", decoded["ticks"])
	}
}

func TestPrometheusMirror(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m.RecordTick()
	m.RecordTick()
	m.RecordReading()

	if got := testutil.ToFloat64(m.prom.ticks); got != 2 {
		t.Errorf("expected ticks_total 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.prom.readings); got != 1 {
		t.Errorf("expected readings_total 1, got %v", got)
	}

	// Registering a second set on the same registry collides
	if err := NewMetrics().Register(reg); err == nil {
		t.Error("expected duplicate registration error")
	}
}
