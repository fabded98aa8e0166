// Package metrics collects the counters of a simulator run or an ETL
// transform and renders the final report. Counters can be mirrored into
// Prometheus collectors.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "segspeed"

// Metrics holds run counters. Counter updates are atomic; the
// Prometheus mirror is attached with Register.
type Metrics struct {
	mu sync.RWMutex

	ticks            int64 // Simulation ticks completed
	readings         int64 // Readings emitted
	unavailable      int64 // Unavailable segment notices
	recordsProcessed int64 // ETL rows decoded
	batchesWritten   int64 // Batches handed to a writer
	errors           int64 // Errors encountered
	corruptCount     int64 // Rows that could not be decoded

	processingTime time.Duration // Time spent in writers
	startTime      time.Time

	prom *promCollectors
}

type promCollectors struct {
	ticks       prometheus.Counter
	readings    prometheus.Counter
	unavailable prometheus.Counter
	records     prometheus.Counter
	batches     prometheus.Counter
	errors      prometheus.Counter
	corrupt     prometheus.Counter
	writeTime   prometheus.Histogram
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// Register creates Prometheus collectors for every counter and registers
// them with reg. Subsequent updates are mirrored into them.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	p := &promCollectors{
		ticks:       counter("ticks_total", "Simulation ticks completed."),
		readings:    counter("readings_total", "Segment readings emitted."),
		unavailable: counter("unavailable_total", "Segments reported as unavailable."),
		records:     counter("records_processed_total", "ETL rows decoded."),
		batches:     counter("batches_written_total", "Batches handed to writers."),
		errors:      counter("errors_total", "Errors encountered."),
		corrupt:     counter("corrupt_records_total", "Rows that could not be decoded."),
		writeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Time spent writing one batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{p.ticks, p.readings, p.unavailable, p.records, p.batches, p.errors, p.corrupt, p.writeTime} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register collector: %w", err)
		}
	}

	m.mu.Lock()
	m.prom = p
	m.mu.Unlock()
	return nil
}

func (m *Metrics) collectors() *promCollectors {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prom
}

// RecordTick increments the tick counter
func (m *Metrics) RecordTick() {
	atomic.AddInt64(&m.ticks, 1)
	if p := m.collectors(); p != nil {
		p.ticks.Inc()
	}
}

// RecordReading increments the emitted readings counter
func (m *Metrics) RecordReading() {
	atomic.AddInt64(&m.readings, 1)
	if p := m.collectors(); p != nil {
		p.readings.Inc()
	}
}

// RecordUnavailable increments the unavailable notices counter
func (m *Metrics) RecordUnavailable() {
	atomic.AddInt64(&m.unavailable, 1)
	if p := m.collectors(); p != nil {
		p.unavailable.Inc()
	}
}

// RecordProcessed increments the processed records counter
func (m *Metrics) RecordProcessed() {
	atomic.AddInt64(&m.recordsProcessed, 1)
	if p := m.collectors(); p != nil {
		p.records.Inc()
	}
}

// RecordBatchWritten increments the written batches counter
func (m *Metrics) RecordBatchWritten() {
	atomic.AddInt64(&m.batchesWritten, 1)
	if p := m.collectors(); p != nil {
		p.batches.Inc()
	}
}

// RecordError increments the errors counter
func (m *Metrics) RecordError() {
	atomic.AddInt64(&m.errors, 1)
	if p := m.collectors(); p != nil {
		p.errors.Inc()
	}
}

// RecordCorrupt increments the corrupt records counter
func (m *Metrics) RecordCorrupt() {
	atomic.AddInt64(&m.corruptCount, 1)
	if p := m.collectors(); p != nil {
		p.corrupt.Inc()
	}
}

// RecordProcessingTime records the time one batch write took
func (m *Metrics) RecordProcessingTime(d time.Duration) {
	m.mu.Lock()
	m.processingTime += d
	p := m.prom
	m.mu.Unlock()
	if p != nil {
		p.writeTime.Observe(d.Seconds())
	}
}

// Report is the end-of-run summary printed to stdout and optionally
// uploaded as JSON.
type Report struct {
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	Ticks          int64         `json:"ticks"`
	Readings       int64         `json:"readings"`
	Unavailable    int64         `json:"unavailable"`
	TotalItems     int64         `json:"totalItems"`
	BatchesWritten int64         `json:"batchesWritten"`
	Errors         int64         `json:"errors"`
	CorruptCount   int64         `json:"corruptCount"`
	Duration       time.Duration `json:"duration"`
	Throughput     float64       `json:"throughput"` // items per second
}

// GenerateReport snapshots the counters into a Report.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)

	items := atomic.LoadInt64(&m.recordsProcessed) + atomic.LoadInt64(&m.readings)

	var throughput float64
	if duration > 0 {
		throughput = float64(items) / duration.Seconds()
	}

	return Report{
		StartTime:      m.startTime,
		EndTime:        endTime,
		Ticks:          atomic.LoadInt64(&m.ticks),
		Readings:       atomic.LoadInt64(&m.readings),
		Unavailable:    atomic.LoadInt64(&m.unavailable),
		TotalItems:     atomic.LoadInt64(&m.recordsProcessed),
		BatchesWritten: atomic.LoadInt64(&m.batchesWritten),
		Errors:         atomic.LoadInt64(&m.errors),
		CorruptCount:   atomic.LoadInt64(&m.corruptCount),
		Duration:       duration,
		Throughput:     throughput,
	}
}

// MarshalJSON renders Duration as a Go duration string.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String returns a human-readable summary.
func (r Report) String() string {
	return fmt.Sprintf(
		"Completed in %s\n"+
			"Ticks: %d\n"+
			"Readings: %d (unavailable: %d)\n"+
			"Rows processed: %d\n"+
			"Corrupt rows: %d\n"+
			"Errors: %d\n"+
			"Throughput: %.2f items/sec",
		r.Duration,
		r.Ticks,
		r.Readings,
		r.Unavailable,
		r.TotalItems,
		r.CorruptCount,
		r.Errors,
		r.Throughput,
	)
}
