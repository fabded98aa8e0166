// Package writer implements the sinks readings are written to: stdout
// lines, DynamoDB, S3 CSV batches, Kinesis and the street_segment_speeds
// relational table. The simulator, the ETL coordinator and the
// preprocessing Lambda all write through this interface.
package writer

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/gurre/segspeed/segment"
)

// Writer writes batches of readings.
type Writer interface {
	WriteBatch(ctx context.Context, readings []segment.Reading) error
	Flush(ctx context.Context) error
}

// UnavailableReporter is implemented by writers that can print a notice
// for a segment that has no data.
type UnavailableReporter interface {
	ReportUnavailable(ctx context.Context, segmentID string) error
}

type discard struct{}

func (discard) WriteBatch(context.Context, []segment.Reading) error { return nil }
func (discard) Flush(context.Context) error                         { return nil }

// Discard drops every batch.
var Discard Writer = discard{}

// MultiWriter writes every batch to each writer in order and stops at
// the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter returns a writer fanning out to ws.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// WriteBatch implements Writer
func (m *MultiWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	for _, w := range m.writers {
		if err := w.WriteBatch(ctx, readings); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes every writer and joins their errors.
func (m *MultiWriter) Flush(ctx context.Context) error {
	var errs []error
	for _, w := range m.writers {
		if err := w.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReportUnavailable forwards to the first writer that can report.
func (m *MultiWriter) ReportUnavailable(ctx context.Context, segmentID string) error {
	for _, w := range m.writers {
		if r, ok := w.(UnavailableReporter); ok {
			return r.ReportUnavailable(ctx, segmentID)
		}
	}
	return nil
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 100 * time.Millisecond
	maxDelay := 30 * time.Second

	delay := base * time.Duration(1<<uint(min(attempt, 16)))
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(rand.Int64N(int64(delay)))
	delay = delay + jitter

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
