// Package preprocess handles Kinesis batches of readings: every reading
// is stored in DynamoDB and collected into CSV batch files on S3.
package preprocess

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gurre/segspeed/etl"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/metrics"
	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

// Handler processes one Kinesis event per invocation.
type Handler struct {
	store   writer.Writer // one item per reading
	batches writer.Writer // buffered CSV batches
	decoder etl.Decoder
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrNop(l) }
}

// WithMetrics records counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler returns a Handler writing to store and batches. Either may be
// writer.Discard.
func NewHandler(store, batches writer.Writer, opts ...Option) *Handler {
	h := &Handler{
		store:   store,
		batches: batches,
		decoder: etl.NewJSONDecoder(),
		metrics: metrics.NewMetrics(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle decodes every record, writes the readings and flushes the CSV
// batch so nothing is left buffered when the invocation ends. Records
// that do not hold a reading are logged and dropped; write failures fail
// the invocation so Lambda retries the batch.
func (h *Handler) Handle(ctx context.Context, event events.KinesisEvent) error {
	readings := make([]segment.Reading, 0, len(event.Records))
	for _, rec := range event.Records {
		r, err := h.decoder.Decode(rec.Kinesis.Data)
		switch {
		case errors.Is(err, etl.ErrSkip):
			continue
		case err != nil:
			h.metrics.RecordCorrupt()
			h.logger.Warn("dropping record",
				zap.String("event_id", rec.EventID),
				zap.String("sequence_number", rec.Kinesis.SequenceNumber),
				zap.Error(err))
			continue
		}
		readings = append(readings, r)
		h.metrics.RecordProcessed()
	}

	if len(readings) > 0 {
		if err := h.store.WriteBatch(ctx, readings); err != nil {
			h.metrics.RecordError()
			return fmt.Errorf("failed to store readings: %w", err)
		}
		if err := h.batches.WriteBatch(ctx, readings); err != nil {
			h.metrics.RecordError()
			return fmt.Errorf("failed to batch readings: %w", err)
		}
		h.metrics.RecordBatchWritten()
	}

	if err := h.batches.Flush(ctx); err != nil {
		h.metrics.RecordError()
		return fmt.Errorf("failed to flush batch: %w", err)
	}

	h.logger.Info("processed records",
		zap.Int("records", len(event.Records)),
		zap.Int("readings", len(readings)))
	return nil
}

// Report returns the counters collected across invocations.
func (h *Handler) Report() metrics.Report {
	return h.metrics.GenerateReport()
}
