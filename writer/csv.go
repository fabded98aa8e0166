package writer

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/partition"
	"github.com/gurre/segspeed/segment"
)

// DefaultCSVBatchSize is the number of readings buffered before a batch
// file is uploaded.
const DefaultCSVBatchSize = 1000

// CSVWriter buffers readings and uploads them to S3 as CSV batch files
// under day partitions of the first reading's timestamp:
// <prefix>/year=YYYY/month=MM/day=DD/batch-from-<id>-to-<id>.csv.
type CSVWriter struct {
	client    aws.S3Client
	target    partition.Location
	batchSize int
	now       func() time.Time

	mu    sync.Mutex
	batch []segment.Reading
}

// NewCSVWriter creates a CSVWriter writing under target.
func NewCSVWriter(client aws.S3Client, target partition.Location, batchSize int) *CSVWriter {
	if batchSize < 1 {
		batchSize = DefaultCSVBatchSize
	}
	return &CSVWriter{
		client:    client,
		target:    target,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// WriteBatch buffers readings and uploads whenever the buffer exceeds the
// batch size.
func (w *CSVWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range readings {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		w.batch = append(w.batch, r)
		if len(w.batch) >= w.batchSize {
			if err := w.upload(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush uploads whatever is buffered.
func (w *CSVWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upload(ctx)
}

// upload must be called with mu held.
func (w *CSVWriter) upload(ctx context.Context) error {
	if len(w.batch) == 0 {
		return nil
	}

	body, err := EncodeCSV(w.batch)
	if err != nil {
		return err
	}

	first, last := w.batch[0], w.batch[len(w.batch)-1]
	ts, err := first.Time()
	if err != nil {
		ts = w.now()
	}
	loc := w.target.Join(partition.BatchKey(ts, first.ID, last.ID))

	_, err = w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(loc.Bucket),
		Key:         sdkaws.String(loc.Key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", loc, err)
	}

	w.batch = w.batch[:0]
	return nil
}

// EncodeCSV renders readings with a header row.
func EncodeCSV(readings []segment.Reading) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(segment.CSVHeader); err != nil {
		return nil, err
	}
	for _, r := range readings {
		if err := cw.Write(r.CSVRecord()); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode csv: %w", err)
	}
	return buf.Bytes(), nil
}
