package writer

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/segment"
)

// MaxKinesisBatch is the PutRecords request limit.
const MaxKinesisBatch = 500

// KinesisWriter puts each reading on a stream as JSON, partitioned by
// segment id so a segment's readings stay ordered within a shard.
type KinesisWriter struct {
	client     aws.KinesisClient
	streamName string
}

// NewKinesisWriter creates a KinesisWriter for streamName.
func NewKinesisWriter(client aws.KinesisClient, streamName string) *KinesisWriter {
	return &KinesisWriter{client: client, streamName: streamName}
}

// WriteBatch sends readings in chunks of at most MaxKinesisBatch. Entries
// the service rejects are re-sent with backoff.
func (w *KinesisWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	for i := 0; i < len(readings); i += MaxKinesisBatch {
		end := min(i+MaxKinesisBatch, len(readings))

		entries := make([]types.PutRecordsRequestEntry, 0, end-i)
		for _, r := range readings[i:end] {
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode reading: %w", err)
			}
			entries = append(entries, types.PutRecordsRequestEntry{
				Data:         data,
				PartitionKey: sdkaws.String(r.SegmentID),
			})
		}

		if err := w.put(ctx, entries); err != nil {
			return err
		}
	}
	return nil
}

func (w *KinesisWriter) put(ctx context.Context, entries []types.PutRecordsRequestEntry) error {
	const maxRetries = 5
	for attempt := 0; ; attempt++ {
		out, err := w.client.PutRecords(ctx, &kinesis.PutRecordsInput{
			StreamName: sdkaws.String(w.streamName),
			Records:    entries,
		})
		if err != nil {
			return fmt.Errorf("failed to put records on %s: %w", w.streamName, err)
		}
		if sdkaws.ToInt32(out.FailedRecordCount) == 0 {
			return nil
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%d records still failing on %s after %d retries",
				sdkaws.ToInt32(out.FailedRecordCount), w.streamName, maxRetries)
		}

		// Results are positional; keep only the entries that failed.
		var failed []types.PutRecordsRequestEntry
		for i, res := range out.Records {
			if res.ErrorCode != nil && i < len(entries) {
				failed = append(failed, entries[i])
			}
		}
		if len(failed) == 0 {
			return nil
		}
		entries = failed

		if !backoffWait(ctx, attempt) {
			return ctx.Err()
		}
	}
}

// Flush is a no-op.
func (w *KinesisWriter) Flush(ctx context.Context) error {
	return nil
}
