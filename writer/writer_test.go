package writer

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gurre/segspeed/segment"
)

// mockDynamoDBClient implements the aws.DynamoDBClient interface for testing
type mockDynamoDBClient struct {
	batches [][]types.WriteRequest
	// unprocessed is returned once for the first call when set
	unprocessed map[string][]types.WriteRequest
	err         error
}

func (m *mockDynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, requests := range params.RequestItems {
		m.batches = append(m.batches, requests)
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: m.unprocessed}
	m.unprocessed = nil
	return out, nil
}

func testReadings(n int) []segment.Reading {
	state := segment.Seed()
	ids := state.IDs()
	readings := make([]segment.Reading, 0, n)
	for i := 0; i < n; i++ {
		seg, _ := state.Get(ids[i%len(ids)])
		readings = append(readings, seg.Snapshot(seg.SpeedMean))
	}
	return readings
}

func TestDynamoDBWriterHappyPath(t *testing.T) {
	mockClient := &mockDynamoDBClient{}
	w := NewDynamoDBWriter(mockClient, "test-table", 2)

	if err := w.WriteBatch(context.Background(), testReadings(3)); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}

	if len(mockClient.batches) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(mockClient.batches))
	}
	if len(mockClient.batches[0]) != 2 || len(mockClient.batches[1]) != 1 {
		t.Errorf("expected chunks of 2 and 1, got %d and %d", len(mockClient.batches[0]), len(mockClient.batches[1]))
	}

	req := mockClient.batches[0][0].PutRequest
	if req == nil {
		t.Fatal("expected PutRequest")
	}
	if id, ok := req.Item["id"].(*types.AttributeValueMemberS); !ok || id.Value == "" {
		t.Error("expected generated id")
	}
	if seg, ok := req.Item["segment_id"].(*types.AttributeValueMemberS); !ok || seg.Value != "8f4827ebed3c2e66f50daef967d5e91daadd8d98" {
		t.Errorf("unexpected segment_id %v", req.Item["segment_id"])
	}
}

func TestDynamoDBWriterAttributeTypes(t *testing.T) {
	mockClient := &mockDynamoDBClient{}
	w := NewDynamoDBWriter(mockClient, "test-table", 25)

	r := testReadings(1)
	r[0].ID = "fixed-id"
	if err := w.WriteBatch(context.Background(), r); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}
	item := mockClient.batches[0][0].PutRequest.Item

	tests := []struct {
		name     string
		expected types.AttributeValue
	}{
		{"id", &types.AttributeValueMemberS{Value: "fixed-id"}},
		{"year", &types.AttributeValueMemberN{Value: "2020"}},
		{"month", &types.AttributeValueMemberN{Value: "1"}},
		{"hour", &types.AttributeValueMemberN{Value: "9"}},
		{"utc_timestamp", &types.AttributeValueMemberS{Value: "2020-01-01T09:00:00.000Z"}},
		{"osm_way_id", &types.AttributeValueMemberN{Value: "40722998"}},
		{"speed_mph_stddev", &types.AttributeValueMemberN{Value: "4.483"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := item[tt.name]
			if !ok {
				t.Fatalf("missing attribute %s", tt.name)
			}
			switch want := tt.expected.(type) {
			case *types.AttributeValueMemberS:
				v, ok := got.(*types.AttributeValueMemberS)
				if !ok || v.Value != want.Value {
					t.Errorf("expected %s = %q, got %#v", tt.name, want.Value, got)
				}
			case *types.AttributeValueMemberN:
				v, ok := got.(*types.AttributeValueMemberN)
				if !ok || v.Value != want.Value {
					t.Errorf("expected %s = %s, got %#v", tt.name, want.Value, got)
				}
			}
		})
	}

	// Topology is flattened, not nested.
	if _, ok := item["Topology"]; ok {
		t.Error("expected topology fields to be flattened")
	}
	if _, ok := item["start_junction_id"]; !ok {
		t.Error("expected start_junction_id attribute")
	}
}

func TestDynamoDBWriterResendsUnprocessed(t *testing.T) {
	leftover := []types.WriteRequest{{PutRequest: &types.PutRequest{
		Item: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "x"}},
	}}}
	mockClient := &mockDynamoDBClient{
		unprocessed: map[string][]types.WriteRequest{"test-table": leftover},
	}
	w := NewDynamoDBWriter(mockClient, "test-table", 25)

	if err := w.WriteBatch(context.Background(), testReadings(2)); err != nil {
		t.Fatalf("failed to write batch: %v", err)
	}
	if len(mockClient.batches) != 2 {
		t.Fatalf("expected initial request plus resend, got %d", len(mockClient.batches))
	}
	if len(mockClient.batches[1]) != 1 {
		t.Errorf("expected only the unprocessed item to be resent, got %d", len(mockClient.batches[1]))
	}
}

func TestDynamoDBWriterCancelledDuringRetry(t *testing.T) {
	mockClient := &mockDynamoDBClient{err: &types.ProvisionedThroughputExceededException{}}
	w := NewDynamoDBWriter(mockClient, "test-table", 25)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteBatch(ctx, testReadings(1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewDynamoDBWriterClampsBatchSize(t *testing.T) {
	for _, size := range []int{0, -1, 26, 1000} {
		w := NewDynamoDBWriter(&mockDynamoDBClient{}, "t", size)
		if w.batchSize != MaxDynamoDBBatch {
			t.Errorf("batch size %d: expected %d, got %d", size, MaxDynamoDBBatch, w.batchSize)
		}
	}
}

// recordingWriter keeps every batch it sees.
type recordingWriter struct {
	batches     [][]segment.Reading
	unavailable []string
	flushes     int
	err         error
	flushErr    error
}

func (r *recordingWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, readings)
	return nil
}

func (r *recordingWriter) Flush(ctx context.Context) error {
	r.flushes++
	return r.flushErr
}

func (r *recordingWriter) ReportUnavailable(ctx context.Context, segmentID string) error {
	r.unavailable = append(r.unavailable, segmentID)
	return nil
}

func TestMultiWriter(t *testing.T) {
	a, b := &recordingWriter{}, &recordingWriter{}
	m := NewMultiWriter(Discard, a, b)
	ctx := context.Background()

	if err := m.WriteBatch(ctx, testReadings(2)); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(a.batches) != 1 || len(b.batches) != 1 {
		t.Errorf("expected each writer to get the batch, got %d and %d", len(a.batches), len(b.batches))
	}

	if err := m.ReportUnavailable(ctx, "missing"); err != nil {
		t.Fatalf("ReportUnavailable: %v", err)
	}
	if len(a.unavailable) != 1 || len(b.unavailable) != 0 {
		t.Errorf("expected notice only on the first reporter, got %v and %v", a.unavailable, b.unavailable)
	}

	b.flushErr = errors.New("boom")
	if err := m.Flush(ctx); err == nil {
		t.Error("expected flush error")
	}
	if a.flushes != 1 || b.flushes != 1 {
		t.Errorf("expected every writer flushed once, got %d and %d", a.flushes, b.flushes)
	}
}

func TestMultiWriterStopsAtFirstError(t *testing.T) {
	a := &recordingWriter{err: errors.New("down")}
	b := &recordingWriter{}
	m := NewMultiWriter(a, b)

	if err := m.WriteBatch(context.Background(), testReadings(1)); err == nil {
		t.Fatal("expected error")
	}
	if len(b.batches) != 0 {
		t.Error("expected second writer to be skipped")
	}
}

// BenchmarkWriteBatch measures batch writing performance
func BenchmarkWriteBatch(b *testing.B) {
	mockClient := &mockDynamoDBClient{}
	w := NewDynamoDBWriter(mockClient, "test-table", 25)
	readings := testReadings(25)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteBatch(ctx, readings)
		mockClient.batches = nil // Reset to avoid memory growth
	}
}
