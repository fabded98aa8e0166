package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
)

// KinesisClient is an in-memory implementation of aws.KinesisClient and
// aws.KinesisStreamClient. Streams are ACTIVE as soon as they are created.
type KinesisClient struct {
	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	shards  int32
	records [][]byte
}

// NewKinesisClient creates a mock without streams.
func NewKinesisClient() *KinesisClient {
	return &KinesisClient{streams: make(map[string]*stream)}
}

// Records returns the data put on a stream in arrival order.
func (m *KinesisClient) Records(name string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[name]
	if !ok {
		return nil
	}
	return append([][]byte(nil), s.records...)
}

// CreateStream registers a stream.
func (m *KinesisClient) CreateStream(ctx context.Context, params *kinesis.CreateStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.CreateStreamOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.StreamName)
	if _, ok := m.streams[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String(fmt.Sprintf("Stream %s already exists", name))}
	}
	m.streams[name] = &stream{shards: aws.ToInt32(params.ShardCount)}
	return &kinesis.CreateStreamOutput{}, nil
}

// DescribeStream reports a created stream as ACTIVE.
func (m *KinesisClient) DescribeStream(ctx context.Context, params *kinesis.DescribeStreamInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.StreamName)
	s, ok := m.streams[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("Stream %s not found", name))}
	}
	shards := make([]types.Shard, s.shards)
	for i := range shards {
		shards[i] = types.Shard{ShardId: aws.String(fmt.Sprintf("shardId-%012d", i))}
	}
	return &kinesis.DescribeStreamOutput{
		StreamDescription: &types.StreamDescription{
			StreamName:    params.StreamName,
			StreamARN:     aws.String("arn:aws:kinesis:us-east-1:000000000000:stream/" + name),
			StreamStatus:  types.StreamStatusActive,
			Shards:        shards,
			HasMoreShards: aws.Bool(false),
		},
	}, nil
}

// PutRecords appends every record to the stream.
func (m *KinesisClient) PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.StreamName)
	s, ok := m.streams[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String(fmt.Sprintf("Stream %s not found", name))}
	}
	out := &kinesis.PutRecordsOutput{FailedRecordCount: aws.Int32(0)}
	for _, rec := range params.Records {
		s.records = append(s.records, rec.Data)
		out.Records = append(out.Records, types.PutRecordsResultEntry{
			SequenceNumber: aws.String(fmt.Sprintf("%056d", len(s.records))),
			ShardId:        aws.String("shardId-000000000000"),
		})
	}
	return out, nil
}
