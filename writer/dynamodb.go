package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/segment"
)

// MaxDynamoDBBatch is the BatchWriteItem request limit.
const MaxDynamoDBBatch = 25

// DynamoDBWriter puts readings into a table keyed by id. Readings
// without an id get a random UUID.
type DynamoDBWriter struct {
	client    aws.DynamoDBClient
	tableName string
	batchSize int // Maximum number of puts per request (≤25)
}

// NewDynamoDBWriter creates a DynamoDBWriter. batchSize is clamped to
// [1, 25].
func NewDynamoDBWriter(client aws.DynamoDBClient, tableName string, batchSize int) *DynamoDBWriter {
	if batchSize < 1 || batchSize > MaxDynamoDBBatch {
		batchSize = MaxDynamoDBBatch
	}
	return &DynamoDBWriter{
		client:    client,
		tableName: tableName,
		batchSize: batchSize,
	}
}

// isThrottlingError returns true if the error is a DynamoDB throughput
// throttling error. These are recoverable by waiting.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// WriteBatch splits readings into requests of at most batchSize puts.
// Throttling is retried until ctx is cancelled; other errors are retried
// a bounded number of times. Unprocessed items are re-sent.
func (w *DynamoDBWriter) WriteBatch(ctx context.Context, readings []segment.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	for i := 0; i < len(readings); i += w.batchSize {
		end := min(i+w.batchSize, len(readings))

		requests := make([]types.WriteRequest, 0, end-i)
		for _, r := range readings[i:end] {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			item, err := attributevalue.MarshalMap(r)
			if err != nil {
				return fmt.Errorf("failed to marshal reading for segment %s: %w", r.SegmentID, err)
			}
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		if err := w.write(ctx, requests); err != nil {
			return err
		}
	}

	return nil
}

func (w *DynamoDBWriter) write(ctx context.Context, requests []types.WriteRequest) error {
	input := &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{
			w.tableName: requests,
		},
	}

	const maxRetries = 5
	attempt := 0
	for {
		output, err := w.client.BatchWriteItem(ctx, input)
		if err != nil {
			if isThrottlingError(err) || attempt < maxRetries {
				if !backoffWait(ctx, attempt) {
					return ctx.Err()
				}
				attempt++
				continue
			}
			return fmt.Errorf("failed to write batch after %d retries: %w", maxRetries, err)
		}

		if len(output.UnprocessedItems) > 0 {
			input.RequestItems = output.UnprocessedItems
			if !backoffWait(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		return nil
	}
}

// Flush is a no-op; batches are written immediately.
func (w *DynamoDBWriter) Flush(ctx context.Context) error {
	return nil
}

// CreateTable creates tableName with the reading id as hash key when it
// does not exist yet, then waits up to maxWait for it to become active.
// It reports whether the table was created.
func CreateTable(ctx context.Context, client aws.DynamoDBTableClient, tableName string, maxWait time.Duration) (bool, error) {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: sdkaws.String(tableName),
	})
	if err == nil {
		return false, nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return false, fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: sdkaws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: sdkaws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: sdkaws.String("id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: sdkaws.String(tableName),
	}, maxWait); err != nil {
		return true, fmt.Errorf("failed to wait for table %s: %w", tableName, err)
	}
	return true, nil
}

// ErrNotFound is returned by GetReading when no item has the id.
var ErrNotFound = errors.New("reading not found")

// GetReading fetches the reading stored under id with a consistent read.
func GetReading(ctx context.Context, client aws.DynamoDBReader, tableName, id string) (segment.Reading, error) {
	out, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      sdkaws.String(tableName),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return segment.Reading{}, fmt.Errorf("failed to get reading %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return segment.Reading{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var r segment.Reading
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return segment.Reading{}, fmt.Errorf("failed to decode reading %s: %w", id, err)
	}
	return r, nil
}
