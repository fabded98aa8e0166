package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gurre/segspeed/segment"
)

// DynamoDBClient is an in-memory implementation of aws.DynamoDBClient,
// aws.DynamoDBReader and aws.DynamoDBTableClient. Tables are keyed by their hash key attribute.
type DynamoDBClient struct {
	mu sync.RWMutex
	// tableName -> hash key value -> item
	tableData     map[string]map[string]map[string]types.AttributeValue
	hashKeys      map[string]string
	batchWrites   []dynamodb.BatchWriteItemInput
	failNextWrite bool
}

// NewDynamoDBClient creates a mock without tables.
func NewDynamoDBClient() *DynamoDBClient {
	return &DynamoDBClient{
		tableData: make(map[string]map[string]map[string]types.AttributeValue),
		hashKeys:  make(map[string]string),
	}
}

// SetFailNextWrite makes the next BatchWriteItem fail.
func (m *DynamoDBClient) SetFailNextWrite(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNextWrite = fail
}

// CreateTable registers the table and its hash key.
func (m *DynamoDBClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := aws.ToString(params.TableName)
	if _, exists := m.tableData[name]; exists {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + name)}
	}

	hashKey := ""
	for _, k := range params.KeySchema {
		if k.KeyType == types.KeyTypeHash {
			hashKey = aws.ToString(k.AttributeName)
		}
	}
	if hashKey == "" {
		return nil, fmt.Errorf("table %s has no hash key", name)
	}

	m.tableData[name] = make(map[string]map[string]types.AttributeValue)
	m.hashKeys[name] = hashKey
	return &dynamodb.CreateTableOutput{
		TableDescription: &types.TableDescription{
			TableName:   params.TableName,
			TableStatus: types.TableStatusCreating,
			KeySchema:   params.KeySchema,
		},
	}, nil
}

// DescribeTable reports every created table as ACTIVE.
func (m *DynamoDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := aws.ToString(params.TableName)
	items, ok := m.tableData[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + name)}
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   params.TableName,
			TableStatus: types.TableStatusActive,
			ItemCount:   aws.Int64(int64(len(items))),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(m.hashKeys[name]), KeyType: types.KeyTypeHash},
			},
		},
	}, nil
}

// BatchWriteItem applies puts and deletes. Writes to a table that was
// never created fail like the service does.
func (m *DynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchWrites = append(m.batchWrites, *params)
	if m.failNextWrite {
		m.failNextWrite = false
		return nil, fmt.Errorf("simulated batch write failure")
	}

	for tableName, writeRequests := range params.RequestItems {
		items, ok := m.tableData[tableName]
		if !ok {
			return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + tableName)}
		}
		hashKey := m.hashKeys[tableName]

		for _, req := range writeRequests {
			if req.PutRequest != nil {
				key, err := keyValue(req.PutRequest.Item, hashKey)
				if err != nil {
					return nil, err
				}
				items[key] = req.PutRequest.Item
			}
			if req.DeleteRequest != nil {
				key, err := keyValue(req.DeleteRequest.Key, hashKey)
				if err != nil {
					return nil, err
				}
				delete(items, key)
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{
		UnprocessedItems: make(map[string][]types.WriteRequest),
	}, nil
}

// GetItem returns the item whose hash key matches, or an empty output.
func (m *DynamoDBClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tableName := aws.ToString(params.TableName)
	items, ok := m.tableData[tableName]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: " + tableName)}
	}
	key, err := keyValue(params.Key, m.hashKeys[tableName])
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: items[key]}, nil
}

func keyValue(item map[string]types.AttributeValue, hashKey string) (string, error) {
	switch v := item[hashKey].(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	default:
		return "", fmt.Errorf("item is missing key attribute %s", hashKey)
	}
}

// Count returns the number of items in a table.
func (m *DynamoDBClient) Count(tableName string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tableData[tableName])
}

// Readings decodes every item of a table into a reading.
func (m *DynamoDBClient) Readings(tableName string) ([]segment.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	readings := make([]segment.Reading, 0, len(m.tableData[tableName]))
	for _, item := range m.tableData[tableName] {
		var r segment.Reading
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// GetBatchWrites returns every BatchWriteItem input received.
func (m *DynamoDBClient) GetBatchWrites() []dynamodb.BatchWriteItemInput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]dynamodb.BatchWriteItemInput(nil), m.batchWrites...)
}
