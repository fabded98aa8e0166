package writer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type mockTableClient struct {
	exists      bool
	created     *dynamodb.CreateTableInput
	describeErr error
}

func (m *mockTableClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	m.created = params
	m.exists = true
	return &dynamodb.CreateTableOutput{}, nil
}

func (m *mockTableClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.describeErr != nil {
		return nil, m.describeErr
	}
	if !m.exists {
		return nil, &types.ResourceNotFoundException{Message: params.TableName}
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableName: params.TableName, TableStatus: types.TableStatusActive},
	}, nil
}

func TestCreateTable(t *testing.T) {
	client := &mockTableClient{}

	created, err := CreateTable(context.Background(), client, "street_segment_speeds", time.Minute)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if !created {
		t.Fatal("expected the table to be created")
	}

	in := client.created
	if *in.TableName != "street_segment_speeds" {
		t.Errorf("unexpected table name %s", *in.TableName)
	}
	if len(in.KeySchema) != 1 || *in.KeySchema[0].AttributeName != "id" || in.KeySchema[0].KeyType != types.KeyTypeHash {
		t.Errorf("expected hash key id, got %+v", in.KeySchema)
	}
	if in.BillingMode != types.BillingModePayPerRequest {
		t.Errorf("expected on-demand billing, got %s", in.BillingMode)
	}
}

func TestCreateTableExisting(t *testing.T) {
	client := &mockTableClient{exists: true}

	created, err := CreateTable(context.Background(), client, "street_segment_speeds", time.Minute)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if created || client.created != nil {
		t.Error("existing table must not be created again")
	}
}

func TestCreateTableDescribeError(t *testing.T) {
	client := &mockTableClient{describeErr: errors.New("AccessDeniedException")}

	if _, err := CreateTable(context.Background(), client, "t", time.Minute); err == nil {
		t.Fatal("expected error")
	}
	if client.created != nil {
		t.Error("table must not be created after an unexpected error")
	}
}
