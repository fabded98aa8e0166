package lookup

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/segment"
)

type itemTable struct {
	items map[string]map[string]types.AttributeValue
	table string
	err   error
}

func (c *itemTable) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.table = sdkaws.ToString(params.TableName)
	key, ok := params.Key["id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("missing id key")
	}
	return &dynamodb.GetItemOutput{Item: c.items[key.Value]}, nil
}

func storedReading(t *testing.T) (*itemTable, segment.Reading) {
	t.Helper()
	r := segment.SampleReading()
	r.ID = "r-1"
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		t.Fatal(err)
	}
	return &itemTable{items: map[string]map[string]types.AttributeValue{"r-1": item}}, r
}

func TestHandleReturnsReading(t *testing.T) {
	client, want := storedReading(t)
	h := NewHandler(client, "street_segment_speeds")

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		QueryStringParameters: map[string]string{"id": "r-1"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	if client.table != "street_segment_speeds" {
		t.Errorf("expected lookup in street_segment_speeds, got %s", client.table)
	}
	if resp.Headers["Content-Type"] != "application/json" {
		t.Errorf("unexpected headers %v", resp.Headers)
	}

	var body Response
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Item != want {
		t.Errorf("expected %+v, got %+v", want, body.Item)
	}
}

func TestHandlePathParameter(t *testing.T) {
	client, _ := storedReading(t)
	resp, err := NewHandler(client, "t").Handle(context.Background(), events.APIGatewayProxyRequest{
		PathParameters: map[string]string{"id": "r-1"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleErrors(t *testing.T) {
	tests := []struct {
		name   string
		client *itemTable
		params map[string]string
		status int
	}{
		{name: "missing id", client: &itemTable{}, status: http.StatusBadRequest},
		{name: "unknown id", client: &itemTable{}, params: map[string]string{"id": "nope"}, status: http.StatusNotFound},
		{name: "table error", client: &itemTable{err: errors.New("throttled")}, params: map[string]string{"id": "r-1"}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewHandler(tt.client, "t", WithLogger(nil)).Handle(context.Background(), events.APIGatewayProxyRequest{
				QueryStringParameters: tt.params,
			})
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, resp.StatusCode, resp.Body)
			}
			var body errorResponse
			if err := json.Unmarshal([]byte(resp.Body), &body); err != nil || body.Error == "" {
				t.Errorf("expected an error body, got %q", resp.Body)
			}
		})
	}
}
