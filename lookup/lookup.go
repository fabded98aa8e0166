// Package lookup serves single readings from the readings table to API
// Gateway requests of the form GET /dynamo-getter?id=<reading id>.
package lookup

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/aws"
	"github.com/gurre/segspeed/logging"
	"github.com/gurre/segspeed/segment"
	"github.com/gurre/segspeed/writer"
	"go.uber.org/zap"
)

// Response is the body of a successful lookup.
type Response struct {
	Item segment.Reading `json:"item"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler answers one API Gateway proxy request per invocation.
type Handler struct {
	client aws.DynamoDBReader
	table  string
	logger *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = logging.OrNop(l) }
}

// NewHandler returns a Handler reading from table.
func NewHandler(client aws.DynamoDBReader, table string, opts ...Option) *Handler {
	h := &Handler{client: client, table: table, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle looks up the reading named by the id query parameter, or the id
// path parameter when the route binds one. A missing id is a 400, an
// unknown one a 404. Lookup failures are answered with a 500 so API
// Gateway never sees a function error.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.QueryStringParameters["id"]
	if id == "" {
		id = req.PathParameters["id"]
	}
	if id == "" {
		return respond(http.StatusBadRequest, errorResponse{Error: "id is required"})
	}

	r, err := writer.GetReading(ctx, h.client, h.table, id)
	switch {
	case errors.Is(err, writer.ErrNotFound):
		return respond(http.StatusNotFound, errorResponse{Error: "item with id " + id + " not found"})
	case err != nil:
		h.logger.Error("lookup failed",
			zap.String("request_id", req.RequestContext.RequestID),
			zap.String("id", id),
			zap.Error(err))
		return respond(http.StatusInternalServerError, errorResponse{Error: "lookup failed"})
	}

	h.logger.Debug("reading served", zap.String("id", id), zap.String("segment", r.SegmentID))
	return respond(http.StatusOK, Response{Item: r})
}

func respond(status int, body any) (events.APIGatewayProxyResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}, nil
}
