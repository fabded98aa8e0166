// Package wsclient sends a single message to the readings websocket API
// and returns the reply.
package wsclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/segment"
)

const (
	// DefaultURL is the LocalStack websocket API endpoint.
	DefaultURL = "ws://localhost:4510"
	// DefaultAction routes the message to the Kinesis forwarder.
	DefaultAction = "kinesis-data-forwarder"
)

// Message is the payload sent to the API.
type Message struct {
	Action string          `json:"action"`
	Data   segment.Reading `json:"data"`
}

// NewMessage wraps r for the forwarder route.
func NewMessage(r segment.Reading) Message {
	return Message{Action: DefaultAction, Data: r}
}

// Client talks to one websocket endpoint.
type Client struct {
	URL    string
	Dialer *websocket.Dialer
	Header http.Header
	// ReadTimeout bounds the wait for the reply. Zero waits until ctx is
	// done.
	ReadTimeout time.Duration
}

// New returns a Client for url using the default dialer.
func New(url string) *Client {
	return &Client{URL: url, Dialer: websocket.DefaultDialer}
}

// Exchange connects, sends msg as JSON, reads exactly one reply and
// closes the connection.
func (c *Client) Exchange(ctx context.Context, msg Message) ([]byte, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, c.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s: %w", c.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", c.URL, err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read below when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	if c.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
			return nil, err
		}
	}
	_, reply, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return reply, nil
}
