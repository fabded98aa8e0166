package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	json "github.com/goccy/go-json"
	"github.com/gurre/segspeed/segment"
)

// echoServer replies to the first message with reply, or echoes it when
// reply is empty. Received messages are sent on got.
func echoServer(t *testing.T, reply string, got chan<- []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if got != nil {
			got <- msg
		}
		if reply == "" {
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		} else if reply != "-" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
		}
		// Wait for the client to close.
		_, _, _ = conn.ReadMessage()
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestExchange(t *testing.T) {
	got := make(chan []byte, 1)
	srv := echoServer(t, `{"status":"ok"}`, got)
	defer srv.Close()

	reply, err := New(wsURL(srv)).Exchange(context.Background(), NewMessage(segment.SampleReading()))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if string(reply) != `{"status":"ok"}` {
		t.Errorf("unexpected reply %s", reply)
	}

	var sent Message
	if err := json.Unmarshal(<-got, &sent); err != nil {
		t.Fatalf("server received invalid JSON: %v", err)
	}
	if sent.Action != DefaultAction {
		t.Errorf("expected action %s, got %s", DefaultAction, sent.Action)
	}
	if sent.Data.SegmentID != segment.SampleReading().SegmentID || sent.Data.SpeedMphMean != 26.636 {
		t.Errorf("unexpected data %+v", sent.Data)
	}
}

func TestExchangePayloadShape(t *testing.T) {
	srv := echoServer(t, "", nil)
	defer srv.Close()

	reply, err := New(wsURL(srv)).Exchange(context.Background(), NewMessage(segment.SampleReading()))
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	var raw struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal(reply, &raw); err != nil {
		t.Fatalf("invalid echo: %v", err)
	}
	data := raw.Data
	for _, col := range segment.CSVHeader {
		if col == "id" {
			continue // omitted while empty
		}
		if _, ok := data[col]; !ok {
			t.Errorf("payload is missing %s", col)
		}
	}
}

func TestExchangeConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(wsURL(srv)).Exchange(context.Background(), NewMessage(segment.SampleReading()))
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected handshake failure with status, got %v", err)
	}
}

func TestExchangeNoReply(t *testing.T) {
	srv := echoServer(t, "-", nil)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := New(wsURL(srv)).Exchange(ctx, NewMessage(segment.SampleReading()))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestExchangeReadTimeout(t *testing.T) {
	srv := echoServer(t, "-", nil)
	defer srv.Close()

	c := New(wsURL(srv))
	c.ReadTimeout = 50 * time.Millisecond
	_, err := c.Exchange(context.Background(), NewMessage(segment.SampleReading()))
	if err == nil || !strings.Contains(err.Error(), "failed to read reply") {
		t.Errorf("expected read timeout, got %v", err)
	}
}
