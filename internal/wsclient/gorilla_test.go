package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGorillaDialerAgainstRealServer runs the client against a real
// websocket endpoint that assigns an id, pings, and echoes what it reads.
func TestGorillaDialerAgainstRealServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection_established","connection_id":"srv-1"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","timestamp":5}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), `"pong"`) {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"segmentation_progress","algorithm_name":"slic","progress_percent":100}`))
			}
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Heartbeat: time.Hour})
	defer c.Disconnect()
	got := make(chan Message, 4)
	c.OnMessage(func(m Message) { got <- m })

	require.NoError(t, c.Connect(context.Background(), ""))
	assert.Equal(t, "/api/v1/ws", <-paths)

	first := <-got
	assert.Equal(t, TypeConnectionEstablished, first.Type())
	select {
	case m := <-got:
		assert.Equal(t, SegmentationProgress{AlgorithmName: "slic", ProgressPercent: 100}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress after pong")
	}
	assert.Equal(t, "srv-1", c.ConnectionID())
}
