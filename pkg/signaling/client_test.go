package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zenmesh/transport/pkg/logger"
	"github.com/zenmesh/transport/pkg/types"
)

// fakeSignalingServer is a minimal echo-style JSON-RPC WebSocket server used
// to exercise Client without a real signaling backend.
type fakeSignalingServer struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	received []types.SignalingMessage
}

func newFakeSignalingServer() *fakeSignalingServer {
	return &fakeSignalingServer{upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}
}

func (s *fakeSignalingServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg types.SignalingMessage
		if json.Unmarshal(data, &msg) != nil {
			continue
		}

		s.mu.Lock()
		s.received = append(s.received, msg)
		s.mu.Unlock()

		// Every message carrying a method (peer.offer etc.) is relayed verbatim
		// to exercise the client's dispatch path; nothing else is answered.
		if msg.Method != "" {
			conn.WriteMessage(websocket.TextMessage, data)
			continue
		}
	}
}

func (s *fakeSignalingServer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	c := NewClient(url, logger.NewDefaultLogger(logger.ErrorLevel, "text"))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return c
}

func TestClientAnnounceSendsNotification(t *testing.T) {
	fake := newFakeSignalingServer()
	server := httptest.NewServer(http.HandlerFunc(fake.handle))
	defer server.Close()

	client := newTestClient(t, server)
	defer client.Close()

	if err := client.Announce("peer-a", types.Capabilities{Audio: true, Video: true}); err != nil {
		t.Fatalf("announce failed: %v", err)
	}

	waitFor(t, func() bool { return fake.Count() == 1 })
}

func TestClientDispatchesInboundOffer(t *testing.T) {
	fake := newFakeSignalingServer()
	server := httptest.NewServer(http.HandlerFunc(fake.handle))
	defer server.Close()

	client := newTestClient(t, server)
	defer client.Close()

	received := make(chan types.OfferParams, 1)
	client.OnOffer(func(p types.OfferParams) { received <- p })

	if err := client.SendOffer("peer-a", "peer-b", "v=0 fake-sdp"); err != nil {
		t.Fatalf("send offer failed: %v", err)
	}

	select {
	case p := <-received:
		if p.From != "peer-a" || p.To != "peer-b" {
			t.Fatalf("unexpected offer params: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed offer")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
