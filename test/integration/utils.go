package integration

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/mbocsi/skybridge/proto"
)

func getRandomPort(t *testing.T) int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// rosbridgeStub accepts WebSocket clients, records their requests and lets the test publish frames
// to every connected client.
type rosbridgeStub struct {
	server *httptest.Server

	mu       sync.Mutex
	conns    []*websocket.Conn
	requests []proto.Envelope
}

func newRosbridgeStub(t *testing.T) *rosbridgeStub {
	stub := &rosbridgeStub{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.mu.Lock()
		stub.conns = append(stub.conns, conn)
		stub.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env proto.Envelope
			if json.Unmarshal(data, &env) == nil {
				stub.mu.Lock()
				stub.requests = append(stub.requests, env)
				stub.mu.Unlock()
			}
		}
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *rosbridgeStub) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *rosbridgeStub) Publish(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Failed to publish frame: %v", err)
		}
	}
}

func (s *rosbridgeStub) Requests() []proto.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.Envelope(nil), s.requests...)
}

func (s *rosbridgeStub) Close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
	s.mu.Unlock()
	s.server.Close()
}
