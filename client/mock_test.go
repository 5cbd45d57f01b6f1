package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// mockSubscriber records every callback it receives.
type mockSubscriber struct {
	topic   string
	msgType string

	mu           sync.Mutex
	payloads     []string
	subscribed   int
	disconnected int
	recvErr      error
	recvPanic    bool
	discPanic    bool
}

func newMockSubscriber(topic, msgType string) *mockSubscriber {
	return &mockSubscriber{topic: topic, msgType: msgType}
}

func (m *mockSubscriber) TopicPath() string   { return m.topic }
func (m *mockSubscriber) MessageType() string { return m.msgType }

func (m *mockSubscriber) OnMessageReceived(payload json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recvPanic {
		panic("mock subscriber exploded")
	}
	if m.recvErr != nil {
		return m.recvErr
	}
	m.payloads = append(m.payloads, string(payload))
	return nil
}

func (m *mockSubscriber) OnSubscribed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed++
}

func (m *mockSubscriber) OnDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discPanic {
		panic("mock subscriber failed on disconnect")
	}
	m.disconnected++
}

func (m *mockSubscriber) Payloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.payloads))
	copy(result, m.payloads)
	return result
}

func (m *mockSubscriber) Counts() (subscribed, disconnected int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed, m.disconnected
}

// mockConn is an in-memory rosbridge connection.
type mockConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []string
}

func newMockConn() *mockConn {
	return &mockConn{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *mockConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("mock connection closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *mockConn) Read() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *mockConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, len(c.sent))
	copy(result, c.sent)
	return result
}

// mockTransport hands out mockConns or fails with err.
type mockTransport struct {
	mu    sync.Mutex
	calls int
	err   error
	conns []*mockConn
	block chan struct{} // when set, Connect waits for it to close
}

func (t *mockTransport) Connect(ctx context.Context, addr string) (Conn, error) {
	t.mu.Lock()
	t.calls++
	block := t.block
	err := t.err
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newMockConn()
	t.mu.Lock()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, nil
}

func (t *mockTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *mockTransport) Last() *mockConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *mockTransport) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}
