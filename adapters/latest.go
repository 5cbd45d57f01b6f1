package adapters

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Latest keeps the most recent payload of a topic as-is, e.g. a vehicle status message shown in
// an overlay. It is cleared on disconnect.
type Latest struct {
	name        string
	topic       string
	messageType string

	mu       sync.RWMutex
	payload  json.RawMessage
	received time.Time
	count    uint64
}

func NewLatest(name, topic, messageType string) *Latest {
	if name == "" {
		name = topic
	}
	return &Latest{name: name, topic: topic, messageType: messageType}
}

func (l *Latest) Name() string        { return l.name }
func (l *Latest) TopicPath() string   { return l.topic }
func (l *Latest) MessageType() string { return l.messageType }

func (l *Latest) OnMessageReceived(payload json.RawMessage) error {
	if !json.Valid(payload) {
		return fmt.Errorf("payload on %s is not valid JSON", l.topic)
	}
	// The payload buffer is shared with other subscribers.
	own := make(json.RawMessage, len(payload))
	copy(own, payload)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.payload = own
	l.received = time.Now()
	l.count++
	return nil
}

func (l *Latest) OnSubscribed() {
	slog.Debug("Status adapter subscribed", "adapter", l.name, "topic", l.topic)
}

func (l *Latest) OnDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.payload = nil
	l.received = time.Time{}
}

// Value returns the last payload and when it arrived. ok is false when nothing has been received
// since the last (re)connect.
func (l *Latest) Value() (payload json.RawMessage, received time.Time, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.payload == nil {
		return nil, time.Time{}, false
	}
	return l.payload, l.received, true
}

// Count is the number of payloads received over the adapter's lifetime.
func (l *Latest) Count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}
