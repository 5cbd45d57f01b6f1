package adapters

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbocsi/skybridge/proto"
)

const DefaultLEDType = "std_msgs/msg/ColorRGBA"

// Color is an RGBA color with every channel in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// LED tracks the color of a status light.
type LED struct {
	name        string
	topic       string
	messageType string

	mu    sync.RWMutex
	color Color
	lit   bool
}

func NewLED(name, topic, messageType string) *LED {
	if messageType == "" {
		messageType = DefaultLEDType
	}
	if name == "" {
		name = topic
	}
	return &LED{name: name, topic: topic, messageType: messageType}
}

func (l *LED) Name() string        { return l.name }
func (l *LED) TopicPath() string   { return l.topic }
func (l *LED) MessageType() string { return l.messageType }

func (l *LED) OnMessageReceived(payload json.RawMessage) error {
	var msg proto.ColorRGBA
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode color on %s: %w", l.topic, err)
	}
	c := Color{
		R: clamp01(float64(msg.R)),
		G: clamp01(float64(msg.G)),
		B: clamp01(float64(msg.B)),
		A: clamp01(float64(msg.A)),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.color = c
	l.lit = true
	return nil
}

func (l *LED) OnSubscribed() {
	slog.Debug("LED adapter subscribed", "adapter", l.name, "topic", l.topic)
}

func (l *LED) OnDisconnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lit = false
}

// Color returns the last received color; ok is false while the light state is unknown.
func (l *LED) Color() (Color, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.color, l.lit
}
