package proto

import (
	"encoding/json"
	"fmt"
)

// Rosbridge v2 operations.
const (
	OpPublish     = "publish"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpAdvertise   = "advertise"
	OpStatus      = "status"
)

// Envelope is the outer JSON object of every rosbridge frame.
type Envelope struct {
	Op    string          `json:"op"`              // "publish", "subscribe", "status", ...
	ID    string          `json:"id,omitempty"`    // optional request correlation id
	Topic string          `json:"topic,omitempty"` // ROS topic path (e.g. "/fmu/out/vehicle_odometry")
	Type  string          `json:"type,omitempty"`  // ROS message type, only on outbound ops
	Msg   json.RawMessage `json:"msg,omitempty"`   // raw JSON; never interpreted by the router
	Level string          `json:"level,omitempty"` // status ops only
}

// HasMsg reports whether the envelope carries a payload. A literal JSON null counts as absent.
func (e Envelope) HasMsg() bool {
	return len(e.Msg) > 0 && string(e.Msg) != "null"
}

// ParseEnvelope decodes an inbound frame. Keys are matched exactly; rosbridge field names are
// case-sensitive, unlike encoding/json struct decoding.
func ParseEnvelope(data []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	for key, dst := range map[string]*string{
		"op":    &env.Op,
		"id":    &env.ID,
		"topic": &env.Topic,
		"type":  &env.Type,
		"level": &env.Level,
	} {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return Envelope{}, fmt.Errorf("field %q: %w", key, err)
		}
	}
	env.Msg = fields["msg"]
	return env, nil
}

func NewSubscribe(topic, msgType string) Envelope {
	return Envelope{Op: OpSubscribe, Topic: topic, Type: msgType}
}

func NewUnsubscribe(topic string) Envelope {
	return Envelope{Op: OpUnsubscribe, Topic: topic}
}

func NewAdvertise(topic, msgType string) Envelope {
	return Envelope{Op: OpAdvertise, Topic: topic, Type: msgType}
}

// NewPublish marshals msg into a publish envelope. A json.RawMessage is passed through untouched.
func NewPublish(topic, msgType string, msg any) (Envelope, error) {
	var raw json.RawMessage
	switch m := msg.(type) {
	case json.RawMessage:
		raw = m
	case []byte:
		raw = json.RawMessage(m)
	default:
		b, err := json.Marshal(msg)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{Op: OpPublish, Topic: topic, Type: msgType, Msg: raw}, nil
}
