package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrHandleBound is returned when a subscriber already registered on one topic is registered on
// another. Each subscriber instance listens to exactly one topic.
var ErrHandleBound = errors.New("subscriber is already registered on another topic")

type subscription struct {
	messageType string
	handle      Subscriber
}

// TopicInfo describes one registered topic and the type used to subscribe to it.
type TopicInfo struct {
	Topic       string `json:"topic"`
	MessageType string `json:"type"`
	Subscribers int    `json:"subscribers"`
}

// Registry maps topic names to the ordered set of subscribers interested in them.
type Registry struct {
	mu      sync.RWMutex
	subs    map[string][]subscription // Map topic to subscribers in registration order
	order   []string                  // Topics in first-registration order
	handles map[Subscriber]string     // Map subscriber to its bound topic
}

func NewRegistry() *Registry {
	return &Registry{
		subs:    make(map[string][]subscription),
		handles: make(map[Subscriber]string),
	}
}

// Register adds handle to the topic's subscriber set. It is idempotent for the same (topic,
// handle) pair. first reports whether the topic entry was created by this call.
func (r *Registry) Register(topic, messageType string, handle Subscriber) (first bool, err error) {
	if topic == "" {
		return false, errors.New("topic is required")
	}
	if handle == nil {
		return false, errors.New("subscriber is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if bound, ok := r.handles[handle]; ok {
		if bound != topic {
			return false, fmt.Errorf("register %q: %w (bound to %q)", topic, ErrHandleBound, bound)
		}
		return false, nil
	}

	existing, ok := r.subs[topic]
	if !ok {
		r.order = append(r.order, topic)
	} else if existing[0].messageType != messageType {
		slog.Warn("Subscriber message type differs from topic's first registrant",
			"topic", topic, "type", messageType, "using", existing[0].messageType)
	}
	r.subs[topic] = append(existing, subscription{messageType: messageType, handle: handle})
	r.handles[handle] = topic

	slog.Debug("Registered subscriber", "topic", topic, "type", messageType, "subscribers", len(r.subs[topic]))
	return !ok, nil
}

// Unregister removes handle from the topic. empty reports that the topic entry was removed
// because its last subscriber left.
func (r *Registry) Unregister(topic string, handle Subscriber) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.subs[topic]
	if !ok {
		return false
	}

	idx := -1
	for i, s := range subs {
		if s.handle == handle {
			idx = i
			break
		}
	}
	if idx < 0 {
		slog.Warn("Did not find subscriber in topic to unregister", "topic", topic)
		return false
	}

	remaining := make([]subscription, 0, len(subs)-1)
	remaining = append(remaining, subs[:idx]...)
	remaining = append(remaining, subs[idx+1:]...)
	delete(r.handles, handle)

	if len(remaining) > 0 {
		r.subs[topic] = remaining
		return false
	}

	delete(r.subs, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	slog.Debug("Topic has no subscribers left", "topic", topic)
	return true
}

// SubscribersFor returns a snapshot of the subscribers of topic in registration order.
func (r *Registry) SubscribersFor(topic string) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subs[topic]
	handles := make([]Subscriber, 0, len(subs))
	for _, s := range subs {
		handles = append(handles, s.handle)
	}
	return handles
}

// AllTopics lists every registered topic with the message type of its first registrant.
func (r *Registry) AllTopics() []TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]TopicInfo, 0, len(r.order))
	for _, t := range r.order {
		subs := r.subs[t]
		topics = append(topics, TopicInfo{Topic: t, MessageType: subs[0].messageType, Subscribers: len(subs)})
	}
	return topics
}

// All returns every subscriber across all topics, topic by topic.
func (r *Registry) All() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]Subscriber, 0, len(r.handles))
	for _, t := range r.order {
		for _, s := range r.subs[t] {
			all = append(all, s.handle)
		}
	}
	return all
}

// TopicOf returns the topic handle is registered on.
func (r *Registry) TopicOf(handle Subscriber) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topic, ok := r.handles[handle]
	return topic, ok
}
