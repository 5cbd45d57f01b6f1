package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/mbocsi/skybridge/proto"
)

// Router turns raw rosbridge frames into subscriber callbacks. It has no schema knowledge: the
// msg field is handed to subscribers as an opaque JSON blob.
type Router struct {
	registry *Registry
	metrics  *Metrics
}

func NewRouter(registry *Registry, metrics *Metrics) *Router {
	return &Router{registry: registry, metrics: metrics}
}

// Route parses one inbound frame and delivers its payload to every subscriber of its topic.
// It never panics and never returns an error: malformed frames and failing subscribers are
// logged and skipped.
func (r *Router) Route(raw []byte) {
	r.metrics.received()

	if !utf8.Valid(raw) {
		slog.Error("Inbound frame is not valid UTF-8 text", "size", len(raw), "data", fmt.Sprintf("%q", raw))
		r.metrics.dropped(DropInvalidJSON)
		return
	}

	env, err := proto.ParseEnvelope(proto.Sanitize(raw))
	if err != nil {
		slog.Error("Invalid JSON envelope", "error", err.Error(), "data", string(raw))
		r.metrics.dropped(DropInvalidJSON)
		return
	}

	if env.Op == proto.OpStatus {
		slog.Info("Rosbridge status", "level", env.Level, "id", env.ID, "msg", string(env.Msg))
		r.metrics.dropped(DropStatus)
		return
	}

	if env.Topic == "" {
		slog.Warn("Envelope has no topic: Ignoring message", "op", env.Op)
		r.metrics.dropped(DropMissingTopic)
		return
	}

	if !env.HasMsg() {
		slog.Warn("Envelope has no msg: Ignoring message", "op", env.Op, "topic", env.Topic)
		r.metrics.dropped(DropMissingMsg)
		return
	}

	subs := r.registry.SubscribersFor(env.Topic)
	if len(subs) == 0 {
		r.metrics.dropped(DropNoSubscribers)
		return
	}

	delivered := 0
	for _, sub := range subs {
		if err := deliver(sub, env.Msg); err != nil {
			slog.Warn("An error occured in subscriber", "topic", env.Topic, "subscriber", fmt.Sprintf("%T", sub), "error", err.Error())
			r.metrics.subscriberFailed(env.Topic)
			continue
		}
		r.metrics.routed(env.Topic)
		delivered++
	}
	slog.Debug("Message routed", "topic", env.Topic, "subscribers", len(subs), "delivered", delivered, "size", len(env.Msg))
}

// deliver calls the subscriber and converts a panic into an error so sibling subscribers still
// receive the message.
func deliver(sub Subscriber, payload json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber panicked: %v", rec)
		}
	}()
	return sub.OnMessageReceived(payload)
}

// notify runs a lifecycle callback on every subscriber, recovering from panics one at a time.
func notify(subs []Subscriber, event string, fn func(Subscriber)) {
	for _, sub := range subs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("Subscriber callback panicked", "event", event, "subscriber", fmt.Sprintf("%T", sub), "panic", rec)
				}
			}()
			fn(sub)
		}()
	}
}
