package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/skybridge/proto"
)

// State is the connection state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotConnected      = errors.New("rosbridge session is not connected")
	ErrConnectInProgress = errors.New("rosbridge connect already in progress")
	ErrSessionClosed     = errors.New("rosbridge session is closed")
)

const defaultQueueSize = 256

type SessionOptions struct {
	URL       string    // Resolved rosbridge endpoint, see ResolveEndpoint
	QueueSize int       // Inbound frames buffered between the reader and the pump
	Registry  *Registry // Optional (defaults to a new Registry if nil)
	Metrics   *Metrics  // Optional
}

type inboundEvent struct {
	gen  uint64
	data []byte
	err  error
}

// Session owns the single rosbridge connection. Frames read from the socket are queued and only
// dispatched to subscribers by Pump or Run, so all subscriber callbacks happen on the goroutine
// that drives the pump.
type Session struct {
	Id string

	url       string
	transport Transport
	registry  *Registry
	router    *Router
	metrics   *Metrics

	mu     sync.Mutex
	state  State
	conn   Conn
	gen    uint64 // bumped on every open and close so stale reader events can be discarded
	closed bool

	writeMu sync.Mutex

	inbound   chan inboundEvent
	done      chan struct{}
	closeOnce sync.Once

	lmu            sync.RWMutex
	onConnected    []func()
	onDisconnected []func()
	onError        []func(error)
}

func NewSession(t Transport, opts SessionOptions) *Session {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	s := &Session{
		Id:        "session-" + uuid.NewString()[:8],
		url:       opts.URL,
		transport: t,
		registry:  opts.Registry,
		router:    NewRouter(opts.Registry, opts.Metrics),
		metrics:   opts.Metrics,
		inbound:   make(chan inboundEvent, opts.QueueSize),
		done:      make(chan struct{}),
	}
	s.metrics.state(StateDisconnected)
	return s
}

func (s *Session) URL() string {
	return s.url
}

func (s *Session) Registry() *Registry {
	return s.registry
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Topics() []TopicInfo {
	return s.registry.AllTopics()
}

func (s *Session) OnConnected(fn func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onConnected = append(s.onConnected, fn)
}

func (s *Session) OnDisconnected(fn func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onDisconnected = append(s.onDisconnected, fn)
}

func (s *Session) OnError(fn func(error)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.onError = append(s.onError, fn)
}

// Connect opens the connection. It returns nil immediately when already connected and
// ErrConnectInProgress when another Connect has not finished yet. After the socket opens every
// registered topic is subscribed again and each subscriber gets OnSubscribed.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.metrics.connectAttempt()
	slog.Info("Connecting to rosbridge", "url", s.url, "session", s.Id)

	conn, err := s.transport.Connect(ctx, s.url)
	if err != nil {
		s.mu.Lock()
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()

		s.metrics.connectFailed()
		err = fmt.Errorf("connect to rosbridge at %s: %w", s.url, err)
		s.emitError(err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.setStateLocked(StateDisconnected)
		s.mu.Unlock()
		conn.Close()
		return ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	s.conn = conn
	s.setStateLocked(StateConnected)
	// Subscribe registers under mu, so a topic is either replayed here or sent by Subscribe.
	topics := s.registry.AllTopics()
	subs := s.registry.All()
	s.mu.Unlock()

	go s.readLoop(conn, gen)

	slog.Info("Connected to rosbridge", "url", s.url, "session", s.Id)
	s.emitConnected()

	for _, t := range topics {
		if err := s.send(proto.NewSubscribe(t.Topic, t.MessageType)); err != nil {
			slog.Warn("Failed to resubscribe topic", "topic", t.Topic, "type", t.MessageType, "error", err.Error())
		}
	}
	slog.Debug("Resubscribed topics", "count", len(topics))

	notify(subs, "subscribed", Subscriber.OnSubscribed)
	return nil
}

// Disconnect closes the connection if one is open and tells every subscriber. Subscriber
// failures are logged and do not stop the remaining notifications.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil
	}
	conn := s.conn
	s.conn = nil
	s.gen++
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	err := conn.Close()
	slog.Info("Disconnected from rosbridge", "url", s.url, "session", s.Id)

	s.emitDisconnected()
	notify(s.registry.All(), "disconnected", Subscriber.OnDisconnected)

	if err != nil {
		return fmt.Errorf("close rosbridge connection: %w", err)
	}
	return nil
}

// Close disconnects and stops the reader and Run loops. The session cannot be reconnected.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return err
}

// Subscribe registers sub on its topic. A subscribe request is sent for the first registration
// of a topic while connected; otherwise the next Connect replays it.
func (s *Session) Subscribe(sub Subscriber) error {
	topic := sub.TopicPath()
	if bound, ok := s.registry.TopicOf(sub); ok && bound == topic {
		return nil
	}

	s.mu.Lock()
	first, err := s.registry.Register(topic, sub.MessageType(), sub)
	connected := s.state == StateConnected
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if !connected {
		return nil
	}
	if first {
		if err := s.send(proto.NewSubscribe(topic, sub.MessageType())); err != nil {
			slog.Warn("Failed to subscribe topic", "topic", topic, "error", err.Error())
		}
	}
	notify([]Subscriber{sub}, "subscribed", Subscriber.OnSubscribed)
	return nil
}

// Unsubscribe removes sub from the registry. rosbridge is never told to unsubscribe; frames for
// a topic without subscribers are dropped by the router.
func (s *Session) Unsubscribe(sub Subscriber) {
	topic := sub.TopicPath()
	if empty := s.registry.Unregister(topic, sub); empty {
		slog.Debug("Last subscriber left topic", "topic", topic)
	}
}

// SubscribeTopic sends a subscribe request when connected and is a no-op otherwise.
func (s *Session) SubscribeTopic(topic, msgType string) error {
	if s.State() != StateConnected {
		return nil
	}
	return s.send(proto.NewSubscribe(topic, msgType))
}

func (s *Session) Advertise(topic, msgType string) error {
	return s.send(proto.NewAdvertise(topic, msgType))
}

// Publish sends msg on topic. It fails with ErrNotConnected when there is no open connection.
func (s *Session) Publish(topic, msgType string, msg any) error {
	env, err := proto.NewPublish(topic, msgType, msg)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	return s.send(env)
}

func (s *Session) send(env proto.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	s.mu.Lock()
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.Send(data); err != nil {
		return err
	}
	slog.Debug("Sent envelope", "op", env.Op, "topic", env.Topic, "size", len(data))
	return nil
}

// Pump dispatches the inbound events queued at the time of the call, in arrival order, and
// returns how many it handled. It never blocks.
func (s *Session) Pump() int {
	pending := len(s.inbound)
	for i := 0; i < pending; i++ {
		s.handle(<-s.inbound)
	}
	s.metrics.queue(len(s.inbound))
	return pending
}

// Run dispatches inbound events as they arrive until ctx is done or the session is closed. Use
// either Run or Pump, not both.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case ev := <-s.inbound:
			s.handle(ev)
			s.metrics.queue(len(s.inbound))
		}
	}
}

func (s *Session) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.Read()
		select {
		case s.inbound <- inboundEvent{gen: gen, data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handle(ev inboundEvent) {
	s.mu.Lock()
	current := ev.gen == s.gen && s.state == StateConnected
	s.mu.Unlock()

	if !current {
		if ev.err == nil {
			s.metrics.dropped(DropStale)
		}
		return
	}
	if ev.err != nil {
		s.connectionLost(ev.gen, ev.err)
		return
	}
	s.router.Route(ev.data)
}

func (s *Session) connectionLost(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.gen++
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	conn.Close()
	err := fmt.Errorf("rosbridge connection lost: %w", cause)
	slog.Warn("Lost rosbridge connection", "url", s.url, "session", s.Id, "error", cause.Error())

	s.emitError(err)
	s.emitDisconnected()
	notify(s.registry.All(), "disconnected", Subscriber.OnDisconnected)
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.metrics.state(state)
}

func (s *Session) emitConnected() {
	s.lmu.RLock()
	fns := append([]func(){}, s.onConnected...)
	s.lmu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Session) emitDisconnected() {
	s.lmu.RLock()
	fns := append([]func(){}, s.onDisconnected...)
	s.lmu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Session) emitError(err error) {
	s.lmu.RLock()
	fns := append([]func(error){}, s.onError...)
	s.lmu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}
