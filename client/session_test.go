package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbocsi/skybridge/proto"
)

func newTestSession(t *testing.T) (*Session, *mockTransport) {
	t.Helper()
	transport := &mockTransport{}
	session := NewSession(transport, SessionOptions{URL: "ws://rosbridge.test:9090"})
	t.Cleanup(func() { session.Close() })
	return session, transport
}

// pumpUntil keeps dispatching queued frames until cond holds.
func pumpUntil(t *testing.T, s *Session, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.Pump()
		return cond()
	}, time.Second, 5*time.Millisecond)
}

func decodeSent(t *testing.T, frames []string) []proto.Envelope {
	t.Helper()
	envs := make([]proto.Envelope, 0, len(frames))
	for _, f := range frames {
		var env proto.Envelope
		require.NoError(t, json.Unmarshal([]byte(f), &env))
		envs = append(envs, env)
	}
	return envs
}

func TestSession_ConnectSetsStateAndFiresListeners(t *testing.T) {
	session, transport := newTestSession(t)
	var connected atomic.Int32
	session.OnConnected(func() { connected.Add(1) })

	assert.Equal(t, StateDisconnected, session.State())
	require.NoError(t, session.Connect(context.Background()))

	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, 1, transport.Calls())
	assert.Equal(t, int32(1), connected.Load())
}

func TestSession_ConnectWhenConnectedIsNoop(t *testing.T) {
	session, transport := newTestSession(t)
	require.NoError(t, session.Connect(context.Background()))

	require.NoError(t, session.Connect(context.Background()))

	assert.Equal(t, 1, transport.Calls())
	assert.Equal(t, StateConnected, session.State())
}

func TestSession_ConnectInProgress(t *testing.T) {
	session, transport := newTestSession(t)
	transport.block = make(chan struct{})

	result := make(chan error, 1)
	go func() { result <- session.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return session.State() == StateConnecting }, time.Second, time.Millisecond)
	assert.ErrorIs(t, session.Connect(context.Background()), ErrConnectInProgress)

	close(transport.block)
	require.NoError(t, <-result)
	assert.Equal(t, StateConnected, session.State())
	assert.Equal(t, 1, transport.Calls())
}

func TestSession_ConnectFailure(t *testing.T) {
	session, transport := newTestSession(t)
	transport.SetErr(errors.New("connection refused"))
	var reported error
	session.OnError(func(err error) { reported = err })

	err := session.Connect(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, err, reported)
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSession_ConnectWithRetryExhaustsAttempts(t *testing.T) {
	session, transport := newTestSession(t)
	transport.SetErr(errors.New("connection refused"))

	err := session.ConnectWithRetry(context.Background(), 2, 0)

	require.Error(t, err)
	assert.Equal(t, 3, transport.Calls())
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSession_ConnectWithRetryZeroAttempts(t *testing.T) {
	session, transport := newTestSession(t)
	transport.SetErr(errors.New("connection refused"))

	require.Error(t, session.ConnectWithRetry(context.Background(), 0, 0))
	assert.Equal(t, 1, transport.Calls())
}

func TestSession_ConnectWithRetrySucceedsLater(t *testing.T) {
	session, transport := newTestSession(t)
	transport.SetErr(errors.New("connection refused"))

	session.OnError(func(error) {
		if transport.Calls() == 2 {
			transport.SetErr(nil)
		}
	})

	require.NoError(t, session.ConnectWithRetry(context.Background(), 5, time.Millisecond))
	assert.Equal(t, 3, transport.Calls())
	assert.Equal(t, StateConnected, session.State())
}

func TestSession_ConnectWithRetryCancelled(t *testing.T) {
	session, transport := newTestSession(t)
	transport.SetErr(errors.New("connection refused"))
	ctx, cancel := context.WithCancel(context.Background())
	session.OnError(func(error) { cancel() })

	err := session.ConnectWithRetry(ctx, 10, time.Hour)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, transport.Calls())
}

func TestSession_ReconnectResubscribesEachTopicOnce(t *testing.T) {
	session, transport := newTestSession(t)
	odomA := newMockSubscriber("/odom", "nav_msgs/msg/Odometry")
	odomB := newMockSubscriber("/odom", "geometry_msgs/msg/PoseStamped")
	status := newMockSubscriber("/status", "px4_msgs/msg/VehicleStatus")
	require.NoError(t, session.Subscribe(odomA))
	require.NoError(t, session.Subscribe(odomB))
	require.NoError(t, session.Subscribe(status))

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Disconnect())
	require.NoError(t, session.Connect(context.Background()))

	require.Equal(t, 2, transport.Calls())
	sent := decodeSent(t, transport.Last().Sent())
	assert.Equal(t, []proto.Envelope{
		{Op: proto.OpSubscribe, Topic: "/odom", Type: "nav_msgs/msg/Odometry"},
		{Op: proto.OpSubscribe, Topic: "/status", Type: "px4_msgs/msg/VehicleStatus"},
	}, sent)

	subscribed, disconnected := odomB.Counts()
	assert.Equal(t, 2, subscribed)
	assert.Equal(t, 1, disconnected)
}

func TestSession_SubscribeWhileDisconnectedSendsNothing(t *testing.T) {
	session, transport := newTestSession(t)
	sub := newMockSubscriber("/t", "std_msgs/msg/String")

	require.NoError(t, session.Subscribe(sub))

	assert.Equal(t, 0, transport.Calls())
	subscribed, _ := sub.Counts()
	assert.Equal(t, 0, subscribed)
	assert.Len(t, session.Topics(), 1)
}

func TestSession_SubscribeWhileConnected(t *testing.T) {
	session, transport := newTestSession(t)
	require.NoError(t, session.Connect(context.Background()))

	sub1 := newMockSubscriber("/t", "std_msgs/msg/String")
	sub2 := newMockSubscriber("/t", "std_msgs/msg/String")
	require.NoError(t, session.Subscribe(sub1))
	require.NoError(t, session.Subscribe(sub2))
	require.NoError(t, session.Subscribe(sub2))

	// Only the first subscriber of a topic triggers a request.
	sent := decodeSent(t, transport.Last().Sent())
	assert.Equal(t, []proto.Envelope{{Op: proto.OpSubscribe, Topic: "/t", Type: "std_msgs/msg/String"}}, sent)

	s1, _ := sub1.Counts()
	s2, _ := sub2.Counts()
	assert.Equal(t, 1, s1)
	assert.Equal(t, 1, s2)
}

func TestSession_SubscribeDuringConnectSentOnce(t *testing.T) {
	session, transport := newTestSession(t)
	existing := newMockSubscriber("/odom", "nav_msgs/msg/Odometry")
	late := newMockSubscriber("/status", "px4_msgs/msg/VehicleStatus")
	require.NoError(t, session.Subscribe(existing))

	// The listener runs after the state flips to connected but before the replay.
	session.OnConnected(func() { require.NoError(t, session.Subscribe(late)) })
	require.NoError(t, session.Connect(context.Background()))

	sent := decodeSent(t, transport.Last().Sent())
	assert.ElementsMatch(t, []proto.Envelope{
		{Op: proto.OpSubscribe, Topic: "/odom", Type: "nav_msgs/msg/Odometry"},
		{Op: proto.OpSubscribe, Topic: "/status", Type: "px4_msgs/msg/VehicleStatus"},
	}, sent)

	subscribed, _ := late.Counts()
	assert.Equal(t, 1, subscribed)
}

func TestSession_SubscribeTopic(t *testing.T) {
	session, transport := newTestSession(t)
	require.NoError(t, session.SubscribeTopic("/t", "std_msgs/msg/String"))
	assert.Equal(t, 0, transport.Calls())

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SubscribeTopic("/t", "std_msgs/msg/String"))

	sent := decodeSent(t, transport.Last().Sent())
	assert.Equal(t, []proto.Envelope{{Op: proto.OpSubscribe, Topic: "/t", Type: "std_msgs/msg/String"}}, sent)
	assert.Empty(t, session.Topics())
}

func TestSession_SubscribeRejectsSecondTopic(t *testing.T) {
	session, _ := newTestSession(t)
	sub := newMockSubscriber("/a", "T")
	require.NoError(t, session.Subscribe(sub))

	sub.topic = "/b"
	assert.ErrorIs(t, session.Subscribe(sub), ErrHandleBound)
}

func TestSession_UnsubscribeIsLocal(t *testing.T) {
	session, transport := newTestSession(t)
	sub := newMockSubscriber("/t", "T")
	require.NoError(t, session.Subscribe(sub))
	require.NoError(t, session.Connect(context.Background()))
	conn := transport.Last()
	before := len(conn.Sent())

	session.Unsubscribe(sub)
	conn.frames <- []byte(`{"op":"publish","topic":"/t","msg":{"a":1}}`)
	pumpUntil(t, session, func() bool { return len(conn.frames) == 0 && len(session.inbound) == 0 })

	assert.Len(t, conn.Sent(), before)
	assert.Empty(t, sub.Payloads())
	assert.Empty(t, session.Topics())
}

func TestSession_PumpDeliversInArrivalOrder(t *testing.T) {
	session, transport := newTestSession(t)
	sub := newMockSubscriber("/t", "T")
	require.NoError(t, session.Subscribe(sub))
	require.NoError(t, session.Connect(context.Background()))

	conn := transport.Last()
	conn.frames <- []byte(`{"op":"publish","topic":"/t","msg":{"n":1}}`)
	conn.frames <- []byte(`{"op":"status","level":"warning","msg":"ignored"}`)
	conn.frames <- []byte(`{"op":"publish","topic":"/t","msg":{"n":2}}`)
	conn.frames <- []byte(`{"op":"publish","topic":"/t","msg":{"n":3}}`)

	pumpUntil(t, session, func() bool { return len(sub.Payloads()) == 3 })

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, sub.Payloads())
}

func TestSession_PumpWithoutFramesReturnsImmediately(t *testing.T) {
	session, _ := newTestSession(t)
	assert.Equal(t, 0, session.Pump())
}

func TestSession_RunDispatches(t *testing.T) {
	session, transport := newTestSession(t)
	sub := newMockSubscriber("/t", "T")
	require.NoError(t, session.Subscribe(sub))
	require.NoError(t, session.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	transport.Last().frames <- []byte(`{"op":"publish","topic":"/t","msg":{"n":1}}`)
	require.Eventually(t, func() bool { return len(sub.Payloads()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSession_DisconnectIsolatesFailingSubscriber(t *testing.T) {
	session, _ := newTestSession(t)
	failing := newMockSubscriber("/a", "T")
	failing.discPanic = true
	healthy := newMockSubscriber("/b", "T")
	require.NoError(t, session.Subscribe(failing))
	require.NoError(t, session.Subscribe(healthy))
	require.NoError(t, session.Connect(context.Background()))

	var disconnected atomic.Int32
	session.OnDisconnected(func() { disconnected.Add(1) })

	require.NotPanics(t, func() { require.NoError(t, session.Disconnect()) })

	_, n := healthy.Counts()
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), disconnected.Load())
	assert.Equal(t, StateDisconnected, session.State())
}

func TestSession_DisconnectWhenDisconnected(t *testing.T) {
	session, _ := newTestSession(t)
	sub := newMockSubscriber("/t", "T")
	require.NoError(t, session.Subscribe(sub))

	require.NoError(t, session.Disconnect())

	_, n := sub.Counts()
	assert.Equal(t, 0, n)
}

func TestSession_RemoteClose(t *testing.T) {
	session, transport := newTestSession(t)
	sub := newMockSubscriber("/t", "T")
	require.NoError(t, session.Subscribe(sub))
	require.NoError(t, session.Connect(context.Background()))

	var lost error
	session.OnError(func(err error) { lost = err })

	// The server goes away.
	transport.Last().Close()
	pumpUntil(t, session, func() bool { return session.State() == StateDisconnected })

	require.Error(t, lost)
	_, n := sub.Counts()
	assert.Equal(t, 1, n)

	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, 2, transport.Calls())
}

func TestSession_StaleFramesDropped(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	transport := &mockTransport{}
	session := NewSession(transport, SessionOptions{URL: "ws://rosbridge.test:9090", Metrics: metrics})
	t.Cleanup(func() { session.Close() })

	sub := newMockSubscriber("/t", "T")
	require.NoError(t, session.Subscribe(sub))
	require.NoError(t, session.Connect(context.Background()))
	old := transport.Last()

	// Queue a frame from the first connection, then replace the connection before pumping.
	old.frames <- []byte(`{"op":"publish","topic":"/t","msg":{"n":1}}`)
	require.Eventually(t, func() bool { return len(session.inbound) > 0 }, time.Second, time.Millisecond)
	require.NoError(t, session.Disconnect())
	require.NoError(t, session.Connect(context.Background()))

	session.Pump()

	assert.Empty(t, sub.Payloads())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.messagesDropped.WithLabelValues(DropStale)))
	assert.Equal(t, StateConnected, session.State())
}

func TestSession_PublishRequiresConnection(t *testing.T) {
	session, transport := newTestSession(t)

	assert.ErrorIs(t, session.Publish("/cmd", "std_msgs/msg/Bool", map[string]bool{"data": true}), ErrNotConnected)

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Advertise("/cmd", "std_msgs/msg/Bool"))
	require.NoError(t, session.Publish("/cmd", "std_msgs/msg/Bool", map[string]bool{"data": true}))

	sent := transport.Last().Sent()
	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"op":"advertise","topic":"/cmd","type":"std_msgs/msg/Bool"}`, sent[0])
	assert.JSONEq(t, `{"op":"publish","topic":"/cmd","type":"std_msgs/msg/Bool","msg":{"data":true}}`, sent[1])
}

func TestSession_ClosedSessionRefusesConnect(t *testing.T) {
	session, transport := newTestSession(t)
	require.NoError(t, session.Close())

	assert.ErrorIs(t, session.Connect(context.Background()), ErrSessionClosed)
	assert.ErrorIs(t, session.ConnectWithRetry(context.Background(), 3, 0), ErrSessionClosed)
	assert.Equal(t, 0, transport.Calls())
}

func TestSession_MetricsTrackConnectionState(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	transport := &mockTransport{}
	session := NewSession(transport, SessionOptions{URL: "ws://rosbridge.test:9090", Metrics: metrics})
	t.Cleanup(func() { session.Close() })

	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, float64(StateConnected), testutil.ToFloat64(metrics.connectionState))

	transport.SetErr(errors.New("down"))
	require.NoError(t, session.Disconnect())
	require.Error(t, session.Connect(context.Background()))

	assert.Equal(t, float64(StateDisconnected), testutil.ToFloat64(metrics.connectionState))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.connectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connectFailures))
}
