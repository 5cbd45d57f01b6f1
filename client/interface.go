package client

import (
	"context"
	"encoding/json"
)

// Transport opens connections to a rosbridge endpoint.
type Transport interface {
	Connect(ctx context.Context, addr string) (Conn, error)
}

// Conn is one open rosbridge connection. Read is called from a single goroutine, Send calls are
// serialized by the session, and Close may be called concurrently with Read to unblock it.
type Conn interface {
	Send(data []byte) error
	Read() ([]byte, error) // for one-at-a-time processing
	Close() error
}

// Subscriber is implemented by every topic consumer. The router only ever talks to consumers
// through this interface. Implementations must be comparable (typically pointers) since the
// registry uses them as identities. The payload passed to OnMessageReceived is shared between the
// subscribers of a topic and must not be modified.
type Subscriber interface {
	TopicPath() string
	MessageType() string
	OnMessageReceived(payload json.RawMessage) error
	OnSubscribed()
	OnDisconnected()
}
