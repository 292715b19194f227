package observe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSObserver publishes transitions as JSON events to a NATS subject,
// fire-and-forget. Publish errors are dropped: external monitoring must
// never interfere with delivery.
type NATSObserver struct {
	conn          *nats.Conn
	subjectPrefix string
	ownsConn      bool
}

// NATSConfig holds NATS sink configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// SubjectPrefix for transition events. Events are published to
	// "<prefix>.<agent>". Default: "bus.transitions".
	SubjectPrefix string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// ConnectTimeout for the initial connection.
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		SubjectPrefix:  "bus.transitions",
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSObserver connects to NATS and returns a transition sink.
func NewNATSObserver(cfg NATSConfig) (*NATSObserver, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "bus.transitions"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSObserver{conn: conn, subjectPrefix: cfg.SubjectPrefix, ownsConn: true}, nil
}

// NewNATSObserverFromConn creates a sink from an existing connection.
// The caller keeps ownership of the connection.
func NewNATSObserverFromConn(conn *nats.Conn, subjectPrefix string) *NATSObserver {
	if subjectPrefix == "" {
		subjectPrefix = "bus.transitions"
	}
	return &NATSObserver{conn: conn, subjectPrefix: subjectPrefix}
}

// OnTransition implements Observer.
func (o *NATSObserver) OnTransition(t Transition) {
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	subject := o.subjectPrefix
	if t.Agent != "" {
		subject = o.subjectPrefix + "." + t.Agent
	}
	_ = o.conn.Publish(subject, data)
}

// Close shuts down the sink's connection if it owns one.
func (o *NATSObserver) Close() error {
	if o.ownsConn {
		o.conn.Close()
	}
	return nil
}
