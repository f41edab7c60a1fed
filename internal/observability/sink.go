package observability

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink mirrors events onto a NATS subject, one message per event.
// The subject is suffixed with the event type: "<subject>.<type>".
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

func NewNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url, nats.Name("autopilot"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSSink{conn: nc, subject: subject}, nil
}

func (s *NATSSink) Publish(evt Event, data []byte) error {
	return s.conn.Publish(s.subject+"."+string(evt.Type), data)
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(evt Event, data []byte) error

func (f SinkFunc) Publish(evt Event, data []byte) error { return f(evt, data) }
