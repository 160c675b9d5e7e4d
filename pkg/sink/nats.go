package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
}

// NATSSink publishes every entity as a JSON message on a subject.
type NATSSink struct {
	pub          Publisher
	subject      string
	flushTimeout time.Duration
	close        func()
}

// NewNATSSink publishes on an existing connection. Closing the sink flushes
// but leaves the connection open.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject, flushTimeout: 10 * time.Second}
}

// DialNATS connects to url and returns a sink that owns the connection.
func DialNATS(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("tweetfetch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	s := NewNATSSink(nc, subject)
	s.close = nc.Close
	return s, nil
}

func (s *NATSSink) Write(_ context.Context, e page.Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	entitiesWritten.WithLabelValues("nats").Inc()
	return nil
}

func (s *NATSSink) Flush() error {
	if err := s.pub.FlushTimeout(s.flushTimeout); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	err := s.Flush()
	if s.close != nil {
		s.close()
	}
	return err
}
