// Package sink writes normalized entities to their destination: NDJSON files
// on disk and, optionally, a NATS subject.
package sink

import (
	"context"
	"errors"

	"github.com/JohannesNE/aarhus-covid19-datathon/pkg/page"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var entitiesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tweetfetch_sink_entities_total",
	Help: "Total entities written by sink kind",
}, []string{"sink"})

// Sink receives entities in receipt order.
type Sink interface {
	Write(ctx context.Context, e page.Entity) error

	// Flush commits everything written so far. Callers flush after every
	// page before recording its cursor.
	Flush() error

	Close() error
}

// Discarder is implemented by sinks that can drop uncommitted writes.
type Discarder interface {
	Discard() error
}

// Discard drops the uncommitted writes of s when it supports that. Entities
// already handed to a sink without Discard stay delivered.
func Discard(s Sink) error {
	if d, ok := s.(Discarder); ok {
		return d.Discard()
	}
	return nil
}

// Multi fans every entity out to several sinks.
type Multi []Sink

func (m Multi) Write(ctx context.Context, e page.Entity) error {
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the sinks last to first and stops at the first failure, so
// the first sink only commits a page every other sink accepted.
func (m Multi) Flush() error {
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Discard() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, Discard(s))
	}
	return errors.Join(errs...)
}

// Close closes every sink, even when one of them fails.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// WritePage writes every primary entity of p and flushes. On error the page
// is neither committed nor discarded; callers Discard before closing.
func WritePage(ctx context.Context, s Sink, p *page.Page) error {
	for _, e := range p.Data {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Write(ctx, e); err != nil {
			return err
		}
	}
	return s.Flush()
}
