package metrics

import (
	"context"
	"time"

	"github.com/artisan-mcp/artisan-mcp/internal/store"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// AuditStore is an EventStore that reports appends to a Collector.
type AuditStore struct {
	store.EventStore
	c *Collector
}

// WrapEventStore returns inner instrumented with c: event counts by type,
// failed appends and append latency. A nil inner yields nil.
func WrapEventStore(inner store.EventStore, c *Collector) store.EventStore {
	if inner == nil {
		return nil
	}
	if c == nil {
		c = New()
	}
	return &AuditStore{EventStore: inner, c: c}
}

func (s *AuditStore) AppendEvent(ctx context.Context, ev types.Event) error {
	start := time.Now()
	err := s.EventStore.AppendEvent(ctx, ev)
	s.c.ObserveAppend(time.Since(start))
	s.c.IncEvent(ev.Type)
	if err != nil {
		s.c.IncEventFailure()
	}
	return err
}

// Unwrap returns the instrumented store.
func (s *AuditStore) Unwrap() store.EventStore { return s.EventStore }
