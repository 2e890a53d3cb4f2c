// Package composite fans audit events out to several stores.
package composite

import (
	"context"
	"errors"

	"github.com/artisan-mcp/artisan-mcp/internal/store"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// Store appends to every sink and answers queries from the primary one.
// primary may be nil when no configured sink can be queried.
type Store struct {
	primary store.EventStore
	others  []store.EventStore
}

func New(primary store.EventStore, others ...store.EventStore) *Store {
	var kept []store.EventStore
	for _, o := range others {
		if o != nil {
			kept = append(kept, o)
		}
	}
	return &Store{primary: primary, others: kept}
}

func (s *Store) all() []store.EventStore {
	if s.primary == nil {
		return s.others
	}
	return append([]store.EventStore{s.primary}, s.others...)
}

// AppendEvent delivers ev to every sink even when one fails and returns the
// first error.
func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	var firstErr error
	for _, st := range s.all() {
		if err := st.AppendEvent(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	if s.primary == nil {
		return nil, store.ErrQueryUnsupported
	}
	return s.primary.QueryEvents(ctx, q)
}

func (s *Store) Close() error {
	var errs []error
	for _, st := range s.all() {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
