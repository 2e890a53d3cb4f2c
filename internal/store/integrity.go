package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/artisan-mcp/artisan-mcp/internal/audit"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// restoreWindow is how many recent events are scanned for the chain head.
const restoreWindow = 100

// IntegrityStore seals every event into an HMAC chain before passing it on.
// Appends are serialized so the inner store sees events in sequence order.
// A failed append leaves a gap that Verify reports.
type IntegrityStore struct {
	mu    sync.Mutex
	inner EventStore
	chain *audit.Chain
}

// NewIntegrityStore wraps inner. When inner can be queried, the chain
// continues from the newest sealed event already stored.
func NewIntegrityStore(ctx context.Context, inner EventStore, chain *audit.Chain) (*IntegrityStore, error) {
	s := &IntegrityStore{inner: inner, chain: chain}
	recent, err := inner.QueryEvents(ctx, types.EventQuery{Limit: restoreWindow})
	if errors.Is(err, ErrQueryUnsupported) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("restore audit chain: %w", err)
	}
	var head *types.Integrity
	for _, ev := range recent {
		if ev.Integrity != nil && (head == nil || ev.Integrity.Sequence > head.Sequence) {
			head = ev.Integrity
		}
	}
	if head != nil {
		chain.Restore(head.Sequence, head.EntryHash)
	}
	return s, nil
}

func (s *IntegrityStore) AppendEvent(ctx context.Context, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.chain.Seal(&ev); err != nil {
		return err
	}
	return s.inner.AppendEvent(ctx, ev)
}

func (s *IntegrityStore) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	return s.inner.QueryEvents(ctx, q)
}

func (s *IntegrityStore) Close() error {
	return s.inner.Close()
}

// Chain returns the integrity chain for state inspection.
func (s *IntegrityStore) Chain() *audit.Chain {
	return s.chain
}
