// Package store defines where audit events go and how they are read back.
package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// ErrQueryUnsupported is returned by sinks that can only append.
var ErrQueryUnsupported = errors.New("event store does not support queries")

type EventStore interface {
	AppendEvent(ctx context.Context, ev types.Event) error
	QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error)
	Close() error
}

// Matches reports whether ev satisfies every filter set on q. Limit, Offset
// and ordering are applied separately by Page.
func Matches(ev types.Event, q types.EventQuery) bool {
	if q.ExecID != "" && ev.ExecID != q.ExecID {
		return false
	}
	if len(q.Types) > 0 && !slices.Contains(q.Types, ev.Type) {
		return false
	}
	if q.Since != nil && ev.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && ev.Timestamp.After(*q.Until) {
		return false
	}
	if q.Decision != nil && (ev.Policy == nil || ev.Policy.Decision != *q.Decision) {
		return false
	}
	if q.CommandLike != "" && !strings.Contains(ev.Command, q.CommandLike) {
		return false
	}
	if q.TextLike != "" {
		hit := strings.Contains(ev.Command, q.TextLike) || strings.Contains(ev.Type, q.TextLike)
		if !hit && ev.Policy != nil {
			hit = strings.Contains(ev.Policy.Message, q.TextLike)
		}
		if !hit {
			return false
		}
	}
	return true
}

// Page orders events by timestamp (newest first unless q.Asc) and applies
// q.Offset and q.Limit.
func Page(events []types.Event, q types.EventQuery) []types.Event {
	sort.SliceStable(events, func(i, j int) bool {
		if q.Asc {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			return nil
		}
		events = events[q.Offset:]
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return events
}
