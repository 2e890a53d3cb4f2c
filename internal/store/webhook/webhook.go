// Package webhook batches audit events and POSTs them as a JSON array.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/artisan-mcp/artisan-mcp/internal/store"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

const userAgent = "artisan-mcp-audit"

type Options struct {
	URL           string
	BatchSize     int
	FlushInterval time.Duration
	Timeout       time.Duration
	Headers       map[string]string
}

// Store buffers events and delivers a batch when BatchSize events are
// pending or FlushInterval has elapsed, whichever comes first. Delivery
// happens on a background goroutine; AppendEvent never waits on the network.
type Store struct {
	opts   Options
	client *http.Client

	mu     sync.Mutex
	buf    []types.Event
	closed bool

	full chan struct{}
	stop chan struct{}
	done chan struct{}
}

func New(opts Options) (*Store, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	opts.Headers = maps.Clone(opts.Headers)

	s := &Store{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		full:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *Store) loop() {
	defer close(s.done)
	t := time.NewTicker(s.opts.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-s.full:
			s.deliver()
		case <-t.C:
			s.deliver()
		}
	}
}

func (s *Store) deliver() {
	batch := s.drain()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	if err := s.flush(ctx, batch); err != nil {
		slog.Warn("webhook audit flush failed", "url", s.opts.URL, "events", len(batch), "error", err)
	}
}

func (s *Store) drain() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.buf
	s.buf = nil
	return batch
}

func (s *Store) AppendEvent(_ context.Context, ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("webhook store closed")
	}
	s.buf = append(s.buf, ev)
	if len(s.buf) >= s.opts.BatchSize {
		select {
		case s.full <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Store) QueryEvents(_ context.Context, _ types.EventQuery) ([]types.Event, error) {
	return nil, fmt.Errorf("webhook: %w", store.ErrQueryUnsupported)
}

// Close stops the interval flusher and delivers whatever is still buffered.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	batch := s.drain()
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
	defer cancel()
	return s.flush(ctx, batch)
}

func (s *Store) flush(ctx context.Context, batch []types.Event) error {
	b, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range s.opts.Headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %s", resp.Status)
	}
	return nil
}
