package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisan-mcp/artisan-mcp/internal/store"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

type collector struct {
	mu      sync.Mutex
	batches [][]types.Event
	headers []http.Header
}

func (c *collector) handler(t *testing.T, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var batch []types.Event
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Errorf("decode: %v", err)
		}
		c.mu.Lock()
		c.batches = append(c.batches, batch)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status)
	})
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestStore_FlushesOnBatchSize(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t, http.StatusOK))
	defer srv.Close()

	st, err := New(Options{URL: srv.URL, BatchSize: 2, FlushInterval: time.Hour, Headers: map[string]string{"Authorization": "Bearer x"}})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.AppendEvent(ctx, types.Event{ID: "1", Type: types.EventCommandExecuted}))
	assert.Never(t, func() bool { return c.count() > 0 }, 50*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, st.AppendEvent(ctx, types.Event{ID: "2", Type: types.EventCommandRejected}))
	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.batches[0], 2)
	assert.Equal(t, "Bearer x", c.headers[0].Get("Authorization"))
	assert.Equal(t, "artisan-mcp-audit", c.headers[0].Get("User-Agent"))
}

func TestStore_AppendDoesNotWaitForDelivery(t *testing.T) {
	release := make(chan struct{})
	c := &collector{}
	slow := c.handler(t, http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		slow.ServeHTTP(w, r)
	}))
	defer srv.Close()

	st, err := New(Options{URL: srv.URL, BatchSize: 1, FlushInterval: time.Hour, Timeout: 5 * time.Second})
	require.NoError(t, err)

	appended := make(chan error, 1)
	go func() {
		ctx := context.Background()
		for i := range 3 {
			if err := st.AppendEvent(ctx, types.Event{ID: fmt.Sprint(i)}); err != nil {
				appended <- err
				return
			}
		}
		appended <- nil
	}()
	select {
	case err := <-appended:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AppendEvent blocked on a slow webhook")
	}

	close(release)
	require.NoError(t, st.Close())
	total := 0
	c.mu.Lock()
	for _, b := range c.batches {
		total += len(b)
	}
	c.mu.Unlock()
	assert.Equal(t, 3, total)
}

func TestStore_FlushesOnInterval(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t, http.StatusOK))
	defer srv.Close()

	st, err := New(Options{URL: srv.URL, BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.AppendEvent(context.Background(), types.Event{ID: "1"}))
	assert.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStore_CloseFlushesRemainder(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t, http.StatusOK))
	defer srv.Close()

	st, err := New(Options{URL: srv.URL, BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent(context.Background(), types.Event{ID: "1"}))
	require.NoError(t, st.Close())
	assert.Equal(t, 1, c.count())

	require.Error(t, st.AppendEvent(context.Background(), types.Event{ID: "2"}))
	require.NoError(t, st.Close())
}

func TestStore_Non2xxIsError(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c.handler(t, http.StatusBadGateway))
	defer srv.Close()

	st, err := New(Options{URL: srv.URL, BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, st.AppendEvent(context.Background(), types.Event{ID: "1"}))
	err = st.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestStore_QueryUnsupported(t *testing.T) {
	st, err := New(Options{URL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	defer st.Close()
	_, err = st.QueryEvents(context.Background(), types.EventQuery{})
	assert.True(t, errors.Is(err, store.ErrQueryUnsupported))
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
