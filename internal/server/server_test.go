//go:build !windows

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/executor"
	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
	"github.com/artisan-mcp/artisan-mcp/internal/store/sqlite"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

type shLocator struct{}

func (shLocator) Locate(string) (string, error) { return "/bin/sh", nil }

type missingLocator struct{}

func (missingLocator) Locate(name string) (string, error) {
	return "", &executor.EnvironmentError{Kind: executor.ExecutableNotFound, Name: name}
}

// fakeProject writes an "artisan" script that /bin/sh can run in place of PHP.
func fakeProject(t *testing.T, prefixes ...string) *config.GatewayConfig {
	t.Helper()
	dir := t.TempDir()
	script := "if [ \"$1\" = list ]; then echo 'Available commands:'; exit 0; fi\necho \"ran $*\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artisan"), []byte(script), 0o755))
	cfg, err := config.NewGatewayConfig(dir, prefixes)
	require.NoError(t, err)
	return cfg
}

func settingsFrom(t *testing.T, yaml string) *config.Settings {
	t.Helper()
	s, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestServer_HTTPEndToEnd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	settings := settingsFrom(t, fmt.Sprintf(`
server:
  stdio: {enabled: false}
  http: {enabled: true, addr: "127.0.0.1:0"}
metrics: {enabled: true}
audit:
  enabled: true
  sqlite_path: %q
`, dbPath))

	srv, err := New(context.Background(), Options{
		Settings:       settings,
		Gateway:        fakeProject(t, "cache:"),
		Version:        "test",
		GatewayOptions: []gateway.Option{gateway.WithLocator(shLocator{})},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	base := "http://" + srv.HTTPAddr()
	resp, err := http.Post(base+"/mcp", "application/json", strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_artisan","arguments":{"command":"cache:clear --tag='a b'"}}}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rpc struct {
		Result struct {
			Content []struct{ Text string } `json:"content"`
			IsError bool                    `json:"isError"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(body, &rpc))
	assert.False(t, rpc.Result.IsError)
	require.Len(t, rpc.Result.Content, 1)
	assert.Equal(t, "ran cache:clear --tag=a b\n", rpc.Result.Content[0].Text)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metricsBody), `artisan_mcp_replies_total{operation="run_artisan",status="ok"} 1`)
	assert.Contains(t, string(metricsBody), "artisan_mcp_whitelist_entries 1")
	assert.Contains(t, string(metricsBody), `artisan_mcp_events_by_type_total{type="command_executed"} 1`)

	resp, err = http.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.NoError(t, srv.Close())

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	evs, err := db.QueryEvents(context.Background(), types.EventQuery{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, types.EventCommandExecuted, evs[0].Type)
	assert.Equal(t, "http", evs[0].Source)
}

func TestServer_StdioStopsOnEOF(t *testing.T) {
	jsonlPath := filepath.Join(t.TempDir(), "audit.jsonl")
	settings := settingsFrom(t, fmt.Sprintf(`
audit:
  enabled: true
  jsonl: {path: %q}
`, jsonlPath))

	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_artisan","arguments":{"command":"migrate:fresh"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_all_artisan_commands"}}`,
	}, "\n") + "\n"
	var out bytes.Buffer

	srv, err := New(context.Background(), Options{
		Settings:       settings,
		Gateway:        fakeProject(t, "cache:clear"),
		Version:        "test",
		Stdin:          strings.NewReader(in),
		Stdout:         &out,
		GatewayOptions: []gateway.Option{gateway.WithLocator(shLocator{})},
	})
	require.NoError(t, err)
	require.Empty(t, srv.HTTPAddr())

	require.NoError(t, srv.Run(context.Background()))
	require.NoError(t, srv.Close())

	text := out.String()
	assert.Contains(t, text, `Error: Command 'migrate:fresh' is not whitelisted. Allowed commands: cache:clear`)
	assert.Contains(t, text, `Available commands:\n`)

	raw, err := os.ReadFile(jsonlPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "\n"))
	assert.Contains(t, string(raw), `"type":"command_rejected"`)
}

func TestNew_MissingInterpreterIsFatal(t *testing.T) {
	_, err := New(context.Background(), Options{
		Settings:       settingsFrom(t, ""),
		Gateway:        fakeProject(t),
		GatewayOptions: []gateway.Option{gateway.WithLocator(missingLocator{})},
	})
	require.Error(t, err)
	var envErr *executor.EnvironmentError
	require.True(t, errors.As(err, &envErr))
	assert.Equal(t, executor.ExecutableNotFound, envErr.Kind)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}

func TestOpenAuditStore_Disabled(t *testing.T) {
	st, err := OpenAuditStore(context.Background(), config.AuditConfig{}, nil, "")
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = OpenAuditStore(context.Background(), config.AuditConfig{Enabled: true}, nil, "")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestOpenAuditStore_BadOTELPattern(t *testing.T) {
	cfg := config.AuditConfig{Enabled: true}
	cfg.OTEL.Enabled = true
	cfg.OTEL.Endpoint = "127.0.0.1:4317"
	cfg.OTEL.Protocol = "grpc"
	cfg.OTEL.IncludeTypes = []string{"command_[x"}
	_, err := OpenAuditStore(context.Background(), cfg, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.otel")
}

func TestOpenAuditStore_IntegrityChain(t *testing.T) {
	t.Setenv("ARTISAN_MCP_TEST_HMAC", "0123456789abcdef0123456789abcdef")
	cfg := config.AuditConfig{Enabled: true}
	cfg.JSONL.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Integrity = config.AuditIntegrityConfig{Enabled: true, KeyEnv: "ARTISAN_MCP_TEST_HMAC"}

	ctx := context.Background()
	st, err := OpenAuditStore(ctx, cfg, nil, "test")
	require.NoError(t, err)
	for _, cmd := range []string{"route:list", "about"} {
		require.NoError(t, st.AppendEvent(ctx, types.Event{
			ID: cmd, Timestamp: time.Now().UTC(), Type: types.EventCommandExecuted, Command: cmd,
		}))
	}
	require.NoError(t, st.Close())

	// Reopening continues the chain from the stored head.
	st, err = OpenAuditStore(ctx, cfg, nil, "test")
	require.NoError(t, err)
	require.NoError(t, st.AppendEvent(ctx, types.Event{
		ID: "third", Timestamp: time.Now().UTC(), Type: types.EventCommandRejected, Command: "db:wipe",
	}))
	evs, err := st.QueryEvents(ctx, types.EventQuery{})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.Len(t, evs, 3)

	chain, err := NewAuditChain(cfg.Integrity)
	require.NoError(t, err)
	n, err := chain.Verify(evs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestOpenAuditStore_IntegrityMissingKey(t *testing.T) {
	cfg := config.AuditConfig{Enabled: true}
	cfg.JSONL.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	cfg.Integrity = config.AuditIntegrityConfig{Enabled: true, KeyEnv: "ARTISAN_MCP_TEST_HMAC_UNSET"}
	_, err := OpenAuditStore(context.Background(), cfg, nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.integrity")
}

func TestIsLoopbackListenAddr(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:80":   true,
		"[::1]:9000":     true,
		":8080":          false,
		"0.0.0.0:8080":   false,
		"example.com:80": false,
		"":               false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, isLoopbackListenAddr(addr), addr)
	}
}
