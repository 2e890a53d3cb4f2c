package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

func execRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	root := NewRoot("1.2.3")
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(bytes.NewReader(nil))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// project creates a Laravel-shaped directory and points the environment at it.
func project(t *testing.T, whitelist string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "artisan"), []byte("<?php\n"), 0o644))
	t.Setenv(config.EnvArtisanDirectory, dir)
	t.Setenv(config.EnvWhitelistedCommands, whitelist)
	return dir
}

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "artisan-mcp.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestVersion(t *testing.T) {
	out, _, err := execRoot(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "artisan-mcp 1.2.3\n", out)
}

func TestExitError(t *testing.T) {
	var nilErr *ExitError
	assert.Equal(t, 1, nilErr.Code())
	assert.Empty(t, nilErr.Message())

	e := NewExitError(3, "")
	assert.Equal(t, "exit status 3", e.Error())
	assert.Equal(t, 3, e.Code())

	e = NewExitError(2, "bad input")
	assert.Equal(t, "bad input", e.Error())
	assert.Equal(t, "bad input", e.Message())
}

func TestWhitelistCommand(t *testing.T) {
	project(t, "route:list, cache:clear,,")
	out, _, err := execRoot(t, "whitelist")
	require.NoError(t, err)
	assert.Contains(t, out, "route:list")
	assert.Contains(t, out, "cache:clear")
}

func TestWhitelistCommandMissingDirectory(t *testing.T) {
	t.Setenv(config.EnvArtisanDirectory, "")
	_, _, err := execRoot(t, "whitelist")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingDirectory)
}

func TestRunRejectedExitsNonZero(t *testing.T) {
	project(t, "route:list")
	cfgPath := writeSettings(t, "logging:\n  level: error\n")

	out, errOut, err := execRoot(t, "--config", cfgPath, "run", "migrate:fresh", "--force")
	require.Error(t, err)

	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 1, ee.Code())
	assert.Empty(t, ee.Message())
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Error: Command 'migrate:fresh --force' is not whitelisted.")
}

func TestRunKeepsArgumentBoundaries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as php")
	}
	project(t, "cache:clear")
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "php"),
		[]byte("#!/bin/sh\nfor a in \"$@\"; do echo \"[$a]\"; done\n"), 0o755))
	t.Setenv("PATH", bin)
	cfgPath := writeSettings(t, "logging:\n  level: error\n")

	out, errOut, err := execRoot(t, "--config", cfgPath, "run", "cache:clear", "--tag=a b")
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "[cache:clear]\n[--tag=a b]\n")

	out, errOut, err = execRoot(t, "--config", cfgPath, "run", "cache:clear --tag=x")
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "[cache:clear]\n[--tag=x]\n")
}

func TestCommandLine(t *testing.T) {
	assert.Equal(t, "route:list --json", commandLine([]string{"route:list --json"}))
	assert.Equal(t, "cache:clear '--tag=a b'", commandLine([]string{"cache:clear", "--tag=a b"}))
}

func TestRunIsAuditedAndQueryable(t *testing.T) {
	project(t, "route:list")
	db := filepath.Join(t.TempDir(), "audit.db")
	cfgPath := writeSettings(t, "logging:\n  level: error\naudit:\n  enabled: true\n  sqlite_path: "+db+"\n")

	_, _, err := execRoot(t, "--config", cfgPath, "run", "db:wipe")
	require.Error(t, err)

	out, _, err := execRoot(t, "--config", cfgPath, "audit", "--json")
	require.NoError(t, err)

	var evs []types.Event
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, types.EventCommandRejected, evs[0].Type)
	assert.Equal(t, "db:wipe", evs[0].Command)
	assert.Equal(t, "cli", evs[0].Source)

	out, _, err = execRoot(t, "audit", "--db", db, "--counts")
	require.NoError(t, err)
	assert.Contains(t, out, types.EventCommandRejected)

	out, _, err = execRoot(t, "audit", "--db", db, "--type", types.EventCommandExecuted)
	require.NoError(t, err)
	assert.NotContains(t, out, "db:wipe")
}

func TestAuditRequiresDatabase(t *testing.T) {
	cfgPath := writeSettings(t, "logging:\n  level: error\n")
	_, _, err := execRoot(t, "--config", cfgPath, "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no audit database")
}

func TestConfigShow(t *testing.T) {
	cfgPath := writeSettings(t, "logging:\n  level: debug\nexecution:\n  timeout: 30s\n")
	out, _, err := execRoot(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
	assert.Contains(t, out, "timeout: 30s")
	assert.Contains(t, out, "interpreter: php")
}

func TestConfigCheck(t *testing.T) {
	dir := project(t, "route:list,about")
	cfgPath := writeSettings(t, "logging:\n  level: error\n")
	out, _, err := execRoot(t, "--config", cfgPath, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "directory: "+dir)
	assert.Contains(t, out, "whitelist: 2 prefixes")
}

func TestApplyTransportFlags(t *testing.T) {
	s, err := config.LoadFromBytes(nil)
	require.NoError(t, err)
	require.True(t, s.StdioEnabled())

	require.NoError(t, applyTransportFlags(s, false, ""))
	assert.True(t, s.StdioEnabled())
	assert.False(t, s.Server.HTTP.Enabled)

	require.NoError(t, applyTransportFlags(s, false, "127.0.0.1:9000"))
	assert.False(t, s.StdioEnabled())
	assert.True(t, s.Server.HTTP.Enabled)
	assert.Equal(t, "127.0.0.1:9000", s.Server.HTTP.Addr)

	require.NoError(t, applyTransportFlags(s, true, "127.0.0.1:9001"))
	assert.True(t, s.StdioEnabled())
	assert.True(t, s.Server.HTTP.Enabled)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	buf.Reset()
	l = newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	l.Debug("dbg")
	assert.Contains(t, buf.String(), "msg=dbg")
}

func TestServeRejectsMissingProject(t *testing.T) {
	t.Setenv(config.EnvArtisanDirectory, filepath.Join(t.TempDir(), "missing"))
	cfgPath := writeSettings(t, "logging:\n  level: error\n")
	_, _, err := execRoot(t, "--config", cfgPath, "serve", "--stdio")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrDirectoryNotFound)
}

func TestAuditVerify(t *testing.T) {
	project(t, "route:list")
	db := filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("ARTISAN_MCP_TEST_HMAC", "0123456789abcdef0123456789abcdef")
	cfgPath := writeSettings(t, "logging:\n  level: error\naudit:\n  enabled: true\n  sqlite_path: "+db+
		"\n  integrity:\n    enabled: true\n    key_env: ARTISAN_MCP_TEST_HMAC\n")

	for _, cmd := range []string{"db:wipe", "migrate:fresh"} {
		_, _, err := execRoot(t, "--config", cfgPath, "run", cmd)
		require.Error(t, err)
	}

	out, _, err := execRoot(t, "--config", cfgPath, "audit", "verify")
	require.NoError(t, err)
	assert.Equal(t, "verified 2 events\n", out)

	t.Setenv("ARTISAN_MCP_TEST_OTHER_KEY", "ffffffffffffffffffffffffffffffff")
	_, _, err = execRoot(t, "--config", cfgPath, "audit", "verify", "--key-env", "ARTISAN_MCP_TEST_OTHER_KEY")
	var ee *ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.Code())
	assert.Contains(t, ee.Message(), "entry hash mismatch")
}

func TestAuditVerifyMissingLog(t *testing.T) {
	project(t, "route:list")
	t.Setenv("ARTISAN_MCP_TEST_HMAC", "0123456789abcdef0123456789abcdef")
	cfgPath := writeSettings(t, "logging:\n  level: error\naudit:\n  integrity:\n    key_env: ARTISAN_MCP_TEST_HMAC\n")
	dir := t.TempDir()

	for _, flag := range []string{"--jsonl", "--db"} {
		t.Run(flag, func(t *testing.T) {
			missing := filepath.Join(dir, "typo"+flag)
			out, _, err := execRoot(t, "--config", cfgPath, "audit", "verify", flag, missing)
			require.Error(t, err)
			assert.ErrorIs(t, err, os.ErrNotExist)
			assert.NotContains(t, out, "verified")
			assert.NoFileExists(t, missing)
		})
	}
}
