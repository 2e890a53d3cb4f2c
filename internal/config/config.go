package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds the server knobs that are not part of the gateway core:
// transports, logging, execution limits, audit sinks and metrics. All of it
// is optional; a missing file yields Default().
type Settings struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Execution ExecutionConfig `yaml:"execution"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

type ServerConfig struct {
	Stdio ServerStdioConfig `yaml:"stdio"`
	HTTP  ServerHTTPConfig  `yaml:"http"`
}

type ServerStdioConfig struct {
	// Enabled defaults to true when neither transport is configured.
	Enabled *bool `yaml:"enabled"`
}

type ServerHTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`

	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
	MaxRequestSize string `yaml:"max_request_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ExecutionConfig struct {
	// Interpreter is looked up on PATH for every execution.
	Interpreter string `yaml:"interpreter"`
	// Timeout of zero means commands may run indefinitely.
	Timeout string `yaml:"timeout"`
	// MaxOutput caps each captured stream; empty or "0" means unlimited.
	MaxOutput string `yaml:"max_output"`
}

type AuditConfig struct {
	Enabled    bool                 `yaml:"enabled"`
	JSONL      AuditJSONLConfig     `yaml:"jsonl"`
	SQLitePath string               `yaml:"sqlite_path"`
	Webhook    AuditWebhookConfig   `yaml:"webhook"`
	OTEL       AuditOTELConfig      `yaml:"otel"`
	Integrity  AuditIntegrityConfig `yaml:"integrity"`
}

// AuditIntegrityConfig seals events into an HMAC chain. The key comes from
// key_file, or from the environment variable named by key_env.
type AuditIntegrityConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeyFile   string `yaml:"key_file"`
	KeyEnv    string `yaml:"key_env"`
	Algorithm string `yaml:"algorithm"` // hmac-sha256 | hmac-sha512
}

type AuditJSONLConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type AuditWebhookConfig struct {
	URL           string            `yaml:"url"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
	Timeout       string            `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers"`
}

type AuditOTELConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	Protocol     string            `yaml:"protocol"` // grpc | http
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	IncludeTypes []string          `yaml:"include_types"`
	ExcludeTypes []string          `yaml:"exclude_types"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Path          string `yaml:"path"`
	ReadinessPath string `yaml:"readiness_path"`
}

// DefaultSettingsPaths are searched, in order, when no --config is given.
var DefaultSettingsPaths = []string{"artisan-mcp.yaml", "artisan-mcp.yml"}

// Default returns settings with every default applied and env overrides
// honored.
func Default() *Settings {
	var s Settings
	applyDefaults(&s)
	applyEnvOverrides(&s)
	return &s
}

// Load reads a YAML settings file. An empty path searches
// DefaultSettingsPaths and falls back to Default when none exists.
func Load(path string) (*Settings, error) {
	if path == "" {
		for _, p := range DefaultSettingsPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
		if path == "" {
			s := Default()
			return s, validateSettings(s)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&s)
	applyEnvOverrides(&s)
	if err := validateSettings(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFromBytes parses settings without applying environment overrides.
// This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&s)
	if err := validateSettings(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func applyDefaults(s *Settings) {
	if s.Server.Stdio.Enabled == nil {
		t := !s.Server.HTTP.Enabled
		s.Server.Stdio.Enabled = &t
	}
	if s.Server.HTTP.Addr == "" {
		s.Server.HTTP.Addr = "127.0.0.1:8080"
	}
	if s.Server.HTTP.ReadTimeout == "" {
		s.Server.HTTP.ReadTimeout = "30s"
	}
	if s.Server.HTTP.WriteTimeout == "" {
		s.Server.HTTP.WriteTimeout = "0s"
	}
	if s.Server.HTTP.MaxRequestSize == "" {
		s.Server.HTTP.MaxRequestSize = "1MiB"
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "text"
	}
	if s.Execution.Interpreter == "" {
		s.Execution.Interpreter = "php"
	}
	if s.Execution.Timeout == "" {
		s.Execution.Timeout = "0s"
	}
	if s.Execution.MaxOutput == "" {
		s.Execution.MaxOutput = "0"
	}
	if s.Audit.JSONL.MaxSizeMB <= 0 {
		s.Audit.JSONL.MaxSizeMB = 100
	}
	if s.Audit.JSONL.MaxBackups <= 0 {
		s.Audit.JSONL.MaxBackups = 3
	}
	if s.Audit.Webhook.BatchSize <= 0 {
		s.Audit.Webhook.BatchSize = 100
	}
	if s.Audit.Webhook.FlushInterval == "" {
		s.Audit.Webhook.FlushInterval = "10s"
	}
	if s.Audit.Webhook.Timeout == "" {
		s.Audit.Webhook.Timeout = "5s"
	}
	if s.Audit.Integrity.Algorithm == "" {
		s.Audit.Integrity.Algorithm = "hmac-sha256"
	}
	if s.Audit.OTEL.Protocol == "" {
		s.Audit.OTEL.Protocol = "grpc"
	}
	if s.Metrics.Path == "" {
		s.Metrics.Path = "/metrics"
	}
	if s.Health.Path == "" {
		s.Health.Path = "/health"
	}
	if s.Health.ReadinessPath == "" {
		s.Health.ReadinessPath = "/ready"
	}
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("ARTISAN_MCP_LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
	if v := os.Getenv("ARTISAN_MCP_LOG_FORMAT"); v != "" {
		s.Logging.Format = v
	}
	if v := os.Getenv("ARTISAN_MCP_HTTP_ADDR"); v != "" {
		s.Server.HTTP.Addr = v
		s.Server.HTTP.Enabled = true
	}
	if v := os.Getenv("ARTISAN_MCP_EXEC_TIMEOUT"); v != "" {
		s.Execution.Timeout = v
	}
}

func validateSettings(s *Settings) error {
	switch strings.ToLower(s.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", s.Logging.Level)
	}
	switch strings.ToLower(s.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", s.Logging.Format)
	}
	if _, err := s.ExecutionTimeout(); err != nil {
		return err
	}
	if _, err := s.MaxOutputBytes(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"server.http.read_timeout":     s.Server.HTTP.ReadTimeout,
		"server.http.write_timeout":    s.Server.HTTP.WriteTimeout,
		"audit.webhook.flush_interval": s.Audit.Webhook.FlushInterval,
		"audit.webhook.timeout":        s.Audit.Webhook.Timeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	if _, err := ParseByteSize(s.Server.HTTP.MaxRequestSize); err != nil {
		return fmt.Errorf("invalid server.http.max_request_size: %w", err)
	}
	if s.Audit.OTEL.Enabled {
		switch s.Audit.OTEL.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("invalid audit.otel.protocol %q", s.Audit.OTEL.Protocol)
		}
		if s.Audit.OTEL.Endpoint == "" {
			return fmt.Errorf("audit.otel.endpoint is required when audit.otel.enabled is set")
		}
	}
	if s.Audit.Integrity.Enabled {
		switch s.Audit.Integrity.Algorithm {
		case "hmac-sha256", "hmac-sha512":
		default:
			return fmt.Errorf("invalid audit.integrity.algorithm %q", s.Audit.Integrity.Algorithm)
		}
		if s.Audit.Integrity.KeyFile == "" && s.Audit.Integrity.KeyEnv == "" {
			return fmt.Errorf("audit.integrity requires key_file or key_env")
		}
	}
	if !s.StdioEnabled() && !s.Server.HTTP.Enabled {
		return fmt.Errorf("no transport enabled: set server.stdio.enabled or server.http.enabled")
	}
	return nil
}

func (s *Settings) StdioEnabled() bool {
	return s.Server.Stdio.Enabled != nil && *s.Server.Stdio.Enabled
}

func (s *Settings) ExecutionTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(s.Execution.Timeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid execution.timeout %q", s.Execution.Timeout)
	}
	return d, nil
}

func (s *Settings) MaxOutputBytes() (int64, error) {
	n, err := ParseByteSize(s.Execution.MaxOutput)
	if err != nil {
		return 0, fmt.Errorf("invalid execution.max_output: %w", err)
	}
	return n, nil
}

// Durations already passed validateSettings, so parse errors are impossible.
func mustDuration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

func (c ServerHTTPConfig) ReadTimeoutDuration() time.Duration  { return mustDuration(c.ReadTimeout) }
func (c ServerHTTPConfig) WriteTimeoutDuration() time.Duration { return mustDuration(c.WriteTimeout) }
func (c AuditWebhookConfig) FlushIntervalDuration() time.Duration {
	return mustDuration(c.FlushInterval)
}
func (c AuditWebhookConfig) TimeoutDuration() time.Duration { return mustDuration(c.Timeout) }
