package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	EnvArtisanDirectory    = "ARTISAN_DIRECTORY"
	EnvWhitelistedCommands = "WHITELISTED_COMMANDS"

	// EntryScriptName is the front controller every command is run through.
	EntryScriptName = "artisan"
)

// ConfigErrorKind classifies startup configuration failures.
type ConfigErrorKind int

const (
	MissingDirectory ConfigErrorKind = iota + 1
	DirectoryNotFound
	EntryScriptNotFound
)

func (k ConfigErrorKind) String() string {
	switch k {
	case MissingDirectory:
		return "missing_directory"
	case DirectoryNotFound:
		return "directory_not_found"
	case EntryScriptNotFound:
		return "entry_script_not_found"
	default:
		return "unknown"
	}
}

var (
	ErrMissingDirectory    = errors.New(EnvArtisanDirectory + " must be provided in configuration")
	ErrDirectoryNotFound   = errors.New("directory not found")
	ErrEntryScriptNotFound = errors.New("artisan not found")
)

// ConfigurationError is fatal: a gateway that returns one must not serve.
type ConfigurationError struct {
	Kind ConfigErrorKind
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	switch e.Kind {
	case MissingDirectory:
		return ErrMissingDirectory.Error()
	case DirectoryNotFound:
		return fmt.Sprintf("directory not found: %s", e.Path)
	case EntryScriptNotFound:
		return fmt.Sprintf("artisan not found at: %s", e.Path)
	}
	return fmt.Sprintf("invalid configuration: %s", e.Path)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool {
	switch target {
	case ErrMissingDirectory:
		return e.Kind == MissingDirectory
	case ErrDirectoryNotFound:
		return e.Kind == DirectoryNotFound
	case ErrEntryScriptNotFound:
		return e.Kind == EntryScriptNotFound
	}
	return false
}

// GatewayConfig is the validated, read-only gateway configuration. It is
// built once by Initialize and never mutated afterwards.
type GatewayConfig struct {
	workingDirectory string
	entryScriptPath  string
	allowedPrefixes  []string
}

func (c *GatewayConfig) WorkingDirectory() string { return c.workingDirectory }
func (c *GatewayConfig) EntryScriptPath() string  { return c.entryScriptPath }

// AllowedPrefixes returns a copy of the allow-list in configuration order.
func (c *GatewayConfig) AllowedPrefixes() []string {
	return append([]string(nil), c.allowedPrefixes...)
}

func (c *GatewayConfig) Equal(o *GatewayConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.workingDirectory == o.workingDirectory &&
		c.entryScriptPath == o.entryScriptPath &&
		slices.Equal(c.allowedPrefixes, o.allowedPrefixes)
}

// NewGatewayConfig validates dir and builds a config from already-parsed
// prefixes. Initialize is the usual entry point.
func NewGatewayConfig(dir string, prefixes []string) (*GatewayConfig, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, &ConfigurationError{Kind: MissingDirectory}
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return nil, &ConfigurationError{Kind: DirectoryNotFound, Path: dir, Err: err}
	}
	script := filepath.Join(dir, EntryScriptName)
	st, err = os.Stat(script)
	if err != nil || !st.Mode().IsRegular() {
		return nil, &ConfigurationError{Kind: EntryScriptNotFound, Path: script, Err: err}
	}
	return &GatewayConfig{
		workingDirectory: dir,
		entryScriptPath:  script,
		allowedPrefixes:  append([]string{}, prefixes...),
	}, nil
}

// Initialize reads the gateway configuration from env.
func Initialize(env map[string]string) (*GatewayConfig, error) {
	cfg, err := NewGatewayConfig(env[EnvArtisanDirectory], ParseWhitelist(env[EnvWhitelistedCommands]))
	if err != nil {
		return nil, err
	}
	slog.Info("loaded configuration",
		"artisan_directory", cfg.workingDirectory,
		"whitelisted_commands", cfg.allowedPrefixes)
	return cfg, nil
}

// ParseWhitelist splits a comma-separated allow-list, trimming each entry
// and dropping empty ones.
func ParseWhitelist(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EnvironMap converts os.Environ-style entries into a map. Later duplicates win.
func EnvironMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}
