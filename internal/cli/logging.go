package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/artisan-mcp/artisan-mcp/internal/config"
)

// newLogger builds a logger for cfg. Settings were validated on load, so
// unknown values fall back to info/text.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadSettings reads the settings file named by --config and installs the
// default logger. Logs go to stderr because stdout may carry the protocol.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(settings.Logging, cmd.ErrOrStderr()))
	return settings, nil
}
