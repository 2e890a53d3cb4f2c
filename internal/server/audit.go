package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artisan-mcp/artisan-mcp/internal/audit"
	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/metrics"
	storepkg "github.com/artisan-mcp/artisan-mcp/internal/store"
	"github.com/artisan-mcp/artisan-mcp/internal/store/composite"
	"github.com/artisan-mcp/artisan-mcp/internal/store/jsonl"
	"github.com/artisan-mcp/artisan-mcp/internal/store/otel"
	"github.com/artisan-mcp/artisan-mcp/internal/store/sqlite"
	"github.com/artisan-mcp/artisan-mcp/internal/store/webhook"
)

const serviceName = "artisan-mcp"

// OpenAuditStore builds the configured audit sinks. SQLite, when set, is the
// queryable primary; otherwise JSONL is. It returns nil when auditing is
// disabled or no sink is configured.
func OpenAuditStore(ctx context.Context, cfg config.AuditConfig, collector *metrics.Collector, version string) (storepkg.EventStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var opened []storepkg.EventStore
	closeAll := func() {
		for _, s := range opened {
			_ = s.Close()
		}
	}

	var primary storepkg.EventStore
	var others []storepkg.EventStore

	if cfg.SQLitePath != "" {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		opened = append(opened, db)
		primary = db
	}

	if cfg.JSONL.Path != "" {
		j, err := jsonl.New(cfg.JSONL.Path, cfg.JSONL.MaxSizeMB, cfg.JSONL.MaxBackups)
		if err != nil {
			closeAll()
			return nil, err
		}
		opened = append(opened, j)
		if primary == nil {
			primary = j
		} else {
			others = append(others, j)
		}
	}

	if cfg.Webhook.URL != "" {
		w, err := webhook.New(webhook.Options{
			URL:           cfg.Webhook.URL,
			BatchSize:     cfg.Webhook.BatchSize,
			FlushInterval: cfg.Webhook.FlushIntervalDuration(),
			Timeout:       cfg.Webhook.TimeoutDuration(),
			Headers:       cfg.Webhook.Headers,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		opened = append(opened, w)
		others = append(others, w)
	}

	if cfg.OTEL.Enabled {
		filter, err := otel.NewFilter(cfg.OTEL.IncludeTypes, cfg.OTEL.ExcludeTypes)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("audit.otel: %w", err)
		}
		o, err := otel.New(ctx, otel.Config{
			Endpoint: cfg.OTEL.Endpoint,
			Protocol: cfg.OTEL.Protocol,
			Insecure: cfg.OTEL.Insecure,
			Headers:  cfg.OTEL.Headers,
			Filter:   filter,
			Resource: otel.BuildResource(serviceName, version),
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		opened = append(opened, o)
		others = append(others, o)
	}

	if len(opened) == 0 {
		slog.Warn("audit enabled but no sink configured")
		return nil, nil
	}
	var st storepkg.EventStore = composite.New(primary, others...)
	if cfg.Integrity.Enabled {
		chain, err := NewAuditChain(cfg.Integrity)
		if err != nil {
			closeAll()
			return nil, err
		}
		sealed, err := storepkg.NewIntegrityStore(ctx, st, chain)
		if err != nil {
			closeAll()
			return nil, err
		}
		st = sealed
	}
	slog.Info("audit enabled", "sinks", len(opened), "queryable", primary != nil, "integrity", cfg.Integrity.Enabled)
	return metrics.WrapEventStore(st, collector), nil
}

// NewAuditChain loads the configured HMAC key and builds an integrity chain.
func NewAuditChain(cfg config.AuditIntegrityConfig) (*audit.Chain, error) {
	key, err := audit.LoadKey(cfg.KeyFile, cfg.KeyEnv)
	if err != nil {
		return nil, fmt.Errorf("audit.integrity: %w", err)
	}
	chain, err := audit.NewChain(key, cfg.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("audit.integrity: %w", err)
	}
	return chain, nil
}
