package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artisan-mcp/artisan-mcp/internal/audit"
	"github.com/artisan-mcp/artisan-mcp/internal/config"
	"github.com/artisan-mcp/artisan-mcp/internal/server"
	"github.com/artisan-mcp/artisan-mcp/internal/store"
	"github.com/artisan-mcp/artisan-mcp/internal/store/jsonl"
	"github.com/artisan-mcp/artisan-mcp/internal/store/sqlite"
	"github.com/artisan-mcp/artisan-mcp/pkg/types"
)

// verifyPageSize stays within the SQLite store's per-query cap.
const verifyPageSize = 5000

func newAuditVerifyCmd() *cobra.Command {
	var (
		dbPath    string
		jsonlPath string
		keyFile   string
		keyEnv    string
		algorithm string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the HMAC chain of the audit log",
		Long: `Check the HMAC chain of the audit log.

Reads every event from the SQLite database (or the JSONL log with --jsonl)
and fails with exit code 2 on the first event that does not fit the chain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			ic := settings.Audit.Integrity
			if keyFile != "" || keyEnv != "" {
				ic.KeyFile, ic.KeyEnv = keyFile, keyEnv
			}
			if algorithm != "" {
				ic.Algorithm = algorithm
			}
			chain, err := server.NewAuditChain(ic)
			if err != nil {
				return err
			}

			st, err := openForVerify(settings.Audit, dbPath, jsonlPath)
			if err != nil {
				return err
			}
			defer st.Close()

			evs, err := readAll(cmd.Context(), st)
			if err != nil {
				return err
			}
			n, err := chain.Verify(evs)
			if errors.Is(err, audit.ErrBrokenChain) {
				return NewExitError(exitChainBroken, err.Error())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %d events\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite audit database (default: audit.sqlite_path)")
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "JSONL audit log to verify instead of SQLite")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "HMAC key file (default: audit.integrity.key_file)")
	cmd.Flags().StringVar(&keyEnv, "key-env", "", "Environment variable holding the HMAC key (default: audit.integrity.key_env)")
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "hmac-sha256 or hmac-sha512 (default: audit.integrity.algorithm)")
	return cmd
}

func openForVerify(cfg config.AuditConfig, dbPath, jsonlPath string) (store.EventStore, error) {
	if jsonlPath == "" && dbPath == "" && cfg.SQLitePath == "" {
		jsonlPath = cfg.JSONL.Path
	}
	if jsonlPath != "" {
		if err := requireLog(jsonlPath); err != nil {
			return nil, err
		}
		return jsonl.New(jsonlPath, cfg.JSONL.MaxSizeMB, cfg.JSONL.MaxBackups)
	}
	if dbPath == "" {
		dbPath = cfg.SQLitePath
	}
	if dbPath == "" {
		return nil, fmt.Errorf("no audit log: set audit.sqlite_path or audit.jsonl.path, or pass --db or --jsonl")
	}
	if err := requireLog(dbPath); err != nil {
		return nil, err
	}
	return sqlite.Open(dbPath)
}

// requireLog fails for a missing path. Both stores create their file on
// open, which would verify an empty log.
func requireLog(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audit log %s: %w", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("audit log %s is a directory", path)
	}
	return nil
}

func readAll(ctx context.Context, st store.EventStore) ([]types.Event, error) {
	var all []types.Event
	for offset := 0; ; offset += verifyPageSize {
		page, err := st.QueryEvents(ctx, types.EventQuery{Asc: true, Limit: verifyPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < verifyPageSize {
			return all, nil
		}
	}
}
