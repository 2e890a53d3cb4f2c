// Package sqlite stores audit events in a local SQLite database and serves
// the queries behind "artisan-mcp audit".
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artisan-mcp/artisan-mcp/pkg/types"
	_ "modernc.org/sqlite"
)

const (
	defaultQueryLimit = 200
	maxQueryLimit     = 5000
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			ts_unix_ns INTEGER NOT NULL,
			exec_id TEXT,
			type TEXT NOT NULL,
			source TEXT,
			command TEXT,
			pid INTEGER,
			exit_code INTEGER,
			duration_ms INTEGER,
			policy_decision TEXT,
			policy_rule TEXT,
			payload_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_exec ON events(exec_id);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts_unix_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_events_decision_ts ON events(policy_decision, ts_unix_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, ev types.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var policyDecision, policyRule string
	if ev.Policy != nil {
		policyDecision = string(ev.Policy.Decision)
		policyRule = ev.Policy.Rule
	}
	var exitCode any
	if ev.ExitCode != nil {
		exitCode = *ev.ExitCode
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events(
			event_id, ts_unix_ns, exec_id, type, source, command,
			pid, exit_code, duration_ms,
			policy_decision, policy_rule, payload_json
		) VALUES(?,?,?,?,?,?,?,?,?,?,?,?);`,
		ev.ID,
		ev.Timestamp.UTC().UnixNano(),
		nullable(ev.ExecID),
		ev.Type,
		nullable(ev.Source),
		nullable(ev.Command),
		nullableInt(ev.PID),
		exitCode,
		ev.DurationMs,
		nullable(policyDecision),
		nullable(policyRule),
		string(b),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.Event, error) {
	where, args := buildWhere(q)

	order := "DESC"
	if q.Asc {
		order = "ASC"
	}
	limit := q.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = defaultQueryLimit
	}
	offset := max(q.Offset, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM events WHERE `+where+` ORDER BY ts_unix_ns `+order+`, rowid `+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev types.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query events rows: %w", err)
	}
	return out, nil
}

// CountByType tallies events matching q per event type. Limit, Offset and
// ordering are ignored.
func (s *Store) CountByType(ctx context.Context, q types.EventQuery) (map[string]int, error) {
	where, args := buildWhere(q)
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*) FROM events WHERE `+where+` GROUP BY type`, args...)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[typ] = n
	}
	return out, rows.Err()
}

func buildWhere(q types.EventQuery) (string, []any) {
	where := []string{"1=1"}
	var args []any

	if q.ExecID != "" {
		where = append(where, "exec_id = ?")
		args = append(args, q.ExecID)
	}
	if len(q.Types) > 0 {
		place := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			place = append(place, "?")
			args = append(args, t)
		}
		where = append(where, "type IN ("+strings.Join(place, ",")+")")
	}
	if q.Since != nil {
		where = append(where, "ts_unix_ns >= ?")
		args = append(args, q.Since.UTC().UnixNano())
	}
	if q.Until != nil {
		where = append(where, "ts_unix_ns <= ?")
		args = append(args, q.Until.UTC().UnixNano())
	}
	if q.Decision != nil {
		where = append(where, "policy_decision = ?")
		args = append(args, string(*q.Decision))
	}
	if q.CommandLike != "" {
		where = append(where, "command LIKE ?")
		args = append(args, "%"+q.CommandLike+"%")
	}
	if q.TextLike != "" {
		where = append(where, "payload_json LIKE ?")
		args = append(args, "%"+q.TextLike+"%")
	}
	return strings.Join(where, " AND "), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
