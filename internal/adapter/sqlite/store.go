// Package sqlite implements the store port on an embedded SQLite
// database via modernc.org/sqlite. It is the default store: a single
// file, no server, pure Go.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/circadianhq/circadian/internal/domain"
	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/decision"
	"github.com/circadianhq/circadian/internal/domain/event"
	"github.com/circadianhq/circadian/internal/domain/quota"
	"github.com/circadianhq/circadian/internal/domain/usage"
)

// Store implements store.Store on a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Timestamps are stored as integer unix nanoseconds so
// range scans and ordering never depend on text formats.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serialize writes through one connection; busy_timeout covers the
	// rest. Account loops write concurrently but rarely.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		account    TEXT NOT NULL,
		day        TEXT NOT NULL,
		model      TEXT NOT NULL,
		calls      INTEGER NOT NULL DEFAULT 0,
		tokens_in  INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (account, day, model)
	);

	CREATE TABLE IF NOT EXISTS quota_state (
		account         TEXT NOT NULL,
		action          TEXT NOT NULL,
		win             TEXT NOT NULL,
		count           INTEGER NOT NULL,
		window_start_ns INTEGER NOT NULL,
		PRIMARY KEY (account, action, win)
	);

	CREATE TABLE IF NOT EXISTS action_log (
		id      TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		type    TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		detail  TEXT NOT NULL DEFAULT '',
		tier    TEXT NOT NULL DEFAULT '',
		at_ns   INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_action_log_account_at ON action_log(account, at_ns DESC);
	CREATE INDEX IF NOT EXISTS idx_action_log_at ON action_log(at_ns);

	CREATE TABLE IF NOT EXISTS plan_archive (
		account     TEXT NOT NULL,
		day         TEXT NOT NULL,
		planned     INTEGER NOT NULL,
		executed    INTEGER NOT NULL,
		archived_ns INTEGER NOT NULL,
		PRIMARY KEY (account, day)
	);

	CREATE TABLE IF NOT EXISTS credentials (
		account    TEXT NOT NULL,
		name       TEXT NOT NULL,
		sealed     BLOB NOT NULL,
		updated_ns INTEGER NOT NULL,
		PRIMARY KEY (account, name)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RecordUsage adds one usage increment for (account, day, model).
func (s *Store) RecordUsage(ctx context.Context, account string, rec usage.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (account, day, model, calls, tokens_in, tokens_out)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, day, model) DO UPDATE SET
			calls      = calls + excluded.calls,
			tokens_in  = tokens_in + excluded.tokens_in,
			tokens_out = tokens_out + excluded.tokens_out`,
		account, rec.Day, rec.Model, rec.Calls, rec.TokensIn, rec.TokensOut)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageSummary returns the accumulated usage for one account and day.
func (s *Store) UsageSummary(ctx context.Context, account, day string) ([]usage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, model, calls, tokens_in, tokens_out
		FROM usage_records
		WHERE account = ? AND day = ?
		ORDER BY model`,
		account, day)
	if err != nil {
		return nil, fmt.Errorf("usage summary: %w", err)
	}
	defer rows.Close()

	var recs []usage.Record
	for rows.Next() {
		var r usage.Record
		if err := rows.Scan(&r.Day, &r.Model, &r.Calls, &r.TokensIn, &r.TokensOut); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// SaveQuotaState replaces the persisted counters for the account.
func (s *Store) SaveQuotaState(ctx context.Context, account string, snaps []quota.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM quota_state WHERE account = ?`, account); err != nil {
		return fmt.Errorf("clear quota state: %w", err)
	}
	for _, snap := range snaps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_state (account, action, win, count, window_start_ns)
			VALUES (?, ?, ?, ?, ?)`,
			account, string(snap.Action), string(snap.Window), snap.Count, nanos(snap.WindowStart))
		if err != nil {
			return fmt.Errorf("insert quota state: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	return nil
}

// LoadQuotaState returns the persisted counters for the account. A
// missing account yields an empty slice.
func (s *Store) LoadQuotaState(ctx context.Context, account string) ([]quota.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, win, count, window_start_ns
		FROM quota_state
		WHERE account = ?`,
		account)
	if err != nil {
		return nil, fmt.Errorf("load quota state: %w", err)
	}
	defer rows.Close()

	var snaps []quota.Snapshot
	for rows.Next() {
		var (
			snap    quota.Snapshot
			act     string
			win     string
			startNS int64
		)
		if err := rows.Scan(&act, &win, &snap.Count, &startNS); err != nil {
			return nil, fmt.Errorf("scan quota state: %w", err)
		}
		snap.Action = activity.Type(act)
		snap.Window = quota.Window(win)
		snap.WindowStart = fromNanos(startNS)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// AppendAction appends one audit entry.
func (s *Store) AppendAction(ctx context.Context, ev event.Action) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_log (id, account, type, outcome, detail, tier, at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Account, string(ev.Type), string(ev.Outcome), ev.Detail, string(ev.Tier), ev.At.UnixNano())
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// RecentActions returns the newest audit entries, most recent first.
func (s *Store) RecentActions(ctx context.Context, account string, limit int) ([]event.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, type, outcome, detail, tier, at_ns
		FROM action_log
		WHERE account = ?
		ORDER BY at_ns DESC
		LIMIT ?`,
		account, limit)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer rows.Close()

	var actions []event.Action
	for rows.Next() {
		ev, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, ev)
	}
	return actions, rows.Err()
}

// PruneActions deletes audit entries older than the cutoff.
func (s *Store) PruneActions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM action_log WHERE at_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune actions: %w", err)
	}
	return n, nil
}

// ArchivePlanDay records the summary of a finished plan day. Archiving
// the same day twice keeps the latest numbers.
func (s *Store) ArchivePlanDay(ctx context.Context, account, day string, planned, executed int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_archive (account, day, planned, executed, archived_ns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (account, day) DO UPDATE SET
			planned     = excluded.planned,
			executed    = excluded.executed,
			archived_ns = excluded.archived_ns`,
		account, day, planned, executed, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("archive plan day: %w", err)
	}
	return nil
}

// PutCredential stores a sealed credential blob, replacing any previous
// value under the same name.
func (s *Store) PutCredential(ctx context.Context, account, name string, sealed []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (account, name, sealed, updated_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account, name) DO UPDATE SET
			sealed     = excluded.sealed,
			updated_ns = excluded.updated_ns`,
		account, name, sealed, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential returns a sealed credential blob.
func (s *Store) GetCredential(ctx context.Context, account, name string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT sealed FROM credentials WHERE account = ? AND name = ?`,
		account, name).Scan(&sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get credential %s/%s: %w", account, name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get credential %s/%s: %w", account, name, err)
	}
	return sealed, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAction(row scannable) (event.Action, error) {
	var (
		ev   event.Action
		typ  string
		out  string
		tier string
		atNS int64
	)
	if err := row.Scan(&ev.ID, &ev.Account, &typ, &out, &ev.Detail, &tier, &atNS); err != nil {
		return event.Action{}, fmt.Errorf("scan action: %w", err)
	}
	ev.Type = activity.Type(typ)
	ev.Outcome = event.Outcome(out)
	ev.Tier = decision.Tier(tier)
	ev.At = fromNanos(atNS)
	return ev, nil
}

// nanos maps the zero time to 0 so restored snapshots compare equal.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
