package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/decision"
	"github.com/circadianhq/circadian/internal/domain/event"
	"github.com/circadianhq/circadian/internal/domain/quota"
	"github.com/circadianhq/circadian/internal/domain/usage"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordUsage adds one usage increment for (account, day, model).
func (s *Store) RecordUsage(ctx context.Context, account string, rec usage.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (account, day, model, calls, tokens_in, tokens_out)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account, day, model) DO UPDATE SET
			calls      = usage_records.calls + EXCLUDED.calls,
			tokens_in  = usage_records.tokens_in + EXCLUDED.tokens_in,
			tokens_out = usage_records.tokens_out + EXCLUDED.tokens_out`,
		account, rec.Day, rec.Model, rec.Calls, rec.TokensIn, rec.TokensOut)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// UsageSummary returns the accumulated usage for one account and day.
func (s *Store) UsageSummary(ctx context.Context, account, day string) ([]usage.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day, model, calls, tokens_in, tokens_out
		FROM usage_records
		WHERE account = $1 AND day = $2
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
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM quota_state WHERE account = $1`, account); err != nil {
		return fmt.Errorf("clear quota state: %w", err)
	}
	for _, snap := range snaps {
		_, err := tx.Exec(ctx, `
			INSERT INTO quota_state (account, action, win, count, window_start)
			VALUES ($1, $2, $3, $4, $5)`,
			account, string(snap.Action), string(snap.Window), snap.Count, snap.WindowStart.UTC())
		if err != nil {
			return fmt.Errorf("insert quota state: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save quota state: %w", err)
	}
	return nil
}

// LoadQuotaState returns the persisted counters for the account. A
// missing account yields an empty slice.
func (s *Store) LoadQuotaState(ctx context.Context, account string) ([]quota.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action, win, count, window_start
		FROM quota_state
		WHERE account = $1`,
		account)
	if err != nil {
		return nil, fmt.Errorf("load quota state: %w", err)
	}
	defer rows.Close()

	var snaps []quota.Snapshot
	for rows.Next() {
		var (
			snap quota.Snapshot
			act  string
			win  string
		)
		if err := rows.Scan(&act, &win, &snap.Count, &snap.WindowStart); err != nil {
			return nil, fmt.Errorf("scan quota state: %w", err)
		}
		snap.Action = activity.Type(act)
		snap.Window = quota.Window(win)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// AppendAction appends one audit entry.
func (s *Store) AppendAction(ctx context.Context, ev event.Action) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO action_log (id, account, type, outcome, detail, tier, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Account, string(ev.Type), string(ev.Outcome), ev.Detail, string(ev.Tier), ev.At.UTC())
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return nil
}

// RecentActions returns the newest audit entries, most recent first.
func (s *Store) RecentActions(ctx context.Context, account string, limit int) ([]event.Action, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account, type, outcome, detail, tier, at
		FROM action_log
		WHERE account = $1
		ORDER BY at DESC
		LIMIT $2`,
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
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM action_log WHERE at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune actions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ArchivePlanDay records the summary of a finished plan day. Archiving
// the same day twice keeps the latest numbers.
func (s *Store) ArchivePlanDay(ctx context.Context, account, day string, planned, executed int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO plan_archive (account, day, planned, executed, archived_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (account, day) DO UPDATE SET
			planned     = EXCLUDED.planned,
			executed    = EXCLUDED.executed,
			archived_at = EXCLUDED.archived_at`,
		account, day, planned, executed)
	if err != nil {
		return fmt.Errorf("archive plan day: %w", err)
	}
	return nil
}

// PutCredential stores a sealed credential blob, replacing any previous
// value under the same name.
func (s *Store) PutCredential(ctx context.Context, account, name string, sealed []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (account, name, sealed, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account, name) DO UPDATE SET
			sealed     = EXCLUDED.sealed,
			updated_at = EXCLUDED.updated_at`,
		account, name, sealed)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential returns a sealed credential blob.
func (s *Store) GetCredential(ctx context.Context, account, name string) ([]byte, error) {
	var sealed []byte
	err := s.pool.QueryRow(ctx,
		`SELECT sealed FROM credentials WHERE account = $1 AND name = $2`,
		account, name).Scan(&sealed)
	if err != nil {
		return nil, wrapNoRows(err, "get credential %s/%s", account, name)
	}
	return sealed, nil
}

func scanAction(row scannable) (event.Action, error) {
	var (
		ev   event.Action
		typ  string
		out  string
		tier string
	)
	if err := row.Scan(&ev.ID, &ev.Account, &typ, &out, &ev.Detail, &tier, &ev.At); err != nil {
		return event.Action{}, fmt.Errorf("scan action: %w", err)
	}
	ev.Type = activity.Type(typ)
	ev.Outcome = event.Outcome(out)
	ev.Tier = decision.Tier(tier)
	return ev, nil
}
