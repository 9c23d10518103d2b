// Package store defines the persistence port for usage, quota state,
// the action audit log, plan archives, and sealed credentials.
package store

import (
	"context"
	"time"

	"github.com/circadianhq/circadian/internal/domain/event"
	"github.com/circadianhq/circadian/internal/domain/quota"
	"github.com/circadianhq/circadian/internal/domain/usage"
)

// Store is the persistence port. Implementations must treat usage
// records as increments: flushing the same (day, model) twice adds up.
type Store interface {
	// RecordUsage adds one usage increment for the account.
	RecordUsage(ctx context.Context, account string, rec usage.Record) error

	// UsageSummary returns aggregated usage for the account on one day.
	UsageSummary(ctx context.Context, account, day string) ([]usage.Record, error)

	// SaveQuotaState replaces the persisted quota counters for the account.
	SaveQuotaState(ctx context.Context, account string, snaps []quota.Snapshot) error

	// LoadQuotaState returns the persisted quota counters for the account.
	// A missing account yields an empty slice, not an error.
	LoadQuotaState(ctx context.Context, account string) ([]quota.Snapshot, error)

	// AppendAction appends one audit entry.
	AppendAction(ctx context.Context, ev event.Action) error

	// RecentActions returns the newest audit entries for the account,
	// most recent first.
	RecentActions(ctx context.Context, account string, limit int) ([]event.Action, error)

	// PruneActions deletes audit entries older than the cutoff and
	// returns how many were removed.
	PruneActions(ctx context.Context, before time.Time) (int64, error)

	// ArchivePlanDay records the summary of a finished plan day.
	ArchivePlanDay(ctx context.Context, account, day string, planned, executed int) error

	// PutCredential stores a sealed credential blob for the account.
	PutCredential(ctx context.Context, account, name string, sealed []byte) error

	// GetCredential returns a sealed credential blob. Missing credentials
	// yield domain.ErrNotFound.
	GetCredential(ctx context.Context, account, name string) ([]byte, error)
}
