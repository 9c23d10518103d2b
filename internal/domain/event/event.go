// Package event defines the audit trail entry written for every activity
// attempt, whatever its outcome.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/decision"
)

// Outcome classifies how an activity attempt ended.
type Outcome string

const (
	OutcomePerformed       Outcome = "performed"
	OutcomeSkippedQuota    Outcome = "skipped_quota"
	OutcomeSkippedScore    Outcome = "skipped_score"
	OutcomeRejectedContent Outcome = "rejected_content"
	OutcomeFailed          Outcome = "failed"
	OutcomeRecovered       Outcome = "recovered"
)

// Action is one audit trail entry. IDs are assigned at creation so the
// same event can be stored, broadcast, and published under one identity.
type Action struct {
	ID      string        `json:"id"`
	Account string        `json:"account"`
	Type    activity.Type `json:"type,omitempty"`
	Outcome Outcome       `json:"outcome"`
	Detail  string        `json:"detail,omitempty"`
	Tier    decision.Tier `json:"tier,omitempty"`
	At      time.Time     `json:"at"`
}

// NewAction creates an audit entry with a fresh ID.
func NewAction(account string, typ activity.Type, outcome Outcome, detail string, tier decision.Tier, at time.Time) Action {
	return Action{
		ID:      uuid.NewString(),
		Account: account,
		Type:    typ,
		Outcome: outcome,
		Detail:  detail,
		Tier:    tier,
		At:      at,
	}
}
