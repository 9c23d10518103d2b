// Package platform defines the port for performing activities against
// the external platform.
package platform

import (
	"context"

	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/decision"
)

// Outcome summarizes a performed activity for the audit trail.
type Outcome struct {
	Detail string
}

// Actor executes a single planned activity. Implementations receive the
// routed decision (score or generated text) and translate the activity
// into concrete platform interaction. Perform honors ctx cancellation
// between steps; an action already in flight completes under the
// implementation's own contract.
type Actor interface {
	// Name identifies the actor implementation (e.g. "dryrun").
	Name() string

	// Perform executes the activity. A non-nil error means the attempt
	// failed; quota accounting only happens on success.
	Perform(ctx context.Context, act activity.Planned, dec decision.Result) (Outcome, error)
}
