// Package dryrun implements the platform actor port as a rehearsal
// stand-in: it sleeps a plausible amount of time and reports success or
// a simulated failure, without touching any real platform. Useful for
// tuning plans, quotas and recovery behavior before wiring an account
// to production credentials.
package dryrun

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/decision"
	"github.com/circadianhq/circadian/internal/port/platform"
)

const actorName = "dryrun"

// ErrSimulated marks a rehearsal failure injected by the failure rate.
var ErrSimulated = errors.New("dryrun: simulated failure")

// Actor simulates platform actions. Safe for concurrent use by all
// account loops.
type Actor struct {
	minLatency  time.Duration
	maxLatency  time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a rehearsal actor. failureRate in [0,1] injects random
// failures so recovery paths get exercised; seed 0 uses a time-based
// sequence.
func New(minLatency, maxLatency time.Duration, failureRate float64, seed int64) *Actor {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &Actor{
		minLatency:  minLatency,
		maxLatency:  maxLatency,
		failureRate: failureRate,
		rng:         rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// Name identifies this actor.
func (a *Actor) Name() string { return actorName }

// Perform pretends to execute the activity: wait a sampled latency,
// then succeed or fail per the failure rate. Cancellation during the
// wait aborts the attempt.
func (a *Actor) Perform(ctx context.Context, act activity.Planned, dec decision.Result) (platform.Outcome, error) {
	delay, fail := a.sample()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return platform.Outcome{}, ctx.Err()
	}

	if fail {
		return platform.Outcome{}, fmt.Errorf("%w: %s", ErrSimulated, act.Type)
	}

	detail := fmt.Sprintf("rehearsed %s in %s", act.Type, delay.Round(time.Millisecond))
	if dec.Kind == decision.KindGenerate && dec.Text != "" {
		detail = fmt.Sprintf("%s: %.60q", detail, dec.Text)
	}
	return platform.Outcome{Detail: detail}, nil
}

func (a *Actor) sample() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delay := a.minLatency
	if span := a.maxLatency - a.minLatency; span > 0 {
		delay += time.Duration(a.rng.Int64N(int64(span) + 1))
	}
	return delay, a.rng.Float64() < a.failureRate
}
