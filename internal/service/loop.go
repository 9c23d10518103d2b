package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/circadianhq/circadian/internal/adapter/otel"
	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/account"
	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/decision"
	"github.com/circadianhq/circadian/internal/domain/event"
	"github.com/circadianhq/circadian/internal/domain/persona"
	"github.com/circadianhq/circadian/internal/domain/quota"
	"github.com/circadianhq/circadian/internal/domain/usage"
	"github.com/circadianhq/circadian/internal/port/broadcast"
	"github.com/circadianhq/circadian/internal/port/notifier"
	"github.com/circadianhq/circadian/internal/port/platform"
	"github.com/circadianhq/circadian/internal/port/session"
	"github.com/circadianhq/circadian/internal/port/store"
	"github.com/circadianhq/circadian/internal/resilience"
)

// ErrRecoveryFailed marks a loop exit caused by an unrecoverable
// session: the restart either failed or was rejected by the breaker.
var ErrRecoveryFailed = errors.New("session recovery failed")

// State is the loop's lifecycle phase, visible through the status API.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateSleeping   State = "sleeping"
	StateExecuting  State = "executing"
	StateRecovering State = "recovering"
	StateStopped    State = "stopped"
)

// planner and decider are the loop's seams to the scheduler and brain.
type planner interface {
	Next(ctx context.Context) Slot
	MarkExecuted(*activity.Planned)
	PlanSnapshot() activity.DailyPlan
}

type decider interface {
	Decide(ctx context.Context, req decision.Request) decision.Result
	UsageToday() []usage.Record
}

// Loop drives one account through its daily plan: wake, pick the next
// entry, check quota, consult the brain, validate content, act, audit.
// Consecutive failures trigger a single breaker-guarded session restart;
// if that fails the loop exits with ErrRecoveryFailed.
type Loop struct {
	acct     account.Account
	cfg      config.Loop
	sched    planner
	quotas   *QuotaSupervisor
	brain    decider
	guard    persona.Guard
	actor    platform.Actor
	session  session.Lifecycle // nil when the account runs actor-only
	breaker  *resilience.Breaker
	store    store.Store
	notify   notifier.Notifier     // nil disables operator notifications
	bcast    broadcast.Broadcaster // nil disables live events
	metrics  *cotel.Metrics        // nil disables instrumentation
	rng      *Rand
	log      *slog.Logger
	now      func() time.Time // for testing
	personaS string           // prebuilt system prompt

	mu        sync.Mutex
	state     State
	startedAt time.Time
	lastActAt time.Time // most recent successful Perform
	errCount  int
	lastErr   string
}

// LoopDeps bundles the collaborators a Loop needs.
type LoopDeps struct {
	Account   account.Account
	Config    config.Loop
	Scheduler *Scheduler
	Quotas    *QuotaSupervisor
	Brain     *Brain
	Actor     platform.Actor
	Session   session.Lifecycle
	Breaker   *resilience.Breaker
	Store     store.Store
	Notifier  notifier.Notifier
	Broadcast broadcast.Broadcaster
	Metrics   *cotel.Metrics
	Rand      *Rand
	Log       *slog.Logger
}

// NewLoop assembles a loop for one account.
func NewLoop(d LoopDeps) *Loop {
	return &Loop{
		acct:     d.Account,
		cfg:      d.Config,
		sched:    d.Scheduler,
		quotas:   d.Quotas,
		brain:    d.Brain,
		guard:    persona.NewGuard(d.Account.Persona.Guard),
		actor:    d.Actor,
		session:  d.Session,
		breaker:  d.Breaker,
		store:    d.Store,
		notify:   d.Notifier,
		bcast:    d.Broadcast,
		metrics:  d.Metrics,
		rng:      d.Rand,
		log:      d.Log.With("account", d.Account.ID),
		now:      time.Now,
		personaS: systemPrompt(d.Account.Persona),
		state:    StateIdle,
	}
}

// Status is a point-in-time view of the loop for the status API.
type Status struct {
	Account           string    `json:"account"`
	Handle            string    `json:"handle"`
	State             State     `json:"state"`
	StartedAt         time.Time `json:"started_at,omitzero"`
	LastActivityAt    time.Time `json:"last_activity_at,omitzero"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
	BreakerState      string    `json:"breaker_state"`
	PlanDate          string    `json:"plan_date,omitempty"`
	PlanRemaining     int       `json:"plan_remaining"`
	PlanExecuted      int       `json:"plan_executed"`
}

// Status reports the loop's current state.
func (l *Loop) Status() Status {
	l.mu.Lock()
	st := Status{
		Account:           l.acct.ID,
		Handle:            l.acct.Handle,
		State:             l.state,
		StartedAt:         l.startedAt,
		LastActivityAt:    l.lastActAt,
		ConsecutiveErrors: l.errCount,
		LastError:         l.lastErr,
	}
	l.mu.Unlock()

	st.BreakerState = l.breaker.State()
	plan := l.sched.PlanSnapshot()
	if !plan.Date.IsZero() {
		st.PlanDate = plan.Date.Format(usage.DayFormat)
		st.PlanRemaining = plan.Remaining()
		st.PlanExecuted = plan.ExecutedCount()
	}
	return st
}

// QuotaSnapshot exposes the loop's current quota counters.
func (l *Loop) QuotaSnapshot() []quota.Snapshot {
	return l.quotas.Snapshot()
}

// Plan exposes a copy of the loop's current daily plan.
func (l *Loop) Plan() activity.DailyPlan {
	return l.sched.PlanSnapshot()
}

// Usage exposes today's in-memory usage ledger.
func (l *Loop) Usage() []usage.Record {
	return l.brain.UsageToday()
}

// Run drives the loop until ctx is cancelled (clean stop, returns nil)
// or recovery fails (returns an error wrapping ErrRecoveryFailed). On
// exit the quota state is flushed with a fresh bounded context.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.startedAt = l.now()
	l.mu.Unlock()
	l.setState(ctx, StateRunning)
	defer l.flush()
	defer l.setState(context.Background(), StateStopped)

	if l.session != nil {
		if err := l.session.Start(ctx); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer func() {
			if err := l.session.Close(); err != nil {
				l.log.Warn("close session", "error", err)
			}
		}()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		slot := l.sched.Next(ctx)
		if slot.Sleep {
			l.setState(ctx, StateSleeping)
			if err := l.sleepUntil(ctx, slot.ResumeAt); err != nil {
				return nil
			}
			l.setState(ctx, StateRunning)
			continue
		}

		l.setState(ctx, StateExecuting)
		performed, err := l.execute(ctx, slot.Entry)
		l.sched.MarkExecuted(slot.Entry)
		l.setState(ctx, StateRunning)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if fatal := l.noteFailure(ctx, err); fatal != nil {
				return fatal
			}
		} else if performed {
			// Skips are neutral: only a completed action proves the
			// session recovered.
			l.resetErrors()
		}

		if err := l.pause(ctx); err != nil {
			return nil
		}
	}
}

// execute runs one plan entry end to end. performed reports whether
// the action reached the platform; quota denials, low scores and guard
// rejections are audited skips with performed=false and no error.
func (l *Loop) execute(ctx context.Context, entry *activity.Planned) (performed bool, err error) {
	ctx, span := cotel.StartActivitySpan(ctx, l.acct.ID, string(entry.Type))
	defer span.End()

	if ok, denied := l.quotas.Allow(entry.Type); !ok {
		l.log.Info("quota window closed", "type", entry.Type, "window", denied)
		l.audit(ctx, entry.Type, event.OutcomeSkippedQuota, fmt.Sprintf("%s window cap reached", denied), "")
		if l.metrics != nil {
			l.metrics.QuotaRejections.Add(ctx, 1, metric.WithAttributes(
				attribute.String("action", string(entry.Type)),
				attribute.String("window", string(denied))))
		}
		return false, nil
	}

	dec, skip, err := l.decide(ctx, entry)
	if err != nil {
		return false, err
	}
	if skip {
		return false, nil
	}

	out, err := l.actor.Perform(ctx, *entry, dec)
	if err != nil {
		l.audit(ctx, entry.Type, event.OutcomeFailed, err.Error(), dec.Tier)
		if l.metrics != nil {
			l.metrics.ActivitiesFailed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("type", string(entry.Type))))
		}
		return false, fmt.Errorf("perform %s: %w", entry.Type, err)
	}

	l.quotas.Record(entry.Type)
	l.mu.Lock()
	l.lastActAt = l.now()
	l.mu.Unlock()
	l.audit(ctx, entry.Type, event.OutcomePerformed, out.Detail, dec.Tier)
	l.broadcastQuota(ctx)
	if l.metrics != nil {
		l.metrics.ActivitiesPerformed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", string(entry.Type))))
	}
	return true, nil
}

// decide consults the brain for entries that need it. skip=true means
// the entry was audited as skipped and must not be performed.
func (l *Loop) decide(ctx context.Context, entry *activity.Planned) (dec decision.Result, skip bool, err error) {
	kind, tier, needed := routeFor(entry.Type)
	if !needed {
		return decision.Result{}, false, nil
	}

	switch kind {
	case decision.KindScore:
		dec = l.brain.Decide(ctx, l.scoreRequest(tier, entry))
		if dec.Score < l.cfg.ScoreThreshold {
			l.audit(ctx, entry.Type, event.OutcomeSkippedScore,
				fmt.Sprintf("score %d below threshold %d", dec.Score, l.cfg.ScoreThreshold), tier)
			l.countSkip(ctx, entry.Type, "score")
			return dec, true, nil
		}
		return dec, false, nil

	case decision.KindGenerate:
		dec = l.brain.Decide(ctx, l.generateRequest(tier, entry, nil))
		report := l.guard.Validate(dec.Text)
		if !report.Valid {
			// One regeneration with the guard's findings folded in.
			dec = l.brain.Decide(ctx, l.generateRequest(tier, entry, report.Issues))
			report = l.guard.Validate(dec.Text)
		}
		if !report.Valid {
			l.audit(ctx, entry.Type, event.OutcomeRejectedContent,
				strings.Join(report.Issues, "; "), tier)
			l.countSkip(ctx, entry.Type, "content")
			return dec, true, nil
		}
		return dec, false, nil
	}
	return decision.Result{}, false, nil
}

// noteFailure tracks consecutive errors and, at the threshold, attempts
// exactly one breaker-guarded session restart. Returns a non-nil fatal
// error when recovery fails.
func (l *Loop) noteFailure(ctx context.Context, err error) error {
	l.mu.Lock()
	l.errCount++
	l.lastErr = err.Error()
	count := l.errCount
	l.mu.Unlock()

	l.log.Error("activity failed", "consecutive", count, "error", err)
	if count < l.cfg.ErrorThreshold {
		return nil
	}

	l.setState(ctx, StateRecovering)
	rerr := l.breaker.Execute(func() error {
		if l.session == nil {
			return nil
		}
		return l.session.Restart(ctx)
	})
	if rerr != nil {
		l.log.Error("session restart failed, stopping loop", "error", rerr)
		return fmt.Errorf("%w: %v", ErrRecoveryFailed, rerr)
	}

	l.resetErrors()
	l.audit(ctx, "", event.OutcomeRecovered, "session restarted after consecutive failures", "")
	l.operatorNotify(ctx, "warning", "loop.recovered",
		fmt.Sprintf("account %s: session restarted after %d consecutive failures", l.acct.ID, count))
	if l.metrics != nil {
		l.metrics.Recoveries.Add(ctx, 1)
	}
	l.setState(ctx, StateRunning)
	return nil
}

func (l *Loop) resetErrors() {
	l.mu.Lock()
	l.errCount = 0
	l.mu.Unlock()
}

// pause waits the configured breather between consecutive executions.
func (l *Loop) pause(ctx context.Context) error {
	if l.cfg.PauseBase <= 0 {
		return nil
	}
	d := l.cfg.PauseBase + l.rng.SignedJitter(0, l.cfg.PauseJitter)
	if d <= 0 {
		return nil
	}
	return l.sleepUntil(ctx, l.now().Add(d))
}

func (l *Loop) sleepUntil(ctx context.Context, t time.Time) error {
	d := t.Sub(l.now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// flush persists quota state on the way out. Run's context is already
// dead by now, so the write gets a fresh bounded one.
func (l *Loop) flush() {
	timeout := l.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := l.store.SaveQuotaState(ctx, l.acct.ID, l.quotas.Snapshot()); err != nil {
		l.log.Error("flush quota state", "error", err)
	}
}

func (l *Loop) setState(ctx context.Context, s State) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.mu.Unlock()

	l.log.Debug("loop state", "state", s)
	if l.bcast != nil {
		l.bcast.BroadcastEvent(ctx, broadcast.EventLoopState, map[string]any{
			"account": l.acct.ID,
			"state":   s,
		})
	}
}

func (l *Loop) audit(ctx context.Context, typ activity.Type, outcome event.Outcome, detail string, tier decision.Tier) {
	ev := event.NewAction(l.acct.ID, typ, outcome, detail, tier, l.now())
	if err := l.store.AppendAction(ctx, ev); err != nil {
		l.log.Warn("append action", "outcome", outcome, "error", err)
	}
	if l.bcast != nil {
		l.bcast.BroadcastEvent(ctx, broadcast.EventAction, ev)
	}
}

func (l *Loop) broadcastQuota(ctx context.Context) {
	if l.bcast == nil {
		return
	}
	l.bcast.BroadcastEvent(ctx, broadcast.EventQuota, map[string]any{
		"account": l.acct.ID,
		"windows": l.quotas.Snapshot(),
	})
}

func (l *Loop) countSkip(ctx context.Context, typ activity.Type, reason string) {
	if l.metrics == nil {
		return
	}
	l.metrics.ActivitiesSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(typ)),
		attribute.String("reason", reason)))
}

func (l *Loop) operatorNotify(ctx context.Context, level, source, msg string) {
	if l.notify == nil {
		return
	}
	n := notifier.Notification{
		Title:   "circadian " + level,
		Message: msg,
		Level:   level,
		Source:  source,
	}
	if err := l.notify.Send(ctx, n); err != nil {
		l.log.Warn("notify operator", "source", source, "error", err)
	}
}

func (l *Loop) scoreRequest(tier decision.Tier, entry *activity.Planned) decision.Request {
	return decision.Request{
		Tier:   tier,
		Kind:   decision.KindScore,
		System: l.personaS,
		Prompt: fmt.Sprintf(
			"On a scale of 0 to 100, how much would %s want to %s right now? Consider the persona's interests and tone. Reply with only the number.",
			l.acct.Persona.Name, describe(entry.Type)),
	}
}

func (l *Loop) generateRequest(tier decision.Tier, entry *activity.Planned, issues []string) decision.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the text for a %s in %s's voice. Keep it under %d characters and make it sound spontaneous.",
		describe(entry.Type), l.acct.Persona.Name, l.guard.MaxLength())
	if len(issues) > 0 {
		fmt.Fprintf(&b, " A previous draft was rejected: %s. Fix these problems.", strings.Join(issues, "; "))
	}
	return decision.Request{
		Tier:   tier,
		Kind:   decision.KindGenerate,
		System: l.personaS,
		Prompt: b.String(),
	}
}

// routeFor maps an activity type to the decision it needs. Browsing and
// notification scans act without consulting a model.
func routeFor(t activity.Type) (decision.Kind, decision.Tier, bool) {
	switch t {
	case activity.TypeLike, activity.TypeRepost:
		return decision.KindScore, decision.TierFast, true
	case activity.TypeFollow:
		return decision.KindScore, decision.TierMid, true
	case activity.TypeReply:
		return decision.KindGenerate, decision.TierMid, true
	case activity.TypePost:
		return decision.KindGenerate, decision.TierSmart, true
	default:
		return "", "", false
	}
}

func describe(t activity.Type) string {
	switch t {
	case activity.TypeBrowse:
		return "browse the feed"
	case activity.TypeLike:
		return "like a post"
	case activity.TypeReply:
		return "reply to a post"
	case activity.TypeRepost:
		return "repost something"
	case activity.TypeFollow:
		return "follow someone new"
	case activity.TypePost:
		return "post of your own"
	case activity.TypeScanNotifications:
		return "check notifications"
	default:
		return string(t)
	}
}

func systemPrompt(p persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", p.Name)
	if p.Bio != "" {
		fmt.Fprintf(&b, " %s", p.Bio)
	}
	if p.Tone != "" {
		fmt.Fprintf(&b, " Your tone is %s.", p.Tone)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, " You care about %s.", strings.Join(p.Interests, ", "))
	}
	return b.String()
}
