package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	cotel "github.com/circadianhq/circadian/internal/adapter/otel"
	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain"
	"github.com/circadianhq/circadian/internal/domain/account"
	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/event"
	"github.com/circadianhq/circadian/internal/domain/quota"
	"github.com/circadianhq/circadian/internal/domain/rhythm"
	"github.com/circadianhq/circadian/internal/domain/usage"
	"github.com/circadianhq/circadian/internal/port/broadcast"
	"github.com/circadianhq/circadian/internal/port/cache"
	"github.com/circadianhq/circadian/internal/port/modelbackend"
	"github.com/circadianhq/circadian/internal/port/notifier"
	"github.com/circadianhq/circadian/internal/port/platform"
	"github.com/circadianhq/circadian/internal/port/session"
	"github.com/circadianhq/circadian/internal/port/store"
	"github.com/circadianhq/circadian/internal/resilience"
)

// SessionFactory builds a platform session for one account, or nil when
// the account runs without a live session.
type SessionFactory func(acct account.Account) session.Lifecycle

// ManagerDeps bundles the shared collaborators the manager hands to
// each account loop.
type ManagerDeps struct {
	Config    *config.Config
	Store     store.Store
	Backends  map[string]modelbackend.Backend
	Cache     cache.Cache
	Actor     platform.Actor
	Sessions  SessionFactory
	Notifier  notifier.Notifier
	Broadcast broadcast.Broadcaster
	Metrics   *cotel.Metrics
	Log       *slog.Logger
}

// Manager runs one independent loop per enabled account and owns the
// shared maintenance jobs: the daily digest, audit pruning and periodic
// quota flushing.
type Manager struct {
	cfg      *config.Config
	store    store.Store
	backends map[string]modelbackend.Backend
	cache    cache.Cache
	actor    platform.Actor
	sessions SessionFactory
	notify   notifier.Notifier
	bcast    broadcast.Broadcaster
	metrics  *cotel.Metrics
	log      *slog.Logger

	curve *rhythm.Curve
	defs  []activity.Definition
	cron  *rcron.Cron

	mu    sync.Mutex
	loops map[string]*managedLoop
}

type managedLoop struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (ml *managedLoop) exitError() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.err
}

// NewManager validates shared configuration and registers the
// maintenance jobs. Loops start later via StartAll or StartAccount.
func NewManager(d ManagerDeps) (*Manager, error) {
	curve, err := rhythm.New(d.Config.Rhythm.Hourly, d.Config.Rhythm.SleepStart, d.Config.Rhythm.SleepEnd, d.Config.Rhythm.WeekendFactor)
	if err != nil {
		return nil, fmt.Errorf("build intensity curve: %w", err)
	}

	m := &Manager{
		cfg:      d.Config,
		store:    d.Store,
		backends: d.Backends,
		cache:    d.Cache,
		actor:    d.Actor,
		sessions: d.Sessions,
		notify:   d.Notifier,
		bcast:    d.Broadcast,
		metrics:  d.Metrics,
		log:      d.Log,
		curve:    curve,
		defs:     d.Config.Definitions(),
		cron:     rcron.New(rcron.WithSeconds()),
		loops:    make(map[string]*managedLoop),
	}
	if err := m.registerJobs(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) registerJobs() error {
	mc := m.cfg.Maintenance

	if m.notify != nil && mc.DigestCron != "" {
		if _, err := m.cron.AddFunc(mc.DigestCron, m.digestJob); err != nil {
			return fmt.Errorf("schedule digest job: %w", err)
		}
	}
	if mc.PruneCron != "" {
		if _, err := m.cron.AddFunc(mc.PruneCron, m.pruneJob); err != nil {
			return fmt.Errorf("schedule prune job: %w", err)
		}
	}
	if mc.FlushEvery > 0 {
		if _, err := m.cron.AddFunc("@every "+mc.FlushEvery.String(), m.flushJob); err != nil {
			return fmt.Errorf("schedule flush job: %w", err)
		}
	}
	return nil
}

// StartAll starts every enabled account and the maintenance schedule.
func (m *Manager) StartAll(ctx context.Context) error {
	m.cron.Start()

	var errs []error
	for _, acct := range m.cfg.Accounts {
		if !acct.Enabled {
			continue
		}
		if err := m.StartAccount(ctx, acct.ID); err != nil {
			m.log.Error("start account", "account", acct.ID, "error", err)
			errs = append(errs, fmt.Errorf("account %s: %w", acct.ID, err))
		}
	}
	return errors.Join(errs...)
}

// StartAccount builds and launches the loop for one account. ctx only
// covers startup reads; the loop itself runs until StopAccount or
// Shutdown.
func (m *Manager) StartAccount(ctx context.Context, id string) error {
	acct, ok := m.findAccount(id)
	if !ok {
		return fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	if !acct.Enabled {
		return fmt.Errorf("account %s is disabled: %w", id, domain.ErrValidation)
	}
	if m.running(id) {
		return fmt.Errorf("account %s already running: %w", id, domain.ErrValidation)
	}

	rng := NewRand(acct.Seed)
	sched := NewScheduler(acct.ID, m.curve, m.defs, m.cfg.Planner, rng, m.store, m.log)

	quotas := NewQuotaSupervisor(m.cfg.Quota.Limits)
	if snaps, err := m.store.LoadQuotaState(ctx, acct.ID); err != nil {
		m.log.Warn("load quota state", "account", acct.ID, "error", err)
	} else if len(snaps) > 0 {
		quotas.Restore(snaps)
	}

	brain, err := NewBrain(acct.ID, m.cfg.Brain, m.backends, m.cache, m.store, m.metrics, m.log)
	if err != nil {
		return fmt.Errorf("build brain: %w", err)
	}
	today := time.Now().Format(usage.DayFormat)
	if recs, err := m.store.UsageSummary(ctx, acct.ID, today); err != nil {
		m.log.Warn("load usage state", "account", acct.ID, "error", err)
	} else if len(recs) > 0 {
		brain.RestoreUsage(recs)
	}

	var sess session.Lifecycle
	if m.sessions != nil {
		sess = m.sessions(acct)
	}

	loop := NewLoop(LoopDeps{
		Account:   acct,
		Config:    m.cfg.Loop,
		Scheduler: sched,
		Quotas:    quotas,
		Brain:     brain,
		Actor:     m.actor,
		Session:   sess,
		Breaker:   resilience.NewBreaker(m.cfg.Breaker.MaxFailures, m.cfg.Breaker.Timeout),
		Store:     m.store,
		Notifier:  m.notify,
		Broadcast: m.bcast,
		Metrics:   m.metrics,
		Rand:      rng,
		Log:       m.log,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ml := &managedLoop{loop: loop, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, dup := m.loops[id]; dup {
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("account %s already running: %w", id, domain.ErrValidation)
	}
	m.loops[id] = ml
	m.mu.Unlock()

	go func() {
		err := loop.Run(runCtx)
		ml.mu.Lock()
		ml.err = err
		ml.mu.Unlock()
		if err != nil {
			m.log.Error("account loop exited", "account", id, "error", err)
			m.notifyOperator("error", "loop.fatal",
				fmt.Sprintf("account %s stopped: %v", id, err))
		}
		close(ml.done)
	}()

	m.log.Info("account loop started", "account", id, "handle", acct.Handle)
	return nil
}

// StopAccount cancels one account's loop and waits for it to flush.
func (m *Manager) StopAccount(id string) error {
	m.mu.Lock()
	ml, ok := m.loops[id]
	if ok {
		delete(m.loops, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("account %s not running: %w", id, domain.ErrNotFound)
	}

	ml.cancel()
	select {
	case <-ml.done:
	case <-time.After(m.cfg.Loop.StopTimeout + 5*time.Second):
		return fmt.Errorf("account %s: loop did not stop in time", id)
	}

	m.log.Info("account loop stopped", "account", id)
	return nil
}

// Shutdown stops the maintenance schedule and every running loop,
// waiting up to ctx for the stragglers.
func (m *Manager) Shutdown(ctx context.Context) error {
	cronCtx := m.cron.Stop()

	m.mu.Lock()
	loops := make(map[string]*managedLoop, len(m.loops))
	for id, ml := range m.loops {
		loops[id] = ml
	}
	m.loops = make(map[string]*managedLoop)
	m.mu.Unlock()

	for _, ml := range loops {
		ml.cancel()
	}

	var errs []error
	for id, ml := range loops {
		select {
		case <-ml.done:
			if err := ml.exitError(); err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", id, err))
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("account %s: loop did not stop before deadline", id))
		}
	}

	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		errs = append(errs, errors.New("maintenance jobs did not finish before deadline"))
	}

	m.log.Info("manager shut down", "loops", len(loops))
	return errors.Join(errs...)
}

// AccountSummary is the list view of one configured account.
type AccountSummary struct {
	ID      string `json:"id"`
	Handle  string `json:"handle"`
	Enabled bool   `json:"enabled"`
	State   State  `json:"state"`
}

// Accounts lists every configured account with its loop state.
func (m *Manager) Accounts() []AccountSummary {
	out := make([]AccountSummary, 0, len(m.cfg.Accounts))
	for _, acct := range m.cfg.Accounts {
		s := AccountSummary{ID: acct.ID, Handle: acct.Handle, Enabled: acct.Enabled, State: StateIdle}
		if ml, ok := m.lookup(acct.ID); ok {
			s.State = ml.loop.Status().State
		}
		out = append(out, s)
	}
	return out
}

// Status reports the loop status for one account. Accounts without a
// running loop report StateIdle.
func (m *Manager) Status(id string) (Status, error) {
	if ml, ok := m.lookup(id); ok {
		return ml.loop.Status(), nil
	}
	acct, ok := m.findAccount(id)
	if !ok {
		return Status{}, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return Status{Account: acct.ID, Handle: acct.Handle, State: StateIdle}, nil
}

// Quotas reports the quota counters for one account: live ones while
// the loop runs, the last persisted snapshot otherwise.
func (m *Manager) Quotas(ctx context.Context, id string) ([]quota.Snapshot, error) {
	if ml, ok := m.lookup(id); ok {
		return ml.loop.QuotaSnapshot(), nil
	}
	if _, ok := m.findAccount(id); !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return m.store.LoadQuotaState(ctx, id)
}

// Plan returns the running loop's current daily plan.
func (m *Manager) Plan(id string) (activity.DailyPlan, error) {
	ml, ok := m.lookup(id)
	if !ok {
		return activity.DailyPlan{}, fmt.Errorf("account %s has no active plan: %w", id, domain.ErrNotFound)
	}
	return ml.loop.Plan(), nil
}

// Usage returns usage records for one account and day: the live ledger
// for today while the loop runs, persisted records otherwise.
func (m *Manager) Usage(ctx context.Context, id, day string) ([]usage.Record, error) {
	if ml, ok := m.lookup(id); ok && day == time.Now().Format(usage.DayFormat) {
		return ml.loop.Usage(), nil
	}
	if _, ok := m.findAccount(id); !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return m.store.UsageSummary(ctx, id, day)
}

// Actions returns the newest audit events for one account.
func (m *Manager) Actions(ctx context.Context, id string, limit int) ([]event.Action, error) {
	if _, ok := m.findAccount(id); !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return m.store.RecentActions(ctx, id, limit)
}

func (m *Manager) lookup(id string) (*managedLoop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ml, ok := m.loops[id]
	return ml, ok
}

func (m *Manager) running(id string) bool {
	_, ok := m.lookup(id)
	return ok
}

func (m *Manager) findAccount(id string) (account.Account, bool) {
	for _, c := range m.cfg.Accounts {
		if c.ID == id {
			return account.Account{
				ID:      c.ID,
				Handle:  c.Handle,
				Seed:    c.Seed,
				Enabled: c.Enabled,
				Persona: c.Persona,
			}, true
		}
	}
	return account.Account{}, false
}

// digestJob summarizes the previous day per account and notifies the
// operator.
func (m *Manager) digestJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	day := time.Now().AddDate(0, 0, -1).Format(usage.DayFormat)
	for _, acct := range m.cfg.Accounts {
		if !acct.Enabled {
			continue
		}
		msg, err := m.buildDigest(ctx, acct.ID, acct.Handle, day)
		if err != nil {
			m.log.Warn("build digest", "account", acct.ID, "error", err)
			continue
		}
		m.notifyOperator("info", "digest.daily", msg)
	}
}

func (m *Manager) buildDigest(ctx context.Context, id, handle, day string) (string, error) {
	recs, err := m.store.UsageSummary(ctx, id, day)
	if err != nil {
		return "", fmt.Errorf("usage summary: %w", err)
	}
	var calls int
	var tokensIn, tokensOut int64
	for _, r := range recs {
		calls += r.Calls
		tokensIn += r.TokensIn
		tokensOut += r.TokensOut
	}

	actions, err := m.store.RecentActions(ctx, id, 500)
	if err != nil {
		return "", fmt.Errorf("recent actions: %w", err)
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	counts := make(map[event.Outcome]int)
	for _, a := range actions {
		if a.At.After(cutoff) {
			counts[a.Outcome]++
		}
	}

	skipped := counts[event.OutcomeSkippedQuota] + counts[event.OutcomeSkippedScore] + counts[event.OutcomeRejectedContent]
	return fmt.Sprintf("%s (@%s) %s: %d performed, %d skipped, %d failed. %d model calls, %d in / %d out tokens.",
		id, handle, day,
		counts[event.OutcomePerformed], skipped, counts[event.OutcomeFailed],
		calls, tokensIn, tokensOut), nil
}

// pruneJob trims audit events past the retention horizon.
func (m *Manager) pruneJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	before := time.Now().Add(-m.cfg.Maintenance.RetainActions)
	n, err := m.store.PruneActions(ctx, before)
	if err != nil {
		m.log.Error("prune actions", "error", err)
		return
	}
	if n > 0 {
		m.log.Info("pruned audit events", "removed", n, "before", before.Format(time.RFC3339))
	}
}

// flushJob persists quota counters for every running loop so a crash
// loses at most one flush interval.
func (m *Manager) flushJob() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.mu.Lock()
	loops := make(map[string]*managedLoop, len(m.loops))
	for id, ml := range m.loops {
		loops[id] = ml
	}
	m.mu.Unlock()

	for id, ml := range loops {
		if err := m.store.SaveQuotaState(ctx, id, ml.loop.QuotaSnapshot()); err != nil {
			m.log.Warn("flush quota state", "account", id, "error", err)
		}
	}
}

func (m *Manager) notifyOperator(level, source, msg string) {
	if m.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n := notifier.Notification{
		Title:   "circadian " + level,
		Message: msg,
		Level:   level,
		Source:  source,
	}
	if err := m.notify.Send(ctx, n); err != nil {
		m.log.Warn("notify operator", "source", source, "error", err)
	}
}
