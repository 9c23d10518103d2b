package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/rhythm"
	"github.com/circadianhq/circadian/internal/domain/usage"
	"github.com/circadianhq/circadian/internal/port/store"
)

// Slot is the scheduler's answer to "what happens next": either a plan
// entry due for execution, or a sleep with a resume time.
type Slot struct {
	Sleep    bool
	ResumeAt time.Time
	Entry    *activity.Planned
}

// Scheduler owns one account's daily activity plan. Plans are generated
// lazily at the first Next call of each calendar day; the previous
// day's plan is archived on rollover. All randomness flows through the
// account's seeded Rand, so two schedulers built from the same seed and
// clock produce identical plans.
type Scheduler struct {
	account string
	curve   *rhythm.Curve
	defs    []activity.Definition
	cfg     config.Planner
	rng     *Rand
	store   store.Store // nil disables archiving (plan preview)
	log     *slog.Logger
	now     func() time.Time // for testing

	mu   sync.Mutex
	plan *activity.DailyPlan
}

// NewScheduler creates a scheduler for one account.
func NewScheduler(account string, curve *rhythm.Curve, defs []activity.Definition, cfg config.Planner, rng *Rand, st store.Store, log *slog.Logger) *Scheduler {
	return &Scheduler{
		account: account,
		curve:   curve,
		defs:    defs,
		cfg:     cfg,
		rng:     rng,
		store:   st,
		log:     log,
		now:     time.Now,
	}
}

// Next reports what the loop should do now. Calling Next repeatedly
// without executing anything is safe: it keeps returning the same
// answer until the clock moves.
func (s *Scheduler) Next(ctx context.Context) Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.ensurePlan(ctx, now)

	entry := s.plan.NextPending()
	if entry == nil {
		// Day fully consumed: wake at midnight to build tomorrow's plan.
		return Slot{Sleep: true, ResumeAt: nextMidnight(now)}
	}
	if !s.curve.IsActiveHour(now.Hour()) {
		// Overdue entries run when the agent wakes, not during sleep.
		return Slot{Sleep: true, ResumeAt: s.curve.NextActiveAfter(now)}
	}
	if entry.ScheduledAt.Before(now.Add(s.cfg.Lookahead)) {
		return Slot{Entry: entry}
	}
	return Slot{Sleep: true, ResumeAt: entry.ScheduledAt}
}

// MarkExecuted consumes a plan entry returned by Next.
func (s *Scheduler) MarkExecuted(entry *activity.Planned) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Executed = true
}

// PlanSnapshot returns a detached copy of the current plan.
func (s *Scheduler) PlanSnapshot() activity.DailyPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return activity.DailyPlan{}
	}
	out := activity.DailyPlan{
		Date:    s.plan.Date,
		Entries: make([]activity.Planned, len(s.plan.Entries)),
	}
	copy(out.Entries, s.plan.Entries)
	return out
}

// ensurePlan must be called with s.mu held.
func (s *Scheduler) ensurePlan(ctx context.Context, now time.Time) {
	if s.plan != nil && s.plan.SameDay(now) {
		return
	}
	if s.plan != nil {
		s.archive(ctx, s.plan)
	}
	s.plan = s.generate(now)

	skipped := 0
	for i := range s.plan.Entries {
		if s.plan.Entries[i].Skipped {
			skipped++
		}
	}
	s.log.Info("daily plan generated",
		"account", s.account,
		"date", s.plan.Date.Format(usage.DayFormat),
		"entries", len(s.plan.Entries),
		"skipped", skipped)
}

func (s *Scheduler) archive(ctx context.Context, plan *activity.DailyPlan) {
	if s.store == nil {
		return
	}
	day := plan.Date.Format(usage.DayFormat)
	if err := s.store.ArchivePlanDay(ctx, s.account, day, len(plan.Entries), plan.ExecutedCount()); err != nil {
		s.log.Warn("archive plan day", "account", s.account, "day", day, "error", err)
	}
}

// generate builds the plan for the calendar day containing now. Entry
// counts follow the intensity curve: per active hour the expected count
// is HourlyBase times the hour's multiplier, with the fractional part
// resolved by a coin flip.
func (s *Scheduler) generate(now time.Time) *activity.DailyPlan {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekend := rhythm.IsWeekend(midnight)

	var entries []activity.Planned
	for hour := range 24 {
		m := s.curve.Multiplier(hour, weekend)
		if m <= 0 {
			continue
		}
		expected := s.cfg.HourlyBase * m
		count := int(expected)
		if s.rng.Chance(expected - float64(count)) {
			count++
		}
		for range count {
			def, ok := s.pick(hour)
			if !ok {
				continue
			}
			entries = append(entries, s.entryFor(def, midnight, hour))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ScheduledAt.Before(entries[j].ScheduledAt)
	})
	return &activity.DailyPlan{Date: midnight, Entries: entries}
}

func (s *Scheduler) entryFor(def activity.Definition, midnight time.Time, hour int) activity.Planned {
	offset := time.Duration(hour)*time.Hour + time.Duration(s.rng.IntN(60))*time.Minute
	at := midnight.Add(offset + s.rng.SignedJitter(s.cfg.JitterMin, s.cfg.JitterMax))

	// Jitter may push an entry across the day boundary; clamp it back.
	dayEnd := midnight.Add(24 * time.Hour)
	if at.Before(midnight) {
		at = midnight
	}
	if !at.Before(dayEnd) {
		at = dayEnd.Add(-time.Minute)
	}

	return activity.Planned{
		Type:        def.Type,
		ScheduledAt: at,
		Duration:    s.duration(),
		Skipped:     s.rng.Chance(s.cfg.SkipChance),
	}
}

// duration draws the entry duration: base stretched by the configured
// jitter, occasionally doubled or tripled for a binge session.
func (s *Scheduler) duration() time.Duration {
	spread := (s.rng.Float64()*2 - 1) * s.cfg.DurationJitter
	d := time.Duration(float64(s.cfg.DurationBase) * (1 + spread))
	if s.rng.Chance(s.cfg.BingeChance) {
		d = time.Duration(float64(d) * (2 + s.rng.Float64()))
	}
	return d
}

// pick samples one definition allowed in the given hour, weighted by
// definition weight.
func (s *Scheduler) pick(hour int) (activity.Definition, bool) {
	total := 0.0
	for _, def := range s.defs {
		if def.AllowedAt(hour) {
			total += def.Weight
		}
	}
	if total <= 0 {
		return activity.Definition{}, false
	}

	r := s.rng.Float64() * total
	for _, def := range s.defs {
		if !def.AllowedAt(hour) {
			continue
		}
		r -= def.Weight
		if r < 0 {
			return def, true
		}
	}
	// Floating point residue: fall back to the last allowed definition.
	for i := len(s.defs) - 1; i >= 0; i-- {
		if s.defs[i].AllowedAt(hour) {
			return s.defs[i], true
		}
	}
	return activity.Definition{}, false
}

func nextMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).Add(24 * time.Hour)
}
