package service

import (
	"sort"
	"sync"
	"time"

	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/quota"
)

// QuotaSupervisor enforces per-action caps over rolling hour and day
// windows for a single account. Windows anchor at the first action
// after expiry rather than at wall-clock boundaries, and reset lazily
// on the next Check or Record.
type QuotaSupervisor struct {
	mu       sync.Mutex
	limits   map[activity.Type]config.Caps
	counters map[counterKey]*quota.Counter
	now      func() time.Time // for testing
}

type counterKey struct {
	action activity.Type
	window quota.Window
}

// NewQuotaSupervisor creates a supervisor from configured caps. Action
// types absent from limits are unlimited; an explicit zero cap blocks
// the action entirely.
func NewQuotaSupervisor(limits map[string]config.Caps) *QuotaSupervisor {
	typed := make(map[activity.Type]config.Caps, len(limits))
	for name, caps := range limits {
		typed[activity.Type(name)] = caps
	}
	return &QuotaSupervisor{
		limits:   typed,
		counters: make(map[counterKey]*quota.Counter),
		now:      time.Now,
	}
}

// Check reports whether one more action of the given type fits within
// the window's cap right now. Checking never consumes quota.
func (qs *QuotaSupervisor) Check(action activity.Type, w quota.Window) bool {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return qs.checkLocked(action, w)
}

// Allow checks every window in tightening order and reports the first
// denying window, if any.
func (qs *QuotaSupervisor) Allow(action activity.Type) (bool, quota.Window) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	for _, w := range quota.Windows() {
		if !qs.checkLocked(action, w) {
			return false, w
		}
	}
	return true, ""
}

func (qs *QuotaSupervisor) checkLocked(action activity.Type, w quota.Window) bool {
	caps, limited := qs.limits[action]
	if !limited {
		return true
	}
	limit := capFor(caps, w)
	if limit <= 0 {
		return false
	}
	c, ok := qs.counters[counterKey{action, w}]
	if !ok {
		return true
	}
	c.Observe(qs.now(), w)
	return c.Count < limit
}

// Record counts one performed action against both windows. The caller
// must have checked quota first; Record never refuses.
func (qs *QuotaSupervisor) Record(action activity.Type) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	now := qs.now()
	for _, w := range quota.Windows() {
		key := counterKey{action, w}
		c, ok := qs.counters[key]
		if !ok {
			c = &quota.Counter{}
			qs.counters[key] = c
		}
		c.Observe(now, w)
		c.Record(now)
	}
}

// Remaining reports how many more actions fit in the given window, or
// -1 when the action is unlimited.
func (qs *QuotaSupervisor) Remaining(action activity.Type, w quota.Window) int {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	caps, limited := qs.limits[action]
	if !limited {
		return -1
	}
	limit := capFor(caps, w)
	if limit <= 0 {
		return 0
	}
	c, ok := qs.counters[counterKey{action, w}]
	if !ok {
		return limit
	}
	c.Observe(qs.now(), w)
	if left := limit - c.Count; left > 0 {
		return left
	}
	return 0
}

// Snapshot returns every live counter in a stable order, for
// persistence across restarts.
func (qs *QuotaSupervisor) Snapshot() []quota.Snapshot {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	now := qs.now()
	snaps := make([]quota.Snapshot, 0, len(qs.counters))
	for key, c := range qs.counters {
		if c.Expired(now, key.window) {
			continue
		}
		snaps = append(snaps, quota.Snapshot{
			Action:      key.action,
			Window:      key.window,
			Count:       c.Count,
			WindowStart: c.WindowStart,
		})
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Action != snaps[j].Action {
			return snaps[i].Action < snaps[j].Action
		}
		return snaps[i].Window < snaps[j].Window
	})
	return snaps
}

// Restore replaces the supervisor's counters with the given snapshots,
// dropping any whose window already elapsed or whose action or window
// is unknown.
func (qs *QuotaSupervisor) Restore(snaps []quota.Snapshot) {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	now := qs.now()
	qs.counters = make(map[counterKey]*quota.Counter, len(snaps))
	for _, s := range snaps {
		if !s.Action.Valid() || !s.Window.Valid() {
			continue
		}
		c := &quota.Counter{Count: s.Count, WindowStart: s.WindowStart}
		if c.Expired(now, s.Window) {
			continue
		}
		qs.counters[counterKey{s.Action, s.Window}] = c
	}
}

func capFor(caps config.Caps, w quota.Window) int {
	if w == quota.WindowHour {
		return caps.Hourly
	}
	return caps.Daily
}
