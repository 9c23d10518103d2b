// Package quota defines sliding-window action counters and their
// persistence snapshots.
package quota

import (
	"time"

	"github.com/circadianhq/circadian/internal/domain/activity"
)

// Window names one of the two rolling quota windows.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// Windows lists both windows in checking order: the tighter one first.
func Windows() []Window {
	return []Window{WindowHour, WindowDay}
}

// Duration returns the window length. Unknown windows return 0.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w == WindowHour || w == WindowDay
}

// Counter tracks actions inside one sliding window. The window starts at
// the first recorded action and resets lazily once its duration has fully
// elapsed; there is no background timer.
type Counter struct {
	Count       int
	WindowStart time.Time
}

// Expired reports whether the window has fully elapsed at now. A counter
// that never recorded anything is trivially expired.
func (c *Counter) Expired(now time.Time, w Window) bool {
	if c.Count == 0 {
		return true
	}
	return now.Sub(c.WindowStart) >= w.Duration()
}

// Observe resets the counter when its window has elapsed. Returns true if
// a reset happened.
func (c *Counter) Observe(now time.Time, w Window) bool {
	if c.Count > 0 && now.Sub(c.WindowStart) >= w.Duration() {
		c.Count = 0
		c.WindowStart = time.Time{}
		return true
	}
	return false
}

// Record counts one action. The first action after a reset anchors the
// window start.
func (c *Counter) Record(now time.Time) {
	if c.Count == 0 {
		c.WindowStart = now
	}
	c.Count++
}

// Snapshot is the persistable form of one counter, used to survive
// restarts without forgetting recent actions.
type Snapshot struct {
	Action      activity.Type `json:"action"`
	Window      Window        `json:"window"`
	Count       int           `json:"count"`
	WindowStart time.Time     `json:"window_start"`
}
