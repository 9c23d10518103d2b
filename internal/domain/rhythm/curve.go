// Package rhythm models the day's activity intensity curve: how much the
// agent does per hour, when it sleeps, and how weekends damp the cadence.
package rhythm

import (
	"fmt"
	"time"

	"github.com/circadianhq/circadian/internal/domain"
)

// Curve maps each hour of the day to an intensity multiplier in [0, 1].
// Hours inside the sleep range always yield 0 regardless of the configured
// multiplier. On weekends every waking multiplier is scaled by the weekend
// factor.
type Curve struct {
	hourly        [24]float64
	sleepStart    int // inclusive
	sleepEnd      int // exclusive; may be < sleepStart when wrapping midnight
	weekendFactor float64
}

// New builds a Curve from 24 hourly multipliers, a [sleepStart, sleepEnd)
// range that may wrap midnight, and a weekend damping factor.
func New(hourly []float64, sleepStart, sleepEnd int, weekendFactor float64) (*Curve, error) {
	if len(hourly) != 24 {
		return nil, fmt.Errorf("curve needs 24 hourly values, got %d: %w", len(hourly), domain.ErrValidation)
	}
	if sleepStart < 0 || sleepStart > 23 || sleepEnd < 0 || sleepEnd > 23 {
		return nil, fmt.Errorf("sleep hours must be in [0,23]: %w", domain.ErrValidation)
	}
	if weekendFactor < 0 || weekendFactor > 1 {
		return nil, fmt.Errorf("weekend factor must be in [0,1]: %w", domain.ErrValidation)
	}

	c := &Curve{
		sleepStart:    sleepStart,
		sleepEnd:      sleepEnd,
		weekendFactor: weekendFactor,
	}
	for i, v := range hourly {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("hour %d multiplier %v out of [0,1]: %w", i, v, domain.ErrValidation)
		}
		c.hourly[i] = v
	}
	return c, nil
}

// Multiplier returns the intensity for the given hour. The hour is
// normalized modulo 24, so callers may pass values outside [0,23].
func (c *Curve) Multiplier(hour int, weekend bool) float64 {
	h := normalize(hour)
	if c.asleep(h) {
		return 0
	}
	m := c.hourly[h]
	if weekend {
		m *= c.weekendFactor
	}
	if m > 1 {
		m = 1
	}
	return m
}

// IsActiveHour reports whether the agent does anything at all in the given
// hour: awake and with a non-zero base multiplier.
func (c *Curve) IsActiveHour(hour int) bool {
	h := normalize(hour)
	return !c.asleep(h) && c.hourly[h] > 0
}

// NextActiveAfter returns the start of the first active hour at or after t.
// If t itself falls inside an active hour, t is returned unchanged. The
// scan is bounded to 24 hours; a curve with no active hour at all returns
// t+24h so callers never spin.
func (c *Curve) NextActiveAfter(t time.Time) time.Time {
	if c.IsActiveHour(t.Hour()) {
		return t
	}
	// Walk to the top of each following hour.
	probe := t.Truncate(time.Hour).Add(time.Hour)
	for i := 0; i < 24; i++ {
		if c.IsActiveHour(probe.Hour()) {
			return probe
		}
		probe = probe.Add(time.Hour)
	}
	return t.Add(24 * time.Hour)
}

// asleep reports whether h falls in [sleepStart, sleepEnd), handling the
// midnight wrap when sleepEnd < sleepStart.
func (c *Curve) asleep(h int) bool {
	if c.sleepStart == c.sleepEnd {
		return false
	}
	if c.sleepStart < c.sleepEnd {
		return h >= c.sleepStart && h < c.sleepEnd
	}
	return h >= c.sleepStart || h < c.sleepEnd
}

func normalize(hour int) int {
	h := hour % 24
	if h < 0 {
		h += 24
	}
	return h
}

// IsWeekend reports whether t falls on a Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
