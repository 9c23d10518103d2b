// Package activity defines the activity catalog and daily plan entities.
package activity

import (
	"fmt"
	"time"

	"github.com/circadianhq/circadian/internal/domain"
)

// Type identifies one kind of platform action. The set is closed:
// dispatch code switches exhaustively over these values and treats
// anything else as a programming error.
type Type string

const (
	TypeBrowse            Type = "browse"
	TypeLike              Type = "like"
	TypeReply             Type = "reply"
	TypeRepost            Type = "repost"
	TypeFollow            Type = "follow"
	TypePost              Type = "post"
	TypeScanNotifications Type = "scan_notifications"
)

// validTypes enumerates all known activity types.
var validTypes = map[Type]bool{
	TypeBrowse:            true,
	TypeLike:              true,
	TypeReply:             true,
	TypeRepost:            true,
	TypeFollow:            true,
	TypePost:              true,
	TypeScanNotifications: true,
}

// Valid reports whether t is a known activity type.
func (t Type) Valid() bool {
	return validTypes[t]
}

// All returns every known activity type in a stable order.
func All() []Type {
	return []Type{
		TypeBrowse,
		TypeLike,
		TypeReply,
		TypeRepost,
		TypeFollow,
		TypePost,
		TypeScanNotifications,
	}
}

// Definition describes one schedulable activity: its type, its relative
// weight during plan sampling, and the hours of day it may be planned in.
// An empty ValidHours slice means the activity is allowed at any hour.
type Definition struct {
	Type       Type    `json:"type" yaml:"type"`
	Weight     float64 `json:"weight" yaml:"weight"`
	ValidHours []int   `json:"valid_hours,omitempty" yaml:"valid_hours,omitempty"`
}

// AllowedAt reports whether the definition may be planned in the given hour.
func (d Definition) AllowedAt(hour int) bool {
	if len(d.ValidHours) == 0 {
		return true
	}
	for _, h := range d.ValidHours {
		if h == hour {
			return true
		}
	}
	return false
}

// Validate checks a definition for structural errors.
func (d Definition) Validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("unknown activity type %q: %w", d.Type, domain.ErrValidation)
	}
	if d.Weight <= 0 {
		return fmt.Errorf("activity %s: weight must be > 0: %w", d.Type, domain.ErrValidation)
	}
	for _, h := range d.ValidHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("activity %s: hour %d out of range: %w", d.Type, h, domain.ErrValidation)
		}
	}
	return nil
}

// Planned is one scheduled entry in a daily plan. ScheduledAt, Duration
// and Skipped are fixed at plan generation; Executed flips false to true
// exactly once. Skipped entries are never executed.
type Planned struct {
	Type        Type          `json:"type"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Duration    time.Duration `json:"duration"`
	Executed    bool          `json:"executed"`
	Skipped     bool          `json:"skipped,omitempty"`
}

// DailyPlan holds all planned entries for one account on one calendar day,
// ordered by ScheduledAt.
type DailyPlan struct {
	Date    time.Time `json:"date"` // midnight, local time
	Entries []Planned `json:"entries"`
}

// SameDay reports whether the plan covers the calendar day containing t.
func (p *DailyPlan) SameDay(t time.Time) bool {
	y1, m1, d1 := p.Date.Date()
	y2, m2, d2 := t.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// NextPending returns the earliest entry that is neither executed nor
// skipped, or nil when none remain.
func (p *DailyPlan) NextPending() *Planned {
	for i := range p.Entries {
		if !p.Entries[i].Executed && !p.Entries[i].Skipped {
			return &p.Entries[i]
		}
	}
	return nil
}

// Remaining counts entries still awaiting execution.
func (p *DailyPlan) Remaining() int {
	n := 0
	for i := range p.Entries {
		if !p.Entries[i].Executed && !p.Entries[i].Skipped {
			n++
		}
	}
	return n
}

// ExecutedCount counts entries actually executed; generation-time skips
// are excluded.
func (p *DailyPlan) ExecutedCount() int {
	n := 0
	for i := range p.Entries {
		if p.Entries[i].Executed {
			n++
		}
	}
	return n
}
