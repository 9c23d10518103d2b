package service

import (
	"testing"
	"time"

	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain/activity"
	"github.com/circadianhq/circadian/internal/domain/quota"
)

func newTestSupervisor(limits map[string]config.Caps, at time.Time) (*QuotaSupervisor, *time.Time) {
	now := at
	qs := NewQuotaSupervisor(limits)
	qs.now = func() time.Time { return now }
	return qs, &now
}

func TestQuotaDailyCapSequence(t *testing.T) {
	qs, _ := newTestSupervisor(map[string]config.Caps{
		"like": {Hourly: 10, Daily: 2},
	}, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	results := make([]bool, 0, 3)
	for range 3 {
		ok, _ := qs.Allow(activity.TypeLike)
		results = append(results, ok)
		if ok {
			qs.Record(activity.TypeLike)
		}
	}

	want := []bool{true, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("attempt %d: got %v, want %v (all: %v)", i, results[i], want[i], results)
		}
	}
}

func TestQuotaHourlyWindowSlides(t *testing.T) {
	qs, now := newTestSupervisor(map[string]config.Caps{
		"reply": {Hourly: 2, Daily: 100},
	}, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	qs.Record(activity.TypeReply)
	qs.Record(activity.TypeReply)
	if ok := qs.Check(activity.TypeReply, quota.WindowHour); ok {
		t.Fatal("expected hourly cap reached")
	}

	// 59 minutes after the first action: still inside the window.
	*now = now.Add(59 * time.Minute)
	if ok := qs.Check(activity.TypeReply, quota.WindowHour); ok {
		t.Fatal("expected window still closed at 59m")
	}

	// One hour after the first action the window expires.
	*now = now.Add(time.Minute)
	if ok := qs.Check(activity.TypeReply, quota.WindowHour); !ok {
		t.Fatal("expected window reset after one hour")
	}
	if got := qs.Remaining(activity.TypeReply, quota.WindowHour); got != 2 {
		t.Fatalf("expected full hourly allowance after reset, got %d", got)
	}
}

func TestQuotaWindowAnchorsAtFirstAction(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	qs, now := newTestSupervisor(map[string]config.Caps{
		"follow": {Hourly: 1, Daily: 10},
	}, start)

	// Nothing recorded yet: window not started, check passes regardless
	// of elapsed time.
	*now = start.Add(3 * time.Hour)
	if ok := qs.Check(activity.TypeFollow, quota.WindowHour); !ok {
		t.Fatal("expected unanchored window to allow")
	}

	qs.Record(activity.TypeFollow)
	if ok := qs.Check(activity.TypeFollow, quota.WindowHour); ok {
		t.Fatal("expected cap of 1 reached")
	}

	// The window runs from the recording instant, not from start.
	*now = now.Add(time.Hour)
	if ok := qs.Check(activity.TypeFollow, quota.WindowHour); !ok {
		t.Fatal("expected window anchored at first action to expire")
	}
}

func TestQuotaAbsentActionUnlimited(t *testing.T) {
	qs, _ := newTestSupervisor(map[string]config.Caps{
		"like": {Hourly: 1, Daily: 1},
	}, time.Now())

	for range 50 {
		ok, _ := qs.Allow(activity.TypeBrowse)
		if !ok {
			t.Fatal("expected uncapped action to always pass")
		}
		qs.Record(activity.TypeBrowse)
	}
	if got := qs.Remaining(activity.TypeBrowse, quota.WindowDay); got != -1 {
		t.Fatalf("expected -1 for unlimited action, got %d", got)
	}
}

func TestQuotaZeroCapBlocks(t *testing.T) {
	qs, _ := newTestSupervisor(map[string]config.Caps{
		"post": {Hourly: 0, Daily: 3},
	}, time.Now())

	ok, denied := qs.Allow(activity.TypePost)
	if ok {
		t.Fatal("expected explicit zero cap to block")
	}
	if denied != quota.WindowHour {
		t.Fatalf("expected hour window to deny, got %s", denied)
	}
	if got := qs.Remaining(activity.TypePost, quota.WindowHour); got != 0 {
		t.Fatalf("expected 0 remaining, got %d", got)
	}
}

func TestQuotaSnapshotRestore(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limits := map[string]config.Caps{
		"like":  {Hourly: 5, Daily: 10},
		"reply": {Hourly: 2, Daily: 4},
	}
	qs, _ := newTestSupervisor(limits, start)

	qs.Record(activity.TypeLike)
	qs.Record(activity.TypeLike)
	qs.Record(activity.TypeReply)

	snaps := qs.Snapshot()
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots (2 actions x 2 windows), got %d", len(snaps))
	}

	restored, _ := newTestSupervisor(limits, start.Add(10*time.Minute))
	restored.Restore(snaps)

	if got := restored.Remaining(activity.TypeLike, quota.WindowHour); got != 3 {
		t.Fatalf("expected 3 remaining likes after restore, got %d", got)
	}
	if got := restored.Remaining(activity.TypeReply, quota.WindowHour); got != 1 {
		t.Fatalf("expected 1 remaining reply after restore, got %d", got)
	}
}

func TestQuotaRestoreDropsExpired(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	limits := map[string]config.Caps{"like": {Hourly: 1, Daily: 1}}

	qs, _ := newTestSupervisor(limits, start)
	qs.Record(activity.TypeLike)
	snaps := qs.Snapshot()

	// Restore 25 hours later: both windows have elapsed.
	restored, _ := newTestSupervisor(limits, start.Add(25*time.Hour))
	restored.Restore(snaps)

	if ok, _ := restored.Allow(activity.TypeLike); !ok {
		t.Fatal("expected expired snapshots to be dropped on restore")
	}
}

func TestQuotaRestoreSkipsUnknown(t *testing.T) {
	qs, _ := newTestSupervisor(map[string]config.Caps{"like": {Hourly: 1, Daily: 1}}, time.Now())
	qs.Restore([]quota.Snapshot{
		{Action: "retweet", Window: quota.WindowHour, Count: 1, WindowStart: time.Now()},
		{Action: activity.TypeLike, Window: "week", Count: 1, WindowStart: time.Now()},
	})
	if len(qs.Snapshot()) != 0 {
		t.Fatal("expected unknown actions and windows to be dropped")
	}
}
