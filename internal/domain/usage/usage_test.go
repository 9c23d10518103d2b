package usage

import (
	"testing"
	"time"
)

func TestLedgerAdd(t *testing.T) {
	l := NewLedger()
	day := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	l.Add(day, "gpt-4o-mini", 120, 40)
	l.Add(day, "gpt-4o-mini", 80, 20)
	l.Add(day, "claude-sonnet", 500, 200)

	recs := l.Day(day)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}

	// Sorted by model name.
	if recs[0].Model != "claude-sonnet" || recs[1].Model != "gpt-4o-mini" {
		t.Fatalf("unexpected order: %s, %s", recs[0].Model, recs[1].Model)
	}

	mini := recs[1]
	if mini.Calls != 2 {
		t.Errorf("expected 2 calls, got %d", mini.Calls)
	}
	if mini.TokensIn != 200 || mini.TokensOut != 60 {
		t.Errorf("expected 200/60 tokens, got %d/%d", mini.TokensIn, mini.TokensOut)
	}
}

func TestLedgerDaySeparation(t *testing.T) {
	l := NewLedger()
	monday := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	tuesday := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)

	l.Add(monday, "gpt-4o-mini", 10, 5)
	l.Add(tuesday, "gpt-4o-mini", 20, 10)

	if got := l.Day(monday); len(got) != 1 || got[0].TokensIn != 10 {
		t.Fatalf("monday records wrong: %+v", got)
	}
	if got := l.Day(tuesday); len(got) != 1 || got[0].TokensIn != 20 {
		t.Fatalf("tuesday records wrong: %+v", got)
	}
}

func TestLedgerMerge(t *testing.T) {
	l := NewLedger()
	day := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	l.Merge([]Record{
		{Day: "2026-03-10", Model: "gpt-4o-mini", Calls: 5, TokensIn: 100, TokensOut: 30},
		{Day: "2026-03-09", Model: "gpt-4o-mini", Calls: 2, TokensIn: 40, TokensOut: 10},
	})
	l.Add(day, "gpt-4o-mini", 60, 15)

	recs := l.Day(day)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record for 2026-03-10, got %d", len(recs))
	}
	if recs[0].Calls != 6 || recs[0].TokensIn != 160 || recs[0].TokensOut != 45 {
		t.Errorf("expected merged counters 6/160/45, got %d/%d/%d",
			recs[0].Calls, recs[0].TokensIn, recs[0].TokensOut)
	}
}

func TestLedgerTotals(t *testing.T) {
	l := NewLedger()
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	l.Add(day, "a", 1, 2)
	l.Add(day.Add(24*time.Hour), "b", 3, 4)

	calls, in, out := l.Totals()
	if calls != 2 || in != 4 || out != 6 {
		t.Errorf("expected 2/4/6, got %d/%d/%d", calls, in, out)
	}
}
