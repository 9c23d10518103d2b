// Package usage tracks model token consumption per day and model.
package usage

import (
	"sort"
	"sync"
	"time"
)

// DayFormat is the canonical key format for usage days.
const DayFormat = "2006-01-02"

// Record aggregates calls and tokens for one (day, model) pair. When
// flushed to a store the fields are increments, not totals.
type Record struct {
	Day       string `json:"day"`
	Model     string `json:"model"`
	Calls     int    `json:"calls"`
	TokensIn  int64  `json:"tokens_in"`
	TokensOut int64  `json:"tokens_out"`
}

// Ledger is an in-memory usage aggregate. It is safe for concurrent use:
// the router writes after every model call while the status surface reads.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*Record // keyed day + "\x00" + model
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{records: make(map[string]*Record)}
}

// Add counts one call against (day, model).
func (l *Ledger) Add(day time.Time, model string, tokensIn, tokensOut int64) {
	key := day.Format(DayFormat) + "\x00" + model

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		rec = &Record{Day: day.Format(DayFormat), Model: model}
		l.records[key] = rec
	}
	rec.Calls++
	rec.TokensIn += tokensIn
	rec.TokensOut += tokensOut
}

// Merge folds persisted records into the ledger. Counters add up, so a
// restarted process can rebuild today's view from the store before new
// calls land on top.
func (l *Ledger) Merge(recs []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range recs {
		key := r.Day + "\x00" + r.Model
		rec, ok := l.records[key]
		if !ok {
			rec = &Record{Day: r.Day, Model: r.Model}
			l.records[key] = rec
		}
		rec.Calls += r.Calls
		rec.TokensIn += r.TokensIn
		rec.TokensOut += r.TokensOut
	}
}

// Day returns copies of all records for the given day, sorted by model.
func (l *Ledger) Day(day time.Time) []Record {
	prefix := day.Format(DayFormat)

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Record
	for _, rec := range l.records {
		if rec.Day == prefix {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Totals sums calls and tokens across every record in the ledger.
func (l *Ledger) Totals() (calls int, tokensIn, tokensOut int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range l.records {
		calls += rec.Calls
		tokensIn += rec.TokensIn
		tokensOut += rec.TokensOut
	}
	return calls, tokensIn, tokensOut
}
