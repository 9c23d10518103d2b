package rhythm

import (
	"testing"
	"time"
)

func flatCurve(v float64) []float64 {
	hourly := make([]float64, 24)
	for i := range hourly {
		hourly[i] = v
	}
	return hourly
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		hourly  []float64
		start   int
		end     int
		weekend float64
		wantErr bool
	}{
		{"valid", flatCurve(0.5), 23, 7, 0.7, false},
		{"too few hours", flatCurve(0.5)[:23], 23, 7, 0.7, true},
		{"multiplier above one", append(flatCurve(0.5)[:23], 1.5), 23, 7, 0.7, true},
		{"negative multiplier", append(flatCurve(0.5)[:23], -0.1), 23, 7, 0.7, true},
		{"sleep start out of range", flatCurve(0.5), 24, 7, 0.7, true},
		{"weekend factor above one", flatCurve(0.5), 23, 7, 1.2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.hourly, tt.start, tt.end, tt.weekend)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

func TestMultiplierSleepWrap(t *testing.T) {
	// Sleep [23, 6): hours 23, 0..5 are asleep, 6 is awake.
	c, err := New(flatCurve(0.8), 23, 6, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	asleep := []int{23, 0, 1, 2, 3, 4, 5}
	for _, h := range asleep {
		if got := c.Multiplier(h, false); got != 0 {
			t.Errorf("hour %d: expected 0 during sleep, got %v", h, got)
		}
		if c.IsActiveHour(h) {
			t.Errorf("hour %d: expected inactive during sleep", h)
		}
	}

	if got := c.Multiplier(6, false); got != 0.8 {
		t.Errorf("hour 6: expected 0.8, got %v", got)
	}
	if !c.IsActiveHour(6) {
		t.Error("hour 6: expected active")
	}
}

func TestMultiplierNormalizesHour(t *testing.T) {
	c, err := New(flatCurve(0.5), 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	if c.Multiplier(26, false) != c.Multiplier(2, false) {
		t.Error("expected hour 26 to normalize to hour 2")
	}
	if c.Multiplier(-1, false) != c.Multiplier(23, false) {
		t.Error("expected hour -1 to normalize to hour 23")
	}
}

func TestMultiplierWeekendFactor(t *testing.T) {
	c, err := New(flatCurve(1.0), 0, 0, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	weekday := c.Multiplier(12, false)
	weekend := c.Multiplier(12, true)

	if weekday != 1.0 {
		t.Errorf("expected weekday 1.0, got %v", weekday)
	}
	if weekend != 0.7 {
		t.Errorf("expected weekend 0.7, got %v", weekend)
	}
}

func TestNextActiveAfterSleepWrap(t *testing.T) {
	// Sleep [23, 6): a query at 02:00 must resume at 06:00 the same day.
	c, err := New(flatCurve(0.8), 23, 6, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	next := c.NextActiveAfter(at)

	want := time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected resume at %v, got %v", want, next)
	}
}

func TestNextActiveAfterCrossesMidnight(t *testing.T) {
	c, err := New(flatCurve(0.8), 23, 6, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	next := c.NextActiveAfter(at)

	want := time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected resume at %v, got %v", want, next)
	}
}

func TestNextActiveAfterAlreadyActive(t *testing.T) {
	c, err := New(flatCurve(0.8), 23, 6, 0.7)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 10, 14, 17, 3, 0, time.UTC)
	if got := c.NextActiveAfter(at); !got.Equal(at) {
		t.Fatalf("expected %v unchanged, got %v", at, got)
	}
}

func TestNextActiveAfterDeadCurve(t *testing.T) {
	c, err := New(flatCurve(0), 0, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := c.NextActiveAfter(at)
	if !next.After(at) {
		t.Fatal("expected a future time even when no hour is active")
	}
}

func TestIsWeekend(t *testing.T) {
	sat := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	sun := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	mon := time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

	if !IsWeekend(sat) || !IsWeekend(sun) {
		t.Error("expected Saturday and Sunday to be weekend")
	}
	if IsWeekend(mon) {
		t.Error("expected Monday to be a weekday")
	}
}
