package globaltime

import (
	"testing"
	"time"
)

// Not parallel: the clock is process-wide.
func TestMockTimeDrivesNowAndSince(t *testing.T) {
	pinned := time.Date(2026, 3, 14, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	SetMockTime(pinned)
	defer ResetTime()

	if got := UTC(); !got.Equal(pinned) || got.Location() != time.UTC {
		t.Fatalf("UTC() = %v, want %v in UTC", got, pinned)
	}
	if got := Since(pinned.Add(-4 * time.Hour)); got != 4*time.Hour {
		t.Fatalf("Since() = %v, want 4h", got)
	}
}

func TestDayBounds(t *testing.T) {
	t.Parallel()

	start, end := DayBounds(time.Date(2026, 3, 14, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)))
	wantStart := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) || !end.Equal(wantStart.AddDate(0, 0, 1)) {
		t.Fatalf("DayBounds() = %v, %v", start, end)
	}
}
