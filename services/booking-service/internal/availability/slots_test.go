package availability

import (
	"testing"
	"time"
)

// 2026-02-02 is a Monday.
var monday = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func mondayWindow(startMin, endMin, slotMins int) Window {
	return Window{Weekday: time.Monday, StartMinute: startMin, EndMinute: endMin, SlotMinutes: slotMins}
}

func TestSlotsForDate_TilesWindow(t *testing.T) {
	// 09:00-10:00 in 30 minute slots, evaluated well before the day.
	windows := []Window{mondayWindow(540, 600, 30)}
	now := monday.Add(8 * time.Hour)

	slots := SlotsForDate(windows, monday, nil, now)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
	if !slots[0].End.Equal(monday.Add(9*time.Hour + 30*time.Minute)) {
		t.Fatalf("expected first slot to end 09:30, got %s", slots[0].End.Format(time.RFC3339))
	}
	for i, s := range slots {
		if !s.Available {
			t.Fatalf("slot %d should be available", i)
		}
	}
	// Contiguous: each slot starts where the previous one ends.
	if !slots[0].End.Equal(slots[1].Start) {
		t.Fatal("slots within a window must be contiguous")
	}
}

func TestSlotsForDate_DropsPartialTrailingSlot(t *testing.T) {
	// 09:00-09:50 with 20 minute slots: floor(50/20) = 2 slots, 09:40-09:50 dropped.
	windows := []Window{mondayWindow(540, 590, 20)}

	slots := SlotsForDate(windows, monday, nil, monday)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[1].End.Equal(monday.Add(9*time.Hour + 40*time.Minute)) {
		t.Fatalf("expected last slot to end 09:40, got %s", slots[1].End.Format(time.RFC3339))
	}
}

func TestSlotsForDate_DegenerateWindows(t *testing.T) {
	windows := []Window{
		mondayWindow(540, 570, 45), // slot longer than the window span
		mondayWindow(600, 600, 30), // empty span
		mondayWindow(660, 600, 30), // inverted bounds
		mondayWindow(540, 600, 0),  // zero duration
	}
	if slots := SlotsForDate(windows, monday, nil, monday); len(slots) != 0 {
		t.Fatalf("expected no slots from degenerate windows, got %d", len(slots))
	}
}

func TestSlotsForDate_BlockedByOverlappingReservation(t *testing.T) {
	windows := []Window{mondayWindow(540, 600, 30)}
	busy := []Interval{
		{Start: monday.Add(9*time.Hour + 30*time.Minute), End: monday.Add(10 * time.Hour)},
	}
	now := monday.Add(8 * time.Hour)

	slots := SlotsForDate(windows, monday, busy, now)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if !slots[0].Available {
		t.Fatal("09:00 slot should be available")
	}
	if slots[1].Available {
		t.Fatal("09:30 slot should be blocked by the reservation")
	}
}

func TestSlotsForDate_PartialOverlapBlocks(t *testing.T) {
	// A reservation that straddles two slots blocks both; conflict is interval
	// overlap, not boundary equality.
	windows := []Window{mondayWindow(540, 600, 30)}
	busy := []Interval{
		{Start: monday.Add(9*time.Hour + 15*time.Minute), End: monday.Add(9*time.Hour + 45*time.Minute)},
	}

	slots := SlotsForDate(windows, monday, busy, monday)
	if slots[0].Available || slots[1].Available {
		t.Fatal("both slots should be blocked by a straddling reservation")
	}
}

func TestSlotsForDate_AdjacentReservationDoesNotBlock(t *testing.T) {
	// Half-open intervals: a reservation ending exactly at a slot's start
	// does not touch it.
	windows := []Window{mondayWindow(540, 600, 30)}
	busy := []Interval{
		{Start: monday.Add(8*time.Hour + 30*time.Minute), End: monday.Add(9 * time.Hour)},
	}

	slots := SlotsForDate(windows, monday, busy, monday)
	if !slots[0].Available {
		t.Fatal("09:00 slot should not be blocked by a reservation ending at 09:00")
	}
}

func TestSlotsForDate_PastSlotsUnavailable(t *testing.T) {
	windows := []Window{mondayWindow(540, 600, 30)}
	// 09:15: the first slot has started, the second has not.
	now := monday.Add(9*time.Hour + 15*time.Minute)

	slots := SlotsForDate(windows, monday, nil, now)
	if slots[0].Available {
		t.Fatal("09:00 slot already started, should be unavailable")
	}
	if !slots[1].Available {
		t.Fatal("09:30 slot has not started, should be available")
	}
}

func TestSlotsForDate_FutureDateIgnoresClock(t *testing.T) {
	windows := []Window{mondayWindow(540, 600, 30)}
	now := monday.AddDate(0, 0, -3) // previous Friday

	for i, s := range SlotsForDate(windows, monday, nil, now) {
		if !s.Available {
			t.Fatalf("slot %d on a future date should be available", i)
		}
	}
}

func TestSlotsForDate_PastDateFullyUnavailable(t *testing.T) {
	windows := []Window{mondayWindow(540, 600, 30)}
	now := monday.AddDate(0, 0, 1)

	slots := SlotsForDate(windows, monday, nil, now)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	for i, s := range slots {
		if s.Available {
			t.Fatalf("slot %d on a past date should be unavailable", i)
		}
	}
}

func TestSlotsForDate_SkipsOtherWeekdays(t *testing.T) {
	windows := []Window{
		{Weekday: time.Tuesday, StartMinute: 540, EndMinute: 600, SlotMinutes: 30},
	}
	if slots := SlotsForDate(windows, monday, nil, monday); len(slots) != 0 {
		t.Fatalf("expected no slots for a Tuesday window on a Monday, got %d", len(slots))
	}
}

func TestSlotsForDate_NoWindows(t *testing.T) {
	if slots := SlotsForDate(nil, monday, nil, monday); len(slots) != 0 {
		t.Fatalf("expected empty result, got %d slots", len(slots))
	}
}

func TestSlotsForDate_OrderedAcrossWindows(t *testing.T) {
	windows := []Window{
		mondayWindow(840, 960, 60), // 14:00-16:00
		mondayWindow(540, 660, 60), // 09:00-11:00
	}

	slots := SlotsForDate(windows, monday, nil, monday)
	if len(slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Before(slots[i-1].Start) {
			t.Fatalf("slots out of order at index %d", i)
		}
	}
	if !slots[0].Start.Equal(monday.Add(9 * time.Hour)) {
		t.Fatalf("expected first slot 09:00, got %s", slots[0].Start.Format(time.RFC3339))
	}
}

func TestFitsGrid(t *testing.T) {
	windows := []Window{mondayWindow(540, 600, 30)}

	if !FitsGrid(windows, monday.Add(9*time.Hour), monday.Add(9*time.Hour+30*time.Minute)) {
		t.Fatal("09:00-09:30 lies on the grid")
	}
	if !FitsGrid(windows, monday.Add(9*time.Hour+30*time.Minute), monday.Add(10*time.Hour)) {
		t.Fatal("09:30-10:00 lies on the grid")
	}
	if FitsGrid(windows, monday.Add(9*time.Hour+15*time.Minute), monday.Add(9*time.Hour+45*time.Minute)) {
		t.Fatal("09:15-09:45 is off-grid")
	}
	if FitsGrid(windows, monday.Add(9*time.Hour), monday.Add(10*time.Hour)) {
		t.Fatal("a double-length interval is not a slot")
	}
	if FitsGrid(windows, monday.Add(10*time.Hour), monday.Add(10*time.Hour+30*time.Minute)) {
		t.Fatal("10:00-10:30 is outside the window")
	}
	// Same clock time on a day the window does not cover.
	tuesday := monday.AddDate(0, 0, 1)
	if FitsGrid(windows, tuesday.Add(9*time.Hour), tuesday.Add(9*time.Hour+30*time.Minute)) {
		t.Fatal("window does not apply on Tuesday")
	}
	if FitsGrid(windows, monday.Add(9*time.Hour+30*time.Second), monday.Add(9*time.Hour+30*time.Minute+30*time.Second)) {
		t.Fatal("sub-minute offsets are off-grid")
	}
}
