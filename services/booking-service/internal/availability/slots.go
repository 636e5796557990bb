package availability

import (
	"sort"
	"time"
)

// Window is a doctor's recurring weekly block of bookable time, replicated
// from the directory service. Bounds are minutes since UTC midnight.
type Window struct {
	Weekday     time.Weekday
	StartMinute int
	EndMinute   int
	SlotMinutes int
}

// Interval is a half-open [Start, End) span of reserved time.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Slot is one grid-aligned candidate appointment time on a single date.
type Slot struct {
	Start     time.Time
	End       time.Time
	Available bool
}

// SlotsForDate expands the windows whose weekday matches day into the full
// slot grid for that date, flagging each slot unavailable when it overlaps a
// busy interval or its start is already in the past relative to now.
//
// Every window is tiled independently from its start in SlotMinutes steps; a
// trailing remainder shorter than one slot is dropped. A window too short to
// hold a single slot yields nothing. Slots from all windows are returned in
// ascending start order; overlapping windows are a data-quality problem
// upstream and are expanded as-is.
//
// The function is pure: same arguments, same result. now is injected so
// callers and tests control the clock.
func SlotsForDate(windows []Window, day time.Time, busy []Interval, now time.Time) []Slot {
	day = day.UTC()
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)

	var slots []Slot
	for _, w := range windows {
		if w.Weekday != midnight.Weekday() {
			continue
		}
		if w.SlotMinutes <= 0 || w.StartMinute >= w.EndMinute {
			continue
		}
		step := time.Duration(w.SlotMinutes) * time.Minute
		end := midnight.Add(time.Duration(w.EndMinute) * time.Minute)
		for t := midnight.Add(time.Duration(w.StartMinute) * time.Minute); !t.Add(step).After(end); t = t.Add(step) {
			slots = append(slots, Slot{
				Start:     t,
				End:       t.Add(step),
				Available: !t.Before(now) && !overlapsAny(t, t.Add(step), busy),
			})
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
	return slots
}

// FitsGrid reports whether [start, end) is exactly one slot of some window's
// grid. Bookings are only accepted at grid positions so that the slot list
// shown to patients and the conflict constraint agree on boundaries.
func FitsGrid(windows []Window, start, end time.Time) bool {
	start = start.UTC()
	end = end.UTC()

	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	if start.Sub(midnight)%time.Minute != 0 || end.Sub(midnight)%time.Minute != 0 {
		return false
	}
	startMin := int(start.Sub(midnight) / time.Minute)
	endMin := int(end.Sub(midnight) / time.Minute)

	for _, w := range windows {
		if w.Weekday != midnight.Weekday() {
			continue
		}
		if w.SlotMinutes <= 0 || w.StartMinute >= w.EndMinute {
			continue
		}
		if endMin-startMin != w.SlotMinutes {
			continue
		}
		if startMin < w.StartMinute || endMin > w.EndMinute {
			continue
		}
		if (startMin-w.StartMinute)%w.SlotMinutes != 0 {
			continue
		}
		return true
	}
	return false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
