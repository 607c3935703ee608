package planner_test

import (
	"errors"
	"testing"
	"time"

	"postflow/internal/domain"
	"postflow/internal/planner"
)

func mustClocks(t *testing.T, entries []string) []planner.Clock {
	t.Helper()
	clocks, err := planner.ParseClockList(entries)
	if err != nil {
		t.Fatalf("ParseClockList(%v): %v", entries, err)
	}
	return clocks
}

func testTiming(t *testing.T, times []string) planner.Timing {
	t.Helper()
	return planner.Timing{
		PreferredTimes: mustClocks(t, times),
		MinGap:         6 * time.Hour,
		HorizonDays:    7,
		LeadTime:       15 * time.Minute,
		Location:       time.UTC,
	}
}

func TestParseClock(t *testing.T) {
	c, err := planner.ParseClock("06:30")
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if c.Hour != 6 || c.Minute != 30 {
		t.Errorf("want 06:30, got %s", c)
	}

	for _, bad := range []string{"", "6", "25:00", "12:60", "ab:cd", "12-30"} {
		if _, err := planner.ParseClock(bad); !errors.Is(err, planner.ErrInvalidTiming) {
			t.Errorf("ParseClock(%q): want ErrInvalidTiming, got %v", bad, err)
		}
	}
}

func TestParseClockListEmpty(t *testing.T) {
	if _, err := planner.ParseClockList(nil); !errors.Is(err, planner.ErrInvalidTiming) {
		t.Fatalf("want ErrInvalidTiming for empty list, got %v", err)
	}
}

// TestSlotsScenario pins the full walk for preferred times
// 06:00/10:00/15:00/20:00/23:30, 6h spacing, 15m lead, 7-day horizon,
// starting at 08:00. Derivation: earliest permissible is 08:15, so 06:00 is
// skipped; 10:00 is the first slot; 15:00 is only 5h later and rejected;
// 20:00 clears the gap; 23:30 is 3.5h after 20:00 and rejected. Day two
// continues from 20:00.
func TestSlotsScenario(t *testing.T) {
	timing := testTiming(t, []string{"06:00", "10:00", "15:00", "20:00", "23:30"})
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	slots, err := planner.Slots(timing, 5, nil, now)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}

	want := []time.Time{
		time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 6, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 15, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 23, 30, 0, 0, time.UTC),
	}
	if len(slots) != len(want) {
		t.Fatalf("want %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Errorf("slot[%d]: want %s, got %s", i, want[i], slots[i])
		}
	}
}

// TestSlotsProperties checks the general contract: strictly increasing,
// all at least lead-time out, consecutive pairs at least min-gap apart.
func TestSlotsProperties(t *testing.T) {
	timing := testTiming(t, []string{"06:00", "10:00", "15:00", "20:00", "23:30"})
	now := time.Date(2025, 3, 10, 3, 27, 0, 0, time.UTC)

	slots, err := planner.Slots(timing, 8, nil, now)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("want 8 slots, got %d", len(slots))
	}
	earliest := now.Add(timing.LeadTime)
	for i, slot := range slots {
		if slot.Before(earliest) {
			t.Errorf("slot[%d] %s is before lead-time bound %s", i, slot, earliest)
		}
		if i > 0 {
			if !slot.After(slots[i-1]) {
				t.Errorf("slots not strictly increasing at %d: %s then %s", i, slots[i-1], slot)
			}
			if slot.Sub(slots[i-1]) < timing.MinGap {
				t.Errorf("slot[%d] violates min gap: %s after %s", i, slot, slots[i-1])
			}
		}
	}
}

func TestSlotsInsufficientCapacity(t *testing.T) {
	timing := testTiming(t, []string{"09:00"})
	timing.HorizonDays = 3
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	// One slot per day, three days: four requested slots cannot fit.
	slots, err := planner.Slots(timing, 4, nil, now)
	if !errors.Is(err, planner.ErrInsufficientCapacity) {
		t.Fatalf("want ErrInsufficientCapacity, got %v", err)
	}
	if slots != nil {
		t.Errorf("no partial slot list may be returned, got %v", slots)
	}
}

// TestSlotsRespectExistingCommitments verifies that new slots never violate
// spacing against what is already queued: the earliest permissible instant
// moves past the last pending item plus the gap.
func TestSlotsRespectExistingCommitments(t *testing.T) {
	timing := testTiming(t, []string{"06:00", "12:00", "18:00"})
	now := time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC)
	existing := []time.Time{
		time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	slots, err := planner.Slots(timing, 2, existing, now)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	// 06:00 and 12:00 fall inside the 9:00+6h exclusion, first usable is 18:00.
	if want := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC); !slots[0].Equal(want) {
		t.Errorf("slot[0]: want %s, got %s", want, slots[0])
	}
	for _, slot := range slots {
		for _, committed := range existing {
			if slot.Sub(committed) < timing.MinGap {
				t.Errorf("slot %s violates spacing against committed %s", slot, committed)
			}
		}
	}
}

// TestSlotsPassedTimeNotWrapped: a preferred time already behind the
// earliest permissible instant on the first day is skipped in place, never
// re-sorted after later times.
func TestSlotsPassedTimeNotWrapped(t *testing.T) {
	timing := testTiming(t, []string{"20:00", "06:00"})
	timing.MinGap = time.Hour
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	slots, err := planner.Slots(timing, 2, nil, now)
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	// Day one: 20:00 accepted, 06:00 already passed. Day two: 20:00 is
	// evaluated before 06:00 per configured order, both clear the gap.
	want := []time.Time{
		time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 11, 20, 0, 0, 0, time.UTC),
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Errorf("slot[%d]: want %s, got %s", i, want[i], slots[i])
		}
	}
}

func TestSlotsZeroCount(t *testing.T) {
	timing := testTiming(t, []string{"09:00"})
	slots, err := planner.Slots(timing, 0, nil, time.Now())
	if err != nil || slots != nil {
		t.Fatalf("want nil, nil for zero count, got %v, %v", slots, err)
	}
}

func TestSlotsInvalidTiming(t *testing.T) {
	timing := testTiming(t, []string{"09:00"})
	timing.HorizonDays = 0
	if _, err := planner.Slots(timing, 1, nil, time.Now()); !errors.Is(err, planner.ErrInvalidTiming) {
		t.Errorf("zero horizon: want ErrInvalidTiming, got %v", err)
	}

	timing = testTiming(t, []string{"09:00"})
	timing.Location = nil
	if _, err := planner.Slots(timing, 1, nil, time.Now()); !errors.Is(err, planner.ErrInvalidTiming) {
		t.Errorf("nil location: want ErrInvalidTiming, got %v", err)
	}
}

func TestPlanItemsAssignsSlotsInOrder(t *testing.T) {
	timing := testTiming(t, []string{"06:00", "12:00", "18:00"})
	now := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

	topic := "go"
	posts := []domain.GeneratedPost{
		{Text: "first", Topic: &topic},
		{Text: "second"},
	}
	items, err := planner.PlanItems(timing, posts, nil, now)
	if err != nil {
		t.Fatalf("PlanItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	if items[0].Text != "first" || items[1].Text != "second" {
		t.Errorf("first-in-first-scheduled violated: %q, %q", items[0].Text, items[1].Text)
	}
	if !items[0].ScheduledAt.Before(items[1].ScheduledAt) {
		t.Errorf("item slots out of order: %s, %s", items[0].ScheduledAt, items[1].ScheduledAt)
	}
	if items[0].ID == "" || items[0].ID == items[1].ID {
		t.Errorf("items must get unique ids, got %q and %q", items[0].ID, items[1].ID)
	}
	for _, item := range items {
		if item.Status != domain.StatusPending {
			t.Errorf("new item status: want pending, got %s", item.Status)
		}
	}
	if items[0].Topic == nil || *items[0].Topic != "go" {
		t.Errorf("topic not carried through")
	}
}

func TestPlanItemsInsufficientCapacity(t *testing.T) {
	timing := testTiming(t, []string{"09:00"})
	timing.HorizonDays = 1
	posts := []domain.GeneratedPost{{Text: "a"}, {Text: "b"}}
	now := time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

	if _, err := planner.PlanItems(timing, posts, nil, now); !errors.Is(err, planner.ErrInsufficientCapacity) {
		t.Fatalf("want ErrInsufficientCapacity, got %v", err)
	}
}
