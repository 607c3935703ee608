// Package planner computes future dispatch slots. It is pure: callers feed
// in the current time and the already-committed pending times, and get back
// either the full set of requested slots or an error — never a partial plan.
package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"postflow/internal/domain"
)

var (
	ErrInsufficientCapacity = errors.New("not enough slots available within scheduling window")
	ErrInvalidTiming        = errors.New("invalid timing configuration")
)

// Clock is a preferred time of day in the configured timezone.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	hourStr, minuteStr, ok := strings.Cut(s, ":")
	if !ok {
		return Clock{}, fmt.Errorf("%w: preferred time %q must be HH:MM", ErrInvalidTiming, s)
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("%w: bad hour in %q", ErrInvalidTiming, s)
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("%w: bad minute in %q", ErrInvalidTiming, s)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

// ParseClockList parses preferred posting times, preserving their configured
// order. The order is load-bearing: slots are evaluated in exactly this
// sequence within each day, never re-sorted.
func ParseClockList(entries []string) ([]Clock, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: preferred posting times must contain at least one value", ErrInvalidTiming)
	}
	clocks := make([]Clock, 0, len(entries))
	for _, entry := range entries {
		c, err := ParseClock(entry)
		if err != nil {
			return nil, err
		}
		clocks = append(clocks, c)
	}
	return clocks, nil
}

// Timing is the scheduling configuration the planner works against.
type Timing struct {
	PreferredTimes []Clock
	MinGap         time.Duration // minimum spacing between consecutive dispatches
	HorizonDays    int           // how many days ahead to scan
	LeadTime       time.Duration // minimum delay before the first slot
	Location       *time.Location
}

func (t Timing) validate() error {
	if len(t.PreferredTimes) == 0 {
		return fmt.Errorf("%w: no preferred posting times", ErrInvalidTiming)
	}
	if t.HorizonDays < 1 {
		return fmt.Errorf("%w: horizon must cover at least one day", ErrInvalidTiming)
	}
	if t.MinGap < 0 || t.LeadTime < 0 {
		return fmt.Errorf("%w: negative durations", ErrInvalidTiming)
	}
	if t.Location == nil {
		return fmt.Errorf("%w: missing location", ErrInvalidTiming)
	}
	return nil
}

// Slots computes count future dispatch timestamps. Candidates start at
// now+lead, pushed further out so that no new slot violates the minimum
// spacing against any existing pending commitment. Days are scanned in
// order up to the horizon; within a day the preferred times are evaluated
// in their configured order. A candidate earlier than the earliest
// permissible instant is skipped, never wrapped forward.
func Slots(t Timing, count int, existing []time.Time, now time.Time) ([]time.Time, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, nil
	}

	earliest := now.Add(t.LeadTime)
	for _, committed := range existing {
		if next := committed.Add(t.MinGap); next.After(earliest) {
			earliest = next
		}
	}

	start := now.Add(t.LeadTime).In(t.Location)
	year, month, day := start.Date()

	slots := make([]time.Time, 0, count)
	var last time.Time
	for offset := 0; offset < t.HorizonDays && len(slots) < count; offset++ {
		for _, clock := range t.PreferredTimes {
			candidate := time.Date(year, month, day+offset, clock.Hour, clock.Minute, 0, 0, t.Location)
			if candidate.Before(earliest) {
				continue
			}
			if !last.IsZero() && candidate.Sub(last) < t.MinGap {
				continue
			}
			slots = append(slots, candidate)
			last = candidate
			if len(slots) >= count {
				break
			}
		}
	}

	if len(slots) < count {
		return nil, fmt.Errorf("%w: need %d, found %d", ErrInsufficientCapacity, count, len(slots))
	}
	return slots, nil
}

// PlanItems assigns one slot per generated post, first-in-first-scheduled,
// and wraps each into a new pending queue item with a fresh id.
func PlanItems(t Timing, posts []domain.GeneratedPost, existing []time.Time, now time.Time) ([]domain.QueueItem, error) {
	slots, err := Slots(t, len(posts), existing, now)
	if err != nil {
		return nil, err
	}
	items := make([]domain.QueueItem, 0, len(posts))
	for i, post := range posts {
		items = append(items, domain.QueueItem{
			ID:          uuid.NewString(),
			Text:        post.Text,
			Topic:       post.Topic,
			Notes:       post.Notes,
			ScheduledAt: slots[i],
			Status:      domain.StatusPending,
		})
	}
	return items, nil
}
