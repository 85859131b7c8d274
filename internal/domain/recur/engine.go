// Package recur computes future occurrences of recurring tasks from their
// rules. It is pure calculation: no I/O, no clock reads, no logging.
package recur

import (
	"time"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// Engine derives occurrence dates from recurrence rules within the bounds
// set by its Params.
type Engine struct {
	params Params
}

// NewEngine creates an Engine with the given params. Zero-valued bounds fall
// back to the defaults.
func NewEngine(params Params) *Engine {
	defaults := DefaultParams()
	if params.WeeklyScanDays <= 0 {
		params.WeeklyScanDays = defaults.WeeklyScanDays
	}
	if params.MaxOccurrences <= 0 {
		params.MaxOccurrences = defaults.MaxOccurrences
	}
	return &Engine{params: params}
}

// NextOccurrence returns the first occurrence of the rule strictly after
// from, or ok=false when the candidate would fall after the rule's end date
// (or, for weekly rules, when no matching weekday exists within the scan
// bound).
func (e *Engine) NextOccurrence(rule *domain.RecurrenceRule, from time.Time) (time.Time, bool) {
	var candidate time.Time

	switch rule.Frequency {
	case domain.FrequencyDaily:
		candidate = from.AddDate(0, 0, rule.Interval)

	case domain.FrequencyWeekly:
		var ok bool
		candidate, ok = e.nextWeekday(rule, from)
		if !ok {
			return time.Time{}, false
		}

	case domain.FrequencyMonthly:
		candidate = addMonths(from, rule.Interval, rule.DayOfMonth)

	case domain.FrequencyYearly:
		candidate = addYears(from, rule.Interval, rule.MonthOfYear, rule.DayOfMonth)

	default:
		return time.Time{}, false
	}

	if rule.EndDate != nil && candidate.After(*rule.EndDate) {
		return time.Time{}, false
	}

	return candidate, true
}

// nextWeekday scans forward one day at a time for the next date whose
// weekday is in the rule's set. The scan is bounded so a rule with an
// unreachable weekday set cannot loop forever.
func (e *Engine) nextWeekday(rule *domain.RecurrenceRule, from time.Time) (time.Time, bool) {
	wanted := make(map[time.Weekday]bool, len(rule.DaysOfWeek))
	for _, d := range rule.DaysOfWeek {
		wanted[d] = true
	}

	candidate := from
	for i := 0; i < e.params.WeeklyScanDays; i++ {
		candidate = candidate.AddDate(0, 0, 1)
		if wanted[candidate.Weekday()] {
			return candidate, true
		}
	}

	return time.Time{}, false
}

// HasEnded reports whether the rule's termination condition has been reached:
// the end date is at or before the last occurrence, or the occurrence count
// has been exhausted. The two conditions are independent.
func (e *Engine) HasEnded(rule *domain.RecurrenceRule, lastOccurrence time.Time, countSoFar int) bool {
	if rule.EndDate != nil && !rule.EndDate.After(lastOccurrence) {
		return true
	}
	if rule.OccurrenceCount != nil && countSoFar >= *rule.OccurrenceCount {
		return true
	}
	return false
}

// NextN returns up to n occurrences of the rule after start. Fewer are
// returned when the rule ends first.
func (e *Engine) NextN(rule *domain.RecurrenceRule, start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	current := start

	for len(out) < n {
		next, ok := e.NextOccurrence(rule, current)
		if !ok {
			break
		}
		if rule.OccurrenceCount != nil && len(out) >= *rule.OccurrenceCount {
			break
		}
		out = append(out, next)
		current = next
	}

	return out
}

// InRange returns all occurrences of the rule after start and not after end.
// The expansion is additionally bounded by the engine's iteration cap;
// capped=true means the cap bound the result, which callers should log but
// not treat as an error.
func (e *Engine) InRange(rule *domain.RecurrenceRule, start, end time.Time) (dates []time.Time, capped bool) {
	current := start

	for len(dates) < e.params.MaxOccurrences {
		next, ok := e.NextOccurrence(rule, current)
		if !ok || next.After(end) {
			return dates, false
		}
		if rule.OccurrenceCount != nil && len(dates) >= *rule.OccurrenceCount {
			return dates, false
		}
		dates = append(dates, next)
		current = next
	}

	return dates, true
}

// addMonths advances t by the given number of months, pinning the day of
// month when pinDay is non-zero. Days past the end of a short month are
// clamped to its last day (rule day 31 in February yields Feb 28/29), never
// rolled into the following month.
func addMonths(t time.Time, months, pinDay int) time.Time {
	year, month, day := t.Date()

	total := int(month) - 1 + months
	year += total / 12
	month = time.Month(total%12 + 1)

	if pinDay > 0 {
		day = pinDay
	}
	if last := daysIn(year, month); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

// addYears advances t by the given number of years, pinning month and day
// when specified, with the same clamping policy as addMonths.
func addYears(t time.Time, years int, pinMonth time.Month, pinDay int) time.Time {
	year, month, day := t.Date()
	year += years

	if pinMonth != 0 {
		month = pinMonth
	}
	if pinDay > 0 {
		day = pinDay
	}
	if last := daysIn(year, month); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
