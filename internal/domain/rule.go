package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Frequency identifies the calendar axis a recurrence rule advances along.
type Frequency string

// Supported recurrence frequencies.
const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Rule-specific validation errors.
var (
	// ErrRuleInvalidFrequency is returned when the frequency is not one of
	// the supported values.
	ErrRuleInvalidFrequency = fmt.Errorf("%w: invalid frequency", ErrValidation)

	// ErrRuleInvalidInterval is returned when the interval is less than 1.
	ErrRuleInvalidInterval = fmt.Errorf("%w: interval must be at least 1", ErrValidation)

	// ErrRuleWeekdaysRequired is returned when a weekly rule has no days of week.
	ErrRuleWeekdaysRequired = fmt.Errorf("%w: weekly rule requires days of week", ErrValidation)

	// ErrRuleWeekdayInvalid is returned when a day of week is out of range
	// or listed more than once.
	ErrRuleWeekdayInvalid = fmt.Errorf("%w: invalid day of week", ErrValidation)

	// ErrRuleWeekdaysWrongFrequency is returned when days of week are set on
	// a non-weekly rule.
	ErrRuleWeekdaysWrongFrequency = fmt.Errorf(
		"%w: days of week only valid for weekly rules", ErrValidation)

	// ErrRuleDayOfMonthInvalid is returned when the day of month is outside 1-31
	// or set on a rule that is neither monthly nor yearly.
	ErrRuleDayOfMonthInvalid = fmt.Errorf("%w: invalid day of month", ErrValidation)

	// ErrRuleMonthOfYearInvalid is returned when the month of year is outside 1-12
	// or set on a non-yearly rule.
	ErrRuleMonthOfYearInvalid = fmt.Errorf("%w: invalid month of year", ErrValidation)

	// ErrRuleTerminationConflict is returned when both an end date and an
	// occurrence count are set. The two termination conditions are mutually
	// exclusive.
	ErrRuleTerminationConflict = fmt.Errorf(
		"%w: end date and occurrence count are mutually exclusive", ErrValidation)

	// ErrRuleUnbounded is returned by ValidateStrict when a rule has neither an
	// end date nor an occurrence count. Such rules are accepted by Validate;
	// expansion is bounded by the engine's iteration cap instead.
	ErrRuleUnbounded = fmt.Errorf(
		"%w: rule has neither end date nor occurrence count", ErrValidation)
)

// RecurrenceRule describes how occurrences of a recurring task repeat.
// A rule is never mutated in place; updates go through Update, which
// re-validates the whole rule.
type RecurrenceRule struct {
	ID        uuid.UUID `json:"id"`
	Frequency Frequency `json:"frequency"`

	// Interval is the number of frequency units between occurrences.
	Interval int `json:"interval"`

	// EndDate and OccurrenceCount are mutually exclusive termination
	// conditions. A rule with neither is unbounded and is capped by the
	// recurrence engine at expansion time.
	EndDate         *time.Time `json:"endDate,omitempty"`
	OccurrenceCount *int       `json:"occurrenceCount,omitempty"`

	// DaysOfWeek is required and non-empty iff Frequency is weekly.
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`

	// DayOfMonth pins the day for monthly rules (and optionally yearly
	// rules). Days past the end of a short month are clamped to its last day.
	DayOfMonth int `json:"dayOfMonth,omitempty"`

	// MonthOfYear pins the month for yearly rules.
	MonthOfYear time.Month `json:"monthOfYear,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecurrenceRule creates a validated RecurrenceRule with a fresh ID.
// Unbounded rules (no termination condition) are accepted; callers that
// want to reject them should use ValidateStrict.
func NewRecurrenceRule(frequency Frequency, interval int) (*RecurrenceRule, error) {
	now := time.Now().UTC()
	rule := &RecurrenceRule{
		ID:        uuid.New(),
		Frequency: frequency,
		Interval:  interval,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}

	return rule, nil
}

// Validate checks the rule's structural invariants. It accepts unbounded
// rules; see ValidateStrict for the stricter variant.
func (r *RecurrenceRule) Validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
	default:
		return ErrRuleInvalidFrequency
	}

	if r.Interval < 1 {
		return ErrRuleInvalidInterval
	}

	if r.EndDate != nil && r.OccurrenceCount != nil {
		return ErrRuleTerminationConflict
	}

	if r.Frequency == FrequencyWeekly {
		if len(r.DaysOfWeek) == 0 {
			return ErrRuleWeekdaysRequired
		}
		seen := make(map[time.Weekday]bool, len(r.DaysOfWeek))
		for _, d := range r.DaysOfWeek {
			if d < time.Sunday || d > time.Saturday {
				return ErrRuleWeekdayInvalid
			}
			if seen[d] {
				return ErrRuleWeekdayInvalid
			}
			seen[d] = true
		}
	} else if len(r.DaysOfWeek) > 0 {
		return ErrRuleWeekdaysWrongFrequency
	}

	if r.DayOfMonth != 0 {
		if r.Frequency != FrequencyMonthly && r.Frequency != FrequencyYearly {
			return ErrRuleDayOfMonthInvalid
		}
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return ErrRuleDayOfMonthInvalid
		}
	}

	if r.MonthOfYear != 0 {
		if r.Frequency != FrequencyYearly {
			return ErrRuleMonthOfYearInvalid
		}
		if r.MonthOfYear < time.January || r.MonthOfYear > time.December {
			return ErrRuleMonthOfYearInvalid
		}
	}

	return nil
}

// ValidateStrict performs the same checks as Validate and additionally
// rejects unbounded rules with ErrRuleUnbounded.
func (r *RecurrenceRule) ValidateStrict() error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.EndDate == nil && r.OccurrenceCount == nil {
		return ErrRuleUnbounded
	}
	return nil
}

// Unbounded reports whether the rule has no termination condition.
func (r *RecurrenceRule) Unbounded() bool {
	return r.EndDate == nil && r.OccurrenceCount == nil
}

// Update applies changes from the given rule and re-validates the result.
// The receiver is left unchanged when validation fails.
func (r *RecurrenceRule) Update(updated RecurrenceRule) error {
	updated.ID = r.ID
	updated.CreatedAt = r.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := updated.Validate(); err != nil {
		return err
	}

	*r = updated
	return nil
}
