package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }

func TestNewRecurrenceRule(t *testing.T) {
	rule, err := NewRecurrenceRule(FrequencyDaily, 1)
	require.NoError(t, err)

	assert.NotEqual(t, rule.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, FrequencyDaily, rule.Frequency)
	assert.Equal(t, 1, rule.Interval)
	assert.True(t, rule.IsActive)
	assert.True(t, rule.Unbounded())
}

func TestRecurrenceRuleValidate(t *testing.T) {
	cases := []struct {
		name    string
		rule    RecurrenceRule
		wantErr error
	}{
		{
			name:    "unknown frequency",
			rule:    RecurrenceRule{Frequency: "hourly", Interval: 1},
			wantErr: ErrRuleInvalidFrequency,
		},
		{
			name:    "zero interval",
			rule:    RecurrenceRule{Frequency: FrequencyDaily, Interval: 0},
			wantErr: ErrRuleInvalidInterval,
		},
		{
			name:    "negative interval",
			rule:    RecurrenceRule{Frequency: FrequencyDaily, Interval: -2},
			wantErr: ErrRuleInvalidInterval,
		},
		{
			name: "end date and count conflict",
			rule: RecurrenceRule{
				Frequency:       FrequencyDaily,
				Interval:        1,
				EndDate:         timePtr(time.Now()),
				OccurrenceCount: intPtr(3),
			},
			wantErr: ErrRuleTerminationConflict,
		},
		{
			name:    "weekly without weekdays",
			rule:    RecurrenceRule{Frequency: FrequencyWeekly, Interval: 1},
			wantErr: ErrRuleWeekdaysRequired,
		},
		{
			name: "weekly with duplicate weekday",
			rule: RecurrenceRule{
				Frequency:  FrequencyWeekly,
				Interval:   1,
				DaysOfWeek: []time.Weekday{time.Monday, time.Monday},
			},
			wantErr: ErrRuleWeekdayInvalid,
		},
		{
			name: "weekly with out-of-range weekday",
			rule: RecurrenceRule{
				Frequency:  FrequencyWeekly,
				Interval:   1,
				DaysOfWeek: []time.Weekday{time.Weekday(9)},
			},
			wantErr: ErrRuleWeekdayInvalid,
		},
		{
			name: "weekdays on daily rule",
			rule: RecurrenceRule{
				Frequency:  FrequencyDaily,
				Interval:   1,
				DaysOfWeek: []time.Weekday{time.Monday},
			},
			wantErr: ErrRuleWeekdaysWrongFrequency,
		},
		{
			name: "day of month on daily rule",
			rule: RecurrenceRule{
				Frequency:  FrequencyDaily,
				Interval:   1,
				DayOfMonth: 15,
			},
			wantErr: ErrRuleDayOfMonthInvalid,
		},
		{
			name: "day of month out of range",
			rule: RecurrenceRule{
				Frequency:  FrequencyMonthly,
				Interval:   1,
				DayOfMonth: 32,
			},
			wantErr: ErrRuleDayOfMonthInvalid,
		},
		{
			name: "month of year on monthly rule",
			rule: RecurrenceRule{
				Frequency:   FrequencyMonthly,
				Interval:    1,
				MonthOfYear: time.June,
			},
			wantErr: ErrRuleMonthOfYearInvalid,
		},
		{
			name: "valid weekly",
			rule: RecurrenceRule{
				Frequency:  FrequencyWeekly,
				Interval:   2,
				DaysOfWeek: []time.Weekday{time.Monday, time.Friday},
			},
		},
		{
			name: "valid monthly with pinned day",
			rule: RecurrenceRule{
				Frequency:  FrequencyMonthly,
				Interval:   1,
				DayOfMonth: 31,
			},
		},
		{
			name: "valid yearly",
			rule: RecurrenceRule{
				Frequency:   FrequencyYearly,
				Interval:    1,
				MonthOfYear: time.December,
				DayOfMonth:  25,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRecurrenceRuleValidateStrict(t *testing.T) {
	unbounded := RecurrenceRule{Frequency: FrequencyDaily, Interval: 1}
	require.NoError(t, unbounded.Validate())
	assert.ErrorIs(t, unbounded.ValidateStrict(), ErrRuleUnbounded)

	bounded := RecurrenceRule{
		Frequency:       FrequencyDaily,
		Interval:        1,
		OccurrenceCount: intPtr(10),
	}
	assert.NoError(t, bounded.ValidateStrict())
	assert.False(t, bounded.Unbounded())
}

func TestRecurrenceRuleUpdate(t *testing.T) {
	rule, err := NewRecurrenceRule(FrequencyDaily, 1)
	require.NoError(t, err)

	originalID := rule.ID
	originalCreated := rule.CreatedAt

	err = rule.Update(RecurrenceRule{
		Frequency:  FrequencyWeekly,
		Interval:   2,
		DaysOfWeek: []time.Weekday{time.Tuesday},
	})
	require.NoError(t, err)
	assert.Equal(t, originalID, rule.ID, "identity survives updates")
	assert.Equal(t, originalCreated, rule.CreatedAt)
	assert.Equal(t, FrequencyWeekly, rule.Frequency)
}

func TestRecurrenceRuleUpdateRejectsInvalid(t *testing.T) {
	rule, err := NewRecurrenceRule(FrequencyDaily, 1)
	require.NoError(t, err)

	err = rule.Update(RecurrenceRule{Frequency: FrequencyWeekly, Interval: 1})
	assert.ErrorIs(t, err, ErrRuleWeekdaysRequired)
	assert.Equal(t, FrequencyDaily, rule.Frequency, "failed update leaves the rule unchanged")
}
