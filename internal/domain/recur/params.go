package recur

// Params configures the bounds of recurrence expansion.
type Params struct {
	// WeeklyScanDays bounds the day-by-day scan for weekly rules so the
	// search always terminates. 100 days covers any interval of valid
	// weekday sets with room to spare.
	WeeklyScanDays int

	// MaxOccurrences is the hard iteration cap for range expansion. It also
	// bounds rules that carry no termination condition. Reaching the cap is
	// reported to the caller, not treated as an error.
	MaxOccurrences int
}

// DefaultParams returns the standard expansion bounds.
func DefaultParams() Params {
	return Params{
		WeeklyScanDays: 100,
		MaxOccurrences: 1000,
	}
}
