package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidSettings marks a settings update that failed validation.
// Invalid updates are rejected atomically - no field is merged.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings holds every tunable threshold of the scoring engine.
// A Settings value is treated as an immutable snapshot for the duration of
// one scoring pass; updates go through Apply on a copy.
type Settings struct {
	// Score thresholds, both in [0,1].
	HighRiskThreshold   float64 `json:"highRiskThreshold"`
	MediumRiskThreshold float64 `json:"mediumRiskThreshold"`

	// Amount thresholds.
	UnusualAmountThreshold    float64 `json:"unusualAmountThreshold"`
	MicroTransactionThreshold float64 `json:"microTransactionThreshold"`
	MaxAmountPerDay           float64 `json:"maxAmountPerDay"`

	// Off-hours window as hours of day. The window may wrap past midnight
	// (start > end means [start,24) union [0,end]).
	OffHoursStart int `json:"offHoursStart"`
	OffHoursEnd   int `json:"offHoursEnd"`

	MaxTransactionsPerHour int `json:"maxTransactionsPerHour"`
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		HighRiskThreshold:         0.7,
		MediumRiskThreshold:       0.4,
		UnusualAmountThreshold:    10000.0,
		MicroTransactionThreshold: 1.0,
		OffHoursStart:             22,
		OffHoursEnd:               6,
		MaxTransactionsPerHour:    10,
		MaxAmountPerDay:           50000.0,
	}
}

// SettingsPatch is a partial settings update. Nil fields are left unchanged.
type SettingsPatch struct {
	HighRiskThreshold         *float64 `json:"highRiskThreshold,omitempty"`
	MediumRiskThreshold       *float64 `json:"mediumRiskThreshold,omitempty"`
	UnusualAmountThreshold    *float64 `json:"unusualAmountThreshold,omitempty"`
	MicroTransactionThreshold *float64 `json:"microTransactionThreshold,omitempty"`
	MaxAmountPerDay           *float64 `json:"maxAmountPerDay,omitempty"`
	OffHoursStart             *int     `json:"offHoursStart,omitempty"`
	OffHoursEnd               *int     `json:"offHoursEnd,omitempty"`
	MaxTransactionsPerHour    *int     `json:"maxTransactionsPerHour,omitempty"`
}

// Apply validates the patch against the current settings and returns the
// merged result. On error nothing is merged.
func (s Settings) Apply(p SettingsPatch) (Settings, error) {
	merged := s

	if p.HighRiskThreshold != nil {
		merged.HighRiskThreshold = *p.HighRiskThreshold
	}
	if p.MediumRiskThreshold != nil {
		merged.MediumRiskThreshold = *p.MediumRiskThreshold
	}
	if p.UnusualAmountThreshold != nil {
		merged.UnusualAmountThreshold = *p.UnusualAmountThreshold
	}
	if p.MicroTransactionThreshold != nil {
		merged.MicroTransactionThreshold = *p.MicroTransactionThreshold
	}
	if p.MaxAmountPerDay != nil {
		merged.MaxAmountPerDay = *p.MaxAmountPerDay
	}
	if p.OffHoursStart != nil {
		merged.OffHoursStart = *p.OffHoursStart
	}
	if p.OffHoursEnd != nil {
		merged.OffHoursEnd = *p.OffHoursEnd
	}
	if p.MaxTransactionsPerHour != nil {
		merged.MaxTransactionsPerHour = *p.MaxTransactionsPerHour
	}

	if err := merged.Validate(); err != nil {
		return s, err
	}
	return merged, nil
}

// Validate checks that every field is in its legal range.
func (s Settings) Validate() error {
	if s.HighRiskThreshold < 0 || s.HighRiskThreshold > 1 {
		return fmt.Errorf("%w: high_risk_threshold %.3f outside [0,1]", ErrInvalidSettings, s.HighRiskThreshold)
	}
	if s.MediumRiskThreshold < 0 || s.MediumRiskThreshold > 1 {
		return fmt.Errorf("%w: medium_risk_threshold %.3f outside [0,1]", ErrInvalidSettings, s.MediumRiskThreshold)
	}
	if s.MediumRiskThreshold > s.HighRiskThreshold {
		return fmt.Errorf("%w: medium_risk_threshold %.3f above high_risk_threshold %.3f", ErrInvalidSettings, s.MediumRiskThreshold, s.HighRiskThreshold)
	}
	if s.OffHoursStart < 0 || s.OffHoursStart > 23 {
		return fmt.Errorf("%w: off_hours_start %d is not a valid hour", ErrInvalidSettings, s.OffHoursStart)
	}
	if s.OffHoursEnd < 0 || s.OffHoursEnd > 23 {
		return fmt.Errorf("%w: off_hours_end %d is not a valid hour", ErrInvalidSettings, s.OffHoursEnd)
	}
	if s.MaxTransactionsPerHour <= 0 {
		return fmt.Errorf("%w: max_transactions_per_hour must be positive", ErrInvalidSettings)
	}
	if s.MicroTransactionThreshold < 0 {
		return fmt.Errorf("%w: micro_transaction_threshold must be non-negative", ErrInvalidSettings)
	}
	if s.UnusualAmountThreshold < 0 {
		return fmt.Errorf("%w: unusual_amount_threshold must be non-negative", ErrInvalidSettings)
	}
	if s.MaxAmountPerDay < 0 {
		return fmt.Errorf("%w: max_amount_per_day must be non-negative", ErrInvalidSettings)
	}
	return nil
}

// InOffHours reports whether the given hour falls inside the off-hours
// window, wrap-aware.
func (s Settings) InOffHours(hour int) bool {
	if s.OffHoursStart > s.OffHoursEnd {
		return hour >= s.OffHoursStart || hour <= s.OffHoursEnd
	}
	return hour >= s.OffHoursStart && hour <= s.OffHoursEnd
}
