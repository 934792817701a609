// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput marks a transaction that violates the input invariants.
// The engine rejects such records outright; cleaning and defaulting belong
// to the ingestion side, not here.
var ErrInvalidInput = errors.New("invalid input")

// Transaction represents a single payment transaction to be scored.
// All fields are immutable facts supplied by the ingestion boundary.
type Transaction struct {
	ID               string    `json:"id"`
	Amount           float64   `json:"amount"`
	Merchant         string    `json:"merchant"`
	MerchantCategory string    `json:"merchantCategory"`
	Location         string    `json:"location"`
	Timestamp        time.Time `json:"timestamp"`
	UserID           string    `json:"userId"`
	CardType         string    `json:"cardType"`
}

// Validate checks the Transaction invariants. It reports the first violation
// found, always naming the offending transaction ID for diagnosis.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction has no id", ErrInvalidInput)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: transaction %s: user_id is required", ErrInvalidInput, t.ID)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: transaction %s: amount must be non-negative", ErrInvalidInput, t.ID)
	}
	if t.Merchant == "" {
		return fmt.Errorf("%w: transaction %s: merchant is required", ErrInvalidInput, t.ID)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: transaction %s: timestamp is required", ErrInvalidInput, t.ID)
	}
	if t.Timestamp.After(time.Now().UTC()) {
		return fmt.Errorf("%w: transaction %s: timestamp is in the future", ErrInvalidInput, t.ID)
	}
	return nil
}

// Hour returns the hour-of-day of the transaction timestamp.
func (t *Transaction) Hour() int {
	return t.Timestamp.Hour()
}

// DayOfWeek returns the weekday with Monday=0 .. Sunday=6.
func (t *Transaction) DayOfWeek() int {
	// time.Weekday counts from Sunday=0; the scoring rules count from Monday.
	return (int(t.Timestamp.Weekday()) + 6) % 7
}

// IsWeekend reports whether the transaction happened on Saturday or Sunday.
func (t *Transaction) IsWeekend() bool {
	return t.DayOfWeek() >= 5
}

// ValidateAll checks a whole collection and returns the first violation.
func ValidateAll(txs []Transaction) error {
	for i := range txs {
		if err := txs[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
