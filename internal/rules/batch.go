package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// BatchPolicy is the constant table for batch scoring. Keyword rules in this
// mode stack: every matching keyword adds its own contribution.
type BatchPolicy struct {
	ExtremeAmount    float64
	LargeAmount      float64
	MicroTransaction float64
	RoundAmount      float64

	OffHours float64
	Weekend  float64

	RapidConsecutive float64
	HourlyVelocity   float64
	DailyAmount      float64

	RapidLocationChange float64
	HighRiskLocation    float64

	RareMerchant       float64
	HighRiskCategory   float64
	SuspiciousMerchant float64

	ZScoreThreshold float64

	HighRiskLocationKeywords   KeywordSet
	HighRiskCategories         KeywordSet
	SuspiciousMerchantKeywords KeywordSet
}

// DefaultBatchPolicy returns the batch constant table.
func DefaultBatchPolicy() BatchPolicy {
	return BatchPolicy{
		ExtremeAmount:    0.30,
		LargeAmount:      0.20,
		MicroTransaction: 0.10,
		RoundAmount:      0.05,

		OffHours: 0.15,
		Weekend:  0.05,

		RapidConsecutive: 0.25,
		HourlyVelocity:   0.20,
		DailyAmount:      0.15,

		RapidLocationChange: 0.30,
		HighRiskLocation:    0.10,

		RareMerchant:       0.10,
		HighRiskCategory:   0.15,
		SuspiciousMerchant: 0.20,

		ZScoreThreshold: 3,

		// The empty keyword matches every location; it keeps a floor
		// contribution on all records and is part of the tuned table.
		HighRiskLocationKeywords:   KeywordSet{"unknown", "test", "temp", "null", ""},
		HighRiskCategories:         KeywordSet{"gambling", "adult", "cryptocurrency", "cash_advance"},
		SuspiciousMerchantKeywords: KeywordSet{"test", "temp", "fake", "dummy"},
	}
}

// BatchContext is the read-only population context for one record in a
// batch pass. Global statistics are computed once over the full collection;
// Velocity holds the per-record facts derived from the user's
// timestamp-ordered sequence.
type BatchContext struct {
	Settings domain.Settings

	// Global amount statistics (sample std; 0 disables the z-score rule).
	AmountMean float64
	AmountStd  float64

	// MerchantCounts maps merchant name to its global occurrence count.
	MerchantCounts map[string]int

	Velocity VelocityFacts
}

// VelocityFacts are the per-record outcomes of the per-user sequential scan.
type VelocityFacts struct {
	// RapidConsecutive is set when the gap to the user's previous
	// transaction is under one minute.
	RapidConsecutive bool

	// HourlyCount is the number of the user's transactions in this
	// record's floored hour bucket.
	HourlyCount int

	// DailyAmount is the sum of the user's amounts on this record's
	// calendar date.
	DailyAmount float64

	// RapidLocationChange is set when the location differs from the
	// user's previous transaction less than an hour earlier.
	RapidLocationChange bool
}

// BatchRule evaluates one rule family against a record.
type BatchRule struct {
	Name string
	Eval func(tx *domain.Transaction, bc *BatchContext) []Firing
}

// Battery returns the ordered batch rule battery. The fold order fixes the
// order of reason labels: amount, temporal, velocity, location, merchant.
func (p BatchPolicy) Battery() []BatchRule {
	return []BatchRule{
		{Name: "amount", Eval: p.amountRules},
		{Name: "temporal", Eval: p.temporalRules},
		{Name: "velocity", Eval: p.velocityRules},
		{Name: "location", Eval: p.locationRules},
		{Name: "merchant", Eval: p.merchantRules},
	}
}

func (p BatchPolicy) amountRules(tx *domain.Transaction, bc *BatchContext) []Firing {
	var fired []Firing

	// Zero population variance makes the z-score undefined; the extreme
	// amount rule alone is skipped, everything else still evaluates.
	if bc.AmountStd > 0 {
		if stats.ZScore(tx.Amount, bc.AmountMean, bc.AmountStd) > p.ZScoreThreshold {
			fired = append(fired, Firing{"Extreme amount", p.ExtremeAmount})
		}
	}
	if tx.Amount > bc.Settings.UnusualAmountThreshold {
		fired = append(fired, Firing{"Large amount", p.LargeAmount})
	}
	if tx.Amount < bc.Settings.MicroTransactionThreshold {
		fired = append(fired, Firing{"Micro transaction", p.MicroTransaction})
	}
	if tx.Amount > 100 && IsRoundAmount(tx.Amount, 100) {
		fired = append(fired, Firing{"Round amount", p.RoundAmount})
	}
	return fired
}

func (p BatchPolicy) temporalRules(tx *domain.Transaction, bc *BatchContext) []Firing {
	var fired []Firing
	if bc.Settings.InOffHours(tx.Hour()) {
		fired = append(fired, Firing{"Off-hours transaction", p.OffHours})
	}
	if tx.IsWeekend() {
		fired = append(fired, Firing{"Weekend transaction", p.Weekend})
	}
	return fired
}

func (p BatchPolicy) velocityRules(tx *domain.Transaction, bc *BatchContext) []Firing {
	var fired []Firing
	if bc.Velocity.RapidConsecutive {
		fired = append(fired, Firing{"Rapid consecutive transactions", p.RapidConsecutive})
	}
	if bc.Velocity.HourlyCount > bc.Settings.MaxTransactionsPerHour {
		fired = append(fired, Firing{"High hourly velocity", p.HourlyVelocity})
	}
	if bc.Velocity.DailyAmount > bc.Settings.MaxAmountPerDay {
		fired = append(fired, Firing{"High daily amount", p.DailyAmount})
	}
	return fired
}

func (p BatchPolicy) locationRules(tx *domain.Transaction, bc *BatchContext) []Firing {
	var fired []Firing
	if bc.Velocity.RapidLocationChange {
		fired = append(fired, Firing{"Rapid location change", p.RapidLocationChange})
	}
	// Matching keywords stack, one contribution each.
	for range p.HighRiskLocationKeywords.Matches(tx.Location) {
		fired = append(fired, Firing{"High-risk location", p.HighRiskLocation})
	}
	return fired
}

func (p BatchPolicy) merchantRules(tx *domain.Transaction, bc *BatchContext) []Firing {
	var fired []Firing
	if bc.MerchantCounts[tx.Merchant] == 1 {
		fired = append(fired, Firing{"New/rare merchant", p.RareMerchant})
	}
	for _, cat := range p.HighRiskCategories.Matches(tx.MerchantCategory) {
		fired = append(fired, Firing{fmt.Sprintf("High-risk category (%s)", cat), p.HighRiskCategory})
	}
	for range p.SuspiciousMerchantKeywords.Matches(tx.Merchant) {
		fired = append(fired, Firing{"Suspicious merchant name", p.SuspiciousMerchant})
	}
	return fired
}
