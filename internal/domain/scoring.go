package domain

import (
	"time"
)

// ScoredTransaction is a Transaction augmented with the batch scoring outcome.
// Hour, DayOfWeek and IsWeekend are derived during scoring, never by ingestion.
type ScoredTransaction struct {
	Transaction

	Hour      int  `json:"hour"`
	DayOfWeek int  `json:"dayOfWeek"`
	IsWeekend bool `json:"isWeekend"`

	// RiskScore is the clamped [0,1] sum of all fired rule contributions.
	RiskScore float64 `json:"riskScore"`

	// IsFraud holds iff RiskScore >= the high risk threshold in effect.
	IsFraud bool `json:"isFraud"`

	// FraudReasons lists the fired rule labels in evaluation order.
	FraudReasons []string `json:"fraudReasons"`
}

// DimensionAnalysis is one of the five sub-analyses of a single-transaction
// risk assessment.
type DimensionAnalysis struct {
	Contribution float64        `json:"riskContribution"`
	Factors      []string       `json:"factors"`
	Details      map[string]any `json:"details"`
}

// Recommendation actions, ordered from most to least severe.
const (
	ActionBlock   = "BLOCK"
	ActionReview  = "REVIEW"
	ActionMonitor = "MONITOR"
	ActionApprove = "APPROVE"
)

// Confidence levels attached to a recommendation.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

// Risk levels. The risk-level ladder is deliberately distinct from the
// action ladder; the two use independently defined thresholds.
const (
	RiskHigh    = "HIGH"
	RiskMedium  = "MEDIUM"
	RiskLow     = "LOW"
	RiskVeryLow = "VERY LOW"
)

// Recommendation is the actionable outcome of a single-transaction analysis.
type Recommendation struct {
	Action     string `json:"action"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
	RiskLevel  string `json:"riskLevel"`

	// PrimaryConcerns holds the first three risk factors in evaluation
	// order (user, amount, temporal, location, merchant) - not sorted by
	// contribution.
	PrimaryConcerns []string `json:"primaryConcerns"`
}

// RiskAnalysis is the full explainable breakdown for one transaction
// evaluated against a historical population.
type RiskAnalysis struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	RiskScore     float64   `json:"riskScore"`
	RiskFactors   []string  `json:"riskFactors"`
	CreatedAt     time.Time `json:"createdAt"`

	User     DimensionAnalysis `json:"userAnalysis"`
	Amount   DimensionAnalysis `json:"amountAnalysis"`
	Temporal DimensionAnalysis `json:"temporalAnalysis"`
	Location DimensionAnalysis `json:"locationAnalysis"`
	Merchant DimensionAnalysis `json:"merchantAnalysis"`

	Recommendation Recommendation `json:"recommendation"`
}

// FraudStatistics aggregates the outcome of a scored batch.
type FraudStatistics struct {
	TotalTransactions      int     `json:"totalTransactions"`
	FraudTransactions      int     `json:"fraudTransactions"`
	FraudRate              float64 `json:"fraudRate"`
	HighRiskTransactions   int     `json:"highRiskTransactions"`
	MediumRiskTransactions int     `json:"mediumRiskTransactions"`
	FraudAmount            float64 `json:"fraudAmount"`
	TotalAmount            float64 `json:"totalAmount"`
	FraudAmountRate        float64 `json:"fraudAmountRate"`
	AverageRiskScore       float64 `json:"averageRiskScore"`
}
