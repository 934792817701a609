package engine

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Analyzer performs the deep five-dimension analysis of one transaction
// against a historical population: user behaviour, amount, temporal,
// location, and merchant patterns, in that fixed order.
type Analyzer struct {
	policy rules.SinglePolicy
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithSinglePolicy overrides the default constant table.
func WithSinglePolicy(p rules.SinglePolicy) AnalyzerOption {
	return func(a *Analyzer) { a.policy = p }
}

// NewAnalyzer creates an analyzer with the default policy.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{policy: rules.DefaultSinglePolicy()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze evaluates tx against the historical population and returns a full
// risk analysis: five dimension breakdowns, a total score clamped to [0, 1],
// and an actionable recommendation. The population may be empty; novelty
// rules then stand in for the undefined statistics.
func (a *Analyzer) Analyze(tx domain.Transaction, history []domain.Transaction) *domain.RiskAnalysis {
	userHist := filterByUser(history, tx.UserID)

	user := a.analyzeUser(&tx, userHist)
	amount := a.analyzeAmount(&tx, history)
	temporal := a.analyzeTemporal(&tx, history)
	location := a.analyzeLocation(&tx, history, userHist)
	merchant := a.analyzeMerchant(&tx, history, userHist)

	score := user.Contribution + amount.Contribution + temporal.Contribution +
		location.Contribution + merchant.Contribution
	if score > 1.0 {
		score = 1.0
	}

	var factors []string
	for _, d := range []*domain.DimensionAnalysis{&user, &amount, &temporal, &location, &merchant} {
		factors = append(factors, d.Factors...)
	}

	return &domain.RiskAnalysis{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		RiskScore:      score,
		RiskFactors:    factors,
		CreatedAt:      time.Now().UTC(),
		User:           user,
		Amount:         amount,
		Temporal:       temporal,
		Location:       location,
		Merchant:       merchant,
		Recommendation: a.recommend(score, factors),
	}
}

// analyzeUser compares the transaction against the user's own history. A
// user with no history short-circuits to the new-user bonus; the remaining
// checks only make sense with priors.
func (a *Analyzer) analyzeUser(tx *domain.Transaction, userHist []domain.Transaction) domain.DimensionAnalysis {
	d := domain.DimensionAnalysis{Details: map[string]any{}}

	if len(userHist) == 0 {
		d.Contribution = a.policy.NewUser
		d.Factors = append(d.Factors, "New user - no transaction history")
		d.Details["is_new_user"] = true
		d.Details["transaction_count"] = 0
		return d
	}
	d.Details["is_new_user"] = false
	d.Details["transaction_count"] = len(userHist)

	amounts := make([]float64, len(userHist))
	var last time.Time
	for i := range userHist {
		amounts[i] = userHist[i].Amount
		if userHist[i].Timestamp.After(last) {
			last = userHist[i].Timestamp
		}
	}
	mean := stats.Mean(amounts)
	std := stats.StdDev(amounts)
	d.Details["avg_amount"] = mean
	d.Details["std_amount"] = std

	if std > 0 {
		z := stats.ZScore(tx.Amount, mean, std)
		d.Details["amount_z_score"] = z
		if z > a.policy.UserZHigh {
			d.Contribution += a.policy.UserAmountExtreme
			d.Factors = append(d.Factors, fmt.Sprintf("Amount highly unusual for user (Z-score: %.2f)", z))
		} else if z > a.policy.UserZLow {
			d.Contribution += a.policy.UserAmountUnusual
			d.Factors = append(d.Factors, fmt.Sprintf("Amount somewhat unusual for user (Z-score: %.2f)", z))
		}
	}

	sinceLast := tx.Timestamp.Sub(last)
	d.Details["time_since_last_seconds"] = sinceLast.Seconds()
	if sinceLast < 5*time.Minute {
		d.Contribution += a.policy.RecentFromSameUser
		d.Factors = append(d.Factors, "Very recent transaction from same user")
	}

	var recentSum float64
	var recent int
	cutoff := tx.Timestamp.Add(-24 * time.Hour)
	for i := range userHist {
		if userHist[i].Timestamp.After(cutoff) {
			recentSum += userHist[i].Amount
			recent++
		}
	}
	if recent > 0 {
		avgDaily := avgDailySpend(userHist)
		dailySpending := recentSum + tx.Amount
		d.Details["daily_spending"] = dailySpending
		d.Details["avg_daily_spending"] = avgDaily
		if dailySpending > 3*avgDaily {
			d.Contribution += a.policy.DailySpendAboveAvg
			d.Factors = append(d.Factors, "Daily spending significantly above average")
		}
	}

	return d
}

// avgDailySpend is the mean of the user's per-calendar-date amount sums.
func avgDailySpend(userHist []domain.Transaction) float64 {
	byDate := make(map[string]float64)
	for i := range userHist {
		byDate[userHist[i].Timestamp.Format("2006-01-02")] += userHist[i].Amount
	}
	sums := make([]float64, 0, len(byDate))
	for _, v := range byDate {
		sums = append(sums, v)
	}
	return stats.Mean(sums)
}

func (a *Analyzer) analyzeAmount(tx *domain.Transaction, history []domain.Transaction) domain.DimensionAnalysis {
	d := domain.DimensionAnalysis{Details: map[string]any{}}

	var sum stats.Summary
	if len(history) > 0 {
		amounts := make([]float64, len(history))
		for i := range history {
			amounts[i] = history[i].Amount
		}
		sum = stats.Summarize(amounts)
		d.Details["global_stats"] = map[string]any{
			"mean":   sum.Mean,
			"std":    sum.Std,
			"median": sum.Median,
			"q75":    sum.Q75,
			"q95":    sum.Q95,
			"q99":    sum.Q99,
		}
		d.Details["amount_percentile"] = stats.PercentileRank(amounts, tx.Amount)

		if tx.Amount > sum.Q99 {
			d.Contribution += a.policy.AmountTopPercentile
			d.Factors = append(d.Factors, fmt.Sprintf("Amount in top 1%% of all transactions ($%s)", humanize.CommafWithDigits(tx.Amount, 2)))
		} else if tx.Amount > sum.Q95 {
			d.Contribution += a.policy.AmountHighQuantile
			d.Factors = append(d.Factors, fmt.Sprintf("Amount in top 5%% of all transactions ($%s)", humanize.CommafWithDigits(tx.Amount, 2)))
		}
	}

	if tx.Amount < 1 {
		d.Contribution += a.policy.MicroAmount
		d.Factors = append(d.Factors, fmt.Sprintf("Micro transaction amount ($%.2f)", tx.Amount))
	}

	if tx.Amount >= 100 && rules.IsRoundAmount(tx.Amount, 100) {
		d.Contribution += a.policy.RoundHundred
		d.Factors = append(d.Factors, fmt.Sprintf("Round amount ($%s)", humanize.CommafWithDigits(tx.Amount, 0)))
	} else if tx.Amount >= 10 && rules.IsRoundAmount(tx.Amount, 10) {
		d.Contribution += a.policy.RoundTen
		d.Factors = append(d.Factors, fmt.Sprintf("Round amount to nearest $10 ($%s)", humanize.CommafWithDigits(tx.Amount, 0)))
	}

	if sum.Std > 0 {
		z := stats.ZScore(tx.Amount, sum.Mean, sum.Std)
		d.Details["z_score"] = z
		if z > a.policy.GlobalZThreshold {
			d.Contribution += a.policy.GlobalOutlier
			d.Factors = append(d.Factors, fmt.Sprintf("Statistical outlier (Z-score: %.2f)", z))
		}
	}

	return d
}

func (a *Analyzer) analyzeTemporal(tx *domain.Transaction, history []domain.Transaction) domain.DimensionAnalysis {
	d := domain.DimensionAnalysis{Details: map[string]any{}}

	hour := tx.Hour()
	offHours := a.policy.InOffHours(hour)
	weekend := tx.IsWeekend()
	holiday := isHoliday(tx.Timestamp)

	d.Details["hour"] = hour
	d.Details["day_of_week"] = tx.DayOfWeek()
	d.Details["is_weekend"] = weekend
	d.Details["is_off_hours"] = offHours
	d.Details["is_holiday"] = holiday

	if offHours {
		d.Contribution += a.policy.OffHours
		d.Factors = append(d.Factors, fmt.Sprintf("Off-hours transaction (%02d:00)", hour))
	}
	if weekend {
		d.Contribution += a.policy.Weekend
		d.Factors = append(d.Factors, "Weekend transaction")
	}
	if holiday {
		d.Contribution += a.policy.Holiday
		d.Factors = append(d.Factors, "Holiday transaction")
	}

	if len(history) > 0 {
		var hourCount int
		for i := range history {
			if history[i].Hour() == hour {
				hourCount++
			}
		}
		d.Details["hour_transaction_count"] = hourCount
		if float64(hourCount) < float64(len(history))*0.01 {
			d.Contribution += a.policy.UnusualHour
			d.Factors = append(d.Factors, fmt.Sprintf("Unusual hour for transactions (only %d historical transactions)", hourCount))
		}
	}

	return d
}

// isHoliday flags major fixed-date holidays (New Year's Day, Christmas).
func isHoliday(t time.Time) bool {
	m, day := t.Month(), t.Day()
	return (m == time.January && day == 1) || (m == time.December && day == 25)
}

func (a *Analyzer) analyzeLocation(tx *domain.Transaction, history, userHist []domain.Transaction) domain.DimensionAnalysis {
	d := domain.DimensionAnalysis{Details: map[string]any{}}

	userLoc := make(map[string]int)
	for i := range userHist {
		userLoc[userHist[i].Location]++
	}
	d.Details["user_location_count"] = len(userLoc)

	if len(userLoc) > 0 {
		freq, seen := userLoc[tx.Location]
		d.Details["is_new_location"] = !seen
		d.Details["most_common_location"] = mostCommon(userLoc)
		d.Details["location_frequency"] = freq
		if !seen {
			d.Contribution += a.policy.NewUserLocation
			d.Factors = append(d.Factors, "New location for this user")
		} else if freq == 1 {
			d.Contribution += a.policy.RareUserLocation
			d.Factors = append(d.Factors, "Rarely used location for this user")
		}
	}

	globalLoc := make(map[string]int)
	for i := range history {
		globalLoc[history[i].Location]++
	}
	globalFreq, seenGlobally := globalLoc[tx.Location]
	d.Details["global_location_frequency"] = globalFreq
	if !seenGlobally {
		d.Contribution += a.policy.NewGlobalLocation
		d.Factors = append(d.Factors, "New location globally")
	} else if globalFreq < a.policy.RareGlobalCount {
		d.Contribution += a.policy.RareGlobalLocation
		d.Factors = append(d.Factors, "Rarely used location globally")
	}

	if a.policy.SuspiciousLocationKeywords.ContainsAny(tx.Location) {
		d.Contribution += a.policy.SuspiciousLocation
		d.Factors = append(d.Factors, "Suspicious location name")
	}

	return d
}

func (a *Analyzer) analyzeMerchant(tx *domain.Transaction, history, userHist []domain.Transaction) domain.DimensionAnalysis {
	d := domain.DimensionAnalysis{Details: map[string]any{}}

	userMerchants := make(map[string]struct{})
	userCategories := make(map[string]struct{})
	for i := range userHist {
		userMerchants[userHist[i].Merchant] = struct{}{}
		userCategories[userHist[i].MerchantCategory] = struct{}{}
	}
	d.Details["user_merchant_count"] = len(userMerchants)
	d.Details["user_category_count"] = len(userCategories)

	if len(userMerchants) > 0 {
		if _, seen := userMerchants[tx.Merchant]; !seen {
			d.Contribution += a.policy.NewUserMerchant
			d.Factors = append(d.Factors, "New merchant for this user")
		}
		if _, seen := userCategories[tx.MerchantCategory]; !seen {
			d.Contribution += a.policy.NewUserCategory
			d.Factors = append(d.Factors, "New merchant category for this user")
		}
	}

	globalMerchants := make(map[string]int)
	for i := range history {
		globalMerchants[history[i].Merchant]++
	}
	globalFreq, seenGlobally := globalMerchants[tx.Merchant]
	d.Details["global_merchant_frequency"] = globalFreq
	if !seenGlobally {
		d.Contribution += a.policy.NewGlobalMerchant
		d.Factors = append(d.Factors, "New merchant globally")
	} else if globalFreq < a.policy.RareGlobalCount {
		d.Contribution += a.policy.RareGlobalMerchant
		d.Factors = append(d.Factors, "Rarely used merchant")
	}

	if a.policy.HighRiskCategories.ContainsAny(tx.MerchantCategory) {
		d.Contribution += a.policy.HighRiskCategory
		d.Factors = append(d.Factors, fmt.Sprintf("High-risk merchant category: %s", tx.MerchantCategory))
	}

	if a.policy.SuspiciousMerchantKeywords.ContainsAny(tx.Merchant) {
		d.Contribution += a.policy.SuspiciousMerchant
		d.Factors = append(d.Factors, "Suspicious merchant name")
	}

	return d
}

// recommend maps the total score onto the action ladder and, separately,
// onto the risk-level ladder. The two ladders use different breakpoints on
// purpose: the action ladder drives workflow, the risk level drives labels.
func (a *Analyzer) recommend(score float64, factors []string) domain.Recommendation {
	var rec domain.Recommendation

	switch {
	case score >= 0.8:
		rec.Action = domain.ActionBlock
		rec.Confidence = domain.ConfidenceHigh
		rec.Reasoning = "Multiple high-risk indicators detected"
	case score >= 0.6:
		rec.Action = domain.ActionReview
		rec.Confidence = domain.ConfidenceMedium
		rec.Reasoning = "Several risk factors present, manual review recommended"
	case score >= 0.3:
		rec.Action = domain.ActionMonitor
		rec.Confidence = domain.ConfidenceLow
		rec.Reasoning = "Some risk factors present, continue monitoring"
	default:
		rec.Action = domain.ActionApprove
		rec.Confidence = domain.ConfidenceHigh
		rec.Reasoning = "Low risk transaction"
	}

	switch {
	case score >= 0.7:
		rec.RiskLevel = domain.RiskHigh
	case score >= 0.4:
		rec.RiskLevel = domain.RiskMedium
	case score >= 0.2:
		rec.RiskLevel = domain.RiskLow
	default:
		rec.RiskLevel = domain.RiskVeryLow
	}

	if len(factors) > 3 {
		rec.PrimaryConcerns = factors[:3]
	} else {
		rec.PrimaryConcerns = factors
	}
	return rec
}

func filterByUser(history []domain.Transaction, userID string) []domain.Transaction {
	var out []domain.Transaction
	for i := range history {
		if history[i].UserID == userID {
			out = append(out, history[i])
		}
	}
	return out
}

func mostCommon(counts map[string]int) string {
	var best string
	bestN := -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
