package rules

// SinglePolicy is the constant table for single-transaction analysis. It
// deliberately differs from BatchPolicy: amounts carry tiered (mutually
// exclusive) checks, and keyword rules fire at most once instead of
// stacking. Do not merge the two tables.
type SinglePolicy struct {
	// User dimension
	NewUser            float64
	UserAmountExtreme  float64 // |z| > UserZHigh against the user's own history
	UserAmountUnusual  float64 // |z| > UserZLow
	RecentFromSameUser float64
	DailySpendAboveAvg float64

	UserZHigh float64
	UserZLow  float64

	// Amount dimension
	AmountTopPercentile float64 // above q99
	AmountHighQuantile  float64 // above q95
	MicroAmount         float64
	RoundHundred        float64
	RoundTen            float64
	GlobalOutlier       float64

	GlobalZThreshold float64

	// Temporal dimension
	OffHours    float64
	Weekend     float64
	Holiday     float64
	UnusualHour float64

	OffHoursStart int // fixed window, not the batch settings window
	OffHoursEnd   int

	// Location dimension
	NewUserLocation    float64
	RareUserLocation   float64
	NewGlobalLocation  float64
	RareGlobalLocation float64
	SuspiciousLocation float64

	// Merchant dimension
	NewUserMerchant    float64
	NewUserCategory    float64
	NewGlobalMerchant  float64
	RareGlobalMerchant float64
	HighRiskCategory   float64
	SuspiciousMerchant float64

	// A location or merchant seen globally fewer than this many times
	// counts as rare.
	RareGlobalCount int

	SuspiciousLocationKeywords KeywordSet
	HighRiskCategories         KeywordSet
	SuspiciousMerchantKeywords KeywordSet
}

// DefaultSinglePolicy returns the single-transaction constant table.
func DefaultSinglePolicy() SinglePolicy {
	return SinglePolicy{
		NewUser:            0.30,
		UserAmountExtreme:  0.25,
		UserAmountUnusual:  0.15,
		RecentFromSameUser: 0.20,
		DailySpendAboveAvg: 0.20,
		UserZHigh:          3,
		UserZLow:           2,

		AmountTopPercentile: 0.30,
		AmountHighQuantile:  0.15,
		MicroAmount:         0.15,
		RoundHundred:        0.10,
		RoundTen:            0.05,
		GlobalOutlier:       0.20,
		GlobalZThreshold:    3,

		OffHours:      0.15,
		Weekend:       0.05,
		Holiday:       0.10,
		UnusualHour:   0.10,
		OffHoursStart: 22,
		OffHoursEnd:   6,

		NewUserLocation:    0.20,
		RareUserLocation:   0.10,
		NewGlobalLocation:  0.15,
		RareGlobalLocation: 0.10,
		SuspiciousLocation: 0.25,

		NewUserMerchant:    0.10,
		NewUserCategory:    0.15,
		NewGlobalMerchant:  0.15,
		RareGlobalMerchant: 0.10,
		HighRiskCategory:   0.20,
		SuspiciousMerchant: 0.25,

		RareGlobalCount: 5,

		// The empty keyword matches every location, keeping a floor on
		// the location dimension; part of the tuned table.
		SuspiciousLocationKeywords: KeywordSet{"test", "temp", "fake", "unknown", "null", ""},
		HighRiskCategories:         KeywordSet{"gambling", "adult", "cryptocurrency", "cash advance", "money transfer"},
		SuspiciousMerchantKeywords: KeywordSet{"test", "temp", "fake", "unknown", "null"},
	}
}

// InOffHours reports whether hour falls in the fixed single-mode window.
func (p SinglePolicy) InOffHours(hour int) bool {
	return hour >= p.OffHoursStart || hour <= p.OffHoursEnd
}
