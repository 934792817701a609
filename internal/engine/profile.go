package engine

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// UserProfile is the behavioural summary of one user's transaction history,
// used by analysts alongside a risk analysis.
type UserProfile struct {
	UserID            string           `json:"userId"`
	TotalTransactions int              `json:"totalTransactions"`
	DateRange         DateRange        `json:"dateRange"`
	Spending          SpendingPatterns `json:"spendingPatterns"`
	Locations         LocationPatterns `json:"locationPatterns"`
	Merchants         MerchantPatterns `json:"merchantPatterns"`
	Temporal          TemporalPatterns `json:"temporalPatterns"`
}

type DateRange struct {
	FirstTransaction time.Time `json:"firstTransaction"`
	LastTransaction  time.Time `json:"lastTransaction"`
	AccountAgeDays   int       `json:"accountAgeDays"`
}

type SpendingPatterns struct {
	TotalAmount   float64 `json:"totalAmount"`
	AverageAmount float64 `json:"averageAmount"`
	MedianAmount  float64 `json:"medianAmount"`
	StdAmount     float64 `json:"stdAmount"`
	MinAmount     float64 `json:"minAmount"`
	MaxAmount     float64 `json:"maxAmount"`
}

type LocationPatterns struct {
	UniqueLocations      int            `json:"uniqueLocations"`
	MostCommonLocation   string         `json:"mostCommonLocation"`
	LocationDistribution map[string]int `json:"locationDistribution"`
}

type MerchantPatterns struct {
	UniqueMerchants      int            `json:"uniqueMerchants"`
	UniqueCategories     int            `json:"uniqueCategories"`
	MostCommonMerchant   string         `json:"mostCommonMerchant"`
	CategoryDistribution map[string]int `json:"categoryDistribution"`
}

type TemporalPatterns struct {
	TransactionsByHour    map[int]int    `json:"transactionsByHour"`
	TransactionsByDay     map[string]int `json:"transactionsByDay"`
	AvgTransactionsPerDay float64        `json:"avgTransactionsPerDay"`
}

// BuildUserProfile summarizes one user's slice of the population. It returns
// domain.ErrNotFound when the user has no transactions.
func BuildUserProfile(userID string, history []domain.Transaction) (*UserProfile, error) {
	userHist := filterByUser(history, userID)
	if len(userHist) == 0 {
		return nil, fmt.Errorf("profile for user %s: %w", userID, domain.ErrNotFound)
	}

	amounts := make([]float64, len(userHist))
	first, last := userHist[0].Timestamp, userHist[0].Timestamp
	locations := make(map[string]int)
	merchants := make(map[string]int)
	categories := make(map[string]int)
	byHour := make(map[int]int)
	byDay := make(map[string]int)

	var total float64
	min, max := userHist[0].Amount, userHist[0].Amount
	for i := range userHist {
		t := &userHist[i]
		amounts[i] = t.Amount
		total += t.Amount
		if t.Amount < min {
			min = t.Amount
		}
		if t.Amount > max {
			max = t.Amount
		}
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
		locations[t.Location]++
		merchants[t.Merchant]++
		categories[t.MerchantCategory]++
		byHour[t.Hour()]++
		byDay[t.Timestamp.Weekday().String()]++
	}

	ageDays := int(last.Sub(first).Hours() / 24)
	perDayDivisor := ageDays
	if perDayDivisor < 1 {
		perDayDivisor = 1
	}

	return &UserProfile{
		UserID:            userID,
		TotalTransactions: len(userHist),
		DateRange: DateRange{
			FirstTransaction: first,
			LastTransaction:  last,
			AccountAgeDays:   ageDays,
		},
		Spending: SpendingPatterns{
			TotalAmount:   total,
			AverageAmount: stats.Mean(amounts),
			MedianAmount:  stats.Median(amounts),
			StdAmount:     stats.StdDev(amounts),
			MinAmount:     min,
			MaxAmount:     max,
		},
		Locations: LocationPatterns{
			UniqueLocations:      len(locations),
			MostCommonLocation:   mostCommon(locations),
			LocationDistribution: locations,
		},
		Merchants: MerchantPatterns{
			UniqueMerchants:      len(merchants),
			UniqueCategories:     len(categories),
			MostCommonMerchant:   mostCommon(merchants),
			CategoryDistribution: categories,
		},
		Temporal: TemporalPatterns{
			TransactionsByHour:    byHour,
			TransactionsByDay:     byDay,
			AvgTransactionsPerDay: float64(len(userHist)) / float64(perDayDivisor),
		},
	}, nil
}
