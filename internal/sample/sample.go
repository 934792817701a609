// Package sample produces synthetic transaction data for demos and
// benchmarks. Generation is seedable so a run can be reproduced exactly.
package sample

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var merchants = []string{
	"Amazon", "Walmart", "Target", "Best Buy", "Home Depot", "Starbucks",
	"McDonald's", "Shell Gas", "Costco", "CVS Pharmacy", "Uber", "Netflix",
	"PayPal", "Apple Store", "Google Play", "Microsoft Store",
}

var locations = []string{
	"New York, NY", "Los Angeles, CA", "Chicago, IL", "Houston, TX",
	"Phoenix, AZ", "Philadelphia, PA", "San Antonio, TX", "San Diego, CA",
	"Dallas, TX", "San Jose, CA", "Austin, TX", "Jacksonville, FL",
	"Fort Worth, TX", "Columbus, OH", "Charlotte, NC", "San Francisco, CA",
}

var categories = []string{
	"Retail", "Gas Station", "Restaurant", "Grocery", "Online",
	"Entertainment", "Travel", "Healthcare", "Automotive", "Utilities",
}

// Generator produces synthetic transactions spanning the 90 days before a
// fixed end instant.
type Generator struct {
	rng *rand.Rand
	end time.Time
}

// NewGenerator creates a generator. The same seed and end instant produce
// the same dataset.
func NewGenerator(seed int64, end time.Time) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		end: end.UTC(),
	}
}

// Transactions returns n synthetic transactions sorted by timestamp.
// Amounts follow a log-normal distribution with roughly 5% large outliers,
// which gives the amount rules something to find.
func (g *Generator) Transactions(n int) []domain.Transaction {
	start := g.end.Add(-90 * 24 * time.Hour)
	span := int64(g.end.Sub(start) / time.Second)

	out := make([]domain.Transaction, n)
	for i := 0; i < n; i++ {
		amount := math.Round(math.Exp(3+g.rng.NormFloat64())*100) / 100
		if g.rng.Float64() < 0.05 {
			amount = math.Round((10000+g.rng.Float64()*40000)*100) / 100
		}

		out[i] = domain.Transaction{
			ID:               fmt.Sprintf("TXN_%06d", i+1),
			Amount:           amount,
			Merchant:         merchants[g.rng.Intn(len(merchants))],
			Location:         locations[g.rng.Intn(len(locations))],
			Timestamp:        start.Add(time.Duration(g.rng.Int63n(span)) * time.Second),
			UserID:           fmt.Sprintf("USER_%04d", 1+g.rng.Intn(500)),
			CardType:         cardType(g.rng.Float64()),
			MerchantCategory: categories[g.rng.Intn(len(categories))],
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// cardType maps a uniform draw onto the observed network share.
func cardType(p float64) string {
	switch {
	case p < 0.50:
		return "Visa"
	case p < 0.80:
		return "Mastercard"
	case p < 0.95:
		return "American Express"
	default:
		return "Discover"
	}
}
