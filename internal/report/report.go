// Package report renders plain-text analysis reports over a scored
// transaction set, for analysts and export collaborators.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/stats"
)

const topN = 10

var amountBands = []struct {
	min, max float64
	label    string
}{
	{0, 10, "$0-$10"},
	{10, 50, "$10-$50"},
	{50, 100, "$50-$100"},
	{100, 500, "$100-$500"},
	{500, 1000, "$500-$1,000"},
	{1000, 5000, "$1,000-$5,000"},
	{5000, -1, "$5,000+"},
}

// Summary renders the full analysis report for a scored batch. The scored
// slice may be empty; the report then contains only the header.
func Summary(scored []domain.ScoredTransaction, now time.Time) string {
	var b strings.Builder

	b.WriteString("FRAUD DETECTION ANALYSIS REPORT\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", now.Format("2006-01-02 15:04:05"))

	if len(scored) == 0 {
		b.WriteString("No transactions to report.\n")
		return b.String()
	}

	writeBasics(&b, scored)
	writeFraudAnalysis(&b, scored)
	writeTopCounts(&b, "TOP MERCHANTS BY TRANSACTION COUNT", scored, func(t *domain.ScoredTransaction) string { return t.Merchant })
	writeTopCounts(&b, "TOP LOCATIONS BY TRANSACTION COUNT", scored, func(t *domain.ScoredTransaction) string { return t.Location })
	writeHourly(&b, scored)
	writeAmountBands(&b, scored)

	return b.String()
}

func writeBasics(b *strings.Builder, scored []domain.ScoredTransaction) {
	amounts := make([]float64, len(scored))
	users := make(map[string]struct{})
	merchants := make(map[string]struct{})
	locations := make(map[string]struct{})
	first, last := scored[0].Timestamp, scored[0].Timestamp
	var total float64

	for i := range scored {
		t := &scored[i]
		amounts[i] = t.Amount
		total += t.Amount
		users[t.UserID] = struct{}{}
		merchants[t.Merchant] = struct{}{}
		locations[t.Location] = struct{}{}
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}

	b.WriteString("BASIC STATISTICS\n")
	b.WriteString(strings.Repeat("-", 20) + "\n")
	fmt.Fprintf(b, "Total Transactions: %s\n", humanize.Comma(int64(len(scored))))
	fmt.Fprintf(b, "Date Range: %s to %s\n", first.Format(time.RFC3339), last.Format(time.RFC3339))
	fmt.Fprintf(b, "Total Amount: $%s\n", humanize.CommafWithDigits(total, 2))
	fmt.Fprintf(b, "Average Amount: $%.2f\n", stats.Mean(amounts))
	fmt.Fprintf(b, "Median Amount: $%.2f\n", stats.Median(amounts))
	fmt.Fprintf(b, "Unique Users: %s\n", humanize.Comma(int64(len(users))))
	fmt.Fprintf(b, "Unique Merchants: %s\n", humanize.Comma(int64(len(merchants))))
	fmt.Fprintf(b, "Unique Locations: %s\n\n", humanize.Comma(int64(len(locations))))
}

func writeFraudAnalysis(b *strings.Builder, scored []domain.ScoredTransaction) {
	st := engine.Statistics(scored)
	n := float64(st.TotalTransactions)

	b.WriteString("FRAUD ANALYSIS\n")
	b.WriteString(strings.Repeat("-", 15) + "\n")
	fmt.Fprintf(b, "High Risk Transactions: %s (%.1f%%)\n",
		humanize.Comma(int64(st.HighRiskTransactions)), float64(st.HighRiskTransactions)/n*100)
	fmt.Fprintf(b, "Medium Risk Transactions: %s (%.1f%%)\n",
		humanize.Comma(int64(st.MediumRiskTransactions)), float64(st.MediumRiskTransactions)/n*100)
	fmt.Fprintf(b, "Flagged as Fraud: %s (%.1f%%)\n",
		humanize.Comma(int64(st.FraudTransactions)), st.FraudRate*100)
	fmt.Fprintf(b, "Average Risk Score: %.3f\n", st.AverageRiskScore)
	if st.FraudTransactions > 0 {
		fmt.Fprintf(b, "Fraudulent Amount: $%s\n", humanize.CommafWithDigits(st.FraudAmount, 2))
		fmt.Fprintf(b, "Fraud Amount Rate: %.1f%%\n", st.FraudAmountRate*100)
	}
	b.WriteString("\n")
}

func writeTopCounts(b *strings.Builder, title string, scored []domain.ScoredTransaction, key func(*domain.ScoredTransaction) string) {
	counts := make(map[string]int)
	for i := range scored {
		counts[key(&scored[i])]++
	}

	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > topN {
		entries = entries[:topN]
	}

	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("-", len(title)) + "\n")
	for _, e := range entries {
		fmt.Fprintf(b, "%s: %s transactions\n", e.name, humanize.Comma(int64(e.count)))
	}
	b.WriteString("\n")
}

func writeHourly(b *strings.Builder, scored []domain.ScoredTransaction) {
	var byHour [24]int
	for i := range scored {
		byHour[scored[i].Transaction.Hour()]++
	}

	b.WriteString("TRANSACTION DISTRIBUTION BY HOUR\n")
	b.WriteString(strings.Repeat("-", 33) + "\n")
	for hour, count := range byHour {
		if count == 0 {
			continue
		}
		fmt.Fprintf(b, "%02d:00 - %s transactions\n", hour, humanize.Comma(int64(count)))
	}
	b.WriteString("\n")
}

func writeAmountBands(b *strings.Builder, scored []domain.ScoredTransaction) {
	b.WriteString("AMOUNT DISTRIBUTION\n")
	b.WriteString(strings.Repeat("-", 19) + "\n")

	n := float64(len(scored))
	for _, band := range amountBands {
		count := 0
		for i := range scored {
			a := scored[i].Amount
			if a >= band.min && (band.max < 0 || a < band.max) {
				count++
			}
		}
		fmt.Fprintf(b, "%s: %s transactions (%.1f%%)\n",
			band.label, humanize.Comma(int64(count)), float64(count)/n*100)
	}
}

// RiskExport is one row of the risk-sorted export view.
type RiskExport struct {
	TransactionID string    `json:"transactionId"`
	Timestamp     time.Time `json:"timestamp"`
	Amount        float64   `json:"amount"`
	Merchant      string    `json:"merchant"`
	Location      string    `json:"location"`
	UserID        string    `json:"userId"`
	CardType      string    `json:"cardType"`
	Category      string    `json:"merchantCategory"`
	RiskScore     float64   `json:"riskScore"`
	IsFraud       bool      `json:"isFraud"`
	FraudReasons  string    `json:"fraudReasons"`
}

// ExportByRisk returns the scored batch as export rows sorted by risk score
// descending, ties broken by transaction ID for a stable order.
func ExportByRisk(scored []domain.ScoredTransaction) []RiskExport {
	out := make([]RiskExport, len(scored))
	for i := range scored {
		t := &scored[i]
		out[i] = RiskExport{
			TransactionID: t.ID,
			Timestamp:     t.Timestamp,
			Amount:        t.Amount,
			Merchant:      t.Merchant,
			Location:      t.Location,
			UserID:        t.UserID,
			CardType:      t.CardType,
			Category:      t.MerchantCategory,
			RiskScore:     t.RiskScore,
			IsFraud:       t.IsFraud,
			FraudReasons:  engine.JoinReasons(t.FraudReasons),
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out
}
