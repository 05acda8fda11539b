// Package aggregator sums canonical billing line items over a date
// window and computes the tiered support cost.
package aggregator

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

// Reserved BillSummary keys. Everything else in the map is a spend
// category keyed by product name or dotted service.sku.
const (
	KeyTotal                 = "Total"
	KeyAdjustedSupport       = "AdjustedSupport"
	KeyTotalDataOut          = "TotalDataOut"
	KeyEstimatedTotalDataOut = "EstimatedTotalDataOut"
	KeyAdjustedTotal         = "AdjustedTotal"
	KeyBalance               = "Balance"
)

// SupportBusinessKey is the vendor's own support charge. Its cost is
// tracked as a category but excluded from Total: support is computed
// separately through the tiered schedule and double-counting it would
// inflate the bill.
const SupportBusinessKey = "AWSSupportBusiness"

// Row markers whose line items never count toward the bill.
const (
	educationalGrantMarker  = "EDU_"
	unauthorizedUsageMarker = "Unauthorized Usage"
)

// egressMarker tags rows billed for data leaving the vendor network.
const egressMarker = "data transferred out"

// costPerGBOut is the flat per-GB price assumed when estimating egress
// from usage quantity (highest data-transfer-out tier).
const costPerGBOut = 0.09

// BillSummary maps category keys to accumulated cost. Reserved keys
// are always present, initialized to zero.
type BillSummary map[string]float64

// NewBillSummary returns a summary with the reserved accumulators in
// place.
func NewBillSummary() BillSummary {
	return BillSummary{
		KeyTotal:                 0.0,
		KeyTotalDataOut:          0.0,
		KeyEstimatedTotalDataOut: 0.0,
		KeyAdjustedSupport:       0.0,
	}
}

// Clone returns an independent copy of the summary.
func (s BillSummary) Clone() BillSummary {
	out := make(BillSummary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// stripCategoryKey removes spaces and parentheses so product names
// like "Amazon Elastic Compute Cloud" become stable category keys.
func stripCategoryKey(product string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '(', ')':
			return -1
		}
		return r
	}, product)
}

// Aggregate sums line items with from <= usage_start (and
// usage_start <= to when to is non-nil) into a summary, in input
// order. It returns the latest usage date seen among retained items,
// initialized to from, and the summary. When accrueSupport is set the
// support cost accrues per calendar month: each time a row opens a
// new month the previous month's spend is run through the tiered
// schedule, and the final partial month is closed out after the loop.
// The tiered fee is an AWS contract term; GCE summaries keep
// AdjustedSupport at zero.
func Aggregate(items []normalizer.LineItem, from time.Time, to *time.Time, accrueSupport bool, logger *zap.Logger) (time.Time, BillSummary) {
	summary := NewBillSummary()
	lastSeen := from

	totalAtMonthStart := 0.0
	var curYear int
	var curMonth time.Month
	monthOpen := false

	for _, item := range items {
		if item.UsageStart.IsZero() {
			continue
		}
		if item.UsageStart.Before(from) {
			continue
		}
		if to != nil && item.UsageStart.After(*to) {
			continue
		}
		if item.UsageStart.After(lastSeen) {
			lastSeen = item.UsageStart
		}

		if strings.Contains(item.Description, educationalGrantMarker) ||
			strings.Contains(item.Description, unauthorizedUsageMarker) ||
			strings.Contains(item.Description, KeyTotal) {
			continue
		}

		key := stripCategoryKey(item.Category)
		if key == "" {
			continue
		}

		if accrueSupport {
			y, m := item.UsageStart.Year(), item.UsageStart.Month()
			if !monthOpen {
				curYear, curMonth = y, m
				monthOpen = true
			} else if y != curYear || m != curMonth {
				monthly := TieredSupportCost(summary[KeyTotal] - totalAtMonthStart)
				summary[KeyAdjustedSupport] += monthly
				logger.Debug("month closed for support accrual",
					zap.Int("year", curYear),
					zap.String("month", curMonth.String()),
					zap.Float64("monthlySupport", monthly),
					zap.Float64("runningTotal", summary[KeyTotal]))
				curYear, curMonth = y, m
				totalAtMonthStart = summary[KeyTotal]
			}
		}

		summary[key] += item.Cost
		if key != SupportBusinessKey {
			summary[KeyTotal] += item.Cost
		}

		if strings.Contains(item.Description, egressMarker) {
			summary[KeyTotalDataOut] += item.Cost
			summary[KeyEstimatedTotalDataOut] += item.UsageQuantity * costPerGBOut
		}
	}

	// Close out the final partial month.
	if accrueSupport {
		summary[KeyAdjustedSupport] += TieredSupportCost(summary[KeyTotal] - totalAtMonthStart)
	}

	return lastSeen, summary
}

// Support cost tier boundaries and marginal rates: 10% on the first
// $10k of monthly spend, 7% up to $80k, 5% up to $250k, 3% beyond.
var supportTiers = []struct {
	upTo float64 // 0 means unbounded
	rate float64
}{
	{10000, 0.10},
	{80000, 0.07},
	{250000, 0.05},
	{0, 0.03},
}

// TieredSupportCost computes the support fee for one month of spend as
// a continuous marginal-rate schedule. It is monotonically
// non-decreasing and continuous at every tier boundary.
func TieredSupportCost(monthlyCost float64) float64 {
	if monthlyCost <= 0 {
		return 0
	}
	cost := 0.0
	prev := 0.0
	for _, tier := range supportTiers {
		if tier.upTo == 0 || monthlyCost < tier.upTo {
			cost += tier.rate * (monthlyCost - prev)
			break
		}
		cost += tier.rate * (tier.upTo - prev)
		prev = tier.upTo
	}
	return cost
}
