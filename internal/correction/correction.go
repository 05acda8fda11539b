// Package correction rewrites a raw bill summary into the reported
// shape: vendor discount, spending-bucket remapping, adjusted totals
// and remaining balance.
package correction

import (
	"regexp"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
)

// VendorDiscountRate is the contractual reseller discount. The export
// shows list price; the final invoice reflects the discount.
const VendorDiscountRate = 0.0725

// Correct scales every entry except AdjustedSupport by
// (1 - VendorDiscountRate) when applyDiscount is set, then derives
// AdjustedTotal = Total + AdjustedSupport and
// Balance = balanceAtDate - AdjustedTotal. The input summary is not
// modified.
func Correct(summary aggregator.BillSummary, balanceAtDate float64, applyDiscount bool) aggregator.BillSummary {
	reduction := 1.0
	if applyDiscount {
		reduction = 1 - VendorDiscountRate
	}

	corrected := make(aggregator.BillSummary, len(summary)+2)
	for key, value := range summary {
		if key == aggregator.KeyAdjustedSupport {
			corrected[key] = value
			continue
		}
		corrected[key] = reduction * value
	}

	corrected[aggregator.KeyAdjustedTotal] = corrected[aggregator.KeyTotal] + corrected[aggregator.KeyAdjustedSupport]
	corrected[aggregator.KeyBalance] = balanceAtDate - corrected[aggregator.KeyAdjustedTotal]
	return corrected
}

// BucketRule maps line-item keys matching Pattern into the Name
// bucket. Rules are checked in order and the first match wins, so
// more specific prefixes must come before the catch-all.
type BucketRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// spendingBuckets remap GCE line-item URIs into dashboard spending
// categories. '/' is a separator in the dashboard path, hence the
// dotted bucket names.
var spendingBuckets = []BucketRule{
	{"compute-engine.instances", regexp.MustCompile(`^com\.google\.cloud/services/compute-engine/(Vmimage|Licensed)`)},
	{"compute-engine.network", regexp.MustCompile(`^com\.google\.cloud/services/compute-engine/Network`)},
	{"compute-engine.storage", regexp.MustCompile(`^com\.google\.cloud/services/compute-engine/Storage`)},
	{"compute-engine.other", regexp.MustCompile(`^com\.google\.cloud/services/compute-engine/`)},
	{"cloud-storage.storage", regexp.MustCompile(`^com\.google\.cloud/services/cloud-storage/Storage`)},
	{"cloud-storage.network", regexp.MustCompile(`^com\.google\.cloud/services/cloud-storage/Bandwidth`)},
	{"cloud-storage.operations", regexp.MustCompile(`^com\.google\.cloud/services/cloud-storage/Class`)},
	{"cloud-storage.other", regexp.MustCompile(`^com\.google\.cloud/services/cloud-storage/`)},
	{"pubsub", regexp.MustCompile(`^com\.googleapis/services/pubsub/`)},
	{"services", regexp.MustCompile(``)}, // fallback bucket
}

// egressBuckets additionally track network egress spend. Unlike
// spending buckets these are not exclusive: one item can land in both.
// The outside-NA bucket is "all egress except NA-to-NA", expressed as
// a match plus an exclusion since RE2 has no lookahead.
var egressBuckets = []struct {
	Name    string
	Pattern *regexp.Regexp
	Exclude *regexp.Regexp
}{
	{"compute-engine.egresstotal", regexp.MustCompile(`^com\.google\.cloud/services/compute-engine/Network.*Egress.`), nil},
	{"compute-engine.egressoutsideNa", regexp.MustCompile(`^com\.google\.cloud/services/compute-engine/Network.*Egress.`), regexp.MustCompile(`EgressNaNa`)},
}

// reserved keys pass through categorization unchanged.
var categorizeIgnored = map[string]bool{
	aggregator.KeyTotal:                 true,
	aggregator.KeyAdjustedSupport:       true,
	aggregator.KeyTotalDataOut:          true,
	aggregator.KeyEstimatedTotalDataOut: true,
}

// Categorize folds GCE line-item entries into spending buckets. Every
// bucket is present in the output, zero when nothing matched; reserved
// keys carry over unchanged. Runs before discount correction.
func Categorize(summary aggregator.BillSummary) aggregator.BillSummary {
	bucketed := make(aggregator.BillSummary, len(spendingBuckets)+len(summary))
	for _, rule := range spendingBuckets {
		bucketed[rule.Name] = 0.0
	}

	for key, value := range summary {
		if categorizeIgnored[key] {
			bucketed[key] = value
			continue
		}
		for _, rule := range spendingBuckets {
			if rule.Pattern.MatchString(key) {
				bucketed[rule.Name] += value
				break
			}
		}
		for _, rule := range egressBuckets {
			if rule.Pattern.MatchString(key) && (rule.Exclude == nil || !rule.Exclude.MatchString(key)) {
				bucketed[rule.Name] += value
			}
		}
	}

	return bucketed
}
