package correction

import (
	"math"
	"testing"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCorrectWithDiscount(t *testing.T) {
	summary := aggregator.BillSummary{
		aggregator.KeyTotal:           10000,
		aggregator.KeyAdjustedSupport: 1000,
		"AmazonEC2":                   10000,
	}

	corrected := Correct(summary, 50000, true)

	wantTotal := 10000 * (1 - VendorDiscountRate)
	if !almostEqual(corrected[aggregator.KeyTotal], wantTotal) {
		t.Errorf("Total = %v, want %v", corrected[aggregator.KeyTotal], wantTotal)
	}
	if !almostEqual(corrected["AmazonEC2"], wantTotal) {
		t.Errorf("AmazonEC2 = %v, want %v", corrected["AmazonEC2"], wantTotal)
	}
	if corrected[aggregator.KeyAdjustedSupport] != 1000 {
		t.Errorf("AdjustedSupport = %v, want 1000: support is already net of discount", corrected[aggregator.KeyAdjustedSupport])
	}
	wantAdjusted := wantTotal + 1000
	if !almostEqual(corrected[aggregator.KeyAdjustedTotal], wantAdjusted) {
		t.Errorf("AdjustedTotal = %v, want %v", corrected[aggregator.KeyAdjustedTotal], wantAdjusted)
	}
	if !almostEqual(corrected[aggregator.KeyBalance], 50000-wantAdjusted) {
		t.Errorf("Balance = %v, want %v", corrected[aggregator.KeyBalance], 50000-wantAdjusted)
	}
}

func TestCorrectWithoutDiscount(t *testing.T) {
	summary := aggregator.BillSummary{
		aggregator.KeyTotal:           200,
		aggregator.KeyAdjustedSupport: 20,
	}

	corrected := Correct(summary, 1000, false)

	if corrected[aggregator.KeyTotal] != 200 {
		t.Errorf("Total = %v, want 200 undiscounted", corrected[aggregator.KeyTotal])
	}
	if corrected[aggregator.KeyAdjustedTotal] != 220 {
		t.Errorf("AdjustedTotal = %v, want 220", corrected[aggregator.KeyAdjustedTotal])
	}
	if corrected[aggregator.KeyBalance] != 780 {
		t.Errorf("Balance = %v, want 780", corrected[aggregator.KeyBalance])
	}
}

func TestCorrectDoesNotModifyInput(t *testing.T) {
	summary := aggregator.BillSummary{aggregator.KeyTotal: 100}
	Correct(summary, 0, true)
	if summary[aggregator.KeyTotal] != 100 {
		t.Errorf("input summary was modified: Total = %v", summary[aggregator.KeyTotal])
	}
}

func TestCategorizeSpendingBuckets(t *testing.T) {
	summary := aggregator.BillSummary{
		aggregator.KeyTotal:                                               60,
		"com.google.cloud/services/compute-engine/VmimageN1Standard_1":    10,
		"com.google.cloud/services/compute-engine/Licensed1000201Vmimage": 5,
		"com.google.cloud/services/compute-engine/StoragePdCapacity":      15,
		"com.google.cloud/services/cloud-storage/StorageStandardUsGcs":    20,
		"com.googleapis/services/pubsub/MessageDeliveryBasic":             3,
		"com.google.cloud/services/bigquery/Analysis":                     7,
	}

	bucketed := Categorize(summary)

	tests := []struct {
		bucket string
		want   float64
	}{
		{"compute-engine.instances", 15},
		{"compute-engine.storage", 15},
		{"cloud-storage.storage", 20},
		{"pubsub", 3},
		{"services", 7},
		{"compute-engine.network", 0},
	}
	for _, tc := range tests {
		if got := bucketed[tc.bucket]; got != tc.want {
			t.Errorf("%s = %v, want %v", tc.bucket, got, tc.want)
		}
	}
	if got := bucketed[aggregator.KeyTotal]; got != 60 {
		t.Errorf("Total = %v, want 60 passed through", got)
	}
}

func TestCategorizeAllBucketsPresent(t *testing.T) {
	bucketed := Categorize(aggregator.NewBillSummary())
	for _, rule := range spendingBuckets {
		if _, ok := bucketed[rule.Name]; !ok {
			t.Errorf("bucket %s missing from output", rule.Name)
		}
	}
}

func TestCategorizeEgressBuckets(t *testing.T) {
	summary := aggregator.BillSummary{
		"com.google.cloud/services/compute-engine/NetworkInterRegionEgressNaNa":   10,
		"com.google.cloud/services/compute-engine/NetworkInterRegionEgressNaApac": 4,
		"com.google.cloud/services/compute-engine/NetworkInterZoneIngressGold":    100,
	}

	bucketed := Categorize(summary)

	if got := bucketed["compute-engine.egresstotal"]; got != 14 {
		t.Errorf("egresstotal = %v, want 14", got)
	}
	if got := bucketed["compute-engine.egressoutsideNa"]; got != 4 {
		t.Errorf("egressoutsideNa = %v, want 4: NA-to-NA traffic must be excluded", got)
	}
	// Egress buckets are not exclusive; the network bucket sees the
	// same spend.
	if got := bucketed["compute-engine.network"]; got != 114 {
		t.Errorf("compute-engine.network = %v, want 114", got)
	}
}
