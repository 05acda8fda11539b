package alarm

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
)

func TestEgressExtract(t *testing.T) {
	firstOfMonth := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	calc := &stubCalc{
		anchor: baseAnchor,
		bills: func(anchor time.Time) (time.Time, aggregator.BillSummary, error) {
			switch {
			case anchor.Equal(lastBilled.Add(-48 * time.Hour)):
				return lastBilled, aggregator.BillSummary{
					aggregator.KeyAdjustedTotal:         100,
					aggregator.KeyEstimatedTotalDataOut: 25,
				}, nil
			case anchor.Equal(firstOfMonth):
				return lastBilled, aggregator.BillSummary{
					aggregator.KeyAdjustedTotal:         450,
					aggregator.KeyEstimatedTotalDataOut: 50,
				}, nil
			}
			return lastBilled, aggregator.BillSummary{}, nil
		},
	}

	eval := NewEgressEvaluator(calc, zap.NewNop())
	snap, err := eval.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if snap.CostInLastTwoDays != 125 {
		t.Errorf("two-day cost = %v, want 125 (adjusted total plus egress)", snap.CostInLastTwoDays)
	}
	if snap.PercentageOfEgressInLastTwoDays != 20 {
		t.Errorf("two-day egress share = %v, want 20", snap.PercentageOfEgressInLastTwoDays)
	}
	if snap.CostFromFirstOfMonth != 500 {
		t.Errorf("month-to-date cost = %v, want 500", snap.CostFromFirstOfMonth)
	}
	if snap.PercentageOfEgressFromFirstOfMonth != 10 {
		t.Errorf("month-to-date egress share = %v, want 10", snap.PercentageOfEgressFromFirstOfMonth)
	}
	if !calc.AnchorDate().Equal(baseAnchor) {
		t.Errorf("anchor not restored: %v", calc.AnchorDate())
	}
}

func TestEgressExtractZeroEgress(t *testing.T) {
	calc := &stubCalc{
		anchor: baseAnchor,
		bills: func(time.Time) (time.Time, aggregator.BillSummary, error) {
			return lastBilled, aggregator.BillSummary{aggregator.KeyAdjustedTotal: 100}, nil
		},
	}

	snap, err := NewEgressEvaluator(calc, zap.NewNop()).Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if snap.PercentageOfEgressInLastTwoDays != 0 || snap.PercentageOfEgressFromFirstOfMonth != 0 {
		t.Errorf("zero egress must report 0%%: %+v", snap)
	}
}

func TestEgressPercentageZeroTotal(t *testing.T) {
	if got := egressPercentage(0, 0); got != 0 {
		t.Errorf("egressPercentage(0, 0) = %v, want 0", got)
	}
	if got := egressPercentage(5, 0); got != 0 {
		t.Errorf("egressPercentage(5, 0) = %v, want 0", got)
	}
	if got := egressPercentage(25, 125); got != 20 {
		t.Errorf("egressPercentage(25, 125) = %v, want 20", got)
	}
}
