package alarm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
)

// EgressSnapshot reports data-egress cost and its share of total spend
// over the last 48 hours and month to date. Values are published, not
// compared against thresholds.
type EgressSnapshot struct {
	CostInLastTwoDays                  float64
	CostOfDataEgressInLastTwoDays      float64
	PercentageOfEgressInLastTwoDays    float64
	CostFromFirstOfMonth               float64
	CostOfDataEgressFromFirstOfMonth   float64
	PercentageOfEgressFromFirstOfMonth float64
}

// Metrics flattens the snapshot for the dashboard sink.
func (s EgressSnapshot) Metrics() map[string]float64 {
	return map[string]float64{
		"costInLastTwoDays":                  s.CostInLastTwoDays,
		"costOfDataEgressInLastTwoDays":      s.CostOfDataEgressInLastTwoDays,
		"percentageOfEgressInLastTwoDays":    s.PercentageOfEgressInLastTwoDays,
		"costFromFirstOfMonth":               s.CostFromFirstOfMonth,
		"costOfDataEgressFromFirstOfMonth":   s.CostOfDataEgressFromFirstOfMonth,
		"percentageOfEgressFromFirstOfMonth": s.PercentageOfEgressFromFirstOfMonth,
	}
}

// EgressEvaluator measures estimated data-egress spend for accounts
// whose exports itemize data-transfer-out rows (AWS only).
type EgressEvaluator struct {
	calc   BillCalculator
	logger *zap.Logger
}

// NewEgressEvaluator creates an egress evaluator.
func NewEgressEvaluator(calc BillCalculator, logger *zap.Logger) *EgressEvaluator {
	return &EgressEvaluator{calc: calc, logger: logger}
}

// Extract re-runs the pipeline over the last 48 hours and from the
// first of the month, and derives the egress share of total spend. The
// calculator anchor is restored before returning.
func (e *EgressEvaluator) Extract(ctx context.Context) (EgressSnapshot, error) {
	anchor := e.calc.AnchorDate()
	defer e.calc.SetAnchorDate(anchor)

	lastBilled, _, err := e.calc.CalculateBill(ctx)
	if err != nil {
		return EgressSnapshot{}, err
	}

	var snap EgressSnapshot

	e.calc.SetAnchorDate(lastBilled.Add(-48 * time.Hour))
	_, twoDays, err := e.calc.CalculateBill(ctx)
	if err != nil {
		return EgressSnapshot{}, err
	}
	snap.CostOfDataEgressInLastTwoDays = twoDays[aggregator.KeyEstimatedTotalDataOut]
	snap.CostInLastTwoDays = twoDays[aggregator.KeyAdjustedTotal] + snap.CostOfDataEgressInLastTwoDays
	snap.PercentageOfEgressInLastTwoDays = egressPercentage(snap.CostOfDataEgressInLastTwoDays, snap.CostInLastTwoDays)

	firstOfMonth := time.Date(lastBilled.Year(), lastBilled.Month(), 1, 0, 0, 0, 0, lastBilled.Location())
	e.calc.SetAnchorDate(firstOfMonth)
	_, monthToDate, err := e.calc.CalculateBill(ctx)
	if err != nil {
		return EgressSnapshot{}, err
	}
	snap.CostOfDataEgressFromFirstOfMonth = monthToDate[aggregator.KeyEstimatedTotalDataOut]
	snap.CostFromFirstOfMonth = monthToDate[aggregator.KeyAdjustedTotal] + snap.CostOfDataEgressFromFirstOfMonth
	snap.PercentageOfEgressFromFirstOfMonth = egressPercentage(snap.CostOfDataEgressFromFirstOfMonth, snap.CostFromFirstOfMonth)

	e.logger.Info("egress conditions extracted",
		zap.String("account", e.calc.AccountName()),
		zap.Time("lastStartDateBilled", lastBilled),
		zap.Float64("percentageOfEgressInLastTwoDays", snap.PercentageOfEgressInLastTwoDays),
		zap.Float64("percentageOfEgressFromFirstOfMonth", snap.PercentageOfEgressFromFirstOfMonth))

	return snap, nil
}

// egressPercentage reports egress as a share of total spend. Zero
// egress is 0% even when the total is also zero: an empty window has
// no egress share to report.
func egressPercentage(egress, total float64) float64 {
	if egress == 0 || total == 0 {
		return 0
	}
	return egress / total * 100
}
