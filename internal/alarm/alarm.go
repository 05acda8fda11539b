// Package alarm derives cost-rate and burn-rate conditions from
// billing data by re-running the aggregation pipeline over shifted
// windows, and composes alarm messages when thresholds are breached.
package alarm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
)

// BillCalculator is the slice of the calculator the evaluators need:
// a full pipeline run plus a movable window anchor.
type BillCalculator interface {
	CalculateBill(ctx context.Context) (time.Time, aggregator.BillSummary, error)
	AccountName() string
	AnchorDate() time.Time
	SetAnchorDate(time.Time)
}

// Thresholds are the configured alarm limits for one account.
type Thresholds struct {
	// SixHourRate is the $/h limit on the six-hour cost rate. Only
	// evaluated when the account tracks the six-hour window.
	SixHourRate float64
	// DailyRate is the $/h limit on the 24-hour cost rate.
	DailyRate float64
	// BurnRate is the balance floor: alarm when
	// balance - TimeDeltaHours * rate drops to or below it.
	BurnRate float64
	// TimeDeltaHours is the projection horizon for the burn check.
	TimeDeltaHours float64
}

// Snapshot is the ephemeral result of one alarm evaluation, published
// to the dashboard and discarded.
type Snapshot struct {
	CostInLastSixHours            float64
	CostRatePerHourInLastSixHours float64
	CostInLastDay                 float64
	CostRatePerHourInLastDay      float64
	Balance                       float64
	DataDelayHours                float64
	Thresholds                    Thresholds
}

// Metrics flattens the snapshot for the dashboard sink.
func (s Snapshot) Metrics(withSixHour bool) map[string]float64 {
	m := map[string]float64{
		"costInLastDay":                          s.CostInLastDay,
		"costRatePerHourInLastDay":               s.CostRatePerHourInLastDay,
		"costRatePerHourInLastDayAlarmThreshold": s.Thresholds.DailyRate,
		"delayTolastStartDateBilled":             s.DataDelayHours,
		"currentBalance":                         s.Balance,
		"timeDeltaforCostCalculations":           s.Thresholds.TimeDeltaHours,
		"burnRateAlarmThreshold":                 s.Thresholds.BurnRate,
	}
	if withSixHour {
		m["costInLastSixHours"] = s.CostInLastSixHours
		m["costRatePerHourInLastSixHours"] = s.CostRatePerHourInLastSixHours
		m["costRatePerHourInLastSixHoursAlarmThreshold"] = s.Thresholds.SixHourRate
	}
	return m
}

// Evaluator compares recent cost rates against configured thresholds.
// It is state-free between calls; every evaluation re-runs the full
// pipeline for each sub-window.
type Evaluator struct {
	calc         BillCalculator
	thresholds   Thresholds
	vendorLabel  string // "AWS" or "GCE"
	dashboardURL string
	withSixHour  bool
	logger       *zap.Logger
	now          func() time.Time
}

// NewEvaluator creates an alarm evaluator. withSixHour enables the
// six-hour window, which only the AWS exports are fine-grained enough
// to support.
func NewEvaluator(calc BillCalculator, thresholds Thresholds, vendorLabel, dashboardURL string, withSixHour bool, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		calc:         calc,
		thresholds:   thresholds,
		vendorLabel:  vendorLabel,
		dashboardURL: dashboardURL,
		withSixHour:  withSixHour,
		logger:       logger,
		now:          time.Now,
	}
}

// Evaluate extracts the alarm conditions and returns the composed
// alarm message, or the empty string when no threshold is breached.
func (e *Evaluator) Evaluate(ctx context.Context) (string, Snapshot, error) {
	snap, err := e.Extract(ctx)
	if err != nil {
		return "", Snapshot{}, err
	}
	return e.compose(snap), snap, nil
}

// Extract re-runs the pipeline over the shifted windows and gathers
// the rates. The calculator anchor is restored before returning.
func (e *Evaluator) Extract(ctx context.Context) (Snapshot, error) {
	anchor := e.calc.AnchorDate()
	defer e.calc.SetAnchorDate(anchor)

	lastBilled, current, err := e.calc.CalculateBill(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Balance:        current[aggregator.KeyBalance],
		DataDelayHours: float64(int(e.now().Sub(lastBilled).Hours())),
		Thresholds:     e.thresholds,
	}

	if e.withSixHour {
		e.calc.SetAnchorDate(lastBilled.Add(-6 * time.Hour))
		_, sixHoursBefore, err := e.calc.CalculateBill(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		snap.CostInLastSixHours = sixHoursBefore[aggregator.KeyAdjustedTotal]
		snap.CostRatePerHourInLastSixHours = snap.CostInLastSixHours / 6
	}

	e.calc.SetAnchorDate(lastBilled.Add(-24 * time.Hour))
	_, dayBefore, err := e.calc.CalculateBill(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.CostInLastDay = dayBefore[aggregator.KeyAdjustedTotal]
	snap.CostRatePerHourInLastDay = snap.CostInLastDay / 24

	e.logger.Info("alarm conditions extracted",
		zap.String("account", e.calc.AccountName()),
		zap.Time("lastStartDateBilled", lastBilled),
		zap.Float64("costInLastDay", snap.CostInLastDay),
		zap.Float64("costRatePerHourInLastDay", snap.CostRatePerHourInLastDay),
		zap.Float64("balance", snap.Balance))

	return snap, nil
}

// compose builds the multi-line alarm message. Paragraph order is
// fixed: six-hour rate, daily rate, burn rate.
func (e *Evaluator) compose(snap Snapshot) string {
	var b strings.Builder
	header := fmt.Sprintf("%s Billing Alarm Message for account %s - %s\n%s Billing Dashboard - %s\n\n",
		e.vendorLabel, e.calc.AccountName(), e.now().Format(time.ANSIC), e.vendorLabel, e.dashboardURL)

	breach := func() *strings.Builder {
		if b.Len() == 0 {
			b.WriteString(header)
		}
		return &b
	}

	if e.withSixHour && snap.CostRatePerHourInLastSixHours > e.thresholds.SixHourRate {
		fmt.Fprintf(breach(), "Alarm threshold surpassed for cost rate per hour in the last six hours\n")
		fmt.Fprintf(&b, "Cost in the last six hours: $ %f\n", snap.CostInLastSixHours)
		fmt.Fprintf(&b, "Cost rate per hour in the last six hours: $%f / h\n", snap.CostRatePerHourInLastSixHours)
		fmt.Fprintf(&b, "Set Alarm Threshold on six hours cost rate: $%f / h\n\n", e.thresholds.SixHourRate)
	}

	if snap.CostRatePerHourInLastDay > e.thresholds.DailyRate {
		fmt.Fprintf(breach(), "Alarm threshold surpassed for cost rate per hour in the last day\n")
		fmt.Fprintf(&b, "Cost in the last day: $ %f\n", snap.CostInLastDay)
		fmt.Fprintf(&b, "Cost rate per hour in the last day: $%f / h\n", snap.CostRatePerHourInLastDay)
		fmt.Fprintf(&b, "Set Alarm Threshold on one day cost rate: $%f / h\n", e.thresholds.DailyRate)
	}

	// The burn projection uses the finest rate available.
	projectionRate := snap.CostRatePerHourInLastDay
	if e.withSixHour {
		projectionRate = snap.CostRatePerHourInLastSixHours
	}
	if snap.Balance-e.thresholds.TimeDeltaHours*projectionRate <= e.thresholds.BurnRate {
		fmt.Fprintf(breach(), "Alarm: account is approaching the balance\n")
		fmt.Fprintf(&b, "Current balance: $ %f\n", snap.Balance)
		fmt.Fprintf(&b, "Cost rate per hour: $%f / h for last %.0f hours\n", projectionRate, e.thresholds.TimeDeltaHours)
		fmt.Fprintf(&b, "Set Alarm Threshold on burn rate: $%f\n", e.thresholds.BurnRate)
	}

	return b.String()
}
