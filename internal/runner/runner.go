// Package runner wires sources, calculators, evaluators and sinks
// together and processes every configured account in one pass.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
	"github.com/lvonguyen/cloud-bill-calculator/internal/alarm"
	"github.com/lvonguyen/cloud-bill-calculator/internal/calculator"
	"github.com/lvonguyen/cloud-bill-calculator/internal/config"
	"github.com/lvonguyen/cloud-bill-calculator/internal/notify"
	"github.com/lvonguyen/cloud-bill-calculator/internal/providers"
)

// MetricsPublisher is the dashboard sink. Satisfied by
// graphite.Publisher.
type MetricsPublisher interface {
	Publish(series string, values map[string]float64) error
}

// AlarmNotifier delivers a composed alarm message to operators.
type AlarmNotifier interface {
	Notify(ctx context.Context, account, message string) error
}

// Result records the outcome for one account. A failed account never
// stops the others.
type Result struct {
	Account      string
	Summary      aggregator.BillSummary
	AlarmMessage string
	Err          error
}

// Runner processes every configured account: bill, alarms, egress.
type Runner struct {
	cfg      *config.Config
	billing  MetricsPublisher
	alarms   MetricsPublisher
	egress   MetricsPublisher
	notifier AlarmNotifier
	logger   *zap.Logger
}

// New assembles a runner around already-connected sinks. notifier may
// be nil when no delivery channel is enabled.
func New(cfg *config.Config, billing, alarms, egress MetricsPublisher, notifier AlarmNotifier, logger *zap.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		billing:  billing,
		alarms:   alarms,
		egress:   egress,
		notifier: notifier,
		logger:   logger,
	}
}

// Run processes every AWS account and GCE project in configuration
// order. Errors are recorded per account and logged; processing always
// continues with the next account.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.cfg.AWSAccounts)+len(r.cfg.GCEProjects))

	for _, acct := range r.cfg.AWSAccounts {
		res := r.runAWSAccount(ctx, acct)
		if res.Err != nil {
			r.logger.Error("aws account failed",
				zap.String("account", acct.AccountName),
				zap.Error(res.Err))
		}
		results = append(results, res)
	}

	for _, proj := range r.cfg.GCEProjects {
		res := r.runGCEProject(ctx, proj)
		if res.Err != nil {
			r.logger.Error("gce project failed",
				zap.String("project", proj.ProjectID),
				zap.Error(res.Err))
		}
		results = append(results, res)
	}

	return results
}

func (r *Runner) runAWSAccount(ctx context.Context, acct config.AWSAccount) Result {
	res := Result{Account: acct.AccountName}

	anchor, err := config.ParseBillDate(acct.LastKnownBillDate)
	if err != nil {
		res.Err = err
		return res
	}

	source, err := providers.NewBillingFileStore(ctx, providers.AWSSourceConfig{
		AccountName:        acct.AccountName,
		AccountNumber:      acct.AccountNumber,
		CredentialsProfile: acct.CredentialsProfile,
		Region:             acct.Region,
		Bucket:             acct.BillingBucket,
	}, r.logger)
	if err != nil {
		res.Err = err
		return res
	}

	calc := calculator.New(source, calculator.Config{
		AccountName:   acct.AccountName,
		AnchorDate:    anchor,
		BalanceAtDate: acct.BalanceAtDate,
		ApplyDiscount: acct.ApplyDiscount,
		AccrueSupport: true,
	}, r.logger)

	lastBilled, summary, err := calc.CalculateBill(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Summary = summary

	if err := r.billing.Publish(acct.AccountName, summary); err != nil {
		res.Err = err
		return res
	}

	// Vendor-reported month-to-date next to the export-derived total,
	// so dashboards can spot export drift.
	if reported, err := source.MonthToDateReported(ctx, lastBilled); err != nil {
		r.logger.Warn("cost explorer cross-check failed",
			zap.String("account", acct.AccountName),
			zap.Error(err))
	} else if err := r.billing.Publish(acct.AccountName, map[string]float64{
		"ReportedMonthToDate": reported,
	}); err != nil {
		res.Err = err
		return res
	}

	msg, snap, err := r.evaluateAlarms(ctx, calc, alarm.Thresholds{
		SixHourRate:    acct.SixHourRateAlarmThreshold,
		DailyRate:      acct.DailyRateAlarmThreshold,
		BurnRate:       acct.BurnRateAlarmThreshold,
		TimeDeltaHours: acct.TimeDeltaForCostCalculations,
	}, "AWS", true)
	if err != nil {
		res.Err = err
		return res
	}
	res.AlarmMessage = msg
	if err := r.alarms.Publish(acct.AccountName, snap.Metrics(true)); err != nil {
		res.Err = err
		return res
	}

	egressEval := alarm.NewEgressEvaluator(calc, r.logger)
	egressSnap, err := egressEval.Extract(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	if err := r.egress.Publish(acct.AccountName, egressSnap.Metrics()); err != nil {
		res.Err = err
		return res
	}

	return res
}

func (r *Runner) runGCEProject(ctx context.Context, proj config.GCEProject) Result {
	res := Result{Account: proj.ProjectID}

	anchor, err := config.ParseBillDate(proj.LastKnownBillDate)
	if err != nil {
		res.Err = err
		return res
	}

	var (
		source    calculator.Source
		warehouse *providers.WarehouseSource
	)
	switch proj.Source {
	case "storage":
		s, err := providers.NewStorageExportSource(ctx, providers.StorageExportSourceConfig{
			ProjectID:    proj.ProjectID,
			Bucket:       proj.BillingBucket,
			ExportPrefix: proj.ExportPrefix,
		}, r.logger)
		if err != nil {
			res.Err = err
			return res
		}
		defer s.Close()
		source = s
	default:
		w, err := providers.NewWarehouseSource(ctx, providers.WarehouseSourceConfig{
			ProjectID:    proj.ProjectID,
			BillingTable: proj.BillingTable,
		}, r.logger)
		if err != nil {
			res.Err = err
			return res
		}
		defer w.Close()
		source = w
		warehouse = w
	}

	calc := calculator.New(source, calculator.Config{
		AccountName:   proj.ProjectID,
		AnchorDate:    anchor,
		BalanceAtDate: proj.BalanceAtDate,
		ApplyDiscount: proj.ApplyDiscount,
		Bucketize:     true,
	}, r.logger)

	_, summary, err := calc.CalculateBill(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Summary = summary

	if err := r.billing.Publish(proj.ProjectID, summary); err != nil {
		res.Err = err
		return res
	}

	if warehouse != nil {
		if err := r.publishAdjustments(ctx, warehouse, proj.ProjectID, anchor); err != nil {
			r.logger.Warn("adjustments query failed",
				zap.String("project", proj.ProjectID),
				zap.Error(err))
		}
	}
	if proj.BillingAccount != "" {
		if err := r.publishBudgetLimits(ctx, proj); err != nil {
			r.logger.Warn("budget listing failed",
				zap.String("project", proj.ProjectID),
				zap.Error(err))
		}
	}

	msg, snap, err := r.evaluateAlarms(ctx, calc, alarm.Thresholds{
		DailyRate:      proj.DailyRateAlarmThreshold,
		BurnRate:       proj.BurnRateAlarmThreshold,
		TimeDeltaHours: proj.TimeDeltaForCostCalculations,
	}, "GCE", false)
	if err != nil {
		res.Err = err
		return res
	}
	res.AlarmMessage = msg
	if err := r.alarms.Publish(proj.ProjectID, snap.Metrics(false)); err != nil {
		res.Err = err
		return res
	}

	return res
}

// evaluateAlarms runs the evaluator and dispatches the message when a
// threshold was breached.
func (r *Runner) evaluateAlarms(ctx context.Context, calc alarm.BillCalculator, thresholds alarm.Thresholds, vendorLabel string, withSixHour bool) (string, alarm.Snapshot, error) {
	eval := alarm.NewEvaluator(calc, thresholds, vendorLabel, r.cfg.Global.GrafanaDashboard, withSixHour, r.logger)
	msg, snap, err := eval.Evaluate(ctx)
	if err != nil {
		return "", alarm.Snapshot{}, err
	}

	if msg != "" && r.notifier != nil {
		if err := r.notifier.Notify(ctx, calc.AccountName(), msg); err != nil {
			r.logger.Error("alarm dispatch failed",
				zap.String("account", calc.AccountName()),
				zap.Error(err))
		}
	}

	return msg, snap, nil
}

func (r *Runner) publishAdjustments(ctx context.Context, warehouse *providers.WarehouseSource, project string, anchor time.Time) error {
	adjustments, err := warehouse.Adjustments(ctx, anchor, nil)
	if err != nil {
		return err
	}
	if len(adjustments) == 0 {
		return nil
	}

	values := make(map[string]float64, len(adjustments))
	for category, amount := range adjustments {
		values["adjustments."+category] = amount
	}
	return r.billing.Publish(project, values)
}

func (r *Runner) publishBudgetLimits(ctx context.Context, proj config.GCEProject) error {
	lister, err := providers.NewBudgetLister(ctx, proj.BillingAccount)
	if err != nil {
		return err
	}
	defer lister.Close()

	limits, err := lister.ListBudgetLimits(ctx)
	if err != nil {
		return err
	}
	if len(limits) == 0 {
		return nil
	}

	values := make(map[string]float64, len(limits))
	for _, budget := range limits {
		values["budgetLimit."+metricName(budget.Name)] = budget.Limit
	}
	return r.billing.Publish(proj.ProjectID, values)
}

// metricName collapses a display name into a dashboard-safe key.
func metricName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// Notifier fans an alarm message out to every enabled channel.
type Notifier struct {
	email  *notify.EmailSender
	snow   *notify.ServiceNowClient
	logger *zap.Logger
}

// NewNotifier builds the fan-out from global configuration. Returns
// nil when no channel is enabled.
func NewNotifier(global config.GlobalConfig, logger *zap.Logger) *Notifier {
	n := &Notifier{logger: logger}
	if global.Email.Enabled {
		n.email = notify.NewEmailSender(global.Email.SMTPHost, global.Email.Sender, global.Email.Recipients, logger)
	}
	if global.ServiceNow.Enabled {
		n.snow = notify.NewServiceNowClient(notify.ServiceNowConfig{
			InstanceURL:         global.ServiceNow.InstanceURL,
			Username:            global.ServiceNow.Username,
			Password:            global.ServiceNow.Password,
			AssignmentGroup:     global.ServiceNow.AssignmentGroup,
			CMDBCI:              global.ServiceNow.CMDBCI,
			Categorization:      global.ServiceNow.Categorization,
			VirtualOrganization: global.ServiceNow.VirtualOrganization,
		}, logger)
	}
	if n.email == nil && n.snow == nil {
		return nil
	}
	return n
}

// Notify delivers the message on every channel; a failed channel does
// not stop the others.
func (n *Notifier) Notify(ctx context.Context, account, message string) error {
	subject := fmt.Sprintf("Billing alarm for account %s", account)

	var firstErr error
	if n.email != nil {
		if err := n.email.Send(subject, message); err != nil {
			firstErr = err
		}
	}
	if n.snow != nil {
		if _, err := n.snow.CreateIncident(ctx, notify.SeverityWarning, subject, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
