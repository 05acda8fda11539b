// Package calculator runs the full per-account billing pipeline:
// fetch, normalize, aggregate over the configured window, correct.
package calculator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/cloud-bill-calculator/internal/aggregator"
	"github.com/lvonguyen/cloud-bill-calculator/internal/correction"
	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

// Source supplies normalized line items covering [from, to]. from is
// the configured anchor date; to is nil for "up to now".
type Source interface {
	// Fetch returns line items for the window. Cacheable reports
	// whether items fetched once cover every narrower sub-window, so
	// the calculator may reuse them across repeated calls (true for
	// file exports carrying per-row dates, false for warehouse
	// queries that aggregate inside the window).
	Fetch(ctx context.Context, from time.Time, to *time.Time) ([]normalizer.LineItem, error)
	Cacheable() bool
}

// Calculator computes a corrected bill summary for one account. The
// anchor date is mutable so alarm and egress evaluators can re-run the
// pipeline over shifted windows; nothing is persisted.
type Calculator struct {
	source        Source
	logger        *zap.Logger
	accountName   string
	anchorDate    time.Time
	sumToDate     *time.Time
	balanceAtDate float64
	applyDiscount bool
	accrueSupport bool // AWS tiered support fee
	bucketize     bool // GCE spending-bucket pass before discount

	cached []normalizer.LineItem
}

// Config carries the per-account constants the calculator needs.
type Config struct {
	AccountName   string
	AnchorDate    time.Time // last known bill date
	SumToDate     *time.Time
	BalanceAtDate float64
	ApplyDiscount bool
	// AccrueSupport enables the tiered monthly support fee, a term of
	// the AWS contract only.
	AccrueSupport bool
	Bucketize     bool
}

// New creates a calculator for one account.
func New(source Source, cfg Config, logger *zap.Logger) *Calculator {
	return &Calculator{
		source:        source,
		logger:        logger,
		accountName:   cfg.AccountName,
		anchorDate:    cfg.AnchorDate,
		sumToDate:     cfg.SumToDate,
		balanceAtDate: cfg.BalanceAtDate,
		applyDiscount: cfg.ApplyDiscount,
		accrueSupport: cfg.AccrueSupport,
		bucketize:     cfg.Bucketize,
	}
}

// AccountName returns the configured account or project name.
func (c *Calculator) AccountName() string { return c.accountName }

// AnchorDate returns the current window start.
func (c *Calculator) AnchorDate() time.Time { return c.anchorDate }

// SetAnchorDate moves the window start for a shifted re-run.
func (c *Calculator) SetAnchorDate(t time.Time) { c.anchorDate = t }

// SetBalanceAtDate replaces the known balance.
func (c *Calculator) SetBalanceAtDate(balance float64) { c.balanceAtDate = balance }

// SetSumToDate sets or clears the window end.
func (c *Calculator) SetSumToDate(t *time.Time) { c.sumToDate = t }

// CalculateBill runs one full pipeline pass and returns the latest
// billed usage date inside the window and the corrected summary.
func (c *Calculator) CalculateBill(ctx context.Context) (time.Time, aggregator.BillSummary, error) {
	items, err := c.lineItems(ctx)
	if err != nil {
		return time.Time{}, nil, err
	}

	lastSeen, summary := aggregator.Aggregate(items, c.anchorDate, c.sumToDate, c.accrueSupport, c.logger)
	if c.bucketize {
		summary = correction.Categorize(summary)
	}
	corrected := correction.Correct(summary, c.balanceAtDate, c.applyDiscount)

	c.logger.Info("bill computation finished",
		zap.String("account", c.accountName),
		zap.Time("lastStartDateBilled", lastSeen),
		zap.Float64("balanceAtDate", c.balanceAtDate),
		zap.Float64("adjustedTotal", corrected[aggregator.KeyAdjustedTotal]))

	return lastSeen, corrected, nil
}

// lineItems fetches from the source, reusing the cached merge when the
// source allows it. The cache lives for one analysis cycle; repeated
// calls from the alarm and egress evaluators hit it instead of the
// network.
func (c *Calculator) lineItems(ctx context.Context) ([]normalizer.LineItem, error) {
	if c.source.Cacheable() && c.cached != nil {
		return c.cached, nil
	}
	items, err := c.source.Fetch(ctx, c.anchorDate, c.sumToDate)
	if err != nil {
		return nil, err
	}
	if c.source.Cacheable() {
		c.cached = items
	}
	return items, nil
}
