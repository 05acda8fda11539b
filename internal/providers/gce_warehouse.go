package providers

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

// WarehouseSourceConfig configures one project's billing export table.
type WarehouseSourceConfig struct {
	ProjectID    string
	BillingTable string
}

// WarehouseSource reads a GCE project's spend from its BigQuery
// billing export. It satisfies calculator.Source.
type WarehouseSource struct {
	client *bigquery.Client
	cfg    WarehouseSourceConfig
	logger *zap.Logger
}

// NewWarehouseSource opens a BigQuery client against the project that
// owns the billing export dataset.
func NewWarehouseSource(ctx context.Context, cfg WarehouseSourceConfig, logger *zap.Logger) (*WarehouseSource, error) {
	client, err := bigquery.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: creating BigQuery client for %s: %v", ErrAuthentication, cfg.ProjectID, err)
	}
	return &WarehouseSource{client: client, cfg: cfg, logger: logger}, nil
}

// Cacheable reports false: every window needs its own query because
// the export rows are grouped away during aggregation in BigQuery.
func (w *WarehouseSource) Cacheable() bool { return false }

// Close releases the BigQuery client.
func (w *WarehouseSource) Close() error { return w.client.Close() }

// warehouseRow is one (sku, service) aggregate from the export table.
// Costs are rounded in the query so the NUMERIC columns load straight
// into float64.
type warehouseRow struct {
	Sku        string  `bigquery:"Sku"`
	Service    string  `bigquery:"Service"`
	RawCost    float64 `bigquery:"rawCost"`
	RawCredits float64 `bigquery:"rawCredits"`
}

// Fetch queries per-SKU costs and credits for the window and flattens
// them into line items stamped with the window start.
func (w *WarehouseSource) Fetch(ctx context.Context, from time.Time, to *time.Time) ([]normalizer.LineItem, error) {
	res, err := w.queryUsage(ctx, from, to, "")
	if err != nil {
		return nil, err
	}
	return normalizer.FlattenQueryResult(res, w.cfg.ProjectID, from), nil
}

// Adjustments returns per-category correction totals the vendor
// applied inside the window. Kept out of Fetch so the bill totals stay
// pure usage; the runner publishes them as separate metrics.
func (w *WarehouseSource) Adjustments(ctx context.Context, from time.Time, to *time.Time) (map[string]float64, error) {
	res, err := w.queryUsage(ctx, from, to, "AND adjustment_info.id IS NOT NULL")
	if err != nil {
		return nil, err
	}

	adjustments := make(map[string]float64)
	for _, item := range normalizer.FlattenQueryResult(res, w.cfg.ProjectID, from) {
		adjustments[item.Category] += item.Cost
	}
	return adjustments, nil
}

// queryUsage runs the grouped usage query, optionally restricted by an
// extra WHERE clause, and returns costs and credits keyed by service
// then SKU.
func (w *WarehouseSource) queryUsage(ctx context.Context, from time.Time, to *time.Time, extraWhere string) (normalizer.QueryResult, error) {
	end := time.Now()
	if to != nil {
		end = *to
	}

	query := fmt.Sprintf(`SELECT
  sku.description AS Sku,
  service.description AS Service,
  ROUND(CAST(SUM(cost) AS FLOAT64), 8) AS rawCost,
  ROUND(CAST(SUM(IFNULL((SELECT SUM(c.amount) FROM UNNEST(credits) c), 0)) AS FLOAT64), 8) AS rawCredits
FROM %s
WHERE project.id = @projectID
  AND DATE(usage_start_time) >= @fromDate
  AND DATE(usage_end_time) <= @toDate
  %s
GROUP BY Sku, Service`, "`"+w.cfg.BillingTable+"`", extraWhere)

	q := w.client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "projectID", Value: w.cfg.ProjectID},
		{Name: "fromDate", Value: from.Format("2006-01-02")},
		{Name: "toDate", Value: end.Format("2006-01-02")},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying billing export %s: %w", w.cfg.BillingTable, err)
	}

	res := make(normalizer.QueryResult)
	for {
		var row warehouseRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading billing export rows: %w", err)
		}
		if res[row.Service] == nil {
			res[row.Service] = make(map[string]normalizer.SkuUsage)
		}
		usage := res[row.Service][row.Sku]
		usage.Cost += row.RawCost
		usage.Credits += row.RawCredits
		res[row.Service][row.Sku] = usage
	}

	w.logger.Debug("billing export queried",
		zap.String("project", w.cfg.ProjectID),
		zap.Int("services", len(res)))
	return res, nil
}
