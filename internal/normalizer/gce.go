package normalizer

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// GCE storage-export CSV column contract. Names are matched exactly,
// including case.
const (
	gceColCost       = "Cost"
	gceColLineItem   = "Line Item"
	gceColStartTime  = "Start Time"
	gceColProjectID  = "Project ID"
	gceRowTimeLayout = "2006-01-02T15:04:05"
)

// The export stamps Start Time with a Pacific utc-offset suffix; local
// time is used, so the suffix is stripped before parsing.
var gceTimezoneSuffix = regexp.MustCompile(`-0[78]:00`)

// GCENormalizer reads the legacy Cloud Storage billing export CSVs for
// a single project.
type GCENormalizer struct {
	projectID string
	logger    *zap.Logger
}

// NewGCENormalizer creates a storage-export normalizer scoped to one
// project; rows billed to other projects in the same export are
// dropped.
func NewGCENormalizer(projectID string, logger *zap.Logger) *GCENormalizer {
	return &GCENormalizer{projectID: projectID, logger: logger}
}

// Normalize merges the export segments into one ordered slice of line
// items.
func (n *GCENormalizer) Normalize(files []RawFile) ([]LineItem, error) {
	if len(files) == 0 {
		return nil, ErrNoBillingData
	}

	var items []LineItem
	for _, f := range files {
		segment, err := n.normalizeFile(f)
		if err != nil {
			return nil, err
		}
		items = append(items, segment...)
	}
	return items, nil
}

func (n *GCENormalizer) normalizeFile(f RawFile) ([]LineItem, error) {
	r := csv.NewReader(strings.NewReader(string(f.Data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	idx := func(col string) int {
		for i, h := range rows[0] {
			if h == col {
				return i
			}
		}
		return -1
	}
	costCol, itemCol, startCol, projCol := idx(gceColCost), idx(gceColLineItem), idx(gceColStartTime), idx(gceColProjectID)
	if costCol < 0 || itemCol < 0 || startCol < 0 || projCol < 0 {
		return nil, fmt.Errorf("%s: header missing required billing columns: %w", f.Name, ErrNoBillingData)
	}

	var items []LineItem
	for lineNo, row := range rows[1:] {
		field := func(i int) string {
			if i < len(row) {
				return row[i]
			}
			return ""
		}

		if field(projCol) != n.projectID {
			continue
		}

		item := LineItem{
			Category:  field(itemCol),
			ProjectID: field(projCol),
		}
		if item.Category == "" {
			n.logger.Warn("row has no line item",
				zap.String("file", f.Name), zap.Int("row", lineNo+2))
		}

		if raw := field(startCol); raw == "" {
			n.logger.Warn("row has no start time",
				zap.String("file", f.Name), zap.Int("row", lineNo+2))
		} else {
			trimmed := gceTimezoneSuffix.Split(raw, 2)[0]
			t, err := time.Parse(gceRowTimeLayout, trimmed)
			if err != nil {
				n.logger.Warn("skipping row with unparseable start time",
					zap.String("file", f.Name), zap.Int("row", lineNo+2), zap.String("date", raw))
				continue
			}
			item.UsageStart = t
		}

		if raw := field(costCol); raw != "" {
			c, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				n.logger.Warn("skipping row with unparseable cost",
					zap.String("file", f.Name), zap.Int("row", lineNo+2), zap.String("cost", raw))
				continue
			}
			item.Cost = c
		}

		items = append(items, item)
	}
	return items, nil
}

// SkuUsage is the aggregated cost and credits for one (service, sku)
// pair as returned by the billing warehouse.
type SkuUsage struct {
	Cost    float64
	Credits float64
}

// QueryResult is the nested service -> sku -> usage shape produced by
// the warehouse query.
type QueryResult map[string]map[string]SkuUsage

// FlattenQueryResult turns a warehouse result into one line item per
// (service, sku) pair. The category key is
// lowercase-hyphenated-service.ConcatenatedSku, credits are folded
// into the net cost, and usage_start is pinned to the window start
// because the window was already enforced by the query.
func FlattenQueryResult(res QueryResult, projectID string, windowStart time.Time) []LineItem {
	var items []LineItem
	for service, skus := range res {
		serviceKey := strings.Join(strings.Fields(strings.ToLower(service)), "-")
		for sku, usage := range skus {
			skuKey := strings.Join(strings.Fields(sku), "")
			items = append(items, LineItem{
				Category:    serviceKey + "." + skuKey,
				UsageStart:  windowStart,
				Cost:        usage.Cost + usage.Credits,
				Description: sku,
				ProjectID:   projectID,
			})
		}
	}
	return items
}
