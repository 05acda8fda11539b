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

// AWS detailed line-item CSV column contract. Names are matched
// exactly, including case.
const (
	awsColProductName     = "ProductName"
	awsColUsageStartDate  = "UsageStartDate"
	awsColItemDescription = "ItemDescription"
	awsColUsageQuantity   = "UsageQuantity"
	awsColUnBlendedCost   = "UnBlendedCost"
	awsColRecordType      = "RecordType"

	// Columns present only in the post-Feb-2016 format. They are
	// synthesized empty when an old-format file is merged.
	awsColRecordID   = "RecordId"
	awsColResourceID = "ResourceId"

	awsRowTimeLayout = "2006-01-02 15:04:05"
)

// The newer schema is identified by its file name.
var awsNewFormatPattern = regexp.MustCompile(`with-resources-and-tags-.*\.csv`)

// AWSNormalizer merges one or more monthly AWS billing CSV exports,
// patching old-format segments to the current field set.
type AWSNormalizer struct {
	logger *zap.Logger
}

// NewAWSNormalizer creates an AWS CSV normalizer.
func NewAWSNormalizer(logger *zap.Logger) *AWSNormalizer {
	return &AWSNormalizer{logger: logger}
}

// Normalize merges the given export segments into one ordered slice of
// line items. The header row is taken from the first segment; later
// segment headers are dropped. Old-format segments get empty RecordId
// and ResourceId columns so every row can be read uniformly.
func (n *AWSNormalizer) Normalize(files []RawFile) ([]LineItem, error) {
	if len(files) == 0 {
		return nil, ErrNoBillingData
	}

	var header []string
	var items []LineItem
	var cols awsColumns

	for _, f := range files {
		newFormat := awsNewFormatPattern.MatchString(f.Name)

		r := csv.NewReader(strings.NewReader(string(f.Data)))
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		if len(rows) == 0 {
			continue
		}

		segHeader := rows[0]
		if !newFormat {
			segHeader, err = patchOldHeader(segHeader, f.Name)
			if err != nil {
				return nil, err
			}
		}

		if header == nil {
			header = segHeader
			cols, err = resolveAWSColumns(header, f.Name)
			if err != nil {
				return nil, err
			}
		}

		for i, row := range rows[1:] {
			if !newFormat {
				row, err = patchOldRow(row, f.Name, i+2)
				if err != nil {
					return nil, err
				}
			}
			item, ok := n.lineItem(row, cols, f.Name, i+2)
			if ok {
				items = append(items, item)
			}
		}
	}

	if header == nil {
		return nil, ErrNoBillingData
	}
	return items, nil
}

type awsColumns struct {
	product, start, desc, quantity, cost int
}

func resolveAWSColumns(header []string, name string) (awsColumns, error) {
	idx := func(col string) int {
		for i, h := range header {
			if h == col {
				return i
			}
		}
		return -1
	}
	cols := awsColumns{
		product:  idx(awsColProductName),
		start:    idx(awsColUsageStartDate),
		desc:     idx(awsColItemDescription),
		quantity: idx(awsColUsageQuantity),
		cost:     idx(awsColUnBlendedCost),
	}
	if cols.product < 0 || cols.start < 0 || cols.desc < 0 || cols.quantity < 0 || cols.cost < 0 {
		return cols, fmt.Errorf("%s: header missing required billing columns: %w", name, ErrNoBillingData)
	}
	return cols, nil
}

// patchOldHeader inserts RecordId after RecordType and appends
// ResourceId, turning a pre-2016 header into the current one.
func patchOldHeader(header []string, name string) ([]string, error) {
	at := -1
	for i, h := range header {
		if h == awsColRecordType {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, fmt.Errorf("%s: old-format header has no %s column: %w", name, awsColRecordType, ErrMalformedRow)
	}
	patched := make([]string, 0, len(header)+2)
	patched = append(patched, header[:at+1]...)
	patched = append(patched, awsColRecordID)
	patched = append(patched, header[at+1:]...)
	return append(patched, awsColResourceID), nil
}

// patchOldRow mirrors patchOldHeader for data rows: an empty RecordId
// goes in as the fifth column and an empty ResourceId at the end. Rows
// with fewer than four leading columns cannot be aligned and fail the
// whole pass rather than silently shifting every later field.
func patchOldRow(row []string, name string, lineNo int) ([]string, error) {
	if len(row) < 4 {
		return nil, fmt.Errorf("%s row %d: %d columns before the RecordId insertion point: %w",
			name, lineNo, len(row), ErrMalformedRow)
	}
	patched := make([]string, 0, len(row)+2)
	patched = append(patched, row[:4]...)
	patched = append(patched, "")
	patched = append(patched, row[4:]...)
	return append(patched, ""), nil
}

// lineItem converts one data row. Rows too short to carry the billing
// columns (trailing comment lines) and rows whose date fails to parse
// are skipped, not fatal.
func (n *AWSNormalizer) lineItem(row []string, cols awsColumns, name string, lineNo int) (LineItem, bool) {
	field := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}

	item := LineItem{
		Category:    field(cols.product),
		Description: field(cols.desc),
	}

	if raw := field(cols.start); raw != "" {
		t, err := time.Parse(awsRowTimeLayout, raw)
		if err != nil {
			n.logger.Warn("skipping row with unparseable usage date",
				zap.String("file", name), zap.Int("row", lineNo), zap.String("date", raw))
			return LineItem{}, false
		}
		item.UsageStart = t
	}

	if raw := field(cols.cost); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			n.logger.Warn("skipping row with unparseable cost",
				zap.String("file", name), zap.Int("row", lineNo), zap.String("cost", raw))
			return LineItem{}, false
		}
		item.Cost = c
	}
	if raw := field(cols.quantity); raw != "" {
		if q, err := strconv.ParseFloat(raw, 64); err == nil {
			item.UsageQuantity = q
		}
	}

	return item, true
}
