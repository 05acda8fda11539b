// Package normalizer merges raw vendor billing exports into one
// canonical stream of line items.
package normalizer

import (
	"errors"
	"time"
)

// ErrNoBillingData is returned when no raw input matches a recognized
// billing file naming or schema pattern.
var ErrNoBillingData = errors.New("no billing data found")

// ErrMalformedRow is returned when a CSV row cannot be patched to the
// current schema without misaligning columns.
var ErrMalformedRow = errors.New("malformed billing row")

// LineItem is one billed unit. Items are immutable once produced and
// live only for the duration of a single aggregation pass.
type LineItem struct {
	// Category is the product name (AWS) or the derived dotted
	// service.sku key (GCE warehouse) or the line-item URI (GCE
	// storage export).
	Category      string
	UsageStart    time.Time // zero when the source row had no usage date
	Cost          float64
	UsageQuantity float64
	Description   string
	ProjectID     string
}

// RawFile is one downloaded billing export segment: the object name as
// it appeared in the bucket (used for schema detection) and the CSV
// payload, already decompressed.
type RawFile struct {
	Name string
	Data []byte
}
