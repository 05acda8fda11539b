package normalizer

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

const oldFormatCSV = `InvoiceID,PayerAccountId,LinkedAccountId,RecordType,ProductName,UsageStartDate,ItemDescription,UsageQuantity,UnBlendedCost
123,111,222,LineItem,Amazon Elastic Compute Cloud,2025-01-10 00:00:00,m5.large instance hour,24,2.40
123,111,222,LineItem,Amazon Simple Storage Service,2025-01-11 00:00:00,standard storage,100,1.00
`

const newFormatCSV = `InvoiceID,PayerAccountId,LinkedAccountId,RecordType,RecordId,ProductName,UsageStartDate,ItemDescription,UsageQuantity,UnBlendedCost,ResourceId
124,111,222,LineItem,rec-1,Amazon Elastic Compute Cloud,2025-02-10 00:00:00,m5.large instance hour,24,2.40,i-0abc
`

func TestAWSNormalizeOldAndNewFormats(t *testing.T) {
	n := NewAWSNormalizer(zap.NewNop())

	items, err := n.Normalize([]RawFile{
		{Name: "111-aws-billing-detailed-line-items-2025-01.csv", Data: []byte(oldFormatCSV)},
		{Name: "111-aws-billing-detailed-line-items-with-resources-and-tags-2025-02.csv", Data: []byte(newFormatCSV)},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	first := items[0]
	if first.Category != "Amazon Elastic Compute Cloud" {
		t.Errorf("Category = %q", first.Category)
	}
	if first.Cost != 2.40 {
		t.Errorf("Cost = %v, want 2.40", first.Cost)
	}
	if first.UsageQuantity != 24 {
		t.Errorf("UsageQuantity = %v, want 24", first.UsageQuantity)
	}
	want := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	if !first.UsageStart.Equal(want) {
		t.Errorf("UsageStart = %v, want %v", first.UsageStart, want)
	}

	// The new-format segment must align on the old (patched) header.
	last := items[2]
	if last.Cost != 2.40 || last.Category != "Amazon Elastic Compute Cloud" {
		t.Errorf("new-format row misaligned: %+v", last)
	}
}

func TestAWSNormalizeMalformedOldRow(t *testing.T) {
	csvData := `InvoiceID,PayerAccountId,LinkedAccountId,RecordType,ProductName,UsageStartDate,ItemDescription,UsageQuantity,UnBlendedCost
123,111
`
	n := NewAWSNormalizer(zap.NewNop())
	_, err := n.Normalize([]RawFile{
		{Name: "111-aws-billing-detailed-line-items-2025-01.csv", Data: []byte(csvData)},
	})
	if !errors.Is(err, ErrMalformedRow) {
		t.Fatalf("err = %v, want ErrMalformedRow: a row too short to patch must fail the pass", err)
	}
}

func TestAWSNormalizeSkipsUnparseableDates(t *testing.T) {
	csvData := `InvoiceID,PayerAccountId,LinkedAccountId,RecordType,ProductName,UsageStartDate,ItemDescription,UsageQuantity,UnBlendedCost
123,111,222,LineItem,Amazon Elastic Compute Cloud,not-a-date,m5.large,24,2.40
123,111,222,LineItem,Amazon Elastic Compute Cloud,2025-01-10 00:00:00,m5.large,24,2.40
`
	n := NewAWSNormalizer(zap.NewNop())
	items, err := n.Normalize([]RawFile{
		{Name: "111-aws-billing-detailed-line-items-2025-01.csv", Data: []byte(csvData)},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1: the bad-date row should be skipped, not fatal", len(items))
	}
}

func TestAWSNormalizeStatementRowsWithoutDates(t *testing.T) {
	// Invoice totals carry no usage date; they must survive
	// normalization with a zero date so aggregation can drop them by
	// window.
	csvData := `InvoiceID,PayerAccountId,LinkedAccountId,RecordType,ProductName,UsageStartDate,ItemDescription,UsageQuantity,UnBlendedCost
123,111,222,StatementTotal,,,Total statement amount for period,,102.40
`
	n := NewAWSNormalizer(zap.NewNop())
	items, err := n.Normalize([]RawFile{
		{Name: "111-aws-billing-detailed-line-items-2025-01.csv", Data: []byte(csvData)},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 1 || !items[0].UsageStart.IsZero() {
		t.Fatalf("statement row not preserved with zero date: %+v", items)
	}
}

func TestAWSNormalizeNoFiles(t *testing.T) {
	n := NewAWSNormalizer(zap.NewNop())
	if _, err := n.Normalize(nil); !errors.Is(err, ErrNoBillingData) {
		t.Fatalf("err = %v, want ErrNoBillingData", err)
	}
}

func TestAWSNormalizeMissingColumns(t *testing.T) {
	csvData := `InvoiceID,PayerAccountId,LinkedAccountId,RecordType,SomethingElse
1,2,3,LineItem,x
`
	n := NewAWSNormalizer(zap.NewNop())
	_, err := n.Normalize([]RawFile{
		{Name: "111-aws-billing-detailed-line-items-2025-01.csv", Data: []byte(csvData)},
	})
	if !errors.Is(err, ErrNoBillingData) {
		t.Fatalf("err = %v, want ErrNoBillingData", err)
	}
}
