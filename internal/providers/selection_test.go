package providers

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

var (
	testFilePattern = regexp.MustCompile(`aws-billing.*-20[0-9][0-9]-[0-9][0-9]\.csv\.zip`)
	testDatePattern = regexp.MustCompile(`20[0-9][0-9]-[0-9][0-9]`)
)

var monthlyFiles = []string{
	"950490332792-aws-billing-detailed-line-items-2015-07.csv.zip",
	"950490332792-aws-billing-detailed-line-items-2015-08.csv.zip",
	"950490332792-aws-billing-detailed-line-items-2015-09.csv.zip",
	"manifest.json", // never matches
}

func selectAt(t *testing.T, anchor time.Time) []string {
	t.Helper()
	selected, err := selectBillingFiles(monthlyFiles, testFilePattern, testDatePattern, "2006-01", anchor)
	if err != nil {
		t.Fatalf("selectBillingFiles: %v", err)
	}
	return selected
}

func TestSelectBillingFilesStraddlingAnchor(t *testing.T) {
	anchor := time.Date(2015, 8, 15, 0, 0, 0, 0, time.UTC)
	selected := selectAt(t, anchor)

	want := []string{monthlyFiles[1], monthlyFiles[2]}
	if len(selected) != 2 || selected[0] != want[0] || selected[1] != want[1] {
		t.Errorf("selected %v, want %v: the August file straddles the anchor", selected, want)
	}
}

func TestSelectBillingFilesAnchorBeforeAll(t *testing.T) {
	anchor := time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC)
	selected := selectAt(t, anchor)

	if len(selected) != 3 {
		t.Errorf("selected %v, want all three monthly files", selected)
	}
}

func TestSelectBillingFilesAnchorAfterAll(t *testing.T) {
	anchor := time.Date(2015, 12, 1, 0, 0, 0, 0, time.UTC)
	selected := selectAt(t, anchor)

	if len(selected) != 1 || selected[0] != monthlyFiles[2] {
		t.Errorf("selected %v, want only the newest file", selected)
	}
}

func TestSelectBillingFilesNoMatches(t *testing.T) {
	_, err := selectBillingFiles([]string{"manifest.json"}, testFilePattern, testDatePattern, "2006-01", time.Now())
	if !errors.Is(err, normalizer.ErrNoBillingData) {
		t.Fatalf("err = %v, want ErrNoBillingData", err)
	}
}

func TestSelectBillingFilesNewFormatNames(t *testing.T) {
	names := []string{
		"950490332792-aws-billing-detailed-line-items-with-resources-and-tags-2016-02.csv.zip",
		"950490332792-aws-billing-detailed-line-items-with-resources-and-tags-2016-03.csv.zip",
	}
	anchor := time.Date(2016, 2, 20, 0, 0, 0, 0, time.UTC)
	selected, err := selectBillingFiles(names, testFilePattern, testDatePattern, "2006-01", anchor)
	if err != nil {
		t.Fatalf("selectBillingFiles: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("selected %v, want both files", selected)
	}
}
