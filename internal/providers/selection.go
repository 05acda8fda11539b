// Package providers implements the raw billing sources: the AWS S3
// export store, the GCE Cloud Storage export store, and the GCE
// billing warehouse.
package providers

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lvonguyen/cloud-bill-calculator/internal/normalizer"
)

// ErrAuthentication marks failures establishing credentials against a
// billing source. Fatal for the account's cycle.
var ErrAuthentication = errors.New("billing source authentication failed")

// selectBillingFiles picks which export files cover the window
// starting at anchor. names must already be sorted; the file name
// convention makes lexical order chronological. The file whose span
// straddles the anchor is included, plus every later file. When every
// file predates the anchor the newest one is taken. Returns
// normalizer.ErrNoBillingData (wrapped) when nothing matches
// filePattern at all.
func selectBillingFiles(names []string, filePattern, datePattern *regexp.Regexp, dateLayout string, anchor time.Time) ([]string, error) {
	var selected []string
	var prevName string
	var prevDate time.Time
	var lastMatched string
	matchedAny := false

	for _, name := range names {
		if !filePattern.MatchString(name) {
			continue
		}
		matchedAny = true
		lastMatched = name

		raw := datePattern.FindString(name)
		if raw == "" {
			return nil, fmt.Errorf("cannot identify date in billing file name %s", name)
		}
		fileDate, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("cannot parse date in billing file name %s: %w", name, err)
		}

		if prevName == "" {
			prevName = name
			prevDate = fileDate
			continue
		}

		if anchor.After(prevDate) {
			// The previous file starts before the anchor; if this one
			// starts after, the previous file straddles the anchor and
			// both belong in the window.
			if anchor.Before(fileDate) {
				selected = []string{prevName, name}
			}
			prevName = name
			prevDate = fileDate
		} else {
			// Every file from here on starts past the anchor.
			if len(selected) == 0 {
				selected = []string{prevName}
			}
			selected = append(selected, name)
		}
	}

	if !matchedAny {
		return nil, fmt.Errorf("no billing files matching %s: %w", filePattern, normalizer.ErrNoBillingData)
	}
	if len(selected) == 0 {
		selected = []string{lastMatched}
	}
	return selected, nil
}
