// Package matcher resolves which column of an uploaded file carries the
// business key that target records are deduplicated on.
package matcher

import (
	"fmt"
	"strings"

	"github.com/tigerroll/ingot/pkg/ingest/support/util/exception"
)

const moduleName = "matcher"

// Matcher resolves the business key column of an uploaded file from an ordered
// list of accepted header names.
type Matcher struct {
	candidates []string
}

// NewMatcher creates a new Matcher.
// candidates is the ordered list of header names accepted as the key column;
// earlier entries take precedence.
func NewMatcher(candidates []string) *Matcher {
	return &Matcher{candidates: candidates}
}

// ResolveKeyColumn determines the business key column of the given header row.
// When preferred is non-empty it must name an existing header; otherwise the
// first candidate present in the headers wins. Matching is case-insensitive.
// A file without a resolvable key column cannot be ingested.
func (m *Matcher) ResolveKeyColumn(headers []string, preferred string) (name string, index int, err error) {
	if preferred != "" {
		if idx := indexOf(headers, preferred); idx >= 0 {
			return headers[idx], idx, nil
		}
		return "", -1, exception.NewBatchError(moduleName,
			fmt.Sprintf("requested key column '%s' not found in headers", preferred), nil, false, false)
	}

	for _, candidate := range m.candidates {
		if idx := indexOf(headers, candidate); idx >= 0 {
			return headers[idx], idx, nil
		}
	}
	return "", -1, exception.NewBatchError(moduleName,
		fmt.Sprintf("no business key column found in headers (accepted: %s)", strings.Join(m.candidates, ", ")), nil, false, false)
}

// KeyForRow extracts and normalizes the business key of a row.
// An empty key is a row-level failure, not a fatal one.
func (m *Matcher) KeyForRow(row []string, index int) (string, error) {
	if index < 0 || index >= len(row) {
		return "", exception.NewBatchErrorf(moduleName, "row has no value at key column index %d", index, true)
	}
	key := strings.TrimSpace(row[index])
	if key == "" {
		return "", exception.NewBatchErrorf(moduleName, "row has an empty business key", true)
	}
	return key, nil
}

// indexOf returns the index of the first header equal to name, ignoring case
// and surrounding whitespace, or -1.
func indexOf(headers []string, name string) int {
	for i, h := range headers {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(name)) {
			return i
		}
	}
	return -1
}
