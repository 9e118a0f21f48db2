// internal/wuspec/normalize.go
//
// Stage 2 of the WU Spec Store's write pipeline (spec.md §4.4): transforms
// that normalize date-like values to YYYY-MM-DD strings, canonicalize
// optional list fields to empty arrays when absent, and collapse stray
// embedded newlines in list items.

package wuspec

import (
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Normalize mutates wu in place to the canonical on-disk shape.
func Normalize(wu *WorkUnit) {
	wu.Created = normalizeDate(wu.Created)
	wu.Acceptance = canonicalizeList(wu.Acceptance)
	wu.CodePaths = canonicalizeList(wu.CodePaths)
	wu.Dependencies = canonicalizeList(wu.Dependencies)
	wu.BlockedBy = canonicalizeList(wu.BlockedBy)
	wu.Blocks = canonicalizeList(wu.Blocks)
	wu.Labels = canonicalizeList(wu.Labels)
	wu.SpecRefs = canonicalizeList(wu.SpecRefs)
	wu.Risks = canonicalizeList(wu.Risks)
	wu.Tests.Manual = canonicalizeList(wu.Tests.Manual)
	wu.Tests.Unit = canonicalizeList(wu.Tests.Unit)
	wu.Tests.E2E = canonicalizeList(wu.Tests.E2E)
}

// normalizeDate reduces a handful of accepted date encodings to YYYY-MM-DD.
// A bare YAML date scalar round-trips through the serializer as a full
// timestamp unless it is already a plain string in this shape, so loads and
// saves both pass through here.
func normalizeDate(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}
	if _, err := time.Parse(dateLayout, trimmed); err == nil {
		return trimmed
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format(dateLayout)
		}
	}
	return trimmed
}

// canonicalizeList turns a nil slice into an empty one and collapses stray
// embedded newlines (and the whitespace runs they leave behind) within each
// item, so list-of-string fields always round-trip as single-line entries.
func canonicalizeList(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		collapsed := strings.Join(strings.Fields(strings.ReplaceAll(v, "\n", " ")), " ")
		out[i] = collapsed
	}
	return out
}
