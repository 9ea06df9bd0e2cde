package patient

import (
	"strings"
	"time"
)

// birthDateLayouts are the accepted input forms, tried in order.
var birthDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
}

// CanonicalNationalID strips everything but digits.
func CanonicalNationalID(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalBirthDate parses v in any accepted layout and returns it as
// YYYY-MM-DD.
func CanonicalBirthDate(v string) (string, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

func canonicalEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
