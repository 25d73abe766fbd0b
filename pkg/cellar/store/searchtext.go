package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics ("Château" → "chateau").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// BuildSearchText joins the descriptive fields of w for fuzzy lookup.
func BuildSearchText(w Wine) string {
	parts := []string{w.Producer, w.Name, w.Vintage, w.Varietal, w.Region, w.Country, w.Appellation, w.WineType}
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return strings.Join(strings.Fields(Fold(b.String())), " ")
}

var sortColumns = map[string]string{
	"name":       "name",
	"producer":   "producer",
	"vintage":    "vintage",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"rating":     "rating",
}

// SortColumn resolves a ListOptions.Sort value against the whitelist.
// Unknown values fall back to newest first.
func SortColumn(sort string) (column string, desc bool) {
	sort = strings.TrimSpace(strings.ToLower(sort))
	if strings.HasPrefix(sort, "-") {
		desc = true
		sort = sort[1:]
	}
	col, ok := sortColumns[sort]
	if !ok {
		return "created_at", true
	}
	return col, desc
}
