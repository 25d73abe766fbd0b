// Package match decides whether a parsed wine is already in the catalog.
package match

import (
	"strings"

	"github.com/cognicore/cellar/pkg/cellar/store"
)

// DefaultThreshold is the minimum fuzzy score (exclusive) for a duplicate.
const DefaultThreshold = 0.9

// Field weights for the fuzzy score. Name counts double.
const (
	weightName     = 2.0
	weightProducer = 1.0
	weightVintage  = 1.0
	weightVarietal = 1.0
	weightRegion   = 1.0
	weightCountry  = 1.0
)

// Result is the outcome of matching a candidate against existing wines.
type Result struct {
	Duplicate bool
	Existing  store.Wine
	Score     float64
	Exact     bool
}

// Matcher scores candidates against catalog records.
type Matcher struct {
	Threshold float64
}

// New creates a Matcher. A non-positive threshold selects DefaultThreshold.
func New(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{Threshold: threshold}
}

// Match returns the best match of candidate among existing.
func (m *Matcher) Match(candidate store.Wine, existing []store.Wine) Result {
	var best Result
	for _, w := range existing {
		if isExact(candidate, w) {
			return Result{Duplicate: true, Existing: w, Score: 1, Exact: true}
		}
		if s := Score(candidate, w); s > best.Score {
			best = Result{Existing: w, Score: s}
		}
	}
	best.Duplicate = best.Score > m.threshold()
	if !best.Duplicate {
		best.Existing = store.Wine{}
	}
	return best
}

func (m *Matcher) threshold() float64 {
	if m == nil || m.Threshold <= 0 {
		return DefaultThreshold
	}
	return m.Threshold
}

// isExact requires producer, name and vintage on both sides. Name compares
// case-sensitively, producer and vintage do not.
func isExact(a, b store.Wine) bool {
	if a.Producer == "" || a.Name == "" || a.Vintage == "" {
		return false
	}
	return a.Name == b.Name &&
		strings.EqualFold(a.Producer, b.Producer) &&
		strings.EqualFold(a.Vintage, b.Vintage)
}

// Score is the weighted share of agreeing fields among the fields present on
// both records. It is 0 when nothing is comparable.
func Score(a, b store.Wine) float64 {
	pairs := []struct {
		x, y   string
		weight float64
	}{
		{a.Name, b.Name, weightName},
		{a.Producer, b.Producer, weightProducer},
		{a.Vintage, b.Vintage, weightVintage},
		{a.Varietal, b.Varietal, weightVarietal},
		{a.Region, b.Region, weightRegion},
		{a.Country, b.Country, weightCountry},
	}

	var matched, total float64
	for _, p := range pairs {
		x, y := strings.TrimSpace(p.x), strings.TrimSpace(p.y)
		if x == "" || y == "" {
			continue
		}
		total += p.weight
		if strings.EqualFold(x, y) {
			matched += p.weight
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// SignificantToken returns the first token of searchText longer than two
// characters, used to narrow the candidate set before scoring.
func SignificantToken(searchText string) string {
	for _, tok := range strings.Fields(store.Fold(searchText)) {
		if len([]rune(tok)) > 2 {
			return tok
		}
	}
	return ""
}
