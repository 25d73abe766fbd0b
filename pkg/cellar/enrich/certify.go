package enrich

import (
	"strings"
	"unicode/utf8"

	"github.com/cognicore/cellar/pkg/cellar/store"
)

// Certification decides whether a generated profile is complete enough to
// mark a wine completed. Lengths count runes of trimmed text.
//
// A profile passes when either
//   - every core field (tasting, flavor, aroma, body) is longer than CoreMin
//     and what_makes_special is longer than SpecialMin, or
//   - the combined length of all fields is longer than CombinedMin and every
//     core field reaches CoreFloor.
type Certification struct {
	CoreMin     int `yaml:"core_min"`
	SpecialMin  int `yaml:"special_min"`
	CombinedMin int `yaml:"combined_min"`
	CoreFloor   int `yaml:"core_floor"`
}

// DefaultCertification returns the production thresholds.
func DefaultCertification() Certification {
	return Certification{
		CoreMin:     50,
		SpecialMin:  100,
		CombinedMin: 600,
		CoreFloor:   20,
	}
}

// Certify reports whether p passes either path.
func (c Certification) Certify(p store.Profile) bool {
	return c.passesPerField(p) || c.passesCombined(p)
}

func (c Certification) passesPerField(p store.Profile) bool {
	for _, f := range coreFields(p) {
		if runeLen(f) <= c.CoreMin {
			return false
		}
	}
	return runeLen(p.WhatMakesSpecial) > c.SpecialMin
}

func (c Certification) passesCombined(p store.Profile) bool {
	for _, f := range coreFields(p) {
		if runeLen(f) < c.CoreFloor {
			return false
		}
	}
	total := 0
	for _, f := range p.Fields() {
		total += runeLen(f)
	}
	return total > c.CombinedMin
}

func coreFields(p store.Profile) []string {
	return []string{p.TastingNotes, p.FlavorNotes, p.AromaNotes, p.BodyDescription}
}

func runeLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
