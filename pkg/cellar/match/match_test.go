package match

import (
	"testing"

	"github.com/cognicore/cellar/pkg/cellar/store"
)

func TestExactMatch(t *testing.T) {
	m := New(0)
	existing := []store.Wine{
		{ID: "1", Producer: "Vietti", Name: "Barolo Castiglione", Vintage: "2018"},
		{ID: "2", Producer: "vietti", Name: "Barolo Rocche", Vintage: "2018"},
	}

	r := m.Match(store.Wine{Producer: "VIETTI", Name: "Barolo Rocche", Vintage: "2018"}, existing)
	if !r.Duplicate || !r.Exact || r.Existing.ID != "2" || r.Score != 1 {
		t.Errorf("unexpected result: %+v", r)
	}

	// Name comparison is case-sensitive for the exact rule
	r = m.Match(store.Wine{Producer: "Vietti", Name: "barolo rocche", Vintage: "2018"}, existing)
	if r.Exact {
		t.Errorf("name case should break exact match: %+v", r)
	}
}

func TestScoreWeights(t *testing.T) {
	a := store.Wine{Name: "Tignanello", Producer: "Antinori", Vintage: "2019"}
	tests := []struct {
		name string
		b    store.Wine
		want float64
	}{
		{"identical", store.Wine{Name: "Tignanello", Producer: "Antinori", Vintage: "2019"}, 1},
		{"vintage differs", store.Wine{Name: "Tignanello", Producer: "Antinori", Vintage: "2018"}, 0.75},
		{"name differs", store.Wine{Name: "Solaia", Producer: "Antinori", Vintage: "2019"}, 0.5},
		{"only name comparable", store.Wine{Name: "tignanello"}, 1},
		{"nothing comparable", store.Wine{Region: "Tuscany"}, 0},
	}
	for _, tt := range tests {
		if got := Score(a, tt.b); got != tt.want {
			t.Errorf("%s: Score = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestVintageDifferenceScoresBelowIdentity(t *testing.T) {
	base := store.Wine{Name: "Sassicaia", Producer: "Tenuta San Guido", Vintage: "2016", Region: "Bolgheri", Country: "Italy", Varietal: "Cabernet Sauvignon"}
	other := base
	other.Vintage = "2017"

	same := Score(base, base)
	diff := Score(base, other)
	if !(diff < same) {
		t.Fatalf("vintage difference %v should score below identity %v", diff, same)
	}

	m := New(0)
	if r := m.Match(other, []store.Wine{base}); r.Duplicate {
		t.Errorf("different vintage treated as duplicate: %+v", r)
	}
}

func TestThresholdIsExclusive(t *testing.T) {
	a := store.Wine{Name: "Tignanello", Producer: "Antinori"}
	b := store.Wine{Name: "Tignanello", Producer: "Marchesi Antinori"}
	score := Score(a, b)

	if r := New(score).Match(a, []store.Wine{b}); r.Duplicate {
		t.Errorf("score equal to threshold should not be duplicate: %+v", r)
	}
	if r := New(score - 0.01).Match(a, []store.Wine{b}); !r.Duplicate {
		t.Errorf("score above threshold should be duplicate: %+v", r)
	}
}

func TestFuzzyMatchWithoutVintage(t *testing.T) {
	m := New(0)
	existing := []store.Wine{{ID: "g1", Name: "Cloudy Bay Sauvignon Blanc", Country: "New Zealand"}}
	r := m.Match(store.Wine{Name: "cloudy bay sauvignon blanc"}, existing)
	if !r.Duplicate || r.Exact || r.Existing.ID != "g1" {
		t.Errorf("unexpected result: %+v", r)
	}
	if r := m.Match(store.Wine{Name: "Cloudy Bay Pinot Noir"}, existing); r.Duplicate || r.Existing.ID != "" {
		t.Errorf("different wine matched: %+v", r)
	}
}

func TestSignificantToken(t *testing.T) {
	tests := map[string]string{
		"Château Margaux 2015": "chateau",
		"le de la Barolo":      "barolo",
		"a b":                  "",
		"":                     "",
	}
	for in, want := range tests {
		if got := SignificantToken(in); got != want {
			t.Errorf("SignificantToken(%q) = %q, want %q", in, got, want)
		}
	}
}
