package store

import "testing"

func TestFold(t *testing.T) {
	tests := map[string]string{
		"Château Margaux": "chateau margaux",
		"Côte-Rôtie":      "cote-rotie",
		"RIOJA":           "rioja",
		"":                "",
	}
	for in, want := range tests {
		if got := Fold(in); got != want {
			t.Errorf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildSearchText(t *testing.T) {
	w := Wine{Producer: "Château Margaux", Name: "Château  Margaux", Vintage: "2015", Region: "Bordeaux"}
	got := BuildSearchText(w)
	want := "chateau margaux chateau margaux 2015 bordeaux"
	if got != want {
		t.Errorf("BuildSearchText = %q, want %q", got, want)
	}
}

func TestSortColumn(t *testing.T) {
	tests := []struct {
		in   string
		col  string
		desc bool
	}{
		{"name", "name", false},
		{"-vintage", "vintage", true},
		{"", "created_at", true},
		{"name; DROP TABLE wines", "created_at", true},
	}
	for _, tt := range tests {
		col, desc := SortColumn(tt.in)
		if col != tt.col || desc != tt.desc {
			t.Errorf("SortColumn(%q) = (%q,%v), want (%q,%v)", tt.in, col, desc, tt.col, tt.desc)
		}
	}
}

func TestProfileMerge(t *testing.T) {
	base := Profile{TastingNotes: "old", Acidity: "high"}
	got := base.Merge(Profile{TastingNotes: "new"})
	if got.TastingNotes != "new" || got.Acidity != "high" {
		t.Errorf("unexpected merge result: %+v", got)
	}
	if (Profile{}).IsEmpty() != true || got.IsEmpty() {
		t.Error("IsEmpty mismatch")
	}
}

func TestPercentageAndPremium(t *testing.T) {
	if got := Percentage(1, 3); got != 33.3 {
		t.Errorf("Percentage(1,3) = %v", got)
	}
	if got := Percentage(0, 0); got != 0 {
		t.Errorf("Percentage(0,0) = %v", got)
	}
	w := Wine{EnrichmentStatus: StatusCompleted, Profile: Profile{WhatMakesSpecial: "x"}, VerifiedSource: "Research"}
	if !IsPremium(w) {
		t.Error("expected premium")
	}
	w.VerifiedSource = SourceEducational
	if IsPremium(w) {
		t.Error("educational content must not count as premium")
	}
}

func TestListOptionsNormalize(t *testing.T) {
	o := ListOptions{Page: 0, PageSize: 1000}.Normalize()
	if o.Page != 1 || o.PageSize != 200 {
		t.Errorf("unexpected normalize: %+v", o)
	}
}
