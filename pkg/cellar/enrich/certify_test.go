package enrich

import (
	"strings"
	"testing"

	"github.com/cognicore/cellar/pkg/cellar/store"
)

func text(n int) string {
	return strings.Repeat("a", n)
}

func TestCertificationDualThreshold(t *testing.T) {
	c := DefaultCertification()

	tests := []struct {
		name string
		p    store.Profile
		want bool
	}{
		{
			name: "core fields at floor, combined below minimum",
			p: store.Profile{
				TastingNotes:    text(c.CoreFloor),
				FlavorNotes:     text(c.CoreFloor),
				AromaNotes:      text(c.CoreFloor),
				BodyDescription: text(c.CoreFloor),
			},
			want: false,
		},
		{
			name: "one long field with per-field thresholds cleared",
			p: store.Profile{
				TastingNotes:     text(800),
				FlavorNotes:      text(c.CoreMin + 1),
				AromaNotes:       text(c.CoreMin + 1),
				BodyDescription:  text(c.CoreMin + 1),
				WhatMakesSpecial: text(c.SpecialMin + 1),
			},
			want: true,
		},
		{
			name: "per-field path needs special",
			p: store.Profile{
				TastingNotes:    text(c.CoreMin + 1),
				FlavorNotes:     text(c.CoreMin + 1),
				AromaNotes:      text(c.CoreMin + 1),
				BodyDescription: text(c.CoreMin + 1),
			},
			want: false,
		},
		{
			name: "per-field path is exclusive",
			p: store.Profile{
				TastingNotes:     text(c.CoreMin),
				FlavorNotes:      text(c.CoreMin + 1),
				AromaNotes:       text(c.CoreMin + 1),
				BodyDescription:  text(c.CoreMin + 1),
				WhatMakesSpecial: text(c.SpecialMin + 1),
			},
			want: false,
		},
		{
			name: "combined path with detail spread over many fields",
			p: store.Profile{
				TastingNotes:    text(c.CoreFloor),
				FlavorNotes:     text(c.CoreFloor),
				AromaNotes:      text(c.CoreFloor),
				BodyDescription: text(c.CoreFloor),
				Texture:         text(150),
				Balance:         text(150),
				FoodPairing:     text(150),
				AgingPotential:  text(100),
			},
			want: true,
		},
		{
			name: "combined path needs every core field at floor",
			p: store.Profile{
				TastingNotes:    text(800),
				FlavorNotes:     text(c.CoreFloor),
				AromaNotes:      text(c.CoreFloor),
				BodyDescription: text(c.CoreFloor - 1),
			},
			want: false,
		},
		{
			name: "whitespace does not count",
			p: store.Profile{
				TastingNotes:     "  " + text(c.CoreMin) + "  ",
				FlavorNotes:      text(c.CoreMin + 1),
				AromaNotes:       text(c.CoreMin + 1),
				BodyDescription:  text(c.CoreMin + 1),
				WhatMakesSpecial: text(c.SpecialMin + 1),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		if got := c.Certify(tt.p); got != tt.want {
			t.Errorf("%s: Certify = %v, want %v", tt.name, got, tt.want)
		}
	}
}
