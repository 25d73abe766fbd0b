package enrich

import (
	"context"

	"github.com/cognicore/cellar/pkg/cellar/store"
)

// Verification is an external source's view of a wine.
type Verification struct {
	Source     string
	Confidence float64
	Rating     float64
	WineType   string
	Style      string
	Region     string
	Profile    store.Profile
}

// Verifier looks a wine up in an external rating or review source. ok is
// false when the source does not know the wine.
type Verifier interface {
	Lookup(ctx context.Context, producer, name, vintage string) (v Verification, ok bool, err error)
}
