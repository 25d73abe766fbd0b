// Package maintenance holds catalog diagnostics that run outside ingestion.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cognicore/cellar/pkg/cellar/match"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// WineSource abstracts how the finder reads the catalog.
type WineSource interface {
	AllWines(ctx context.Context) ([]store.Wine, error)
}

// DuplicateGroup is a set of records believed to be the same wine.
type DuplicateGroup struct {
	RestaurantID string   `json:"restaurant_id"`
	WineIDs      []string `json:"wine_ids"`
	Names        []string `json:"names"`
	BestScore    float64  `json:"best_score"`
}

// DuplicateFinder groups records of one collection that the matcher would
// have merged at ingestion time.
type DuplicateFinder struct {
	Source  WineSource
	Matcher *match.Matcher
}

// Find returns groups of two or more wines. Groups are ordered by their
// first wine ID and IDs within a group are sorted.
func (f *DuplicateFinder) Find(ctx context.Context) ([]DuplicateGroup, error) {
	if f.Source == nil {
		return nil, errors.New("duplicate finder: nil source")
	}
	m := f.Matcher
	if m == nil {
		m = match.New(match.DefaultThreshold)
	}

	wines, err := f.Source.AllWines(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wines: %w", err)
	}

	collections := make(map[string][]store.Wine)
	for _, w := range wines {
		collections[w.RestaurantID] = append(collections[w.RestaurantID], w)
	}

	var groups []DuplicateGroup
	for rid, members := range collections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		groups = append(groups, groupCollection(m, rid, members)...)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].WineIDs[0] < groups[j].WineIDs[0]
	})
	return groups, nil
}

func groupCollection(m *match.Matcher, rid string, wines []store.Wine) []DuplicateGroup {
	uf := newUnionFind(len(wines))
	best := make([]float64, len(wines))

	for i := 0; i < len(wines); i++ {
		for j := i + 1; j < len(wines); j++ {
			res := m.Match(wines[i], []store.Wine{wines[j]})
			if !res.Duplicate {
				continue
			}
			uf.union(i, j)
			if res.Score > best[i] {
				best[i] = res.Score
			}
			if res.Score > best[j] {
				best[j] = res.Score
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range wines {
		r := uf.find(i)
		byRoot[r] = append(byRoot[r], i)
	}

	var out []DuplicateGroup
	for _, idx := range byRoot {
		if len(idx) < 2 {
			continue
		}
		sort.Slice(idx, func(a, b int) bool { return wines[idx[a]].ID < wines[idx[b]].ID })
		g := DuplicateGroup{RestaurantID: rid}
		for _, i := range idx {
			g.WineIDs = append(g.WineIDs, wines[i].ID)
			g.Names = append(g.Names, wines[i].Name)
			if best[i] > g.BestScore {
				g.BestScore = best[i]
			}
		}
		out = append(out, g)
	}
	return out
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
