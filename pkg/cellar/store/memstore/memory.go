package memstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// Store is an in-memory implementation of store.Store for tests and dry runs.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	entropy  *ulid.MonotonicEntropy
	wines    map[string]store.Wine
	identity map[string]string
	links    map[string]store.Association
	uploads  map[string]store.Upload
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		now:      time.Now,
		entropy:  ulid.Monotonic(rand.Reader, 0),
		wines:    make(map[string]store.Wine),
		identity: make(map[string]string),
		links:    make(map[string]store.Association),
		uploads:  make(map[string]store.Upload),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func identityKey(restaurantID, name, producer, vintage string) string {
	return restaurantID + "\x00" + name + "\x00" + producer + "\x00" + vintage
}

func linkKey(wineID, restaurantID string) string {
	return wineID + "\x00" + restaurantID
}

// FindByIdentity looks up a wine in a restaurant's isolated collection.
func (s *Store) FindByIdentity(ctx context.Context, restaurantID, name, producer, vintage string) (store.Wine, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if restaurantID == "" {
		// global records carry no identity constraint; first exact hit wins
		for _, id := range s.sortedIDs() {
			w := s.wines[id]
			if w.RestaurantID == "" && w.Name == name && w.Producer == producer && w.Vintage == vintage {
				return w, true, nil
			}
		}
		return store.Wine{}, false, nil
	}
	id, ok := s.identity[identityKey(restaurantID, name, producer, vintage)]
	if !ok {
		return store.Wine{}, false, nil
	}
	return s.wines[id], true, nil
}

// Insert adds a pending wine.
func (s *Store) Insert(ctx context.Context, w store.Wine) (store.Wine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(w.Name) == "" {
		return store.Wine{}, fmt.Errorf("insert wine: %w: name required", internalerr.ErrInvalidInput)
	}
	key := identityKey(w.RestaurantID, w.Name, w.Producer, w.Vintage)
	if w.RestaurantID != "" {
		if _, exists := s.identity[key]; exists {
			return store.Wine{}, fmt.Errorf("insert wine %q: %w", w.Name, internalerr.ErrDuplicate)
		}
	}

	now := s.now()
	w.ID = s.newID()
	w.EnrichmentStatus = store.StatusPending
	w.EnrichmentStartedAt = time.Time{}
	w.SearchText = store.BuildSearchText(w)
	w.CreatedAt = now
	w.UpdatedAt = now

	s.wines[w.ID] = w
	if w.RestaurantID != "" {
		s.identity[key] = w.ID
	}
	return w, nil
}

// GetWine returns a wine by ID.
func (s *Store) GetWine(ctx context.Context, id string) (store.Wine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wines[id]
	if !ok {
		return store.Wine{}, fmt.Errorf("wine %s: %w", id, internalerr.ErrNotFound)
	}
	return w, nil
}

// SearchCandidates returns wines of one collection whose search text contains token.
func (s *Store) SearchCandidates(ctx context.Context, restaurantID, token string, limit int) ([]store.Wine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	token = store.Fold(strings.TrimSpace(token))

	var out []store.Wine
	for _, id := range s.sortedIDs() {
		w := s.wines[id]
		if w.RestaurantID != restaurantID {
			continue
		}
		if token != "" && !strings.Contains(w.SearchText, token) {
			continue
		}
		out = append(out, w)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListWines returns one page of wines.
func (s *Store) ListWines(ctx context.Context, opts store.ListOptions) (store.WinePage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opts = opts.Normalize()
	search := store.Fold(strings.TrimSpace(opts.Search))

	var matched []store.Wine
	for _, w := range s.wines {
		if !s.inScope(w, opts.RestaurantID) {
			continue
		}
		if opts.Status != "" && w.EnrichmentStatus != opts.Status {
			continue
		}
		if search != "" && !strings.Contains(w.SearchText, search) {
			continue
		}
		matched = append(matched, w)
	}

	col, desc := store.SortColumn(opts.Sort)
	sort.SliceStable(matched, func(i, j int) bool {
		if desc {
			return lessBy(col, matched[j], matched[i])
		}
		return lessBy(col, matched[i], matched[j])
	})

	page := store.WinePage{Total: int64(len(matched)), Page: opts.Page, PageSize: opts.PageSize}
	start := (opts.Page - 1) * opts.PageSize
	if start < len(matched) {
		end := start + opts.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Wines = matched[start:end]
	}
	return page, nil
}

// AllWines returns every wine ordered by creation.
func (s *Store) AllWines(ctx context.Context) ([]store.Wine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.sortedIDs()
	out := make([]store.Wine, len(ids))
	for i, id := range ids {
		out[i] = s.wines[id]
	}
	return out, nil
}

// CountWines returns the catalog size.
func (s *Store) CountWines(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.wines)), nil
}

// CountByStatus counts wines in one enrichment state.
func (s *Store) CountByStatus(ctx context.Context, status store.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, w := range s.wines {
		if w.EnrichmentStatus == status {
			n++
		}
	}
	return n, nil
}

// Stats summarizes enrichment progress for a restaurant or the whole catalog.
func (s *Store) Stats(ctx context.Context, restaurantID string) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st store.Stats
	for _, w := range s.wines {
		if !s.inScope(w, restaurantID) {
			continue
		}
		st.Total++
		if w.EnrichmentStatus == store.StatusCompleted {
			st.Enriched++
		}
		if store.IsPremium(w) {
			st.Premium++
		}
	}
	st.CompletionPercentage = store.Percentage(st.Enriched, st.Total)
	return st, nil
}

// LinkToRestaurant upserts the association between a wine and a restaurant.
func (s *Store) LinkToRestaurant(ctx context.Context, wineID, restaurantID string, pricing *store.Pricing) (store.Association, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if restaurantID == "" {
		return store.Association{}, fmt.Errorf("link wine: %w: restaurant id required", internalerr.ErrInvalidInput)
	}
	if _, ok := s.wines[wineID]; !ok {
		return store.Association{}, fmt.Errorf("link wine %s: %w", wineID, internalerr.ErrNotFound)
	}

	now := s.now()
	key := linkKey(wineID, restaurantID)
	a, ok := s.links[key]
	if !ok {
		a = store.Association{WineID: wineID, RestaurantID: restaurantID, CreatedAt: now}
	}
	a.Active = true
	a.UpdatedAt = now
	applyPricing(&a, pricing)
	s.links[key] = a
	return a, nil
}

// DeactivateLink soft-removes a wine from a restaurant.
func (s *Store) DeactivateLink(ctx context.Context, wineID, restaurantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey(wineID, restaurantID)
	a, ok := s.links[key]
	if !ok {
		return fmt.Errorf("link %s/%s: %w", restaurantID, wineID, internalerr.ErrNotFound)
	}
	a.Active = false
	a.UpdatedAt = s.now()
	s.links[key] = a
	return nil
}

// ListPending returns pending wines, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]store.Wine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	var out []store.Wine
	for _, id := range s.sortedIDs() {
		w := s.wines[id]
		if w.EnrichmentStatus != store.StatusPending {
			continue
		}
		out = append(out, w)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// TryClaim flips a wine to processing if its status is one of from
// (pending when from is empty).
func (s *Store) TryClaim(ctx context.Context, id string, from ...store.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wines[id]
	if !ok {
		return false, fmt.Errorf("claim wine %s: %w", id, internalerr.ErrNotFound)
	}
	if len(from) == 0 {
		from = []store.Status{store.StatusPending}
	}
	allowed := false
	for _, st := range from {
		if w.EnrichmentStatus == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	now := s.now()
	w.EnrichmentStatus = store.StatusProcessing
	w.EnrichmentStartedAt = now
	w.EnrichmentAttempts++
	w.UpdatedAt = now
	s.wines[id] = w
	return true, nil
}

// ResetStuck returns stale processing wines to pending.
func (s *Store) ResetStuck(ctx context.Context, restaurantID string, threshold time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-threshold)
	n := 0
	for id, w := range s.wines {
		if w.EnrichmentStatus != store.StatusProcessing {
			continue
		}
		if restaurantID != store.AllRestaurants && w.RestaurantID != restaurantID {
			continue
		}
		if !w.EnrichmentStartedAt.IsZero() && !w.EnrichmentStartedAt.Before(cutoff) {
			continue
		}
		w.EnrichmentStatus = store.StatusPending
		w.EnrichmentStartedAt = time.Time{}
		w.UpdatedAt = now
		s.wines[id] = w
		n++
	}
	return n, nil
}

// RequeueFailed makes failed wines eligible again once they have rested.
func (s *Store) RequeueFailed(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-olderThan)
	n := 0
	for id, w := range s.wines {
		if w.EnrichmentStatus != store.StatusFailed {
			continue
		}
		if maxAttempts > 0 && w.EnrichmentAttempts >= maxAttempts {
			continue
		}
		if w.UpdatedAt.After(cutoff) {
			continue
		}
		w.EnrichmentStatus = store.StatusPending
		w.UpdatedAt = now
		s.wines[id] = w
		n++
	}
	return n, nil
}

// UpdateEnrichment merges enrichment results and completes the wine.
func (s *Store) UpdateEnrichment(ctx context.Context, id string, upd store.EnrichmentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wines[id]
	if !ok {
		return fmt.Errorf("update enrichment %s: %w", id, internalerr.ErrNotFound)
	}
	store.ApplyEnrichment(&w, upd, s.now())
	s.wines[id] = w
	return nil
}

// MarkFailed records an enrichment failure.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wines[id]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", id, internalerr.ErrNotFound)
	}
	w.EnrichmentStatus = store.StatusFailed
	w.EnrichmentStartedAt = time.Time{}
	w.EnrichmentError = reason
	w.UpdatedAt = s.now()
	s.wines[id] = w
	return nil
}

// CreateUpload starts an upload audit record.
func (s *Store) CreateUpload(ctx context.Context, u store.Upload) (store.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.ID = s.newID()
	u.Status = store.UploadProcessing
	u.CreatedAt = s.now()
	s.uploads[u.ID] = u
	return u, nil
}

// FinalizeUpload closes an upload; it can only happen once.
func (s *Store) FinalizeUpload(ctx context.Context, id string, res store.UploadResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Status != store.UploadCompleted && res.Status != store.UploadFailed {
		return fmt.Errorf("finalize upload: %w: status %q", internalerr.ErrInvalidInput, res.Status)
	}
	u, ok := s.uploads[id]
	if !ok {
		return fmt.Errorf("upload %s: %w", id, internalerr.ErrNotFound)
	}
	if u.Status != store.UploadProcessing {
		return fmt.Errorf("upload %s: %w", id, internalerr.ErrUploadFinalized)
	}
	u.Status = res.Status
	u.LineCount = res.LineCount
	u.NewCount = res.NewCount
	u.DuplicateCount = res.DuplicateCount
	u.ErrorCount = res.ErrorCount
	u.DurationMillis = res.Duration.Milliseconds()
	u.ErrorMessage = res.ErrorMessage
	u.CompletedAt = s.now()
	s.uploads[id] = u
	return nil
}

// GetUpload returns an upload by ID.
func (s *Store) GetUpload(ctx context.Context, id string) (store.Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[id]
	if !ok {
		return store.Upload{}, fmt.Errorf("upload %s: %w", id, internalerr.ErrNotFound)
	}
	return u, nil
}

// sortedIDs returns wine IDs in creation order (ULIDs sort lexically).
func (s *Store) sortedIDs() []string {
	ids := make([]string, 0, len(s.wines))
	for id := range s.wines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) inScope(w store.Wine, restaurantID string) bool {
	if restaurantID == "" {
		return true
	}
	if w.RestaurantID == restaurantID {
		return true
	}
	a, ok := s.links[linkKey(w.ID, restaurantID)]
	return ok && a.Active
}

func applyPricing(a *store.Association, p *store.Pricing) {
	if p == nil {
		return
	}
	if p.Price != nil {
		a.Price = *p.Price
	}
	if p.ByTheGlass != nil {
		a.ByTheGlass = *p.ByTheGlass
	}
	if p.Featured != nil {
		a.Featured = *p.Featured
	}
	if p.Inventory != nil {
		a.Inventory = *p.Inventory
	}
}

func lessBy(col string, a, b store.Wine) bool {
	switch col {
	case "name":
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	case "producer":
		return strings.ToLower(a.Producer) < strings.ToLower(b.Producer)
	case "vintage":
		return a.Vintage < b.Vintage
	case "rating":
		return a.Rating < b.Rating
	case "updated_at":
		return a.UpdatedAt.Before(b.UpdatedAt)
	default:
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
}
