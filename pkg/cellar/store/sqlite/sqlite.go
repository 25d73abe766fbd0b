package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db  *sql.DB
	now func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures OpenSQLite.
type Option func(*sqliteStore)

// WithClock replaces the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *sqliteStore) { s.now = now }
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// schema if needed.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serializes writes anyway and this keeps
	// in-memory databases on a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &sqliteStore{
		db:      db,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS wines (
	id TEXT PRIMARY KEY,
	restaurant_id TEXT NOT NULL DEFAULT '',
	producer TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL,
	vintage TEXT NOT NULL DEFAULT '',
	varietal TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	appellation TEXT NOT NULL DEFAULT '',
	wine_type TEXT NOT NULL DEFAULT '',
	style TEXT NOT NULL DEFAULT '',
	tasting_notes TEXT NOT NULL DEFAULT '',
	flavor_notes TEXT NOT NULL DEFAULT '',
	aroma_notes TEXT NOT NULL DEFAULT '',
	body_description TEXT NOT NULL DEFAULT '',
	texture TEXT NOT NULL DEFAULT '',
	balance TEXT NOT NULL DEFAULT '',
	tannin_level TEXT NOT NULL DEFAULT '',
	acidity TEXT NOT NULL DEFAULT '',
	finish_length TEXT NOT NULL DEFAULT '',
	food_pairing TEXT NOT NULL DEFAULT '',
	serving_temp TEXT NOT NULL DEFAULT '',
	aging_potential TEXT NOT NULL DEFAULT '',
	blend_description TEXT NOT NULL DEFAULT '',
	what_makes_special TEXT NOT NULL DEFAULT '',
	rating REAL NOT NULL DEFAULT 0,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	enrichment_attempts INTEGER NOT NULL DEFAULT 0,
	enrichment_error TEXT NOT NULL DEFAULT '',
	enrichment_started_at TEXT,
	verified INTEGER NOT NULL DEFAULT 0,
	verified_source TEXT NOT NULL DEFAULT '',
	search_text TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_wines_restaurant_identity
	ON wines(restaurant_id, name, producer, vintage)
	WHERE restaurant_id <> '';

CREATE INDEX IF NOT EXISTS idx_wines_status_created ON wines(enrichment_status, created_at);

CREATE TABLE IF NOT EXISTS restaurant_wines (
	wine_id TEXT NOT NULL,
	restaurant_id TEXT NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	by_the_glass INTEGER NOT NULL DEFAULT 0,
	featured INTEGER NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	inventory INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY(wine_id, restaurant_id),
	FOREIGN KEY(wine_id) REFERENCES wines(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_restaurant_wines_restaurant ON restaurant_wines(restaurant_id, active);

CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	uploader_id TEXT NOT NULL,
	restaurant_id TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	file_size INTEGER NOT NULL DEFAULT 0,
	line_count INTEGER NOT NULL DEFAULT 0,
	new_count INTEGER NOT NULL DEFAULT 0,
	duplicate_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	completed_at TEXT
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

const wineColumns = `id, restaurant_id, producer, name, vintage, varietal, region, country, appellation,
	wine_type, style, tasting_notes, flavor_notes, aroma_notes, body_description, texture, balance,
	tannin_level, acidity, finish_length, food_pairing, serving_temp, aging_potential,
	blend_description, what_makes_special, rating, enrichment_status, enrichment_attempts,
	enrichment_error, enrichment_started_at, verified, verified_source, search_text,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWine(row rowScanner) (store.Wine, error) {
	var (
		w                    store.Wine
		status               string
		startedAt            sql.NullString
		verified             int
		createdAt, updatedAt string
	)
	p := &w.Profile
	err := row.Scan(
		&w.ID, &w.RestaurantID, &w.Producer, &w.Name, &w.Vintage, &w.Varietal, &w.Region, &w.Country, &w.Appellation,
		&w.WineType, &w.Style, &p.TastingNotes, &p.FlavorNotes, &p.AromaNotes, &p.BodyDescription, &p.Texture, &p.Balance,
		&p.TanninLevel, &p.Acidity, &p.FinishLength, &p.FoodPairing, &p.ServingTemp, &p.AgingPotential,
		&p.BlendDescription, &p.WhatMakesSpecial, &w.Rating, &status, &w.EnrichmentAttempts,
		&w.EnrichmentError, &startedAt, &verified, &w.VerifiedSource, &w.SearchText,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return store.Wine{}, err
	}
	w.EnrichmentStatus = store.Status(status)
	w.Verified = verified != 0
	if startedAt.Valid {
		w.EnrichmentStartedAt = parseTime(startedAt.String)
	}
	w.CreatedAt = parseTime(createdAt)
	w.UpdatedAt = parseTime(updatedAt)
	return w, nil
}

func (s *sqliteStore) queryWines(ctx context.Context, query string, args ...any) ([]store.Wine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Wine
	for rows.Next() {
		w, err := scanWine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// FindByIdentity looks up a wine by its restaurant-scoped identity tuple.
func (s *sqliteStore) FindByIdentity(ctx context.Context, restaurantID, name, producer, vintage string) (store.Wine, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+wineColumns+` FROM wines
WHERE restaurant_id = ? AND name = ? AND producer = ? AND vintage = ?
ORDER BY id LIMIT 1`, restaurantID, name, producer, vintage)
	w, err := scanWine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Wine{}, false, nil
	}
	if err != nil {
		return store.Wine{}, false, err
	}
	return w, true, nil
}

// Insert adds a pending wine.
func (s *sqliteStore) Insert(ctx context.Context, w store.Wine) (store.Wine, error) {
	if strings.TrimSpace(w.Name) == "" {
		return store.Wine{}, fmt.Errorf("insert wine: %w: name required", internalerr.ErrInvalidInput)
	}

	now := s.now().UTC()
	w.ID = s.newID(now)
	w.EnrichmentStatus = store.StatusPending
	w.EnrichmentStartedAt = time.Time{}
	w.SearchText = store.BuildSearchText(w)
	w.CreatedAt = now
	w.UpdatedAt = now

	p := w.Profile
	_, err := s.db.ExecContext(ctx, `INSERT INTO wines (`+wineColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.RestaurantID, w.Producer, w.Name, w.Vintage, w.Varietal, w.Region, w.Country, w.Appellation,
		w.WineType, w.Style, p.TastingNotes, p.FlavorNotes, p.AromaNotes, p.BodyDescription, p.Texture, p.Balance,
		p.TanninLevel, p.Acidity, p.FinishLength, p.FoodPairing, p.ServingTemp, p.AgingPotential,
		p.BlendDescription, p.WhatMakesSpecial, w.Rating, string(w.EnrichmentStatus), w.EnrichmentAttempts,
		w.EnrichmentError, nil, boolInt(w.Verified), w.VerifiedSource, w.SearchText,
		formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Wine{}, fmt.Errorf("insert wine %q: %w", w.Name, internalerr.ErrDuplicate)
		}
		return store.Wine{}, err
	}
	return w, nil
}

// GetWine returns a wine by ID.
func (s *sqliteStore) GetWine(ctx context.Context, id string) (store.Wine, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+wineColumns+` FROM wines WHERE id = ?`, id)
	w, err := scanWine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Wine{}, fmt.Errorf("wine %s: %w", id, internalerr.ErrNotFound)
	}
	return w, err
}

// SearchCandidates returns wines of one collection whose search text contains token.
func (s *sqliteStore) SearchCandidates(ctx context.Context, restaurantID, token string, limit int) ([]store.Wine, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryWines(ctx, `SELECT `+wineColumns+` FROM wines
WHERE restaurant_id = ? AND search_text LIKE ? ESCAPE '\'
ORDER BY id LIMIT ?`, restaurantID, likePattern(store.Fold(strings.TrimSpace(token))), limit)
}

// scopeClause restricts a wine query to a restaurant: its isolated records
// plus actively linked catalog records. An empty restaurant matches all.
const scopeClause = `(? = '' OR w.restaurant_id = ? OR EXISTS (
	SELECT 1 FROM restaurant_wines rw
	WHERE rw.wine_id = w.id AND rw.restaurant_id = ? AND rw.active = 1))`

// ListWines returns one page of wines.
func (s *sqliteStore) ListWines(ctx context.Context, opts store.ListOptions) (store.WinePage, error) {
	opts = opts.Normalize()

	where := []string{scopeClause}
	args := []any{opts.RestaurantID, opts.RestaurantID, opts.RestaurantID}
	if opts.Status != "" {
		where = append(where, "w.enrichment_status = ?")
		args = append(args, string(opts.Status))
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		where = append(where, `w.search_text LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(store.Fold(search)))
	}
	whereSQL := strings.Join(where, " AND ")

	page := store.WinePage{Page: opts.Page, PageSize: opts.PageSize}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wines w WHERE `+whereSQL, args...).Scan(&page.Total); err != nil {
		return store.WinePage{}, err
	}

	col, desc := store.SortColumn(opts.Sort)
	order := "w." + col
	if col == "name" || col == "producer" {
		order += " COLLATE NOCASE"
	}
	if desc {
		order += " DESC"
	}
	query := `SELECT ` + prefixed("w.", wineColumns) + ` FROM wines w WHERE ` + whereSQL +
		` ORDER BY ` + order + `, w.id LIMIT ? OFFSET ?`
	wines, err := s.queryWines(ctx, query, append(args, opts.PageSize, (opts.Page-1)*opts.PageSize)...)
	if err != nil {
		return store.WinePage{}, err
	}
	page.Wines = wines
	return page, nil
}

// AllWines returns every wine ordered by creation.
func (s *sqliteStore) AllWines(ctx context.Context) ([]store.Wine, error) {
	return s.queryWines(ctx, `SELECT `+wineColumns+` FROM wines ORDER BY id`)
}

// CountWines returns the catalog size.
func (s *sqliteStore) CountWines(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wines`).Scan(&n)
	return n, err
}

// CountByStatus counts wines in one enrichment state.
func (s *sqliteStore) CountByStatus(ctx context.Context, status store.Status) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wines WHERE enrichment_status = ?`, string(status)).Scan(&n)
	return n, err
}

// Stats summarizes enrichment progress for a restaurant or the whole catalog.
func (s *sqliteStore) Stats(ctx context.Context, restaurantID string) (store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN w.enrichment_status = ? THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN w.enrichment_status = ? AND w.what_makes_special <> '' AND w.verified_source <> ? THEN 1 ELSE 0 END), 0)
FROM wines w WHERE `+scopeClause,
		string(store.StatusCompleted), string(store.StatusCompleted), store.SourceEducational,
		restaurantID, restaurantID, restaurantID,
	).Scan(&st.Total, &st.Enriched, &st.Premium)
	if err != nil {
		return store.Stats{}, err
	}
	st.CompletionPercentage = store.Percentage(st.Enriched, st.Total)
	return st, nil
}

// LinkToRestaurant upserts the association between a wine and a restaurant.
func (s *sqliteStore) LinkToRestaurant(ctx context.Context, wineID, restaurantID string, pricing *store.Pricing) (store.Association, error) {
	if restaurantID == "" {
		return store.Association{}, fmt.Errorf("link wine: %w: restaurant id required", internalerr.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Association{}, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM wines WHERE id = ?`, wineID).Scan(&exists); err != nil {
		return store.Association{}, err
	}
	if exists == 0 {
		return store.Association{}, fmt.Errorf("link wine %s: %w", wineID, internalerr.ErrNotFound)
	}

	now := formatTime(s.now().UTC())
	if _, err := tx.ExecContext(ctx, `
INSERT INTO restaurant_wines (wine_id, restaurant_id, active, created_at, updated_at)
VALUES (?, ?, 1, ?, ?)
ON CONFLICT(wine_id, restaurant_id) DO UPDATE SET
	active = 1,
	updated_at = excluded.updated_at`, wineID, restaurantID, now, now); err != nil {
		return store.Association{}, err
	}

	if pricing != nil {
		sets, args := pricingUpdates(pricing)
		if len(sets) > 0 {
			args = append(args, wineID, restaurantID)
			if _, err := tx.ExecContext(ctx, `UPDATE restaurant_wines SET `+strings.Join(sets, ", ")+
				` WHERE wine_id = ? AND restaurant_id = ?`, args...); err != nil {
				return store.Association{}, err
			}
		}
	}

	a, err := getAssociation(ctx, tx, wineID, restaurantID)
	if err != nil {
		return store.Association{}, err
	}
	return a, tx.Commit()
}

func pricingUpdates(p *store.Pricing) ([]string, []any) {
	var sets []string
	var args []any
	if p.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *p.Price)
	}
	if p.ByTheGlass != nil {
		sets = append(sets, "by_the_glass = ?")
		args = append(args, boolInt(*p.ByTheGlass))
	}
	if p.Featured != nil {
		sets = append(sets, "featured = ?")
		args = append(args, boolInt(*p.Featured))
	}
	if p.Inventory != nil {
		sets = append(sets, "inventory = ?")
		args = append(args, *p.Inventory)
	}
	return sets, args
}

func getAssociation(ctx context.Context, tx *sql.Tx, wineID, restaurantID string) (store.Association, error) {
	var (
		a                         store.Association
		byGlass, featured, active int
		createdAt, updatedAt      string
	)
	err := tx.QueryRowContext(ctx, `
SELECT wine_id, restaurant_id, price, by_the_glass, featured, active, inventory, created_at, updated_at
FROM restaurant_wines WHERE wine_id = ? AND restaurant_id = ?`, wineID, restaurantID).Scan(
		&a.WineID, &a.RestaurantID, &a.Price, &byGlass, &featured, &active, &a.Inventory, &createdAt, &updatedAt,
	)
	if err != nil {
		return store.Association{}, err
	}
	a.ByTheGlass = byGlass != 0
	a.Featured = featured != 0
	a.Active = active != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// DeactivateLink soft-removes a wine from a restaurant.
func (s *sqliteStore) DeactivateLink(ctx context.Context, wineID, restaurantID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE restaurant_wines SET active = 0, updated_at = ?
WHERE wine_id = ? AND restaurant_id = ?`, formatTime(s.now().UTC()), wineID, restaurantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link %s/%s: %w", restaurantID, wineID, internalerr.ErrNotFound)
	}
	return nil
}

// ListPending returns pending wines, oldest first.
func (s *sqliteStore) ListPending(ctx context.Context, limit int) ([]store.Wine, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryWines(ctx, `SELECT `+wineColumns+` FROM wines
WHERE enrichment_status = ? ORDER BY created_at, id LIMIT ?`, string(store.StatusPending), limit)
}

// TryClaim flips a wine to processing if its status is one of from
// (pending when from is empty). The single UPDATE is the compare-and-set.
func (s *sqliteStore) TryClaim(ctx context.Context, id string, from ...store.Status) (bool, error) {
	if len(from) == 0 {
		from = []store.Status{store.StatusPending}
	}
	now := formatTime(s.now().UTC())
	args := []any{string(store.StatusProcessing), now, now, id}
	placeholders := make([]string, len(from))
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE wines SET
	enrichment_status = ?,
	enrichment_started_at = ?,
	enrichment_attempts = enrichment_attempts + 1,
	updated_at = ?
WHERE id = ? AND enrichment_status IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetWine(ctx, id); err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	return false, nil
}

// ResetStuck returns stale processing wines to pending.
func (s *sqliteStore) ResetStuck(ctx context.Context, restaurantID string, threshold time.Duration) (int, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE wines SET
	enrichment_status = ?,
	enrichment_started_at = NULL,
	updated_at = ?
WHERE enrichment_status = ?
	AND (? = ? OR restaurant_id = ?)
	AND (enrichment_started_at IS NULL OR enrichment_started_at < ?)`,
		string(store.StatusPending), formatTime(now), string(store.StatusProcessing),
		restaurantID, store.AllRestaurants, restaurantID,
		formatTime(now.Add(-threshold)),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RequeueFailed makes failed wines eligible again once they have rested.
func (s *sqliteStore) RequeueFailed(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE wines SET enrichment_status = ?, updated_at = ?
WHERE enrichment_status = ?
	AND (? <= 0 OR enrichment_attempts < ?)
	AND updated_at <= ?`,
		string(store.StatusPending), formatTime(now), string(store.StatusFailed),
		maxAttempts, maxAttempts, formatTime(now.Add(-olderThan)),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// UpdateEnrichment merges enrichment results and completes the wine.
func (s *sqliteStore) UpdateEnrichment(ctx context.Context, id string, upd store.EnrichmentUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := scanWine(tx.QueryRowContext(ctx, `SELECT `+wineColumns+` FROM wines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update enrichment %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return err
	}

	store.ApplyEnrichment(&w, upd, s.now().UTC())
	p := w.Profile
	_, err = tx.ExecContext(ctx, `UPDATE wines SET
	tasting_notes = ?, flavor_notes = ?, aroma_notes = ?, body_description = ?, texture = ?,
	balance = ?, tannin_level = ?, acidity = ?, finish_length = ?, food_pairing = ?,
	serving_temp = ?, aging_potential = ?, blend_description = ?, what_makes_special = ?,
	rating = ?, wine_type = ?, style = ?, region = ?, verified = ?, verified_source = ?,
	enrichment_status = ?, enrichment_started_at = NULL, enrichment_error = '',
	search_text = ?, updated_at = ?
WHERE id = ?`,
		p.TastingNotes, p.FlavorNotes, p.AromaNotes, p.BodyDescription, p.Texture,
		p.Balance, p.TanninLevel, p.Acidity, p.FinishLength, p.FoodPairing,
		p.ServingTemp, p.AgingPotential, p.BlendDescription, p.WhatMakesSpecial,
		w.Rating, w.WineType, w.Style, w.Region, boolInt(w.Verified), w.VerifiedSource,
		string(w.EnrichmentStatus), w.SearchText, formatTime(w.UpdatedAt), id,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// MarkFailed records an enrichment failure.
func (s *sqliteStore) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE wines SET
	enrichment_status = ?, enrichment_started_at = NULL, enrichment_error = ?, updated_at = ?
WHERE id = ?`, string(store.StatusFailed), reason, formatTime(s.now().UTC()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark failed %s: %w", id, internalerr.ErrNotFound)
	}
	return nil
}

// CreateUpload starts an upload audit record.
func (s *sqliteStore) CreateUpload(ctx context.Context, u store.Upload) (store.Upload, error) {
	now := s.now().UTC()
	u.ID = s.newID(now)
	u.Status = store.UploadProcessing
	u.CreatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO uploads
	(id, uploader_id, restaurant_id, file_name, file_size, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.UploaderID, u.RestaurantID, u.FileName, u.FileSize, u.Status, formatTime(now))
	if err != nil {
		return store.Upload{}, err
	}
	return u, nil
}

// FinalizeUpload closes an upload; it can only happen once.
func (s *sqliteStore) FinalizeUpload(ctx context.Context, id string, res store.UploadResult) error {
	if res.Status != store.UploadCompleted && res.Status != store.UploadFailed {
		return fmt.Errorf("finalize upload: %w: status %q", internalerr.ErrInvalidInput, res.Status)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE uploads SET
	status = ?, line_count = ?, new_count = ?, duplicate_count = ?, error_count = ?,
	duration_ms = ?, error_message = ?, completed_at = ?
WHERE id = ? AND status = ?`,
		res.Status, res.LineCount, res.NewCount, res.DuplicateCount, res.ErrorCount,
		res.Duration.Milliseconds(), res.ErrorMessage, formatTime(s.now().UTC()),
		id, store.UploadProcessing,
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetUpload(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("upload %s: %w", id, internalerr.ErrUploadFinalized)
}

// GetUpload returns an upload by ID.
func (s *sqliteStore) GetUpload(ctx context.Context, id string) (store.Upload, error) {
	var (
		u           store.Upload
		createdAt   string
		completedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, uploader_id, restaurant_id, file_name, file_size,
	line_count, new_count, duplicate_count, error_count, duration_ms, status, error_message,
	created_at, completed_at
FROM uploads WHERE id = ?`, id).Scan(
		&u.ID, &u.UploaderID, &u.RestaurantID, &u.FileName, &u.FileSize,
		&u.LineCount, &u.NewCount, &u.DuplicateCount, &u.ErrorCount, &u.DurationMillis, &u.Status, &u.ErrorMessage,
		&createdAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Upload{}, fmt.Errorf("upload %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return store.Upload{}, err
	}
	u.CreatedAt = parseTime(createdAt)
	if completedAt.Valid {
		u.CompletedAt = parseTime(completedAt.String)
	}
	return u, nil
}

func (s *sqliteStore) newID(now time.Time) string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// likePattern wraps s for a substring LIKE, escaping wildcards.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
