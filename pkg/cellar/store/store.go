package store

import (
	"context"
	"time"
)

// Status is a wine's enrichment state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Upload status values.
const (
	UploadProcessing = "processing"
	UploadCompleted  = "completed"
	UploadFailed     = "failed"
)

// AllRestaurants widens ResetStuck to every collection.
const AllRestaurants = "*"

// SourceEducational marks a fallback note that is not a verified profile.
const SourceEducational = "Educational Content"

// Store is the persistence interface for the wine catalog
type Store interface {
	Close() error

	// Wines
	FindByIdentity(ctx context.Context, restaurantID, name, producer, vintage string) (Wine, bool, error)
	Insert(ctx context.Context, w Wine) (Wine, error)
	GetWine(ctx context.Context, id string) (Wine, error)
	SearchCandidates(ctx context.Context, restaurantID, token string, limit int) ([]Wine, error)
	ListWines(ctx context.Context, opts ListOptions) (WinePage, error)
	AllWines(ctx context.Context) ([]Wine, error)
	CountWines(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status Status) (int64, error)
	Stats(ctx context.Context, restaurantID string) (Stats, error)

	// Restaurant associations
	LinkToRestaurant(ctx context.Context, wineID, restaurantID string, pricing *Pricing) (Association, error)
	DeactivateLink(ctx context.Context, wineID, restaurantID string) error

	// Enrichment lifecycle
	ListPending(ctx context.Context, limit int) ([]Wine, error)
	TryClaim(ctx context.Context, id string, from ...Status) (bool, error)
	ResetStuck(ctx context.Context, restaurantID string, threshold time.Duration) (int, error)
	RequeueFailed(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error)
	UpdateEnrichment(ctx context.Context, id string, upd EnrichmentUpdate) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// Upload audit
	CreateUpload(ctx context.Context, u Upload) (Upload, error)
	FinalizeUpload(ctx context.Context, id string, res UploadResult) error
	GetUpload(ctx context.Context, id string) (Upload, error)
}

// Wine is a catalog record. RestaurantID is empty for the global catalog.
type Wine struct {
	ID           string `json:"id"`
	RestaurantID string `json:"restaurant_id,omitempty"`

	Producer    string `json:"producer,omitempty"`
	Name        string `json:"name"`
	Vintage     string `json:"vintage,omitempty"`
	Varietal    string `json:"varietal,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country,omitempty"`
	Appellation string `json:"appellation,omitempty"`
	WineType    string `json:"wine_type,omitempty"`
	Style       string `json:"style,omitempty"`

	Profile Profile `json:"profile"`
	Rating  float64 `json:"rating,omitempty"`

	EnrichmentStatus    Status    `json:"enrichment_status"`
	EnrichmentAttempts  int       `json:"enrichment_attempts"`
	EnrichmentError     string    `json:"enrichment_error,omitempty"`
	EnrichmentStartedAt time.Time `json:"enrichment_started_at,omitempty"`
	Verified            bool      `json:"verified"`
	VerifiedSource      string    `json:"verified_source,omitempty"`

	SearchText string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Profile holds the enrichment fields of a wine.
type Profile struct {
	TastingNotes     string `json:"tasting_notes,omitempty" yaml:"tasting_notes,omitempty"`
	FlavorNotes      string `json:"flavor_notes,omitempty" yaml:"flavor_notes,omitempty"`
	AromaNotes       string `json:"aroma_notes,omitempty" yaml:"aroma_notes,omitempty"`
	BodyDescription  string `json:"body_description,omitempty" yaml:"body_description,omitempty"`
	Texture          string `json:"texture,omitempty" yaml:"texture,omitempty"`
	Balance          string `json:"balance,omitempty" yaml:"balance,omitempty"`
	TanninLevel      string `json:"tannin_level,omitempty" yaml:"tannin_level,omitempty"`
	Acidity          string `json:"acidity,omitempty" yaml:"acidity,omitempty"`
	FinishLength     string `json:"finish_length,omitempty" yaml:"finish_length,omitempty"`
	FoodPairing      string `json:"food_pairing,omitempty" yaml:"food_pairing,omitempty"`
	ServingTemp      string `json:"serving_temp,omitempty" yaml:"serving_temp,omitempty"`
	AgingPotential   string `json:"aging_potential,omitempty" yaml:"aging_potential,omitempty"`
	BlendDescription string `json:"blend_description,omitempty" yaml:"blend_description,omitempty"`
	WhatMakesSpecial string `json:"what_makes_special,omitempty" yaml:"what_makes_special,omitempty"`
}

// Fields returns the profile values in a fixed order.
func (p Profile) Fields() []string {
	return []string{
		p.TastingNotes, p.FlavorNotes, p.AromaNotes, p.BodyDescription,
		p.Texture, p.Balance, p.TanninLevel, p.Acidity, p.FinishLength,
		p.FoodPairing, p.ServingTemp, p.AgingPotential, p.BlendDescription,
		p.WhatMakesSpecial,
	}
}

// IsEmpty reports whether no profile field is set.
func (p Profile) IsEmpty() bool {
	for _, f := range p.Fields() {
		if f != "" {
			return false
		}
	}
	return true
}

// Merge overlays the non-empty fields of other onto p.
func (p Profile) Merge(other Profile) Profile {
	pick := func(cur, next string) string {
		if next != "" {
			return next
		}
		return cur
	}
	return Profile{
		TastingNotes:     pick(p.TastingNotes, other.TastingNotes),
		FlavorNotes:      pick(p.FlavorNotes, other.FlavorNotes),
		AromaNotes:       pick(p.AromaNotes, other.AromaNotes),
		BodyDescription:  pick(p.BodyDescription, other.BodyDescription),
		Texture:          pick(p.Texture, other.Texture),
		Balance:          pick(p.Balance, other.Balance),
		TanninLevel:      pick(p.TanninLevel, other.TanninLevel),
		Acidity:          pick(p.Acidity, other.Acidity),
		FinishLength:     pick(p.FinishLength, other.FinishLength),
		FoodPairing:      pick(p.FoodPairing, other.FoodPairing),
		ServingTemp:      pick(p.ServingTemp, other.ServingTemp),
		AgingPotential:   pick(p.AgingPotential, other.AgingPotential),
		BlendDescription: pick(p.BlendDescription, other.BlendDescription),
		WhatMakesSpecial: pick(p.WhatMakesSpecial, other.WhatMakesSpecial),
	}
}

// EnrichmentUpdate is merged into a wine when enrichment completes.
// Empty strings and a zero rating leave the stored value untouched.
type EnrichmentUpdate struct {
	Profile        Profile
	Rating         float64
	WineType       string
	Style          string
	Region         string
	Verified       bool
	VerifiedSource string
}

// Association links a wine to a restaurant.
type Association struct {
	WineID       string    `json:"wine_id"`
	RestaurantID string    `json:"restaurant_id"`
	Price        float64   `json:"price,omitempty"`
	ByTheGlass   bool      `json:"by_the_glass"`
	Featured     bool      `json:"featured"`
	Active       bool      `json:"active"`
	Inventory    int       `json:"inventory"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pricing carries optional restaurant-specific values for a link.
// Nil fields are left unchanged on an existing link.
type Pricing struct {
	Price      *float64 `json:"price,omitempty"`
	ByTheGlass *bool    `json:"by_the_glass,omitempty"`
	Featured   *bool    `json:"featured,omitempty"`
	Inventory  *int     `json:"inventory,omitempty"`
}

// Upload is the audit record of one ingestion batch.
type Upload struct {
	ID             string    `json:"id"`
	UploaderID     string    `json:"uploader_id"`
	RestaurantID   string    `json:"restaurant_id,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	LineCount      int       `json:"line_count"`
	NewCount       int       `json:"new_count"`
	DuplicateCount int       `json:"duplicate_count"`
	ErrorCount     int       `json:"error_count"`
	DurationMillis int64     `json:"duration_ms"`
	Status         string    `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
}

// UploadResult finalizes an Upload.
type UploadResult struct {
	Status         string
	LineCount      int
	NewCount       int
	DuplicateCount int
	ErrorCount     int
	Duration       time.Duration
	ErrorMessage   string
}

// ListOptions filters and pages ListWines.
type ListOptions struct {
	RestaurantID string
	Page         int
	PageSize     int
	Search       string
	Status       Status
	Sort         string // name, producer, vintage, created_at; "-" prefix for descending
}

// WinePage is one page of ListWines.
type WinePage struct {
	Wines    []Wine `json:"wines"`
	Total    int64  `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// Stats summarizes enrichment progress.
type Stats struct {
	Total                int64   `json:"total"`
	Enriched             int64   `json:"enriched"`
	Premium              int64   `json:"premium"`
	CompletionPercentage float64 `json:"completion_percentage"`
}

// Normalize applies defaults to paging values.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize <= 0 {
		o.PageSize = 25
	}
	if o.PageSize > 200 {
		o.PageSize = 200
	}
	return o
}

// IsPremium reports whether a wine counts toward Stats.Premium: completed
// with a prestige narrative that did not come from the educational fallback.
func IsPremium(w Wine) bool {
	return w.EnrichmentStatus == StatusCompleted &&
		w.Profile.WhatMakesSpecial != "" &&
		w.VerifiedSource != SourceEducational
}

// Percentage returns enriched/total as a percentage rounded to one decimal.
func Percentage(enriched, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(int64(float64(enriched)*1000/float64(total)+0.5)) / 10
}

// ApplyEnrichment merges upd into w and marks it completed.
func ApplyEnrichment(w *Wine, upd EnrichmentUpdate, now time.Time) {
	w.Profile = w.Profile.Merge(upd.Profile)
	if upd.Rating > 0 {
		w.Rating = upd.Rating
	}
	if upd.WineType != "" {
		w.WineType = upd.WineType
	}
	if upd.Style != "" {
		w.Style = upd.Style
	}
	if upd.Region != "" {
		w.Region = upd.Region
	}
	w.Verified = upd.Verified
	if upd.VerifiedSource != "" {
		w.VerifiedSource = upd.VerifiedSource
	}
	w.EnrichmentStatus = StatusCompleted
	w.EnrichmentStartedAt = time.Time{}
	w.EnrichmentError = ""
	w.UpdatedAt = now
	w.SearchText = BuildSearchText(*w)
}
