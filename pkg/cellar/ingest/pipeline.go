// Package ingest turns raw wine-list text into catalog records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar/extract"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/match"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

const (
	sampleSize     = 5
	candidateLimit = 50
)

// Extractor parses one line into a candidate.
type Extractor interface {
	Extract(ctx context.Context, line string) (extract.Candidate, error)
}

// Batch is one ingestion request.
type Batch struct {
	Text         string
	UploaderID   string
	RestaurantID string
	// Isolated stores new wines in the restaurant's own collection instead
	// of the global catalog.
	Isolated bool
	FileName string
	FileSize int64
}

// Outcome says what happened to a line.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeDuplicate Outcome = "duplicate"
)

// LineError reports a line that produced no wine.
type LineError struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Summary reports a finished batch.
type Summary struct {
	UploadID        string       `json:"upload_id"`
	ProcessedCount  int          `json:"processed_count"`
	ErrorCount      int          `json:"error_count"`
	DuplicatesFound int          `json:"duplicates_found"`
	NewWinesCount   int          `json:"new_wines_count"`
	TotalInDatabase int64        `json:"total_in_database"`
	SampleRecords   []store.Wine `json:"sample_records"`
	NewWineIDs      []string     `json:"new_wine_ids"`
	LineErrors      []LineError  `json:"line_errors,omitempty"`
	DurationMillis  int64        `json:"duration_ms"`

	Duration time.Duration `json:"-"`
}

// Pipeline orchestrates the ingestion flow:
// split → extract → find or create → link → summary
type Pipeline struct {
	store     store.Store
	extractor Extractor
	matcher   *match.Matcher
	log       *logger.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithClock replaces the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates an ingestion pipeline with the given components
func NewPipeline(st store.Store, ex Extractor, m *match.Matcher, opts ...Option) *Pipeline {
	if m == nil {
		m = match.New(0)
	}
	p := &Pipeline{
		store:     st,
		extractor: ex,
		matcher:   m,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes a batch. Line failures are counted and never abort the
// batch; a storage failure finalizes the upload as failed and is returned
// wrapped in internalerr.ErrPersistence.
func (p *Pipeline) Run(ctx context.Context, b Batch) (Summary, error) {
	if strings.TrimSpace(b.UploaderID) == "" {
		return Summary{}, fmt.Errorf("ingest: %w: uploader id required", internalerr.ErrInvalidInput)
	}
	if b.Isolated && b.RestaurantID == "" {
		return Summary{}, fmt.Errorf("ingest: %w: isolated batch needs a restaurant", internalerr.ErrInvalidInput)
	}
	lines := SplitLines(b.Text)
	if len(lines) == 0 {
		return Summary{}, fmt.Errorf("ingest: %w: no wine lines in input", internalerr.ErrInvalidInput)
	}

	start := p.now()
	upload, err := p.store.CreateUpload(ctx, store.Upload{
		UploaderID:   b.UploaderID,
		RestaurantID: b.RestaurantID,
		FileName:     b.FileName,
		FileSize:     b.FileSize,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("create upload: %w: %v", internalerr.ErrPersistence, err)
	}

	log := p.log.With("upload_id", upload.ID, "restaurant_id", b.RestaurantID)
	sum := Summary{UploadID: upload.ID}

	runErr := p.process(ctx, b, lines, &sum, log)
	sum.Duration = p.now().Sub(start)
	sum.DurationMillis = sum.Duration.Milliseconds()

	result := store.UploadResult{
		Status:         store.UploadCompleted,
		LineCount:      len(lines),
		NewCount:       sum.NewWinesCount,
		DuplicateCount: sum.DuplicatesFound,
		ErrorCount:     sum.ErrorCount,
		Duration:       sum.Duration,
	}
	if runErr != nil {
		result.Status = store.UploadFailed
		result.ErrorMessage = runErr.Error()
	}
	// finalize even when the request context is gone
	if err := p.store.FinalizeUpload(context.WithoutCancel(ctx), upload.ID, result); err != nil {
		log.Error("finalize upload failed", "error", err)
		if runErr == nil {
			runErr = fmt.Errorf("finalize upload: %w: %v", internalerr.ErrPersistence, err)
		}
	}
	if runErr != nil {
		return sum, runErr
	}

	total, err := p.store.CountWines(ctx)
	if err != nil {
		return sum, fmt.Errorf("count wines: %w: %v", internalerr.ErrPersistence, err)
	}
	sum.TotalInDatabase = total

	log.Info("ingest completed",
		"lines", len(lines),
		"new", sum.NewWinesCount,
		"duplicates", sum.DuplicatesFound,
		"errors", sum.ErrorCount,
		"duration", sum.Duration)
	return sum, nil
}

func (p *Pipeline) process(ctx context.Context, b Batch, lines []string, sum *Summary, log *logger.Logger) error {
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}

		cand, err := p.extractor.Extract(ctx, line)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			sum.ErrorCount++
			sum.LineErrors = append(sum.LineErrors, LineError{Line: i + 1, Text: line, Reason: err.Error()})
			log.Debug("line skipped", "line", i+1, "reason", err)
			continue
		}

		w := cand.Wine()
		if b.Isolated {
			w.RestaurantID = b.RestaurantID
		}
		var pricing *store.Pricing
		if cand.Price > 0 {
			price := cand.Price
			pricing = &store.Pricing{Price: &price}
		}

		wine, outcome, err := p.FindOrCreate(ctx, w)
		if err != nil {
			return fmt.Errorf("line %d: %w: %v", i+1, internalerr.ErrPersistence, err)
		}
		if b.RestaurantID != "" && !b.Isolated {
			if _, err := p.store.LinkToRestaurant(ctx, wine.ID, b.RestaurantID, pricing); err != nil {
				return fmt.Errorf("line %d: link: %w: %v", i+1, internalerr.ErrPersistence, err)
			}
		}

		switch outcome {
		case OutcomeNew:
			sum.NewWinesCount++
			sum.NewWineIDs = append(sum.NewWineIDs, wine.ID)
		case OutcomeDuplicate:
			sum.DuplicatesFound++
		}
		sum.ProcessedCount++
		if len(sum.SampleRecords) < sampleSize {
			sum.SampleRecords = append(sum.SampleRecords, wine)
		}
	}
	return nil
}

// FindOrCreate returns the catalog record for w, inserting it when neither
// the identity lookup nor the matcher finds an existing one.
func (p *Pipeline) FindOrCreate(ctx context.Context, w store.Wine) (store.Wine, Outcome, error) {
	if existing, ok, err := p.store.FindByIdentity(ctx, w.RestaurantID, w.Name, w.Producer, w.Vintage); err != nil {
		return store.Wine{}, "", err
	} else if ok {
		return existing, OutcomeDuplicate, nil
	}

	if token := match.SignificantToken(store.BuildSearchText(w)); token != "" {
		candidates, err := p.store.SearchCandidates(ctx, w.RestaurantID, token, candidateLimit)
		if err != nil {
			return store.Wine{}, "", err
		}
		if r := p.matcher.Match(w, candidates); r.Duplicate {
			return r.Existing, OutcomeDuplicate, nil
		}
	}

	created, err := p.store.Insert(ctx, w)
	if errors.Is(err, internalerr.ErrDuplicate) {
		// lost a race with a concurrent batch for the same identity
		existing, ok, findErr := p.store.FindByIdentity(ctx, w.RestaurantID, w.Name, w.Producer, w.Vintage)
		if findErr != nil {
			return store.Wine{}, "", findErr
		}
		if ok {
			return existing, OutcomeDuplicate, nil
		}
	}
	if err != nil {
		return store.Wine{}, "", err
	}
	return created, OutcomeNew, nil
}

// SplitLines returns the non-empty trimmed lines of text.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
