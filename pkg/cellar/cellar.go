// Package cellar wires the wine-list ingestion and enrichment components
// behind one service.
package cellar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar/daemon"
	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/ingest"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/maintenance"
	"github.com/cognicore/cellar/pkg/cellar/match"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// DefaultKickoff is how many new wines of an ingest are queued for
// enrichment right away.
const DefaultKickoff = 3

// Service is the catalog facade.
type Service struct {
	store      store.Store
	pipeline   *ingest.Pipeline
	engine     *enrich.Engine
	queue      *enrich.Queue
	daemon     *daemon.Daemon
	duplicates *maintenance.DuplicateFinder
	httpClient *http.Client
	validate   *validator.Validate
	kickoff    int
	log        *logger.Logger
}

// Options configures a Service.
type Options struct {
	Store     store.Store
	Extractor ingest.Extractor
	Matcher   *match.Matcher
	Engine    *enrich.Engine
	Daemon    daemon.Config
	QueueSize int
	// Kickoff is the number of new wines queued after an ingest. Zero
	// selects DefaultKickoff; negative disables the kick-off.
	Kickoff    int
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// New creates a Service with the given dependencies. The enrichment queue
// worker starts immediately; the daemon does not.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	m := opts.Matcher
	if m == nil {
		m = match.New(match.DefaultThreshold)
	}
	engine := opts.Engine
	if engine == nil {
		engine = enrich.NewEngine(opts.Store, enrich.WithLogger(log))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	kickoff := opts.Kickoff
	if kickoff == 0 {
		kickoff = DefaultKickoff
	}

	return &Service{
		store:      opts.Store,
		pipeline:   ingest.NewPipeline(opts.Store, opts.Extractor, m, ingest.WithLogger(log)),
		engine:     engine,
		queue:      enrich.NewQueue(engine, opts.QueueSize, log),
		daemon:     daemon.New(opts.Store, engine, opts.Daemon, log),
		duplicates: &maintenance.DuplicateFinder{Source: opts.Store, Matcher: m},
		httpClient: client,
		validate:   validator.New(),
		kickoff:    kickoff,
		log:        log,
	}
}

// Close stops background work and closes the store.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if err := s.daemon.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// IngestRequest is one wine list to ingest. Exactly one of Text and URL is
// set; a URL is fetched and its HTML reduced to lines.
type IngestRequest struct {
	Text         string `json:"text" validate:"required_without=URL,excluded_with=URL"`
	URL          string `json:"url" validate:"omitempty,http_url"`
	UploaderID   string `json:"uploader_id" validate:"required,max=128"`
	RestaurantID string `json:"restaurant_id" validate:"omitempty,max=128"`
	Isolated     bool   `json:"isolated"`
	FileName     string `json:"file_name" validate:"omitempty,max=255"`
	FileSize     int64  `json:"file_size" validate:"gte=0"`
}

// IngestResult is the ingest summary plus how many new wines were queued.
type IngestResult struct {
	ingest.Summary
	EnrichmentQueued int `json:"enrichment_queued"`
}

// Ingest parses a wine list into the catalog and queues the first new wines
// for enrichment.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return IngestResult{}, fmt.Errorf("%w: %v", internalerr.ErrInvalidInput, err)
	}

	text := req.Text
	if req.URL != "" {
		lines, err := ingest.FetchLines(ctx, s.httpClient, req.URL)
		if err != nil {
			return IngestResult{}, err
		}
		text = strings.Join(lines, "\n")
	}

	sum, err := s.pipeline.Run(ctx, ingest.Batch{
		Text:         text,
		UploaderID:   req.UploaderID,
		RestaurantID: req.RestaurantID,
		Isolated:     req.Isolated,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
	})
	res := IngestResult{Summary: sum}
	if err != nil {
		return res, err
	}

	if s.kickoff > 0 && len(sum.NewWineIDs) > 0 {
		ids := sum.NewWineIDs
		if len(ids) > s.kickoff {
			ids = ids[:s.kickoff]
		}
		if err := s.queue.Submit(ids...); err != nil {
			// the daemon picks these up later
			s.log.Warn("enrichment kick-off not queued", "upload_id", sum.UploadID, "error", err)
		} else {
			res.EnrichmentQueued = len(ids)
		}
	}
	return res, nil
}

// Stats reports catalog enrichment progress for one restaurant, or for the
// whole catalog when restaurantID is empty.
func (s *Service) Stats(ctx context.Context, restaurantID string) (store.Stats, error) {
	return s.store.Stats(ctx, restaurantID)
}

// ListWines returns one page of wines.
func (s *Service) ListWines(ctx context.Context, opts store.ListOptions) (store.WinePage, error) {
	return s.store.ListWines(ctx, opts)
}

// Wine returns one wine.
func (s *Service) Wine(ctx context.Context, id string) (store.Wine, error) {
	return s.store.GetWine(ctx, id)
}

// EnrichOne enriches a wine now and waits for the result.
func (s *Service) EnrichOne(ctx context.Context, id string) (store.Wine, error) {
	return s.engine.EnrichOne(ctx, id)
}

// EnrichPending queues a batch over the oldest pending wines and returns
// immediately.
func (s *Service) EnrichPending(ctx context.Context, limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", internalerr.ErrInvalidInput)
	}
	return s.queue.SubmitPending(limit)
}

// QueueStatus reports the background enrichment queue.
func (s *Service) QueueStatus() enrich.QueueStatus {
	return s.queue.Status()
}

// StartDaemon starts the enrichment daemon. It reports false when the daemon
// was already running.
func (s *Service) StartDaemon(ctx context.Context) bool {
	return s.daemon.Start(ctx)
}

// StopDaemon stops the daemon after the wine in progress.
func (s *Service) StopDaemon(ctx context.Context) error {
	return s.daemon.Stop(ctx)
}

// DaemonStatus reports the daemon.
func (s *Service) DaemonStatus(ctx context.Context) (daemon.Status, error) {
	return s.daemon.Status(ctx)
}

// FindDuplicateGroups lists groups of wines in one collection that look
// like the same wine.
func (s *Service) FindDuplicateGroups(ctx context.Context) ([]maintenance.DuplicateGroup, error) {
	return s.duplicates.Find(ctx)
}

// LinkWine puts a wine on a restaurant's list, reactivating a removed link.
func (s *Service) LinkWine(ctx context.Context, wineID, restaurantID string, pricing *store.Pricing) (store.Association, error) {
	if strings.TrimSpace(wineID) == "" || strings.TrimSpace(restaurantID) == "" {
		return store.Association{}, fmt.Errorf("%w: wine and restaurant ids required", internalerr.ErrInvalidInput)
	}
	return s.store.LinkToRestaurant(ctx, wineID, restaurantID, pricing)
}

// DeactivateWine removes a wine from a restaurant's list. The wine stays in
// the catalog.
func (s *Service) DeactivateWine(ctx context.Context, wineID, restaurantID string) error {
	if strings.TrimSpace(wineID) == "" || strings.TrimSpace(restaurantID) == "" {
		return fmt.Errorf("%w: wine and restaurant ids required", internalerr.ErrInvalidInput)
	}
	return s.store.DeactivateLink(ctx, wineID, restaurantID)
}

// Upload returns an upload record.
func (s *Service) Upload(ctx context.Context, id string) (store.Upload, error) {
	return s.store.GetUpload(ctx, id)
}
