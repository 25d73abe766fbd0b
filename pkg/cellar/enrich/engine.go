// Package enrich fills the tasting profile of catalog wines through a staged
// source chain: verification, knowledge base, model research and an
// educational fallback.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar/completion"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

// SourceResearch tags certified model research.
const SourceResearch = "Research"

// minEducationalRunes is the shortest educational note accepted.
const minEducationalRunes = 40

var errNotCertified = errors.New("profile failed certification")

// Config holds the engine tunables.
type Config struct {
	MinVerifyConfidence float64
	ResearchAttempts    int
	InterCallDelay      time.Duration
	BatchCeiling        int
	Certification       Certification
	Model               string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinVerifyConfidence: 0.8,
		ResearchAttempts:    2,
		InterCallDelay:      100 * time.Millisecond,
		BatchCeiling:        25,
		Certification:       DefaultCertification(),
	}
}

// Engine enriches wines one at a time.
type Engine struct {
	store     store.Store
	verifier  Verifier
	kb        *KnowledgeBase
	completer completion.Completer
	cfg       Config
	log       *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithVerifier(v Verifier) Option { return func(e *Engine) { e.verifier = v } }

func WithKnowledgeBase(kb *KnowledgeBase) Option { return func(e *Engine) { e.kb = kb } }

func WithCompleter(c completion.Completer) Option { return func(e *Engine) { e.completer = c } }

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = l } }

// NewEngine creates an engine with the built-in knowledge base and default
// config. Verification and model stages are off unless configured.
func NewEngine(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		kb:    NewKnowledgeBase(DefaultArchetypes()),
		cfg:   DefaultConfig(),
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.ResearchAttempts <= 0 {
		e.cfg.ResearchAttempts = 1
	}
	if e.cfg.BatchCeiling <= 0 {
		e.cfg.BatchCeiling = DefaultConfig().BatchCeiling
	}
	return e
}

// BatchCeiling is the most wines one batch call processes.
func (e *Engine) BatchCeiling() int { return e.cfg.BatchCeiling }

// Enrich runs the source chain for a wine the caller has already claimed
// and persists the outcome. When every source fails the wine is marked
// failed and the error wraps internalerr.ErrUpstream.
func (e *Engine) Enrich(ctx context.Context, w store.Wine) (store.Wine, error) {
	log := e.log.With("wine_id", w.ID, "wine", w.Name)

	upd, err := e.resolve(ctx, w, log)

	// the outcome is recorded even when the caller has gone away
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		log.Warn("enrichment failed", "error", err)
		if markErr := e.store.MarkFailed(ctx, w.ID, err.Error()); markErr != nil {
			return w, fmt.Errorf("mark failed %s: %w: %v", w.ID, internalerr.ErrPersistence, markErr)
		}
		return w, fmt.Errorf("enrich %s: %w", w.ID, err)
	}

	if err := e.store.UpdateEnrichment(ctx, w.ID, upd); err != nil {
		if errors.Is(err, internalerr.ErrNotFound) {
			return w, err
		}
		return w, fmt.Errorf("update enrichment %s: %w: %v", w.ID, internalerr.ErrPersistence, err)
	}
	log.Info("wine enriched", "source", upd.VerifiedSource, "verified", upd.Verified)
	return e.store.GetWine(ctx, w.ID)
}

// EnrichOne claims and enriches a single wine on demand. Completed and
// failed wines are enriched again; a wine another worker holds yields
// internalerr.ErrClaimed.
func (e *Engine) EnrichOne(ctx context.Context, id string) (store.Wine, error) {
	ok, err := e.store.TryClaim(ctx, id, store.StatusPending, store.StatusFailed, store.StatusCompleted)
	if err != nil {
		return store.Wine{}, err
	}
	if !ok {
		return store.Wine{}, fmt.Errorf("enrich %s: %w", id, internalerr.ErrClaimed)
	}
	w, err := e.store.GetWine(ctx, id)
	if err != nil {
		return store.Wine{}, err
	}
	return e.Enrich(ctx, w)
}

// BatchResult counts the outcome of a batch.
type BatchResult struct {
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Stopped is set when stop interrupted the batch between wines.
	Stopped   bool   `json:"stopped"`
	LastError string `json:"last_error,omitempty"`
}

// RunBatch enriches pending wines sequentially, at most BatchCeiling of
// them, pausing InterCallDelay between wines. Closing stop ends the batch
// before the next wine; the wine in progress always finishes.
func (e *Engine) RunBatch(ctx context.Context, ids []string, stop <-chan struct{}) BatchResult {
	var res BatchResult
	for i, id := range ids {
		if i >= e.cfg.BatchCeiling {
			break
		}
		if stopped(ctx, stop) {
			res.Stopped = true
			break
		}
		if i > 0 && !e.pause(ctx, stop) {
			res.Stopped = true
			break
		}

		ok, err := e.store.TryClaim(ctx, id)
		if err != nil {
			res.Failed++
			res.LastError = err.Error()
			e.log.Warn("claim failed", "wine_id", id, "error", err)
			continue
		}
		if !ok {
			res.Skipped++
			continue
		}

		res.Attempted++
		w, err := e.store.GetWine(ctx, id)
		if err == nil {
			_, err = e.Enrich(ctx, w)
		}
		if err != nil {
			res.Failed++
			res.LastError = err.Error()
			continue
		}
		res.Completed++
	}
	return res
}

// EnrichPending enriches up to limit pending wines, oldest first.
func (e *Engine) EnrichPending(ctx context.Context, limit int, stop <-chan struct{}) (BatchResult, error) {
	if limit <= 0 || limit > e.cfg.BatchCeiling {
		limit = e.cfg.BatchCeiling
	}
	pending, err := e.store.ListPending(ctx, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list pending: %w", err)
	}
	ids := make([]string, len(pending))
	for i, w := range pending {
		ids[i] = w.ID
	}
	return e.RunBatch(ctx, ids, stop), nil
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// pause waits InterCallDelay and reports whether work may continue.
func (e *Engine) pause(ctx context.Context, stop <-chan struct{}) bool {
	if e.cfg.InterCallDelay <= 0 {
		return !stopped(ctx, stop)
	}
	t := time.NewTimer(e.cfg.InterCallDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// resolve walks the source chain and returns the update to persist.
func (e *Engine) resolve(ctx context.Context, w store.Wine, log *logger.Logger) (store.EnrichmentUpdate, error) {
	var upd store.EnrichmentUpdate
	var lastErr error

	// 1. external verification
	if e.verifier != nil {
		v, ok, err := e.verifier.Lookup(ctx, w.Producer, w.Name, w.Vintage)
		switch {
		case err != nil:
			lastErr = err
			log.Warn("verification lookup failed", "error", err)
		case ok && v.Confidence >= e.cfg.MinVerifyConfidence:
			upd.Verified = true
			upd.VerifiedSource = v.Source
			upd.Rating = v.Rating
			upd.WineType = v.WineType
			upd.Style = v.Style
			upd.Region = v.Region
			upd.Profile = v.Profile
			if e.cfg.Certification.Certify(w.Profile.Merge(v.Profile)) {
				return upd, nil
			}
		case ok:
			log.Debug("verification below confidence", "source", v.Source, "confidence", v.Confidence)
		}
	}

	// 2. knowledge base
	if a, ok := e.kb.Lookup(w); ok {
		log.Debug("knowledge base match", "archetype", a.Name)
		upd.Profile = a.Profile.Merge(upd.Profile)
		upd.WineType = firstNonEmpty(upd.WineType, w.WineType, a.WineType)
		upd.Style = firstNonEmpty(upd.Style, w.Style, a.Style)
		upd.Region = firstNonEmpty(upd.Region, w.Region, a.Region)
		if !upd.Verified {
			upd.VerifiedSource = SourceKnowledgeBase
		}
		return upd, nil
	}

	// a failure discards verification fields; the retry looks them up again
	if e.completer == nil {
		if lastErr == nil {
			lastErr = errors.New("no enrichment source matched")
		}
		return store.EnrichmentUpdate{}, fmt.Errorf("%w: %v", internalerr.ErrUpstream, lastErr)
	}

	// 3. model research with certification
	for attempt := 1; attempt <= e.cfg.ResearchAttempts; attempt++ {
		if attempt > 1 && !e.pause(ctx, nil) {
			break
		}
		r, err := e.research(ctx, w)
		if err != nil {
			lastErr = err
			log.Warn("research attempt failed", "attempt", attempt, "error", err)
			continue
		}
		merged := w.Profile.Merge(upd.Profile).Merge(r.Profile)
		if !e.cfg.Certification.Certify(merged) {
			lastErr = errNotCertified
			log.Debug("research rejected by certification", "attempt", attempt)
			continue
		}
		upd.Profile = upd.Profile.Merge(r.Profile)
		if upd.Rating == 0 {
			upd.Rating = r.Rating
		}
		upd.WineType = firstNonEmpty(upd.WineType, r.WineType)
		upd.Style = firstNonEmpty(upd.Style, r.Style)
		upd.Region = firstNonEmpty(upd.Region, r.Region)
		if !upd.Verified {
			upd.Verified = true
			upd.VerifiedSource = SourceResearch
		}
		return upd, nil
	}

	// 4. educational fallback
	note, err := e.educate(ctx, w)
	if err != nil {
		log.Warn("educational fallback failed", "error", err)
		if lastErr == nil {
			lastErr = err
		}
		return store.EnrichmentUpdate{}, fmt.Errorf("%w: all sources exhausted: %v", internalerr.ErrUpstream, lastErr)
	}
	return store.EnrichmentUpdate{
		Profile:        store.Profile{TastingNotes: note},
		Rating:         upd.Rating,
		WineType:       upd.WineType,
		Style:          upd.Style,
		Region:         upd.Region,
		Verified:       false,
		VerifiedSource: store.SourceEducational,
	}, nil
}

const researchSystemPrompt = `You are a sommelier writing a verified tasting profile for a restaurant wine list.
Answer with one JSON object using exactly these keys: tasting_notes, flavor_notes,
aroma_notes, body_description, texture, balance, tannin_level, acidity,
finish_length, food_pairing, serving_temp, aging_potential, blend_description,
what_makes_special, rating, wine_type, style, region.
rating is a number from 0 to 5, or 0 when unknown. All other values are strings.`

type researchResult struct {
	store.Profile
	Rating   float64 `json:"rating"`
	WineType string  `json:"wine_type"`
	Style    string  `json:"style"`
	Region   string  `json:"region"`
}

func (e *Engine) research(ctx context.Context, w store.Wine) (researchResult, error) {
	out, err := e.completer.Complete(ctx, completion.Request{
		System:      researchSystemPrompt,
		Prompt:      describe(w),
		JSON:        true,
		MaxTokens:   1200,
		Temperature: 0.3,
		Model:       e.cfg.Model,
	})
	if err != nil {
		return researchResult{}, err
	}
	return decodeResearch(out)
}

// decodeResearch parses the research answer strictly.
func decodeResearch(raw string) (researchResult, error) {
	dec := json.NewDecoder(strings.NewReader(completion.StripFences(raw)))
	dec.DisallowUnknownFields()
	var r researchResult
	if err := dec.Decode(&r); err != nil {
		return researchResult{}, fmt.Errorf("%w: decode research: %v", internalerr.ErrUpstream, err)
	}
	if r.Rating < 0 || r.Rating > 5 {
		r.Rating = 0
	}
	return r, nil
}

const educationalSystemPrompt = `Write a short educational note (two or three sentences) about the
style, grape and region of the wine described. Do not invent tasting scores.
Answer with plain text only.`

func (e *Engine) educate(ctx context.Context, w store.Wine) (string, error) {
	if e.completer == nil {
		return "", errors.New("no completer configured")
	}
	out, err := e.completer.Complete(ctx, completion.Request{
		System:      educationalSystemPrompt,
		Prompt:      describe(w),
		MaxTokens:   300,
		Temperature: 0.5,
		Model:       e.cfg.Model,
	})
	if err != nil {
		return "", err
	}
	note := strings.TrimSpace(completion.StripFences(out))
	if utf8.RuneCountInString(note) < minEducationalRunes {
		return "", fmt.Errorf("%w: educational note too short", internalerr.ErrUpstream)
	}
	return note, nil
}

// describe renders the known identity fields of w for a prompt.
func describe(w store.Wine) string {
	fields := []struct{ label, value string }{
		{"Producer", w.Producer},
		{"Wine", w.Name},
		{"Vintage", w.Vintage},
		{"Varietal", w.Varietal},
		{"Region", w.Region},
		{"Country", w.Country},
		{"Appellation", w.Appellation},
		{"Type", w.WineType},
	}
	var b strings.Builder
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", f.label, f.value)
	}
	return strings.TrimSpace(b.String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
