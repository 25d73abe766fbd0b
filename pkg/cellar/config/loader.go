package config

import (
	"fmt"
	"net/http"

	"github.com/cognicore/cellar/internal/llm"
	"github.com/cognicore/cellar/internal/verify"
	"github.com/cognicore/cellar/pkg/cellar/completion"
	"github.com/cognicore/cellar/pkg/cellar/daemon"
	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/extract"
	"github.com/cognicore/cellar/pkg/cellar/match"
)

// Loader constructs runtime components from a validated Config.
type Loader struct {
	Config Config
}

// Components holds the pieces the service is assembled from. Completer and
// Verifier are nil when their endpoints are not configured.
type Components struct {
	Extractor *extract.Extractor
	Matcher   *match.Matcher
	Knowledge *enrich.KnowledgeBase
	Completer completion.Completer
	Verifier  enrich.Verifier
	Enrich    enrich.Config
	Daemon    daemon.Config
}

// Load builds the components.
func (l *Loader) Load() (*Components, error) {
	cfg := l.Config
	comp := &Components{}

	if cfg.LLM.BaseURL != "" {
		comp.Completer = &llm.Client{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			HTTPClient: &http.Client{Timeout: cfg.LLM.Timeout},
		}
	}
	if cfg.Verify.BaseURL != "" {
		comp.Verifier = &verify.Client{
			BaseURL:    cfg.Verify.BaseURL,
			APIKey:     cfg.Verify.APIKey,
			Source:     cfg.Verify.Source,
			HTTPClient: &http.Client{Timeout: cfg.Verify.Timeout},
		}
	}

	comp.Extractor = extract.New(extract.Options{
		MinLineLength: cfg.Extract.MinLineLength,
		Completer:     comp.Completer,
	})
	comp.Matcher = match.New(cfg.Match.Threshold)

	archetypes := enrich.DefaultArchetypes()
	if cfg.Enrich.KnowledgePath != "" {
		loaded, err := LoadKnowledge(cfg.Enrich.KnowledgePath)
		if err != nil {
			return nil, fmt.Errorf("load knowledge: %w", err)
		}
		archetypes = loaded
	}
	comp.Knowledge = enrich.NewKnowledgeBase(archetypes)

	comp.Enrich = enrich.Config{
		MinVerifyConfidence: cfg.Verify.MinConfidence,
		ResearchAttempts:    cfg.Enrich.ResearchAttempts,
		InterCallDelay:      cfg.Enrich.InterCallDelay,
		BatchCeiling:        cfg.Enrich.BatchCeiling,
		Certification:       cfg.Enrich.Certification,
	}
	comp.Daemon = daemon.Config{
		Interval:         cfg.Daemon.Interval,
		StaleAfter:       cfg.Daemon.StaleAfter,
		RetryFailedAfter: cfg.Daemon.RetryFailedAfter,
		MaxAttempts:      cfg.Daemon.MaxAttempts,
		PageSize:         cfg.Daemon.PageSize,
	}
	return comp, nil
}
