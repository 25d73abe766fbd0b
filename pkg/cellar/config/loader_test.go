package config

import (
	"testing"
	"time"

	"github.com/cognicore/cellar/internal/llm"
	"github.com/cognicore/cellar/internal/verify"
	"github.com/cognicore/cellar/pkg/cellar/store"
)

func TestLoaderDefaultsWithoutServices(t *testing.T) {
	comp, err := (&Loader{Config: Default()}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if comp.Completer != nil || comp.Verifier != nil {
		t.Error("no endpoints configured, expected nil completer and verifier")
	}
	if comp.Extractor == nil || comp.Matcher == nil || comp.Knowledge == nil {
		t.Fatal("core components missing")
	}
	if comp.Matcher.Threshold != 0.9 {
		t.Errorf("threshold = %v", comp.Matcher.Threshold)
	}
	if _, ok := comp.Knowledge.Lookup(store.Wine{Name: "Barolo"}); !ok {
		t.Error("default archetypes should know Barolo")
	}
	if comp.Enrich.MinVerifyConfidence != 0.8 || comp.Enrich.BatchCeiling != 25 {
		t.Errorf("enrich config = %+v", comp.Enrich)
	}
	if comp.Daemon.Interval != 30*time.Second {
		t.Errorf("daemon interval = %v", comp.Daemon.Interval)
	}
}

func TestLoaderBuildsClients(t *testing.T) {
	cfg := Default()
	cfg.LLM.BaseURL = "https://llm.test/v1/chat/completions"
	cfg.LLM.APIKey = "sk"
	cfg.Verify.BaseURL = "https://ratings.test"

	comp, err := (&Loader{Config: cfg}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c, ok := comp.Completer.(*llm.Client)
	if !ok {
		t.Fatalf("completer type = %T", comp.Completer)
	}
	if c.Model != cfg.LLM.Model || c.APIKey != "sk" || c.HTTPClient.Timeout != cfg.LLM.Timeout {
		t.Errorf("llm client = %+v", c)
	}
	v, ok := comp.Verifier.(*verify.Client)
	if !ok {
		t.Fatalf("verifier type = %T", comp.Verifier)
	}
	if v.Source != cfg.Verify.Source {
		t.Errorf("verify source = %q", v.Source)
	}
}

func TestLoaderKnowledgeFile(t *testing.T) {
	path := writeFile(t, "knowledge.yaml", `archetypes:
  - name: Etna Rosso
    keywords: [etna rosso]
    wine_type: red
`)
	cfg := Default()
	cfg.Enrich.KnowledgePath = path

	comp, err := (&Loader{Config: cfg}).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if comp.Knowledge.Len() != 1 {
		t.Errorf("knowledge size = %d, want 1", comp.Knowledge.Len())
	}
	if _, ok := comp.Knowledge.Lookup(store.Wine{Name: "Etna Rosso", Producer: "Benanti"}); !ok {
		t.Error("loaded archetype should match")
	}
}

func TestLoaderKnowledgeFileMissing(t *testing.T) {
	cfg := Default()
	cfg.Enrich.KnowledgePath = "/nonexistent/knowledge.yaml"
	if _, err := (&Loader{Config: cfg}).Load(); err == nil {
		t.Fatal("expected error for missing knowledge file")
	}
}
