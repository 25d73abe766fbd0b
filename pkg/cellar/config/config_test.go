package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/cellar/pkg/cellar/internalerr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "cellar.yaml", `
server:
  addr: ":9090"
database:
  path: /var/lib/cellar/cellar.db
log:
  mode: dev
llm:
  base_url: https://llm.test/v1/chat/completions
  model: wine-model
match:
  threshold: 0.85
enrich:
  inter_call_delay: 250ms
  certification:
    core_min: 40
    special_min: 80
    combined_min: 500
    core_floor: 15
daemon:
  auto_start: true
  interval: 1m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Log.Mode != "dev" {
		t.Errorf("server/log not loaded: %+v %+v", cfg.Server, cfg.Log)
	}
	if cfg.Match.Threshold != 0.85 {
		t.Errorf("threshold = %v", cfg.Match.Threshold)
	}
	if cfg.Enrich.InterCallDelay != 250*time.Millisecond {
		t.Errorf("inter call delay = %v", cfg.Enrich.InterCallDelay)
	}
	if cfg.Enrich.Certification.CombinedMin != 500 || cfg.Enrich.Certification.CoreFloor != 15 {
		t.Errorf("certification = %+v", cfg.Enrich.Certification)
	}
	if !cfg.Daemon.AutoStart || cfg.Daemon.Interval != time.Minute {
		t.Errorf("daemon = %+v", cfg.Daemon)
	}
	// untouched sections keep defaults
	if cfg.Daemon.PageSize != Default().Daemon.PageSize {
		t.Errorf("page size default lost: %d", cfg.Daemon.PageSize)
	}
	if cfg.Server.QueueSize != Default().Server.QueueSize {
		t.Errorf("queue size default lost: %d", cfg.Server.QueueSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvLLMAPIKey:    "sk-llm",
		EnvVerifyAPIKey: " sk-verify ",
		EnvDBPath:       "/tmp/other.db",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.LLM.APIKey != "sk-llm" || cfg.Verify.APIKey != "sk-verify" {
		t.Errorf("keys not applied: %q %q", cfg.LLM.APIKey, cfg.Verify.APIKey)
	}
	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "cellar.yaml", "database:\n  path: file.db\n")
	t.Setenv(EnvDBPath, "env.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "env.db" {
		t.Errorf("db path = %q, want env.db", cfg.Database.Path)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Match.Threshold = 1.5
	cfg.Log.Mode = "verbose"
	cfg.Daemon.PageSize = 0

	err := cfg.Validate()
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	for _, want := range []string{"match.threshold", "log.mode", "daemon.page_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "match: [unterminated")
	if _, err := Load(path); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadKnowledge(t *testing.T) {
	path := writeFile(t, "knowledge.yaml", `archetypes:
  - name: Etna Rosso
    keywords: [etna rosso, nerello mascalese]
    wine_type: red
    region: Sicily
    profile:
      tasting_notes: Red cherry, volcanic smoke and dried herbs
      tannin_level: Medium
`)
	arch, err := LoadKnowledge(path)
	if err != nil {
		t.Fatalf("LoadKnowledge: %v", err)
	}
	if len(arch) != 1 {
		t.Fatalf("expected 1 archetype, got %d", len(arch))
	}
	a := arch[0]
	if a.Name != "Etna Rosso" || len(a.Keywords) != 2 || a.Region != "Sicily" {
		t.Errorf("unexpected archetype: %+v", a)
	}
	if a.Profile.TanninLevel != "Medium" {
		t.Errorf("profile not decoded: %+v", a.Profile)
	}

	bad := writeFile(t, "bad.yaml", "archetypes:\n  - name: Nameless\n")
	if _, err := LoadKnowledge(bad); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("archetype without keywords should fail, got %v", err)
	}
}
