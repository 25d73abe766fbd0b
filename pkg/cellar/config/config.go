package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/match"
)

// Environment overrides for secrets and deployment paths.
const (
	EnvLLMAPIKey    = "CELLAR_LLM_API_KEY"
	EnvVerifyAPIKey = "CELLAR_VERIFY_API_KEY"
	EnvDBPath       = "CELLAR_DB_PATH"
)

// Config is the service configuration file.
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Log      Log      `yaml:"log"`
	LLM      LLM      `yaml:"llm"`
	Verify   Verify   `yaml:"verify"`
	Extract  Extract  `yaml:"extract"`
	Match    Match    `yaml:"match"`
	Enrich   Enrich   `yaml:"enrich"`
	Daemon   Daemon   `yaml:"daemon"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	QueueSize       int           `yaml:"queue_size"`
}

type Database struct {
	Path string `yaml:"path"`
}

type Log struct {
	Mode string `yaml:"mode"` // prod or dev
}

// LLM configures the OpenAI-compatible completion endpoint. An empty BaseURL
// disables model extraction and model research.
type LLM struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Verify configures the external ratings lookup. An empty BaseURL disables
// verification.
type Verify struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Source        string        `yaml:"source"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
}

type Extract struct {
	MinLineLength int `yaml:"min_line_length"`
}

type Match struct {
	Threshold float64 `yaml:"threshold"`
}

type Enrich struct {
	ResearchAttempts int                  `yaml:"research_attempts"`
	InterCallDelay   time.Duration        `yaml:"inter_call_delay"`
	BatchCeiling     int                  `yaml:"batch_ceiling"`
	Certification    enrich.Certification `yaml:"certification"`
	KnowledgePath    string               `yaml:"knowledge_path"`
}

type Daemon struct {
	AutoStart        bool          `yaml:"auto_start"`
	Interval         time.Duration `yaml:"interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	RetryFailedAfter time.Duration `yaml:"retry_failed_after"`
	MaxAttempts      int           `yaml:"max_attempts"`
	PageSize         int           `yaml:"page_size"`
}

// Default returns a configuration that runs locally without external
// services.
func Default() Config {
	ec := enrich.DefaultConfig()
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			QueueSize:       16,
		},
		Database: Database{Path: "cellar.db"},
		Log:      Log{Mode: "prod"},
		LLM: LLM{
			BaseURL: "",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Verify: Verify{
			Source:        "Verified Ratings",
			Timeout:       10 * time.Second,
			MinConfidence: ec.MinVerifyConfidence,
		},
		Extract: Extract{MinLineLength: 4},
		Match:   Match{Threshold: match.DefaultThreshold},
		Enrich: Enrich{
			ResearchAttempts: ec.ResearchAttempts,
			InterCallDelay:   ec.InterCallDelay,
			BatchCeiling:     ec.BatchCeiling,
			Certification:    ec.Certification,
		},
		Daemon: Daemon{
			Interval:         30 * time.Second,
			StaleAfter:       10 * time.Minute,
			RetryFailedAfter: 30 * time.Minute,
			MaxAttempts:      3,
			PageSize:         10,
		},
	}
}

// Load reads a YAML config file over the defaults, then applies environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %v: %w", path, err, internalerr.ErrInvalidConfig)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and paths from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvLLMAPIKey)); v != "" {
		c.LLM.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvVerifyAPIKey)); v != "" {
		c.Verify.APIKey = v
	}
	if v := strings.TrimSpace(getenv(EnvDBPath)); v != "" {
		c.Database.Path = v
	}
}

// Validate checks ranges. Every problem is reported, wrapped in
// internalerr.ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Database.Path != "", "database.path is required")
	check(c.Log.Mode == "prod" || c.Log.Mode == "dev", "log.mode must be prod or dev, got %q", c.Log.Mode)
	check(c.Match.Threshold > 0 && c.Match.Threshold <= 1, "match.threshold must be in (0, 1], got %v", c.Match.Threshold)
	check(c.Verify.MinConfidence >= 0 && c.Verify.MinConfidence <= 1, "verify.min_confidence must be in [0, 1], got %v", c.Verify.MinConfidence)
	check(c.Extract.MinLineLength > 0, "extract.min_line_length must be positive")
	check(c.Enrich.ResearchAttempts > 0, "enrich.research_attempts must be positive")
	check(c.Enrich.BatchCeiling > 0, "enrich.batch_ceiling must be positive")
	check(c.Enrich.InterCallDelay >= 0, "enrich.inter_call_delay must not be negative")
	cert := c.Enrich.Certification
	check(cert.CoreMin > 0 && cert.SpecialMin > 0 && cert.CombinedMin > 0 && cert.CoreFloor > 0,
		"enrich.certification thresholds must be positive")
	check(cert.CoreFloor <= cert.CoreMin, "enrich.certification.core_floor must not exceed core_min")
	check(c.Daemon.Interval > 0, "daemon.interval must be positive")
	check(c.Daemon.StaleAfter > 0, "daemon.stale_after must be positive")
	check(c.Daemon.PageSize > 0, "daemon.page_size must be positive")
	check(c.Daemon.MaxAttempts >= 0, "daemon.max_attempts must not be negative")
	check(c.Server.QueueSize > 0, "server.queue_size must be positive")
	if c.LLM.BaseURL != "" {
		check(c.LLM.Model != "", "llm.model is required when llm.base_url is set")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, errors.Join(errs...))
}

// Knowledge is the YAML layout of a knowledge-base file.
type Knowledge struct {
	Archetypes []enrich.Archetype `yaml:"archetypes"`
}

// LoadKnowledge loads knowledge-base archetypes from a YAML file.
func LoadKnowledge(path string) ([]enrich.Archetype, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var k Knowledge
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("parse knowledge %s: %v: %w", path, err, internalerr.ErrInvalidConfig)
	}
	for i, a := range k.Archetypes {
		if a.Name == "" || len(a.Keywords) == 0 {
			return nil, fmt.Errorf("knowledge archetype %d needs a name and keywords: %w", i, internalerr.ErrInvalidConfig)
		}
	}
	return k.Archetypes, nil
}
