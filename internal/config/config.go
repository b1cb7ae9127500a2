// Package config loads the commdigest configuration: a YAML file for the
// source list and engine knobs, with secrets and overrides taken from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"commdigest/internal/source"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultStoragePath = ".commdigest/commdigest.db"

	DefaultConcurrency = 4
	DefaultRetries     = 3
	DefaultBackoff     = 2 * time.Second
	DefaultRunBudget   = 5 * time.Minute
	DefaultWindow      = 500
	DefaultLookback    = 7 * 24 * time.Hour
	DefaultMaxItems    = 50
	DefaultTimezone    = "UTC"
	DefaultMode        = "heuristic"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Sources   []SourceConfig  `yaml:"sources"`
	Storage   StorageConfig   `yaml:"storage"`
	Engine    EngineConfig    `yaml:"engine"`
	Digest    DigestConfig    `yaml:"digest"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Delivery  DeliveryConfig  `yaml:"delivery"`

	// Env holds environment-sourced settings, resolved at load time.
	Env Env `yaml:"-"`
}

// SourceConfig describes one monitored endpoint. Type selects the adapter;
// the remaining fields are type-specific fetch parameters.
type SourceConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"` // "page" or "channel"
	Name string `yaml:"name"` // display name for digest headings; defaults to id

	// Page sources.
	URL  string `yaml:"url"`
	Feed string `yaml:"feed"` // optional change feed; parsed instead of the HTML when set

	// Channel sources.
	Site     string `yaml:"site"`
	Stream   string `yaml:"stream"`
	StreamID int    `yaml:"stream_id"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type EngineConfig struct {
	Concurrency       int      `yaml:"concurrency"`
	RetryAttempts     int      `yaml:"retry_attempts"`
	RetryBackoff      Duration `yaml:"retry_backoff"`
	RunBudget         Duration `yaml:"run_budget"`
	FingerprintWindow int      `yaml:"fingerprint_window"`
	Lookback          Duration `yaml:"lookback"`
}

type DigestConfig struct {
	Timezone string `yaml:"timezone"`
	MaxItems int    `yaml:"max_items"`
}

type SummarizeConfig struct {
	Mode string    `yaml:"mode"` // none, heuristic, llm
	LLM  LLMConfig `yaml:"llm"`
}

type LLMConfig struct {
	Model            string `yaml:"model"`
	MaxTokensPerItem int    `yaml:"max_tokens_per_item"`
}

type DeliveryConfig struct {
	Sender     string   `yaml:"sender"`
	Recipients []string `yaml:"recipients"`
	Region     string   `yaml:"region"`
	SkipEmpty  bool     `yaml:"skip_empty"`
}

// Env holds settings resolved from DIGEST_-prefixed environment variables:
// credentials that must not live in the config file, plus operational
// overrides.
type Env struct {
	ChatEmail  string   `envconfig:"CHAT_EMAIL"`
	ChatAPIKey string   `envconfig:"CHAT_API_KEY"`
	LLMAPIKey  string   `envconfig:"LLM_API_KEY"`
	Recipients []string `envconfig:"RECIPIENTS"`
	DryRun     bool     `envconfig:"DRY_RUN"`
}

// Load reads config.yaml from dir, applies defaults, resolves the
// environment, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := envconfig.Process("digest", &cfg.Env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if len(cfg.Env.Recipients) > 0 {
		cfg.Delivery.Recipients = cfg.Env.Recipients
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Engine.Concurrency == 0 {
		cfg.Engine.Concurrency = DefaultConcurrency
	}
	if cfg.Engine.RetryAttempts == 0 {
		cfg.Engine.RetryAttempts = DefaultRetries
	}
	if cfg.Engine.RetryBackoff.Duration == 0 {
		cfg.Engine.RetryBackoff.Duration = DefaultBackoff
	}
	if cfg.Engine.RunBudget.Duration == 0 {
		cfg.Engine.RunBudget.Duration = DefaultRunBudget
	}
	if cfg.Engine.FingerprintWindow == 0 {
		cfg.Engine.FingerprintWindow = DefaultWindow
	}
	if cfg.Engine.Lookback.Duration == 0 {
		cfg.Engine.Lookback.Duration = DefaultLookback
	}
	if cfg.Digest.Timezone == "" {
		cfg.Digest.Timezone = DefaultTimezone
	}
	if cfg.Digest.MaxItems == 0 {
		cfg.Digest.MaxItems = DefaultMaxItems
	}
	if cfg.Summarize.Mode == "" {
		cfg.Summarize.Mode = DefaultMode
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return errors.New("sources: at least one source must be configured")
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if strings.TrimSpace(src.ID) == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true

		switch source.Type(src.Type) {
		case source.TypePage:
			if src.URL == "" && src.Feed == "" {
				return fmt.Errorf("source %s: url or feed is required for page sources", src.ID)
			}
		case source.TypeChannel:
			if src.Site == "" || src.Stream == "" {
				return fmt.Errorf("source %s: site and stream are required for channel sources", src.ID)
			}
		default:
			return fmt.Errorf("source %s: unknown type %q (want page or channel)", src.ID, src.Type)
		}
	}

	if _, err := time.LoadLocation(cfg.Digest.Timezone); err != nil {
		return fmt.Errorf("digest.timezone: %w", err)
	}

	switch cfg.Summarize.Mode {
	case "none", "heuristic", "llm":
		// valid
	default:
		return fmt.Errorf("summarize.mode: unknown mode %q (want none, heuristic, or llm)", cfg.Summarize.Mode)
	}

	if cfg.Delivery.Sender == "" {
		return errors.New("delivery.sender is required")
	}
	if len(cfg.Delivery.Recipients) == 0 {
		return errors.New("delivery.recipients: at least one recipient is required")
	}

	return nil
}

// Location returns the digest timezone. Call after validation.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Digest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
