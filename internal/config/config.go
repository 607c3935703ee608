// Package config holds runtime configuration for postflow. A Config is
// built once at process start and passed by value into each component —
// there is no ambient global lookup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"postflow/internal/planner"
)

// Config is the root configuration for a postflow instance.
type Config struct {
	Timezone        string `yaml:"timezone"`
	DataDir         string `yaml:"data_dir"`
	QueueDB         string `yaml:"queue_db"`
	LegacyQueue     string `yaml:"legacy_queue"`
	QueueSnapshot   string `yaml:"queue_snapshot"`
	HistorySnapshot string `yaml:"history_snapshot"`

	Posting   PostingConfig   `yaml:"posting"`
	Publisher PublisherConfig `yaml:"publisher"`
	Generator GeneratorConfig `yaml:"generator"`
	API       APIConfig       `yaml:"api"`
}

// PostingConfig controls slot planning and the dispatch poll loop.
type PostingConfig struct {
	// PreferredTimes are "HH:MM" values evaluated in this exact order
	// within each scanned day.
	PreferredTimes      []string `yaml:"preferred_times"`
	MinGapHours         float64  `yaml:"min_gap_hours"`
	LeadTimeMinutes     int      `yaml:"lead_time_minutes"`
	WindowDays          int      `yaml:"window_days"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
}

// PublisherConfig controls the outbound posting transport.
type PublisherConfig struct {
	Endpoint    string `yaml:"endpoint"`
	BearerToken string `yaml:"bearer_token"`
	DryRun      bool   `yaml:"dry_run"`
}

// GeneratorConfig controls the optional LLM content generator. With no
// api_key the template fallback is used instead.
type GeneratorConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// APIConfig controls the admin HTTP server.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config populated with safe defaults. It is the
// canonical source of truth for default values.
func Default() Config {
	return Config{
		Timezone:        "America/New_York",
		DataDir:         "data",
		QueueDB:         "data/queue.db",
		LegacyQueue:     "data/post_queue.json",
		QueueSnapshot:   "data/post_queue.json",
		HistorySnapshot: "data/sent_history.json",
		Posting: PostingConfig{
			PreferredTimes:      []string{"09:00", "12:00", "18:00"},
			MinGapHours:         6,
			LeadTimeMinutes:     15,
			WindowDays:          7,
			PollIntervalSeconds: 60,
		},
		Publisher: PublisherConfig{
			DryRun: true,
		},
		Generator: GeneratorConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-4o-mini",
		},
		API: APIConfig{
			Addr: ":8080",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of
// Default(). A missing file yields the defaults without error. Environment
// variables are applied last as overrides:
//
//	X_BEARER_TOKEN     — publisher.bearer_token
//	OPENAI_API_KEY     — generator.api_key
//	OPENAI_MODEL       — generator.model
//	POSTFLOW_DATA_DIR  — data_dir
//	POSTFLOW_ADDR      — api.addr
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("X_BEARER_TOKEN"); v != "" {
		cfg.Publisher.BearerToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
	if v := os.Getenv("POSTFLOW_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("POSTFLOW_ADDR"); v != "" {
		cfg.API.Addr = v
	}
}

// Validate checks that the config is consistent and fails fast on
// malformed timing values rather than at dispatch time.
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.QueueDB == "" {
		return errors.New("queue_db must not be empty")
	}
	if _, err := planner.ParseClockList(c.Posting.PreferredTimes); err != nil {
		return err
	}
	if c.Posting.MinGapHours < 0.5 {
		return errors.New("posting.min_gap_hours must be at least 0.5")
	}
	if c.Posting.LeadTimeMinutes < 0 {
		return errors.New("posting.lead_time_minutes must not be negative")
	}
	if c.Posting.WindowDays < 1 || c.Posting.WindowDays > 30 {
		return errors.New("posting.window_days must be between 1 and 30")
	}
	if c.Posting.PollIntervalSeconds < 1 {
		return errors.New("posting.poll_interval_seconds must be at least 1")
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Timing converts the posting section into the planner's input form.
func (c Config) Timing() (planner.Timing, error) {
	clocks, err := planner.ParseClockList(c.Posting.PreferredTimes)
	if err != nil {
		return planner.Timing{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return planner.Timing{}, err
	}
	return planner.Timing{
		PreferredTimes: clocks,
		MinGap:         time.Duration(c.Posting.MinGapHours * float64(time.Hour)),
		HorizonDays:    c.Posting.WindowDays,
		LeadTime:       time.Duration(c.Posting.LeadTimeMinutes) * time.Minute,
		Location:       loc,
	}, nil
}

// PollInterval is the dispatch loop tick interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Posting.PollIntervalSeconds) * time.Second
}

// EnsureDataDir creates the data directory and the parents of every
// configured file path.
func (c Config) EnsureDataDir() error {
	dirs := []string{c.DataDir}
	for _, p := range []string{c.QueueDB, c.LegacyQueue, c.QueueSnapshot, c.HistorySnapshot} {
		if p != "" {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
