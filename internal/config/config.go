package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Search      SearchConfig      `yaml:"search"`
	Graph       GraphConfig       `yaml:"graph"`
	Redis       RedisConfig       `yaml:"redis"`
	Source      SourceConfig      `yaml:"source"`
	Images      ImagesConfig      `yaml:"images"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Collections CollectionsConfig `yaml:"collections"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// DatabaseConfig configures SQLite document storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SearchConfig configures the full-text title index.
type SearchConfig struct {
	Path string `yaml:"path"`
}

// GraphConfig configures the Neo4j connection.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig configures the time-series store and cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SourceConfig configures the Hacker News client.
type SourceConfig struct {
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
	Retries   int    `yaml:"retries"`
}

// ParseTimeout returns the source timeout as time.Duration.
func (s SourceConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ImagesConfig configures the Unsplash image search.
type ImagesConfig struct {
	ClientID string `yaml:"client_id"`
	BaseURL  string `yaml:"base_url"`
}

// IngestConfig tunes the ingestors and the activity monitor.
type IngestConfig struct {
	Concurrency           int `yaml:"concurrency"`
	NewStoriesLimit       int `yaml:"new_stories_limit"`
	ActivityWindowMinutes int `yaml:"activity_window_minutes"`
	CommentWeight         int `yaml:"comment_weight"`
	Falloff               int `yaml:"falloff"`
}

// ActivityWindow returns the monitor window, clamped to 60..120 minutes.
func (i IngestConfig) ActivityWindow() time.Duration {
	m := i.ActivityWindowMinutes
	if m < 60 {
		m = 60
	}
	if m > 120 {
		m = 120
	}
	return time.Duration(m) * time.Minute
}

// CollectionsConfig configures daily generation.
type CollectionsConfig struct {
	StartDate  string `yaml:"start_date"` // YYYY-MM-DD
	Candidates int    `yaml:"candidates"`
	Size       int    `yaml:"size"`
}

// ParseStartDate returns the first day collections may be generated for.
func (c CollectionsConfig) ParseStartDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse collections.start_date %q: %w", c.StartDate, err)
	}
	return t, nil
}

// ScheduleConfig configures the daemon intervals.
type ScheduleConfig struct {
	StoriesInterval    string `yaml:"stories_interval"`
	ActivityInterval   string `yaml:"activity_interval"`
	CollectionInterval string `yaml:"collection_interval"`
}

func parseInterval(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseStoriesInterval returns the story ingest interval as time.Duration.
func (s ScheduleConfig) ParseStoriesInterval() time.Duration {
	return parseInterval(s.StoriesInterval, 5*time.Minute)
}

// ParseActivityInterval returns the activity monitor interval as time.Duration.
func (s ScheduleConfig) ParseActivityInterval() time.Duration {
	return parseInterval(s.ActivityInterval, 10*time.Minute)
}

// ParseCollectionInterval returns how often yesterday's generation is attempted.
func (s ScheduleConfig) ParseCollectionInterval() time.Duration {
	return parseInterval(s.CollectionInterval, time.Hour)
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// AlertsConfig configures publication notifications.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./meatballs.db"},
		Search:   SearchConfig{Path: "./meatballs.bleve"},
		Graph: GraphConfig{
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Source: SourceConfig{
			UserAgent: "meatballs/1.0",
			Timeout:   "30s",
			Retries:   3,
		},
		Images: ImagesConfig{BaseURL: "https://api.unsplash.com"},
		Ingest: IngestConfig{
			Concurrency:           8,
			NewStoriesLimit:       0,
			ActivityWindowMinutes: 60,
			CommentWeight:         1,
			Falloff:               0,
		},
		Collections: CollectionsConfig{
			StartDate:  "2022-08-01",
			Candidates: 20,
			Size:       9,
		},
		Schedule: ScheduleConfig{
			StoriesInterval:    "5m",
			ActivityInterval:   "10m",
			CollectionInterval: "1h",
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a YAML file, loads a .env file when present
// and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that components cannot default on their own.
func (c *Config) Validate() error {
	if _, err := c.Collections.ParseStartDate(); err != nil {
		return err
	}
	if c.Ingest.CommentWeight != 0 && (c.Ingest.CommentWeight < 1 || c.Ingest.CommentWeight > 100) {
		return fmt.Errorf("ingest.comment_weight %d outside 1..100", c.Ingest.CommentWeight)
	}
	if c.Ingest.Falloff != 0 && (c.Ingest.Falloff < 1 || c.Ingest.Falloff > 100) {
		return fmt.Errorf("ingest.falloff %d outside 1..100", c.Ingest.Falloff)
	}
	if c.Ingest.Concurrency < 1 {
		return fmt.Errorf("ingest.concurrency must be at least 1")
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEATBALLS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MEATBALLS_SEARCH_PATH"); v != "" {
		cfg.Search.Path = v
	}
	if v := os.Getenv("MEATBALLS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEATBALLS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("NEO4J_URI"); v != "" {
		cfg.Graph.URI = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		cfg.Graph.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		cfg.Graph.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("UNSPLASH_CLIENT_ID"); v != "" {
		cfg.Images.ClientID = v
	}
	if v := os.Getenv("INGEST_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
