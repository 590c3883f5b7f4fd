// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/qa-harvester/internal/logging"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Export    ExportConfig    `mapstructure:"export"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig configures bearer-token issuance and password hashing.
type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	Issuer       string        `mapstructure:"issuer"`
	PasswordCost int           `mapstructure:"password_cost"`
}

// VaultConfig holds the credential encryption secret.
type VaultConfig struct {
	Secret string `mapstructure:"secret"`
}

// JobsConfig governs the task queue and worker pool.
type JobsConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	DefaultLimit   int           `mapstructure:"default_limit"`
	MaxLimit       int           `mapstructure:"max_limit"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

// ScraperConfig selects the scraper adapter and holds per-adapter settings.
type ScraperConfig struct {
	Provider string                `mapstructure:"provider"`
	Process  ProcessScraperConfig  `mapstructure:"process"`
	Headless HeadlessScraperConfig `mapstructure:"headless"`
	Colly    CollyScraperConfig    `mapstructure:"colly"`
	Template TemplateScraperConfig `mapstructure:"template"`
}

// TemplateScraperConfig tunes the offline template scraper.
type TemplateScraperConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// ProcessScraperConfig runs an external scraper command.
type ProcessScraperConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HeadlessScraperConfig drives a Chrome instance.
type HeadlessScraperConfig struct {
	SearchURL   string        `mapstructure:"search_url"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	MaxScrolls  int           `mapstructure:"max_scrolls"`
	ScrollDelay time.Duration `mapstructure:"scroll_delay"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// CollyScraperConfig fetches static search pages.
type CollyScraperConfig struct {
	SearchURL   string        `mapstructure:"search_url"`
	LinkPattern string        `mapstructure:"link_pattern"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GeneratorConfig selects the answer-generation backend.
type GeneratorConfig struct {
	Provider      string        `mapstructure:"provider"`
	Model         string        `mapstructure:"model"`
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// Delay, when set, paces calls at one per Delay and overrides RatePerSecond/Burst.
	Delay         time.Duration `mapstructure:"delay"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature"`
}

// ExportConfig controls where rendered documents are archived.
type ExportConfig struct {
	Archive string `mapstructure:"archive"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for stage notifications. Empty TopicName disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	// Bound so AutomaticEnv can populate them during Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.issuer", "qa-harvester")
	v.SetDefault("auth.password_cost", 12)
	v.SetDefault("vault.secret", "")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.queue_depth", 64)
	v.SetDefault("jobs.default_limit", 20)
	v.SetDefault("jobs.max_limit", 100)
	v.SetDefault("jobs.enqueue_timeout", 2*time.Second)
	v.SetDefault("scraper.provider", "template")
	v.SetDefault("scraper.template.delay", 2*time.Second)
	v.SetDefault("scraper.process.timeout", 5*time.Minute)
	v.SetDefault("scraper.headless.search_url", "https://www.quora.com/search?q=%s&type=question")
	v.SetDefault("scraper.headless.nav_timeout", 60*time.Second)
	v.SetDefault("scraper.headless.max_scrolls", 20)
	v.SetDefault("scraper.headless.scroll_delay", 1500*time.Millisecond)
	v.SetDefault("scraper.colly.search_url", "https://www.quora.com/search?q=%s&type=question")
	v.SetDefault("scraper.colly.link_pattern", `^https://(www\.)?quora\.com/[^/?#]+$`)
	v.SetDefault("scraper.colly.timeout", 30*time.Second)
	v.SetDefault("generator.provider", "gemini")
	v.SetDefault("generator.model", "gemini-2.0-flash")
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.timeout", 60*time.Second)
	v.SetDefault("generator.delay", 0)
	v.SetDefault("generator.rate_per_second", 1.0)
	v.SetDefault("generator.burst", 1)
	v.SetDefault("generator.max_tokens", 1024)
	v.SetDefault("generator.temperature", 0.7)
	v.SetDefault("export.archive", "none")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.migrate", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 2*time.Second)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}
	if c.Vault.Secret == "" {
		return fmt.Errorf("vault.secret is required")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.QueueDepth <= 0 {
		return fmt.Errorf("jobs.queue_depth must be > 0")
	}
	if c.Jobs.MaxLimit < 1 || c.Jobs.MaxLimit > 100 {
		return fmt.Errorf("jobs.max_limit must be within [1,100]")
	}
	if c.Jobs.DefaultLimit < 1 || c.Jobs.DefaultLimit > c.Jobs.MaxLimit {
		return fmt.Errorf("jobs.default_limit must be within [1,jobs.max_limit]")
	}
	if err := c.Scraper.validate(); err != nil {
		return err
	}
	if err := c.Generator.validate(); err != nil {
		return err
	}
	switch c.Export.Archive {
	case "", "none", "memory":
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir is required when export.archive is local")
		}
	case "gcs":
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket is required when export.archive is gcs")
		}
	default:
		return fmt.Errorf("export.archive %q is not supported", c.Export.Archive)
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required when db.provider is postgres")
		}
	default:
		return fmt.Errorf("db.provider %q is not supported", c.DB.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	return nil
}

func (s ScraperConfig) validate() error {
	switch s.Provider {
	case "template":
	case "process":
		if s.Process.Command == "" {
			return fmt.Errorf("scraper.process.command is required when scraper.provider is process")
		}
		if s.Process.Timeout <= 0 {
			return fmt.Errorf("scraper.process.timeout must be > 0")
		}
	case "headless":
		if !strings.Contains(s.Headless.SearchURL, "%s") {
			return fmt.Errorf("scraper.headless.search_url must contain %%s")
		}
	case "colly":
		if !strings.Contains(s.Colly.SearchURL, "%s") {
			return fmt.Errorf("scraper.colly.search_url must contain %%s")
		}
	default:
		return fmt.Errorf("scraper.provider %q is not supported", s.Provider)
	}
	return nil
}

var generatorProviders = []string{"gemini", "claude", "ollama", "offline"}

func (g GeneratorConfig) validate() error {
	if !slices.Contains(generatorProviders, g.Provider) {
		return fmt.Errorf("generator.provider %q is not supported", g.Provider)
	}
	if g.Model == "" && g.Provider != "offline" {
		return fmt.Errorf("generator.model is required")
	}
	if g.Delay < 0 {
		return fmt.Errorf("generator.delay must be >= 0")
	}
	if g.Delay == 0 && g.RatePerSecond <= 0 {
		return fmt.Errorf("generator.rate_per_second must be > 0")
	}
	if g.Delay == 0 && g.Burst <= 0 {
		return fmt.Errorf("generator.burst must be > 0")
	}
	if g.Provider == "ollama" && g.BaseURL == "" {
		return fmt.Errorf("generator.base_url is required when generator.provider is ollama")
	}
	return nil
}
