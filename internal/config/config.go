// Package config loads nova's settings from a YAML file, NOVA_* environment
// variables and a .env file, in increasing order of precedence for env.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/felixgeelhaar/nova/internal/cache"
	"github.com/felixgeelhaar/nova/internal/chain"
	"github.com/felixgeelhaar/nova/internal/guard"
	"github.com/felixgeelhaar/nova/internal/provider"
	"github.com/felixgeelhaar/nova/internal/topic"
)

type Config struct {
	DataDir     string         `mapstructure:"data_dir"`
	PromptsFile string         `mapstructure:"prompts_file"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Topic       TopicConfig    `mapstructure:"topic"`
	Chain       ChainConfig    `mapstructure:"chain"`
	Analyzer    ProviderConfig `mapstructure:"analyzer"`
	Generator   ProviderConfig `mapstructure:"generator"`
	Reliability Reliability    `mapstructure:"reliability"`
	Guard       GuardConfig    `mapstructure:"guard"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Backend   string        `mapstructure:"backend"`
	RedisURL  string        `mapstructure:"redis_url"`
	Namespace string        `mapstructure:"namespace"`
	TTL       time.Duration `mapstructure:"ttl"`
	Capacity  int           `mapstructure:"capacity"`
}

type TopicConfig struct {
	Threshold           float64       `mapstructure:"threshold"`
	Window              int           `mapstructure:"window"`
	Workers             int           `mapstructure:"workers"`
	Queue               int           `mapstructure:"queue"`
	ScanLimit           int           `mapstructure:"scan_limit"`
	RetryAttempts       int           `mapstructure:"retry_attempts"`
	RetryInterval       time.Duration `mapstructure:"retry_interval"`
	AsyncTimeout        time.Duration `mapstructure:"async_timeout"`
	DeferWithoutContext bool          `mapstructure:"defer_without_context"`
}

type ChainConfig struct {
	HistoryWindow int `mapstructure:"history_window"`
}

type ProviderConfig struct {
	Name    string   `mapstructure:"name"`
	APIKey  string   `mapstructure:"api_key"`
	BaseURL string   `mapstructure:"base_url"`
	Model   string   `mapstructure:"model"`
	Host    string   `mapstructure:"host"`
	Binary  string   `mapstructure:"binary"`
	Args    []string `mapstructure:"args"`
}

type GuardConfig struct {
	MaxMessageRunes int      `mapstructure:"max_message_runes"`
	MaxImportFiles  int      `mapstructure:"max_import_files"`
	ImportGlobs     []string `mapstructure:"import_globs"`
}

type Reliability struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Attempts int           `mapstructure:"attempts"`
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	td := topic.DefaultConfig()

	v.SetDefault("data_dir", filepath.Join(home, ".nova"))
	v.SetDefault("prompts_file", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.namespace", cache.DefaultNamespace)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("cache.capacity", 1000)

	v.SetDefault("topic.threshold", td.Threshold)
	v.SetDefault("topic.window", td.Window)
	v.SetDefault("topic.workers", td.Workers)
	v.SetDefault("topic.queue", td.Queue)
	v.SetDefault("topic.scan_limit", td.ScanLimit)
	v.SetDefault("topic.retry_attempts", td.RetryAttempts)
	v.SetDefault("topic.retry_interval", td.RetryInterval)
	v.SetDefault("topic.async_timeout", td.AsyncTimeout)
	v.SetDefault("topic.defer_without_context", false)

	v.SetDefault("chain.history_window", chain.DefaultConfig().HistoryWindow)

	for role, name := range map[string]string{"analyzer": "gemini", "generator": "groq"} {
		v.SetDefault(role+".name", name)
		v.SetDefault(role+".api_key", "")
		v.SetDefault(role+".base_url", "")
		v.SetDefault(role+".model", "")
		v.SetDefault(role+".host", "")
		v.SetDefault(role+".binary", "")
		v.SetDefault(role+".args", []string{})
	}

	v.SetDefault("reliability.timeout", provider.DefaultTimeout)
	v.SetDefault("reliability.attempts", provider.DefaultAttempts)

	v.SetDefault("guard.max_message_runes", guard.DefaultPolicy.MaxMessageRunes)
	v.SetDefault("guard.max_import_files", guard.DefaultPolicy.MaxImportFiles)
	v.SetDefault("guard.import_globs", guard.DefaultPolicy.AllowedImportGlobs)
}

// Load reads the config file at path (optional; "" looks for
// $HOME/.nova/config.yaml) and overlays the environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nova"))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("nova")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Analyzer.fillKeyFromEnv()
	cfg.Generator.fillKeyFromEnv()
	return &cfg, nil
}

// fillKeyFromEnv falls back to the vendor's conventional variable, e.g. GROQ_API_KEY.
func (p *ProviderConfig) fillKeyFromEnv() {
	if p.APIKey != "" || p.Name == "" {
		return
	}
	p.APIKey = os.Getenv(strings.ToUpper(p.Name) + "_API_KEY")
}

// StorePath is the SQLite database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "nova.db")
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	for role, p := range map[string]ProviderConfig{"analyzer": c.Analyzer, "generator": c.Generator} {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", role))
			continue
		}
		if !known(p.Name) {
			errs = append(errs, fmt.Errorf("%s.name: unknown provider %q", role, p.Name))
			continue
		}
		if provider.RequiresAPIKey(p.Name) && p.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: provider %s needs an API key (set NOVA_%s_API_KEY or %s_API_KEY)",
				role, p.Name, strings.ToUpper(role), strings.ToUpper(p.Name)))
		}
	}

	if c.Topic.Threshold < 0 || c.Topic.Threshold > 1 {
		errs = append(errs, fmt.Errorf("topic.threshold must be within [0,1], got %v", c.Topic.Threshold))
	}
	positive := map[string]int{
		"topic.window":         c.Topic.Window,
		"topic.workers":        c.Topic.Workers,
		"topic.queue":          c.Topic.Queue,
		"topic.scan_limit":     c.Topic.ScanLimit,
		"topic.retry_attempts": c.Topic.RetryAttempts,
		"chain.history_window": c.Chain.HistoryWindow,
		"reliability.attempts": c.Reliability.Attempts,
	}
	for key, n := range positive {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, n))
		}
	}
	if c.Cache.Enabled && c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	return errors.Join(errs...)
}

func known(name string) bool {
	for _, n := range provider.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// CacheOptions maps the settings onto the cache package.
func (c *Config) CacheOptions() cache.Config {
	return cache.Config{
		Enabled:    c.Cache.Enabled,
		Backend:    c.Cache.Backend,
		RedisURL:   c.Cache.RedisURL,
		Namespace:  c.Cache.Namespace,
		DefaultTTL: c.Cache.TTL,
		Capacity:   c.Cache.Capacity,
	}
}

// TopicOptions maps the settings onto the topic package.
func (c *Config) TopicOptions() topic.Config {
	cfg := topic.DefaultConfig()
	cfg.Threshold = c.Topic.Threshold
	cfg.Window = c.Topic.Window
	cfg.Workers = c.Topic.Workers
	cfg.Queue = c.Topic.Queue
	cfg.ScanLimit = c.Topic.ScanLimit
	cfg.RetryAttempts = c.Topic.RetryAttempts
	cfg.RetryInterval = c.Topic.RetryInterval
	cfg.AsyncTimeout = c.Topic.AsyncTimeout
	cfg.DeferWithoutContext = c.Topic.DeferWithoutContext
	cfg.CacheTTL = c.Cache.TTL
	return cfg
}

// GuardPolicy maps the settings onto the input guard.
func (c *Config) GuardPolicy() guard.Policy {
	return guard.Policy{
		MaxMessageRunes:    c.Guard.MaxMessageRunes,
		MaxImportFiles:     c.Guard.MaxImportFiles,
		AllowedImportGlobs: c.Guard.ImportGlobs,
	}
}

// Provider maps one role's settings onto the provider factory.
func (p ProviderConfig) Provider() provider.Config {
	return provider.Config{
		Name:    p.Name,
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
		Host:    p.Host,
		Binary:  p.Binary,
		Args:    p.Args,
	}
}
