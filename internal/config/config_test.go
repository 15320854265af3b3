package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name := strings.SplitN(kv, "=", 2)[0]
		if strings.HasPrefix(name, "NOVA_") || strings.HasSuffix(name, "_API_KEY") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	// Keep godotenv from picking up a stray .env.
	t.Chdir(t.TempDir())
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Topic.Threshold != 0.3 {
		t.Errorf("Expected threshold 0.3, got %v", cfg.Topic.Threshold)
	}
	if cfg.Topic.Window != 50 || cfg.Topic.Workers != 4 {
		t.Errorf("Unexpected topic defaults %+v", cfg.Topic)
	}
	if cfg.Analyzer.Name != "gemini" || cfg.Generator.Name != "groq" {
		t.Errorf("Unexpected providers %s / %s", cfg.Analyzer.Name, cfg.Generator.Name)
	}
	if cfg.Chain.HistoryWindow != 5 {
		t.Errorf("Expected history window 5, got %d", cfg.Chain.HistoryWindow)
	}
	if cfg.GuardPolicy().MaxMessageRunes != 8000 || len(cfg.Guard.ImportGlobs) != 2 {
		t.Errorf("Unexpected guard defaults %+v", cfg.Guard)
	}
	if cfg.Reliability.Timeout != 30*time.Second {
		t.Errorf("Expected 30s timeout, got %v", cfg.Reliability.Timeout)
	}

	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "needs an API key") {
		t.Errorf("Expected missing key error, got %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nova.yaml")
	yaml := `
data_dir: ` + dir + `
topic:
  threshold: 0.45
  retry_interval: 250ms
cache:
  backend: redis
analyzer:
  name: stub
generator:
  name: openai
  model: gpt-4o
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NOVA_TOPIC_WORKERS", "8")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Topic.Threshold != 0.45 {
		t.Errorf("Expected threshold from file, got %v", cfg.Topic.Threshold)
	}
	if cfg.Topic.RetryInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.Topic.RetryInterval)
	}
	if cfg.Topic.Workers != 8 {
		t.Errorf("Expected workers from env, got %d", cfg.Topic.Workers)
	}
	if cfg.Generator.APIKey != "sk-env" {
		t.Errorf("Expected vendor env key, got %q", cfg.Generator.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
	if cfg.StorePath() != filepath.Join(dir, "nova.db") {
		t.Errorf("Unexpected store path %s", cfg.StorePath())
	}

	topicCfg := cfg.TopicOptions()
	if topicCfg.Threshold != 0.45 || topicCfg.Workers != 8 {
		t.Errorf("Unexpected topic options %+v", topicCfg)
	}
	if cfg.CacheOptions().Backend != "redis" {
		t.Error("Expected redis cache backend")
	}
	if p := cfg.Generator.Provider(); p.Name != "openai" || p.Model != "gpt-4o" {
		t.Errorf("Unexpected provider config %+v", p)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataDir:     "/tmp/nova",
			Cache:       CacheConfig{Enabled: true, Backend: "memory"},
			Topic:       TopicConfig{Threshold: 0.3, Window: 50, Workers: 4, Queue: 10, ScanLimit: 100, RetryAttempts: 3},
			Chain:       ChainConfig{HistoryWindow: 5},
			Analyzer:    ProviderConfig{Name: "stub"},
			Generator:   ProviderConfig{Name: "groq", APIKey: "k"},
			Reliability: Reliability{Attempts: 3},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"threshold above one", func(c *Config) { c.Topic.Threshold = 1.5 }, "topic.threshold"},
		{"negative threshold", func(c *Config) { c.Topic.Threshold = -0.1 }, "topic.threshold"},
		{"zero workers", func(c *Config) { c.Topic.Workers = 0 }, "topic.workers"},
		{"missing key", func(c *Config) { c.Generator.APIKey = "" }, "needs an API key"},
		{"unknown provider", func(c *Config) { c.Analyzer.Name = "bogus" }, "unknown provider"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSealer(t *testing.T) {
	s := NewSealerWithPassphrase("test")

	sealed, err := s.Seal("sk-secret")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if !IsSealed(sealed) || strings.Contains(sealed, "sk-secret") {
		t.Fatalf("Expected sealed value, got %q", sealed)
	}
	again, _ := s.Seal("sk-secret")
	if again == sealed {
		t.Error("Expected a fresh nonce per seal")
	}

	plain, err := s.Open(sealed)
	if err != nil || plain != "sk-secret" {
		t.Fatalf("Open = %q, %v", plain, err)
	}

	t.Run("plaintext passes through", func(t *testing.T) {
		if v, err := s.Open("raw"); err != nil || v != "raw" {
			t.Errorf("Open(raw) = %q, %v", v, err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		if _, err := NewSealerWithPassphrase("other").Open(sealed); !errors.Is(err, ErrUnseal) {
			t.Errorf("Expected ErrUnseal, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := s.Open(SealedPrefix + "!!!"); !errors.Is(err, ErrInvalidSealed) {
			t.Errorf("Expected ErrInvalidSealed, got %v", err)
		}
	})

	if empty, _ := s.Seal(""); empty != "" {
		t.Error("Expected empty seal of empty string")
	}
}

func TestMaskAndSecretKeys(t *testing.T) {
	if Mask("short") != "****" {
		t.Error("Expected short secrets fully masked")
	}
	if Mask("sk-1234567890") != "sk-1...7890" {
		t.Errorf("Unexpected mask %s", Mask("sk-1234567890"))
	}
	if !IsSecretKey("groq.api_key") || IsSecretKey("topic.threshold") {
		t.Error("IsSecretKey mismatch")
	}
}
