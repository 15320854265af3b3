package provider

import (
	"fmt"
	"os/exec"
	"sort"
)

// Config selects and configures one backend.
type Config struct {
	Name    string // openai, groq, gemini, ollama, anthropic, cli, stub
	APIKey  string
	BaseURL string
	Model   string
	Host    string   // ollama
	Binary  string   // cli
	Args    []string // cli
}

type constructor func(Config) (Provider, error)

var registry = map[string]constructor{
	"openai": func(c Config) (Provider, error) {
		return NewOpenAIProvider(c.APIKey, c.BaseURL, c.Model)
	},
	"groq": func(c Config) (Provider, error) {
		return NewGroqProvider(c.APIKey, c.BaseURL, c.Model)
	},
	"gemini": func(c Config) (Provider, error) {
		return NewGeminiProvider(c.APIKey, c.Model)
	},
	"ollama": func(c Config) (Provider, error) {
		return NewOllamaProvider(c.Host, c.Model)
	},
	"anthropic": func(c Config) (Provider, error) {
		return NewAnthropicProvider(c.APIKey, c.Model)
	},
	"cli": func(c Config) (Provider, error) {
		if c.Binary == "" {
			path, err := detectCLI()
			if err != nil {
				return nil, err
			}
			c.Binary = path
		}
		return NewCLIProvider(c.Binary, c.Args)
	},
	"stub": func(Config) (Provider, error) {
		return NewStubProvider(), nil
	},
}

// New builds the backend named in cfg.
func New(cfg Config) (Provider, error) {
	ctor, ok := registry[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %v)", cfg.Name, Names())
	}
	return ctor(cfg)
}

// Names lists the registered backends.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresAPIKey reports whether the named backend cannot start without a key.
func RequiresAPIKey(name string) bool {
	switch name {
	case "openai", "groq", "gemini", "anthropic":
		return true
	}
	return false
}

func detectCLI() (string, error) {
	tools := []string{"claude", "codex", "gemini", "llm"}
	for _, t := range tools {
		if path, err := exec.LookPath(t); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no local CLI model detected (tried claude, codex, gemini, llm)")
}
