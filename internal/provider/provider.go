package provider

import (
	"context"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // system, user or assistant
	Content string `json:"content"`
}

// Options tunes a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Response represents the output from the model.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for text generation.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// Name returns the provider identifier (e.g., "stub", "openai").
	Name() string
}

const maxTokensCeiling = 8192

// clamp bounds temperature to [0, maxTemp] and max tokens to [1, 8192].
// A zero MaxTokens is replaced with def.
func (o Options) clamp(maxTemp float64, def int) Options {
	if o.Temperature < 0 {
		o.Temperature = 0
	}
	if o.Temperature > maxTemp {
		o.Temperature = maxTemp
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = def
	}
	if o.MaxTokens > maxTokensCeiling {
		o.MaxTokens = maxTokensCeiling
	}
	return o
}

// splitSystem separates system messages from the conversation, for backends
// that carry the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
