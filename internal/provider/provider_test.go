package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/felixgeelhaar/nova/internal/observe"
)

func TestOpenAIProvider(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{"message": {"content": "hello", "role": "assistant"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	p, _ := NewOpenAIProvider("test-key", server.URL, "gpt-4")
	if p.Name() != "openai" {
		t.Errorf("Expected 'openai', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Temperature: 3, MaxTokens: 50000})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("Expected 'hello', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
	if got["temperature"] != 2.0 {
		t.Errorf("Expected temperature clamped to 2, got %v", got["temperature"])
	}
	if got["max_tokens"] != 8192.0 {
		t.Errorf("Expected max_tokens clamped to 8192, got %v", got["max_tokens"])
	}
}

func TestGroqProvider(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		model = body.Model
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"content": "from groq", "role": "assistant"}}]}`))
	}))
	defer server.Close()

	p, err := NewGroqProvider("test-key", server.URL, "")
	if err != nil {
		t.Fatalf("NewGroqProvider failed: %v", err)
	}
	if p.Name() != "groq" {
		t.Errorf("Expected 'groq', got '%s'", p.Name())
	}
	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "from groq" {
		t.Errorf("Expected 'from groq', got '%s'", resp.Content)
	}
	if model != GroqModel {
		t.Errorf("Expected default model %s, got %s", GroqModel, model)
	}
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message": {"content": "hi from ollama"}, "done": true, "eval_count": 10, "prompt_eval_count": 5}`))
	}))
	defer server.Close()

	p, _ := NewOllamaProvider(server.URL, "llama3")
	if p.Name() != "ollama" {
		t.Errorf("Expected 'ollama', got '%s'", p.Name())
	}

	resp, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Temperature: 0.3})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi from ollama" {
		t.Errorf("Expected 'hi from ollama', got '%s'", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider(t *testing.T) {
	var req anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_123",
			"content": [{"type": "text", "text": "hello from claude"}],
			"usage": {"input_tokens": 5, "output_tokens": 5}
		}`))
	}))
	defer server.Close()

	p, _ := NewAnthropicProvider("test-key", "claude-3")
	p.SetBaseURL(server.URL)
	if p.Name() != "anthropic" {
		t.Errorf("Expected 'anthropic', got '%s'", p.Name())
	}

	msgs := []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}
	resp, err := p.Chat(context.Background(), msgs, Options{Temperature: 0.7, MaxTokens: 1000})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hello from claude" {
		t.Errorf("Expected 'hello from claude', got '%s'", resp.Content)
	}
	if req.System != "be brief" {
		t.Errorf("Expected system prompt out of band, got %q", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("Expected only the user turn, got %+v", req.Messages)
	}
	if req.MaxTokens != 1000 {
		t.Errorf("Expected max_tokens 1000, got %d", req.MaxTokens)
	}
}

func TestGeminiProvider_Name(t *testing.T) {
	// genai.NewClient does not dial until the first request.
	p, err := NewGeminiProvider("fake-key", "gemini-pro")
	if err != nil {
		t.Logf("Skipping Gemini Name test due to client init error: %v", err)
		return
	}
	defer p.Close()
	if p.Name() != "gemini" {
		t.Errorf("Expected 'gemini', got '%s'", p.Name())
	}
}

func TestProvider_Init(t *testing.T) {
	if _, err := NewOpenAIProvider("", "", ""); err == nil {
		t.Error("Expected error for empty OpenAI key")
	}
	if _, err := NewGroqProvider("", "", ""); err == nil {
		t.Error("Expected error for empty Groq key")
	}
	if _, err := NewAnthropicProvider("", ""); err == nil {
		t.Error("Expected error for empty Anthropic key")
	}
	if _, err := NewGeminiProvider("", ""); err == nil {
		t.Error("Expected error for empty Gemini key")
	}
	if _, err := NewCLIProvider("", nil); err == nil {
		t.Error("Expected error for empty binary path")
	}
}

func TestStubProvider(t *testing.T) {
	boom := errors.New("boom")
	p := NewStubProvider(StubReply{Content: "first"}, StubReply{Err: boom})
	if p.Name() != "stub" {
		t.Errorf("Expected 'stub', got '%s'", p.Name())
	}

	ctx := context.Background()
	msgs := []Message{{Role: "user", Content: "hi"}}

	resp, err := p.Chat(ctx, msgs, Options{Temperature: 0.3})
	if err != nil || resp.Content != "first" {
		t.Fatalf("Expected scripted 'first', got %v, %v", resp, err)
	}
	if _, err := p.Chat(ctx, msgs, Options{}); !errors.Is(err, boom) {
		t.Fatalf("Expected scripted error, got %v", err)
	}
	resp, err = p.Chat(ctx, msgs, Options{})
	if err != nil || resp.Content != "You said: hi" {
		t.Fatalf("Expected echo once the script is exhausted, got %v, %v", resp, err)
	}

	calls := p.Calls()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 recorded calls, got %d", len(calls))
	}
	if calls[0].Options.Temperature != 0.3 {
		t.Errorf("Expected recorded temperature 0.3, got %v", calls[0].Options.Temperature)
	}

	t.Run("echo keeps the first line", func(t *testing.T) {
		echo := NewStubProvider()
		prompt := "Analyze this message.\nRespond with JSON:\n{\"key_points\": [\"...\"]}"
		resp, err := echo.Chat(ctx, []Message{{Role: "user", Content: prompt}}, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Content != "You said: Analyze this message." {
			t.Errorf("Unexpected echo %q", resp.Content)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Chat(ctx, msgs, Options{}); err == nil {
			t.Error("Expected error on canceled context")
		}
	})
}

func TestProvider_Errors(t *testing.T) {
	t.Run("OpenAI Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
		}))
		defer server.Close()
		p, _ := NewOpenAIProvider("key", server.URL, "")
		if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}, Options{}); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("OpenAI No Choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices": []}`))
		}))
		defer server.Close()
		p, _ := NewOpenAIProvider("key", server.URL, "")
		if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}, Options{}); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("Anthropic Error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(401)
		}))
		defer server.Close()
		p, _ := NewAnthropicProvider("key", "")
		p.SetBaseURL(server.URL)
		if _, err := p.Chat(context.Background(), []Message{{Content: "hi"}}, Options{}); err == nil {
			t.Error("Expected error")
		}
	})
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"stub", Config{Name: "stub"}, "stub", false},
		{"openai", Config{Name: "openai", APIKey: "k"}, "openai", false},
		{"groq", Config{Name: "groq", APIKey: "k"}, "groq", false},
		{"ollama", Config{Name: "ollama", Host: "http://127.0.0.1:11434"}, "ollama", false},
		{"anthropic", Config{Name: "anthropic", APIKey: "k"}, "anthropic", false},
		{"cli", Config{Name: "cli", Binary: "/bin/echo"}, "cli", false},
		{"openai without key", Config{Name: "openai"}, "", true},
		{"unknown", Config{Name: "bogus"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, p.Name())
			}
		})
	}

	if !RequiresAPIKey("groq") || RequiresAPIKey("ollama") {
		t.Error("RequiresAPIKey mismatch")
	}
}

func TestReliable(t *testing.T) {
	ctx := context.Background()
	msgs := []Message{{Role: "user", Content: "hi"}}

	t.Run("retries transient failures", func(t *testing.T) {
		stub := NewStubProvider(StubReply{Err: errors.New("flaky")}, StubReply{Content: "ok"})
		obs := observe.Discard()
		p := WithReliability(stub, time.Second, 3, WithInitialInterval(time.Millisecond), WithMetrics(obs.Metrics()))

		resp, err := p.Chat(ctx, msgs, Options{})
		if err != nil {
			t.Fatalf("Expected success after retry, got %v", err)
		}
		if resp.Content != "ok" {
			t.Errorf("Expected 'ok', got '%s'", resp.Content)
		}
		if len(stub.Calls()) != 2 {
			t.Errorf("Expected 2 attempts, got %d", len(stub.Calls()))
		}
		if n := testutil.CollectAndCount(obs.Metrics().ProviderLatency); n != 2 {
			t.Errorf("Expected ok and error series, got %d", n)
		}
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		boom := errors.New("down")
		stub := NewStubProvider(StubReply{Err: boom}, StubReply{Err: boom}, StubReply{Err: boom}, StubReply{Content: "late"})
		p := WithReliability(stub, time.Second, 3, WithInitialInterval(time.Millisecond))

		if _, err := p.Chat(ctx, msgs, Options{}); !errors.Is(err, boom) {
			t.Fatalf("Expected last error, got %v", err)
		}
		if len(stub.Calls()) != 3 {
			t.Errorf("Expected 3 attempts, got %d", len(stub.Calls()))
		}
	})

	t.Run("per-attempt timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		inner, _ := NewOpenAIProvider("key", server.URL, "")
		p := WithReliability(inner, 50*time.Millisecond, 2, WithInitialInterval(time.Millisecond))
		start := time.Now()
		if _, err := p.Chat(ctx, msgs, Options{}); err == nil {
			t.Fatal("Expected timeout error")
		}
		if time.Since(start) > time.Second {
			t.Errorf("Timeout not enforced, took %v", time.Since(start))
		}
	})

	if WithReliability(NewStubProvider(), 0, 0).Name() != "stub" {
		t.Error("Expected wrapped name")
	}
}
