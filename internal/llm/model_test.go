package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/lorekeeper/internal/config"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("extract: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

type fakeLLM struct {
	response *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	return f.response, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestComplete(t *testing.T) {
	fake := &fakeLLM{response: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        `{"npcs":[]}`,
		GenerationInfo: map[string]any{"PromptTokens": 120, "CompletionTokens": 8},
	}}}}
	m := NewModelFromLLM(fake, "test-model", 0.3)

	gen, err := m.ExtractEntities(context.Background(), "Aria: hello")
	if err != nil {
		t.Fatalf("ExtractEntities() error = %v", err)
	}
	if gen.Content != `{"npcs":[]}` {
		t.Errorf("Content = %q", gen.Content)
	}
	if gen.InputTokens != 120 || gen.OutputTokens != 8 {
		t.Errorf("tokens = %d/%d, want 120/8", gen.InputTokens, gen.OutputTokens)
	}
	if len(fake.messages) != 2 || fake.messages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("expected system and human messages, got %+v", fake.messages)
	}
	if fake.opts.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", fake.opts.Temperature)
	}
	if m.Model() != "test-model" {
		t.Errorf("Model() = %q", m.Model())
	}
}

func TestCompleteErrors(t *testing.T) {
	t.Run("fatal provider error", func(t *testing.T) {
		m := NewModelFromLLM(&fakeLLM{err: errors.New("HTTP 401: invalid api key")}, "m", 0)
		_, err := m.Complete(context.Background(), "sys", "user")
		if !errors.Is(err, ErrFatalAPI) {
			t.Errorf("expected ErrFatalAPI, got %v", err)
		}
	})

	t.Run("transient provider error", func(t *testing.T) {
		m := NewModelFromLLM(&fakeLLM{err: errors.New("connection reset by peer")}, "m", 0)
		_, err := m.Complete(context.Background(), "sys", "user")
		if err == nil || errors.Is(err, ErrFatalAPI) {
			t.Errorf("expected non-fatal error, got %v", err)
		}
	})

	t.Run("no choices", func(t *testing.T) {
		m := NewModelFromLLM(&fakeLLM{response: &llms.ContentResponse{}}, "m", 0)
		if _, err := m.GenerateWithSystem(context.Background(), "sys", "user"); err == nil {
			t.Error("expected error for empty choices")
		}
	})
}

func TestNewModelValidation(t *testing.T) {
	cfg := config.Default()
	cfg.LLMProvider = config.ProviderOpenAI
	if _, err := NewModel(context.Background(), cfg); err == nil {
		t.Error("expected error without OpenAI key")
	}

	cfg.LLMProvider = "gemini"
	if _, err := NewModel(context.Background(), cfg); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
