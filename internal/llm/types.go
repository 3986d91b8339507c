package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-practice/internal/config"
)

// Request describes a language model prompt.
type Request struct {
	RequestID   string
	Kind        string
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
	TraceID     string
}

// Chunk represents streamed model output.
type Chunk struct {
	RequestID        string
	Content          string
	Partial          bool
	PromptTokens     int
	CompletionTokens int
	Latency          time.Duration
	TraceID          string
}

// Generator defines a pluggable LLM backend.
type Generator interface {
	Generate(ctx context.Context, req Request, consumer func(Chunk) error) error
}

// NewFromConfig selects the backend named by cfg.Mode.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	switch cfg.Mode {
	case "mock", "":
		return NewMockGenerator(), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model, client), nil
	case "gemini":
		return NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, client)
	case "openai":
		return NewOpenAIGenerator(cfg.APIKey, cfg.Endpoint, cfg.Model, client), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
