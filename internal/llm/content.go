package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/retry"
)

// ErrEmptyOutput is returned when a backend completes without any text.
var ErrEmptyOutput = errors.New("generation backend returned empty text")

// GenerationError wraps any failure to obtain candidate text.
type GenerationError struct {
	Kind content.Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s content: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ContentOptions tunes requests sent to the backend.
type ContentOptions struct {
	Prompts     Prompts
	MaxTokens   int
	Temperature float64
	Retry       retry.Policy
}

// ContentGenerator turns a practice request into cleaned candidate text.
type ContentGenerator struct {
	backend Generator
	opts    ContentOptions
	logger  *slog.Logger
}

func NewContentGenerator(backend Generator, opts ContentOptions, logger *slog.Logger) *ContentGenerator {
	return &ContentGenerator{
		backend: backend,
		opts:    opts,
		logger:  logger.With(slog.String("component", "content-generator")),
	}
}

// Generate prompts the backend for kind and returns its output with any code
// fence removed. transcript is only used for listening content.
func (g *ContentGenerator) Generate(ctx context.Context, requestID string, kind content.Kind, transcript string) (string, error) {
	var prompt string
	switch kind {
	case content.KindListening:
		prompt = g.opts.Prompts.Listening(transcript)
	case content.KindReading:
		prompt = g.opts.Prompts.Reading()
	default:
		return "", &GenerationError{Kind: kind, Err: fmt.Errorf("unsupported kind %q", kind)}
	}

	req := Request{
		RequestID:   requestID,
		Kind:        string(kind),
		Prompt:      prompt,
		System:      systemPrompt,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}

	policy := g.opts.Retry
	policy.Notify = func(n retry.Notice) {
		g.logger.Warn("generation attempt failed, retrying",
			slog.String("request_id", requestID),
			slog.Int("attempt", n.Attempt),
			slog.Int("total", n.Total),
			slog.Duration("delay", n.Delay),
			slogError(n.Err))
	}

	text, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		var sb strings.Builder
		err := g.backend.Generate(ctx, req, func(chunk Chunk) error {
			sb.WriteString(chunk.Content)
			return nil
		})
		if err != nil {
			return "", err
		}
		text := content.StripFence(sb.String())
		if text == "" {
			return "", ErrEmptyOutput
		}
		return text, nil
	})
	if err != nil {
		return "", &GenerationError{Kind: kind, Err: err}
	}
	g.logger.Debug("generation complete", slog.String("request_id", requestID), slog.Int("bytes", len(text)))
	return text, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
