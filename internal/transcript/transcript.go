package transcript

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-practice/internal/config"
)

// ErrEmptyTranscript is returned when a source yields no text.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Fetcher resolves a source into plain transcript text.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (string, error)
}

// FetchError wraps a failed fetch with the source that caused it.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch transcript %q: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFromConfig builds the fetcher named by cfg.Mode.
func NewFromConfig(cfg config.TranscriptConfig) (Fetcher, error) {
	switch strings.ToLower(cfg.Mode) {
	case "static":
		return Static(cfg.Source), nil
	case "file":
		return FileFetcher{}, nil
	case "youtube", "":
		client := &http.Client{}
		if cfg.TimeoutMS > 0 {
			client.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
		}
		return NewYouTubeFetcher("", cfg.Language, client), nil
	default:
		return nil, fmt.Errorf("unsupported transcript mode %q", cfg.Mode)
	}
}

// Static always returns the configured text and ignores the source.
type Static string

func (s Static) Fetch(_ context.Context, _ string) (string, error) {
	text := strings.TrimSpace(string(s))
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// FileFetcher reads the transcript from a local file path.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", &FetchError{Source: source, Err: err}
	}
	text := strings.Join(strings.Fields(string(data)), " ")
	if text == "" {
		return "", &FetchError{Source: source, Err: ErrEmptyTranscript}
	}
	return text, nil
}
