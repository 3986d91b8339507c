package tts

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-practice/internal/config"
)

// Container formats reported by backends.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	RequestID string
	Text      string
	Voice     string
}

// Synthesizer is the contract for producing audio. Every clip a backend
// returns is encoded in the container named by Format.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
	Format() string
}

// NewFromConfig selects the backend named by cfg.Mode.
func NewFromConfig(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock", "":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "polly":
		return NewPollySynth(ctx, cfg.Region, cfg.LanguageCode, cfg.Engine)
	case "http":
		client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
		return NewHTTPSynth(cfg.Endpoint, cfg.APIKey, cfg.Model, client), nil
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}
