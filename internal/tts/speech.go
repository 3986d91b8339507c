package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-practice/internal/audio"
	"github.com/loqalabs/loqa-practice/internal/config"
	"github.com/loqalabs/loqa-practice/internal/content"
	"github.com/loqalabs/loqa-practice/internal/retry"
)

// SynthesisError reports the turn whose synthesis failed.
type SynthesisError struct {
	Ordinal int
	Speaker content.Speaker
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize turn %d (%s): %v", e.Ordinal, e.Speaker, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Voices maps conversation roles to backend voice identifiers.
type Voices map[content.Speaker]string

func VoicesFromConfig(cfg config.Voices) Voices {
	return Voices{
		content.Narrator:      cfg.Narrator,
		content.Interlocutor1: cfg.Interlocutor1,
		content.Interlocutor2: cfg.Interlocutor2,
	}
}

// Result lists the clips written for one conversation.
type Result struct {
	Segments []audio.Segment
	Skipped  int
	Format   string
}

// SpeechSynthesizer renders conversation turns into per-turn clip files.
type SpeechSynthesizer struct {
	backend Synthesizer
	voices  Voices
	policy  retry.Policy
	logger  *slog.Logger
}

func NewSpeechSynthesizer(backend Synthesizer, voices Voices, policy retry.Policy, logger *slog.Logger) *SpeechSynthesizer {
	return &SpeechSynthesizer{
		backend: backend,
		voices:  voices,
		policy:  policy,
		logger:  logger.With(slog.String("component", "speech-synthesizer")),
	}
}

// Format is the container format of the clips this synthesizer writes.
func (s *SpeechSynthesizer) Format() string { return s.backend.Format() }

// Synthesize renders turns in order into dir, naming each clip
// {requestID}_{ordinal}.{format}. Turns whose speaker has no voice are skipped.
// The first failure removes every clip already written and returns a
// SynthesisError.
func (s *SpeechSynthesizer) Synthesize(ctx context.Context, requestID, dir string, turns []content.Turn) (Result, error) {
	result := Result{Format: s.backend.Format()}
	for _, turn := range turns {
		voice, ok := s.voices[turn.Speaker]
		if !ok || voice == "" {
			result.Skipped++
			s.logger.Warn("no voice mapped for speaker, skipping turn",
				slog.String("request_id", requestID),
				slog.Int("ordinal", turn.Ordinal),
				slog.String("speaker", string(turn.Speaker)))
			continue
		}

		path := filepath.Join(dir, audio.SegmentName(requestID, turn.Ordinal, result.Format))
		if err := s.render(ctx, requestID, voice, turn, path); err != nil {
			if rmErr := audio.RemoveSegments(result.Segments); rmErr != nil {
				s.logger.Warn("failed to remove segments", slog.String("request_id", requestID), slogError(rmErr))
			}
			return Result{Skipped: result.Skipped, Format: result.Format}, &SynthesisError{Ordinal: turn.Ordinal, Speaker: turn.Speaker, Err: err}
		}
		result.Segments = append(result.Segments, audio.Segment{Ordinal: turn.Ordinal, Path: path})
	}
	return result, nil
}

func (s *SpeechSynthesizer) render(ctx context.Context, requestID, voice string, turn content.Turn, path string) error {
	policy := s.policy
	policy.Notify = func(n retry.Notice) {
		s.logger.Warn("synthesis attempt failed, retrying",
			slog.String("request_id", requestID),
			slog.Int("ordinal", turn.Ordinal),
			slog.Int("attempt", n.Attempt),
			slog.Duration("delay", n.Delay),
			slogError(n.Err))
	}

	start := time.Now()
	data, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		data, err := s.backend.Synthesize(ctx, SynthRequest{RequestID: requestID, Text: turn.Text, Voice: voice})
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("backend returned empty audio")
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write segment: %w", err)
	}
	s.logger.Debug("turn synthesized",
		slog.String("request_id", requestID),
		slog.Int("ordinal", turn.Ordinal),
		slog.Int("bytes", len(data)),
		slog.Duration("latency", time.Since(start)))
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
