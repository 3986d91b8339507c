package tts

import (
	"context"
	"time"
	"unicode/utf8"
)

const (
	mockPerRune  = 40 * time.Millisecond
	mockMinClip  = 250 * time.Millisecond
	mockLatency  = 10 * time.Millisecond
	bytesPerSamp = 2
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a backend producing silent WAV clips whose length
// follows the text length.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Format() string { return FormatWAV }

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mockLatency):
	}
	length := time.Duration(utf8.RuneCountInString(req.Text)) * mockPerRune
	if length < mockMinClip {
		length = mockMinClip
	}
	samples := int(length.Seconds() * float64(m.sampleRate))
	pcm := make([]byte, samples*m.channels*bytesPerSamp)
	return encodeWAV(pcm, m.sampleRate, m.channels)
}
