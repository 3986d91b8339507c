package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-practice/internal/proc"
)

type execSynth struct {
	argv       []string
	sampleRate int
	channels   int
}

type execClipRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// execFrame is one line of command output. PCM is raw 16-bit little endian
// samples; encoding/json decodes the base64 payload into bytes.
type execFrame struct {
	PCM   []byte `json:"pcm_base64"`
	Final bool   `json:"final"`
	Error string `json:"error,omitempty"`
}

// NewExecSynth runs an external command per clip. The command reads one JSON
// request on stdin and writes NDJSON frames of PCM on stdout until a frame
// marked final or end of output.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{argv: argv, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Format() string { return FormatWAV }

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	input, err := json.Marshal(execClipRequest{
		RequestID:  req.RequestID,
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := proc.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Env = append(os.Environ(), "PRACTICE_VOICE="+req.Voice)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tts exec %s failed: %w; stderr=%s", e.argv[0], err, bytes.TrimSpace(stderr.Bytes()))
	}

	pcm, err := collectPCM(&stdout)
	if err != nil {
		return nil, err
	}
	return encodeWAV(pcm, e.sampleRate, e.channels)
}

func collectPCM(r io.Reader) ([]byte, error) {
	var pcm []byte
	dec := json.NewDecoder(r)
	for {
		var frame execFrame
		err := dec.Decode(&frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}
		if frame.Error != "" {
			return nil, fmt.Errorf("tts command: %s", frame.Error)
		}
		pcm = append(pcm, frame.PCM...)
		if frame.Final {
			break
		}
	}
	if len(pcm) == 0 {
		return nil, errors.New("tts command produced no audio")
	}
	return pcm, nil
}
