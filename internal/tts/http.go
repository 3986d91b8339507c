package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-practice/internal/retry"
)

type httpSynth struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

type speechRequest struct {
	Model  string `json:"model"`
	Input  string `json:"input"`
	Voice  string `json:"voice"`
	Format string `json:"response_format,omitempty"`
}

// NewHTTPSynth talks to an OpenAI-compatible /v1/audio/speech endpoint such
// as Kokoro or OpenAI itself.
func NewHTTPSynth(endpoint, apiKey, model string, client *http.Client) Synthesizer {
	if model == "" {
		model = "tts-1"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSynth{endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey, model: model, client: client}
}

func (h *httpSynth) Format() string { return FormatMP3 }

func (h *httpSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:  h.model,
		Input:  req.Text,
		Voice:  req.Voice,
		Format: FormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("tts endpoint error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if retry.PermanentStatus(resp.StatusCode) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("tts endpoint returned empty audio")
	}
	return data, nil
}
