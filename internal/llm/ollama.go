package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-practice/internal/retry"
)

const (
	defaultOllamaModel    = "llama3.2:latest"
	defaultOllamaEndpoint = "http://localhost:11434"
)

// ollamaGenerator talks to the Ollama chat API and relays each streamed
// message fragment as a Chunk.
type ollamaGenerator struct {
	chatURL string
	model   string
	client  *http.Client
}

func NewOllamaGenerator(endpoint, model string, client *http.Client) Generator {
	// A hosted model name left over from another mode is not served locally.
	if model == "" || strings.HasPrefix(model, "gemini") || strings.HasPrefix(model, "gpt-") {
		model = defaultOllamaModel
	}
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaGenerator{
		chatURL: strings.TrimRight(endpoint, "/") + "/api/chat",
		model:   model,
		client:  client,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChat struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaFrame struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaGenerator) chatBody(req Request) ([]byte, error) {
	chat := ollamaChat{Model: g.model, Stream: true, Format: "json"}
	if req.System != "" {
		chat.Messages = append(chat.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	chat.Messages = append(chat.Messages, ollamaMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 || req.MaxTokens > 0 {
		chat.Options = map[string]any{}
		if req.Temperature > 0 {
			chat.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			chat.Options["num_predict"] = req.MaxTokens
		}
	}
	return json.Marshal(chat)
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	body, err := g.chatBody(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.chatURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("ollama chat %s: %s", resp.Status, bytes.TrimSpace(detail))
		if retry.PermanentStatus(resp.StatusCode) {
			return retry.Permanent(err)
		}
		return err
	}

	// The stream is newline-delimited JSON; a decoder reads it frame by frame.
	dec := json.NewDecoder(resp.Body)
	for {
		var frame ollamaFrame
		if err := dec.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("decode ollama frame: %w", err)
		}
		if frame.Error != "" {
			return fmt.Errorf("ollama: %s", frame.Error)
		}
		err := consumer(Chunk{
			RequestID:        req.RequestID,
			TraceID:          req.TraceID,
			Content:          frame.Message.Content,
			Partial:          !frame.Done,
			PromptTokens:     frame.PromptEvalCount,
			CompletionTokens: frame.EvalCount,
			Latency:          time.Since(start),
		})
		if err != nil || frame.Done {
			return err
		}
	}
}
