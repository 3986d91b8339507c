package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-practice/internal/proc"
)

type execGenerator struct {
	argv []string
}

type execRequest struct {
	RequestID   string  `json:"request_id"`
	Kind        string  `json:"kind"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execReply struct {
	Content          *string `json:"content"`
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
}

// NewExecGenerator runs command once per request with the request as JSON on
// stdin. The command may answer with {"content": ...} or with plain text,
// which lets CLI model runners be used unchanged.
func NewExecGenerator(command string) (Generator, error) {
	argv, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{argv: argv}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execRequest{
		RequestID:   req.RequestID,
		Kind:        req.Kind,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	cmd := proc.CommandContext(ctx, g.argv[0], g.argv[1:]...)
	cmd.Env = append(os.Environ(), "PRACTICE_KIND="+req.Kind, "PRACTICE_REQUEST_ID="+req.RequestID)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("llm exec %s failed: %w; stderr=%s", g.argv[0], err, bytes.TrimSpace(stderr.Bytes()))
	}

	chunk := Chunk{RequestID: req.RequestID, TraceID: req.TraceID, Latency: time.Since(start)}
	var reply execReply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err == nil && reply.Content != nil {
		chunk.Content = *reply.Content
		chunk.PromptTokens = reply.PromptTokens
		chunk.CompletionTokens = reply.CompletionTokens
	} else {
		chunk.Content = stdout.String()
	}
	return consumer(chunk)
}
