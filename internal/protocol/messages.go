package protocol

import (
	"encoding/json"
	"time"
)

// GenerateRequest asks a worker to produce one practice.
type GenerateRequest struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

// GetRequest asks for one stored practice.
type GetRequest struct {
	ID string `json:"id"`
}

// ErrorBody is the failure half of a reply.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Reply answers every request subject. Exactly one of Result or Error is set.
type Reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// StateEvent is broadcast on every pipeline transition.
type StateEvent struct {
	RequestID  string    `json:"request_id"`
	Type       string    `json:"type"`
	State      string    `json:"state"`
	PracticeID string    `json:"practice_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PracticeCreated announces a newly stored practice.
type PracticeCreated struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	AudioPath string    `json:"audio_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectGenerate      = "practice.generate"
	SubjectList          = "practice.list"
	SubjectGet           = "practice.get"
	SubjectStatePrefix   = "practice.state"
	SubjectCreated       = "practice.created"
	StreamPracticeEvents = "PRACTICE_EVENTS"
)

// StateSubject returns the subject a transition into state is published on.
func StateSubject(state string) string {
	return SubjectStatePrefix + "." + state
}
