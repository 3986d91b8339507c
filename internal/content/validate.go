package content

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Validation checks reported in ValidationError.Check.
const (
	CheckParse         = "parse"
	CheckMissingField  = "missing_field"
	CheckUnknownField  = "unknown_field"
	CheckTurnCount     = "turn_count"
	CheckSpeaker       = "speaker"
	CheckEmptyText     = "empty_text"
	CheckOptionCount   = "option_count"
	CheckAnswerRange   = "answer_range"
	CheckQuestionCount = "question_count"
	CheckKind          = "kind"
)

const (
	conversationLength = 3
	optionCount        = 3
	readingQuestions   = 3
)

// ValidationError reports the first invariant a candidate document broke.
type ValidationError struct {
	Check  string
	Field  string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "content validation failed: " + e.Check
	if e.Field != "" {
		msg += " at " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(check, field, format string, args ...any) *ValidationError {
	return &ValidationError{Check: check, Field: field, Detail: fmt.Sprintf(format, args...)}
}

// speakerAliases lists accepted labels besides the canonical role names.
var speakerAliases = map[string]Speaker{
	"Narrador": Narrator,
}

type wireTurn struct {
	Speaker *string `json:"speaker"`
	Text    *string `json:"text"`
}

type wireQuestion struct {
	Text          *string   `json:"text"`
	Options       *[]string `json:"options"`
	CorrectAnswer *int      `json:"correctAnswer"`
}

type wireListening struct {
	Conversation *[]wireTurn   `json:"conversation"`
	Question     *wireQuestion `json:"question"`
}

type wireReading struct {
	Text      *string         `json:"text"`
	Questions *[]wireQuestion `json:"questions"`
}

// Validate strips an optional code fence from text, decodes it strictly and
// checks every structural invariant for the expected kind.
func Validate(text string, kind Kind) (Generated, error) {
	body := StripFence(text)
	switch kind {
	case KindListening:
		var w wireListening
		if err := decodeStrict(body, &w); err != nil {
			return Generated{}, err
		}
		l, err := w.build()
		if err != nil {
			return Generated{}, err
		}
		return Generated{Kind: KindListening, Listening: l}, nil
	case KindReading:
		var w wireReading
		if err := decodeStrict(body, &w); err != nil {
			return Generated{}, err
		}
		r, err := w.build()
		if err != nil {
			return Generated{}, err
		}
		return Generated{Kind: KindReading, Reading: r}, nil
	default:
		return Generated{}, invalid(CheckKind, "", "unsupported content kind %q", kind)
	}
}

// StripFence removes a surrounding markdown code fence (``` or ```json).
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || isFenceTag(tag) {
			s = s[nl+1:]
		}
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isFenceTag(tag string) bool {
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func decodeStrict(body string, into any) error {
	if body == "" {
		return invalid(CheckParse, "", "empty document")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		if field, ok := unknownField(err); ok {
			return &ValidationError{Check: CheckUnknownField, Field: field, Detail: "field not part of the schema", Err: err}
		}
		return &ValidationError{Check: CheckParse, Detail: err.Error(), Err: err}
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return invalid(CheckParse, "", "unexpected data after document")
	}
	return nil
}

func unknownField(err error) (string, bool) {
	const prefix = "json: unknown field "
	msg := err.Error()
	if !strings.HasPrefix(msg, prefix) {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(msg, prefix), `"`), true
}

func (w wireListening) build() (*ListeningContent, error) {
	if w.Conversation == nil {
		return nil, invalid(CheckMissingField, "conversation", "required")
	}
	if w.Question == nil {
		return nil, invalid(CheckMissingField, "question", "required")
	}
	turns := *w.Conversation
	if len(turns) != conversationLength {
		return nil, invalid(CheckTurnCount, "conversation", "expected %d turns, got %d", conversationLength, len(turns))
	}
	out := &ListeningContent{Conversation: make([]Turn, 0, len(turns))}
	for i, t := range turns {
		field := fmt.Sprintf("conversation[%d]", i)
		if t.Speaker == nil {
			return nil, invalid(CheckMissingField, field+".speaker", "required")
		}
		if t.Text == nil {
			return nil, invalid(CheckMissingField, field+".text", "required")
		}
		speaker, ok := canonicalSpeaker(*t.Speaker)
		if !ok {
			return nil, invalid(CheckSpeaker, field+".speaker", "unknown speaker %q", *t.Speaker)
		}
		if speaker != SpeakerOrder[i] {
			return nil, invalid(CheckSpeaker, field+".speaker", "expected %s, got %s", SpeakerOrder[i], speaker)
		}
		if strings.TrimSpace(*t.Text) == "" {
			return nil, invalid(CheckEmptyText, field+".text", "turn text is blank")
		}
		out.Conversation = append(out.Conversation, Turn{Speaker: speaker, Text: *t.Text, Ordinal: i})
	}
	q, err := w.Question.build("question")
	if err != nil {
		return nil, err
	}
	out.Question = q
	return out, nil
}

func (w wireReading) build() (*ReadingContent, error) {
	if w.Text == nil {
		return nil, invalid(CheckMissingField, "text", "required")
	}
	if w.Questions == nil {
		return nil, invalid(CheckMissingField, "questions", "required")
	}
	if strings.TrimSpace(*w.Text) == "" {
		return nil, invalid(CheckEmptyText, "text", "reading passage is blank")
	}
	questions := *w.Questions
	if len(questions) != readingQuestions {
		return nil, invalid(CheckQuestionCount, "questions", "expected %d questions, got %d", readingQuestions, len(questions))
	}
	out := &ReadingContent{Text: *w.Text, Questions: make([]Question, 0, len(questions))}
	for i, wq := range questions {
		q, err := wq.build(fmt.Sprintf("questions[%d]", i))
		if err != nil {
			return nil, err
		}
		out.Questions = append(out.Questions, q)
	}
	return out, nil
}

func (w wireQuestion) build(field string) (Question, error) {
	if w.Text == nil {
		return Question{}, invalid(CheckMissingField, field+".text", "required")
	}
	if w.Options == nil {
		return Question{}, invalid(CheckMissingField, field+".options", "required")
	}
	if w.CorrectAnswer == nil {
		return Question{}, invalid(CheckMissingField, field+".correctAnswer", "required")
	}
	if strings.TrimSpace(*w.Text) == "" {
		return Question{}, invalid(CheckEmptyText, field+".text", "question text is blank")
	}
	options := *w.Options
	if len(options) != optionCount {
		return Question{}, invalid(CheckOptionCount, field+".options", "expected %d options, got %d", optionCount, len(options))
	}
	for i, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return Question{}, invalid(CheckEmptyText, fmt.Sprintf("%s.options[%d]", field, i), "option is blank")
		}
	}
	answer := *w.CorrectAnswer
	if answer < 0 || answer >= optionCount {
		return Question{}, invalid(CheckAnswerRange, field+".correctAnswer", "index %d outside [0,%d]", answer, optionCount-1)
	}
	return Question{Text: *w.Text, Options: append([]string(nil), options...), CorrectAnswer: answer}, nil
}

func canonicalSpeaker(label string) (Speaker, bool) {
	label = strings.TrimSpace(label)
	for _, s := range SpeakerOrder {
		if label == string(s) {
			return s, true
		}
	}
	s, ok := speakerAliases[label]
	return s, ok
}

// Encode serializes validated content into its stored document form.
func Encode(g Generated) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(g); err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
