package content

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies which exercise variant a piece of content belongs to.
type Kind string

const (
	KindListening Kind = "listening"
	KindReading   Kind = "reading"
)

// ParseKind maps a request string onto a known Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindListening:
		return KindListening, nil
	case KindReading:
		return KindReading, nil
	default:
		return "", fmt.Errorf("unknown practice type %q", value)
	}
}

// Speaker is one of the three conversation roles.
type Speaker string

const (
	Narrator      Speaker = "Narrator"
	Interlocutor1 Speaker = "Interlocutor1"
	Interlocutor2 Speaker = "Interlocutor2"
)

// SpeakerOrder is the fixed order speakers take in a listening conversation.
var SpeakerOrder = []Speaker{Narrator, Interlocutor1, Interlocutor2}

// Turn is one attributed line of dialogue. Ordinal is its position in the conversation.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Ordinal int     `json:"-"`
}

type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

type ListeningContent struct {
	Conversation []Turn   `json:"conversation"`
	Question     Question `json:"question"`
}

type ReadingContent struct {
	Text      string     `json:"text"`
	Questions []Question `json:"questions"`
}

// Generated is the tagged union of the two content variants. Exactly one of
// Listening or Reading is set, matching Kind.
type Generated struct {
	Kind      Kind
	Listening *ListeningContent
	Reading   *ReadingContent
}

func (g Generated) MarshalJSON() ([]byte, error) {
	switch g.Kind {
	case KindListening:
		if g.Listening == nil {
			return nil, fmt.Errorf("listening content missing")
		}
		return json.Marshal(g.Listening)
	case KindReading:
		if g.Reading == nil {
			return nil, fmt.Errorf("reading content missing")
		}
		return json.Marshal(g.Reading)
	default:
		return nil, fmt.Errorf("unknown content kind %q", g.Kind)
	}
}

// Turns returns the conversation turns of listening content, or nil.
func (g Generated) Turns() []Turn {
	if g.Kind != KindListening || g.Listening == nil {
		return nil
	}
	return g.Listening.Conversation
}

// Decode reads a stored document back into content of the given kind. Unlike
// Validate it trusts the document; it only restores turn ordinals.
func Decode(kind Kind, data []byte) (Generated, error) {
	switch kind {
	case KindListening:
		var l ListeningContent
		if err := json.Unmarshal(data, &l); err != nil {
			return Generated{}, fmt.Errorf("decode listening content: %w", err)
		}
		for i := range l.Conversation {
			l.Conversation[i].Ordinal = i
		}
		return Generated{Kind: kind, Listening: &l}, nil
	case KindReading:
		var r ReadingContent
		if err := json.Unmarshal(data, &r); err != nil {
			return Generated{}, fmt.Errorf("decode reading content: %w", err)
		}
		return Generated{Kind: kind, Reading: &r}, nil
	default:
		return Generated{}, fmt.Errorf("unknown content kind %q", kind)
	}
}

const maxTitleRunes = 80

// Title derives a short display label: the first heading or line of a reading
// passage, or the question text of a listening exercise.
func Title(g Generated) string {
	var title string
	switch g.Kind {
	case KindListening:
		if g.Listening != nil {
			title = g.Listening.Question.Text
		}
	case KindReading:
		if g.Reading != nil {
			title = readingTitle(g.Reading.Text)
		}
	}
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
	}
	return title
}

func readingTitle(text string) string {
	var first string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if first == "" {
			first = line
		}
	}
	return first
}
