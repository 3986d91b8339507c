package content

import (
	"errors"
	"strings"
	"testing"
)

const validListening = `{
  "conversation": [
    {"speaker": "Narrator", "text": "Dos amigos hablan en una cafetería."},
    {"speaker": "Interlocutor1", "text": "¿Has visto la nueva exposición?"},
    {"speaker": "Interlocutor2", "text": "Sí, fui el sábado con mi hermana."}
  ],
  "question": {
    "text": "¿Cuándo fue a la exposición?",
    "options": ["El viernes", "El sábado", "El domingo"],
    "correctAnswer": 1
  }
}`

const validReading = `{
  "text": "# El mercado\n\nCada domingo el mercado se llena de gente.",
  "questions": [
    {"text": "¿Qué día abre?", "options": ["Lunes", "Sábado", "Domingo"], "correctAnswer": 2},
    {"text": "¿Cómo está el mercado?", "options": ["Vacío", "Lleno", "Cerrado"], "correctAnswer": 1},
    {"text": "¿Qué se vende?", "options": ["Fruta", "Coches", "Casas"], "correctAnswer": 0}
  ]
}`

func TestValidateListening(t *testing.T) {
	g, err := Validate(validListening, KindListening)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if g.Kind != KindListening || g.Listening == nil || g.Reading != nil {
		t.Fatalf("unexpected variant: %+v", g)
	}
	turns := g.Turns()
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	for i, turn := range turns {
		if turn.Ordinal != i {
			t.Fatalf("turn %d has ordinal %d", i, turn.Ordinal)
		}
		if turn.Speaker != SpeakerOrder[i] {
			t.Fatalf("turn %d speaker %s", i, turn.Speaker)
		}
	}
	if g.Listening.Question.CorrectAnswer != 1 {
		t.Fatalf("unexpected answer %d", g.Listening.Question.CorrectAnswer)
	}
}

func TestValidateStripsFence(t *testing.T) {
	plain, err := Validate(validListening, KindListening)
	if err != nil {
		t.Fatalf("validate plain: %v", err)
	}
	for _, fenced := range []string{
		"```json\n" + validListening + "\n```",
		"```\n" + validListening + "\n```",
		"  ```JSON\n" + validListening + "```  \n",
	} {
		g, err := Validate(fenced, KindListening)
		if err != nil {
			t.Fatalf("validate fenced: %v", err)
		}
		if g.Listening.Question.Text != plain.Listening.Question.Text {
			t.Fatalf("fenced content differs from plain content")
		}
	}
}

func TestValidateAcceptsNarradorAlias(t *testing.T) {
	text := strings.Replace(validListening, `"speaker": "Narrator"`, `"speaker": "Narrador"`, 1)
	g, err := Validate(text, KindListening)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if g.Listening.Conversation[0].Speaker != Narrator {
		t.Fatalf("expected alias to map onto Narrator, got %s", g.Listening.Conversation[0].Speaker)
	}
}

func TestValidateReading(t *testing.T) {
	g, err := Validate(validReading, KindReading)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(g.Reading.Questions) != 3 {
		t.Fatalf("expected 3 questions")
	}
	if got := Title(g); got != "El mercado" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		text  string
		check string
		field string
	}{
		{
			name:  "missing question",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"b"},{"speaker":"Interlocutor2","text":"c"}]}`,
			check: CheckMissingField,
			field: "question",
		},
		{
			name:  "missing conversation",
			kind:  KindListening,
			text:  `{"question":{"text":"q","options":["a","b","c"],"correctAnswer":0}}`,
			check: CheckMissingField,
			field: "conversation",
		},
		{
			name:  "two turns",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"b"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":0}}`,
			check: CheckTurnCount,
			field: "conversation",
		},
		{
			name:  "wrong speaker order",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor2","text":"b"},{"speaker":"Interlocutor1","text":"c"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":0}}`,
			check: CheckSpeaker,
			field: "conversation[1].speaker",
		},
		{
			name:  "unknown speaker",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Host","text":"a"},{"speaker":"Interlocutor1","text":"b"},{"speaker":"Interlocutor2","text":"c"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":0}}`,
			check: CheckSpeaker,
			field: "conversation[0].speaker",
		},
		{
			name:  "blank turn",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"  "},{"speaker":"Interlocutor2","text":"c"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":0}}`,
			check: CheckEmptyText,
			field: "conversation[1].text",
		},
		{
			name:  "four options",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"b"},{"speaker":"Interlocutor2","text":"c"}],"question":{"text":"q","options":["a","b","c","d"],"correctAnswer":0}}`,
			check: CheckOptionCount,
			field: "question.options",
		},
		{
			name:  "answer out of range",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"b"},{"speaker":"Interlocutor2","text":"c"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":3}}`,
			check: CheckAnswerRange,
			field: "question.correctAnswer",
		},
		{
			name:  "negative answer",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"b"},{"speaker":"Interlocutor2","text":"c"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":-1}}`,
			check: CheckAnswerRange,
			field: "question.correctAnswer",
		},
		{
			name:  "unknown field",
			kind:  KindListening,
			text:  `{"conversation":[{"speaker":"Narrator","text":"a"},{"speaker":"Interlocutor1","text":"b"},{"speaker":"Interlocutor2","text":"c"}],"question":{"text":"q","options":["a","b","c"],"correctAnswer":0},"difficulty":"B2"}`,
			check: CheckUnknownField,
			field: "difficulty",
		},
		{
			name:  "not json",
			kind:  KindListening,
			text:  "Lo siento, no puedo ayudar con eso.",
			check: CheckParse,
		},
		{
			name:  "trailing data",
			kind:  KindReading,
			text:  validReading + ` {}`,
			check: CheckParse,
		},
		{
			name:  "two reading questions",
			kind:  KindReading,
			text:  `{"text":"t","questions":[{"text":"q","options":["a","b","c"],"correctAnswer":0},{"text":"q","options":["a","b","c"],"correctAnswer":0}]}`,
			check: CheckQuestionCount,
			field: "questions",
		},
		{
			name:  "reading question missing answer",
			kind:  KindReading,
			text:  `{"text":"t","questions":[{"text":"q","options":["a","b","c"],"correctAnswer":0},{"text":"q","options":["a","b","c"]},{"text":"q","options":["a","b","c"],"correctAnswer":0}]}`,
			check: CheckMissingField,
			field: "questions[1].correctAnswer",
		},
		{
			name:  "listening document for reading",
			kind:  KindReading,
			text:  validListening,
			check: CheckUnknownField,
			field: "conversation",
		},
		{
			name:  "unknown kind",
			kind:  Kind("writing"),
			text:  validReading,
			check: CheckKind,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.text, tc.kind)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Check != tc.check {
				t.Fatalf("expected check %s, got %s (%v)", tc.check, verr.Check, verr)
			}
			if tc.field != "" && verr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, verr.Field)
			}
		})
	}
}

func TestEncodeDecodeKeepsWireNames(t *testing.T) {
	g, err := Validate(validListening, KindListening)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	doc, err := Encode(g)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(doc), `"correctAnswer":1`) {
		t.Fatalf("expected correctAnswer key in %s", doc)
	}
	if strings.Contains(string(doc), "Ordinal") {
		t.Fatalf("ordinal leaked into document: %s", doc)
	}
	back, err := Decode(KindListening, doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Listening.Conversation[2].Ordinal != 2 {
		t.Fatalf("ordinals not restored")
	}
	if _, err := Validate(string(doc), KindListening); err != nil {
		t.Fatalf("stored document no longer validates: %v", err)
	}
}

func TestTitleTruncates(t *testing.T) {
	long := strings.Repeat("palabra ", 30)
	g := Generated{Kind: KindListening, Listening: &ListeningContent{Question: Question{Text: long}}}
	title := Title(g)
	if n := len([]rune(title)); n > maxTitleRunes {
		t.Fatalf("title has %d runes", n)
	}
	if !strings.HasSuffix(title, "…") {
		t.Fatalf("expected ellipsis, got %q", title)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(" Listening "); err != nil || k != KindListening {
		t.Fatalf("unexpected result %q %v", k, err)
	}
	if _, err := ParseKind("writing"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
