package llm

import (
	"fmt"
	"strings"
)

// Prompts renders generation prompts for one target language and exam level.
type Prompts struct {
	TargetLanguage string
	ExamLevel      string
}

const systemPrompt = "You write exam preparation material. Reply with a single JSON document and nothing else."

func (p Prompts) language() string {
	if strings.TrimSpace(p.TargetLanguage) == "" {
		return "Spanish"
	}
	return p.TargetLanguage
}

func (p Prompts) level() string {
	if strings.TrimSpace(p.ExamLevel) == "" {
		return "DELE B2"
	}
	return p.ExamLevel
}

// Listening asks for a three-part conversation inspired by transcript plus one
// comprehension question.
func (p Prompts) Listening(transcript string) string {
	lang := p.language()
	return fmt.Sprintf(`Your task is to help a student prepare for the %[2]s exam. Using the transcript provided
below, generate a NEW and SHORT conversation in %[1]s along with one unique listening
comprehension question at that level. The conversation must consist of exactly three parts with
distinct voices, in this order: Narrator, Interlocutor1 (male or female), Interlocutor2 (the
opposite gender of Interlocutor1).

After the conversation, create one listening comprehension question that includes a question text
in %[1]s, exactly three answer options, and the correct answer as an index (0, 1 or 2).

Return your response strictly as JSON with exactly this structure, all text in %[1]s:

{
  "conversation": [
    {"speaker": "Narrator", "text": "<narration>"},
    {"speaker": "Interlocutor1", "text": "<dialogue>"},
    {"speaker": "Interlocutor2", "text": "<dialogue>"}
  ],
  "question": {
    "text": "<question>",
    "options": ["<option A>", "<option B>", "<option C>"],
    "correctAnswer": <0, 1 or 2>
  }
}

Use the transcript only as inspiration. The exercise must always be unique.

Transcript: %[3]s
`, lang, p.level(), strings.TrimSpace(transcript))
}

// Reading asks for a short markdown passage and three questions.
func (p Prompts) Reading() string {
	lang := p.language()
	return fmt.Sprintf(`Your task is to help a student prepare for the %[2]s exam. Write a NEW and SHORT reading
passage in %[1]s, formatted as markdown with a heading, followed by exactly three reading
comprehension questions at that level. Each question has exactly three answer options and the
correct answer given as an index (0, 1 or 2).

Return your response strictly as JSON with exactly this structure, all text in %[1]s:

{
  "text": "<markdown passage>",
  "questions": [
    {"text": "<question>", "options": ["<A>", "<B>", "<C>"], "correctAnswer": <0, 1 or 2>},
    {"text": "<question>", "options": ["<A>", "<B>", "<C>"], "correctAnswer": <0, 1 or 2>},
    {"text": "<question>", "options": ["<A>", "<B>", "<C>"], "correctAnswer": <0, 1 or 2>}
  ]
}

The passage and questions must always be unique.
`, lang, p.level())
}
