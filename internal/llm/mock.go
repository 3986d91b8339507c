package llm

import (
	"context"
	"time"
)

const mockListening = "```json\n" + `{
  "conversation": [
    {"speaker": "Narrador", "text": "Marta y Julián se encuentran en la estación de tren."},
    {"speaker": "Interlocutor1", "text": "Julián, ¿sabes si el tren a Sevilla sale a tiempo?"},
    {"speaker": "Interlocutor2", "text": "Anunciaron un retraso de veinte minutos por obras en la vía."}
  ],
  "question": {
    "text": "¿Por qué se retrasa el tren?",
    "options": ["Por la lluvia", "Por obras en la vía", "Por una huelga"],
    "correctAnswer": 1
  }
}` + "\n```"

const mockReading = "```json\n" + `{
  "text": "# Un barrio que cambia\n\nEn los últimos años, el barrio de Lavapiés ha recibido a vecinos de todo el mundo. Los pequeños comercios conviven con restaurantes nuevos y los alquileres han subido.",
  "questions": [
    {"text": "¿Quién se ha mudado al barrio?", "options": ["Solo estudiantes", "Vecinos de todo el mundo", "Nadie"], "correctAnswer": 1},
    {"text": "¿Qué ha pasado con los alquileres?", "options": ["Han subido", "Han bajado", "No han cambiado"], "correctAnswer": 0},
    {"text": "¿Qué conviven con los restaurantes nuevos?", "options": ["Las fábricas", "Los colegios", "Los pequeños comercios"], "correctAnswer": 2}
  ]
}` + "\n```"

type mockGenerator struct{}

// NewMockGenerator returns a backend that replies with fixed fenced documents
// for each practice kind.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	content := mockListening
	if req.Kind == "reading" {
		content = mockReading
	}
	return consumer(Chunk{
		RequestID: req.RequestID,
		Content:   content,
		Partial:   false,
		Latency:   20 * time.Millisecond,
		TraceID:   req.TraceID,
	})
}
