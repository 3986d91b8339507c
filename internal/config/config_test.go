package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("expected sqlite store, got %q", cfg.Store.Backend)
	}
	if !cfg.Store.UniqueIDs {
		t.Fatal("expected unique ids enabled by default")
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Fatalf("expected single attempt by default, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRACTICE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("PRACTICE_BUS_ENABLED", "true")
	t.Setenv("PRACTICE_STORE_BACKEND", "redis")
	t.Setenv("PRACTICE_STORE_REDIS_ADDR", "cache:6379")
	t.Setenv("PRACTICE_STORE_UNIQUE_IDS", "false")
	t.Setenv("PRACTICE_LLM_MODE", "exec")
	t.Setenv("PRACTICE_LLM_COMMAND", "python3 gen.py")
	t.Setenv("PRACTICE_LLM_TEMPERATURE", "0.2")
	t.Setenv("PRACTICE_TTS_VOICE_NARRATOR", "Mia")
	t.Setenv("PRACTICE_RETRY_MAX_ATTEMPTS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
	}
	if cfg.Store.Backend != "redis" || cfg.Store.RedisAddr != "cache:6379" {
		t.Fatalf("expected redis store override, got %+v", cfg.Store)
	}
	if cfg.Store.UniqueIDs {
		t.Fatal("expected unique ids override false")
	}
	if cfg.LLM.Mode != "exec" || cfg.LLM.Command != "python3 gen.py" {
		t.Fatalf("expected llm exec override, got %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
	if cfg.TTS.Voices.Narrator != "Mia" {
		t.Fatalf("expected narrator voice override")
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("expected retry attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "practice.yaml")
	data := []byte(`
store:
  backend: memory
tts:
  mode: polly
  voices:
    narrator: Lupe
    interlocutor1: Mia
    interlocutor2: Andres
pipeline:
  target_language: French
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Store.Backend)
	}
	if cfg.TTS.Voices.Interlocutor2 != "Andres" {
		t.Fatalf("expected yaml voice, got %q", cfg.TTS.Voices.Interlocutor2)
	}
	if cfg.Pipeline.TargetLanguage != "French" {
		t.Fatalf("expected target language French, got %q", cfg.Pipeline.TargetLanguage)
	}
	if cfg.Pipeline.ExamLevel != "DELE B2" {
		t.Fatalf("expected default exam level kept, got %q", cfg.Pipeline.ExamLevel)
	}
}

func TestValidateRejectsSharedVoices(t *testing.T) {
	t.Setenv("PRACTICE_TTS_VOICE_INTERLOCUTOR1", "Lupe")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for duplicate voice mapping")
	}
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	cases := map[string]string{
		"PRACTICE_STORE_BACKEND":  "chroma",
		"PRACTICE_LLM_MODE":       "bard",
		"PRACTICE_TTS_MODE":       "espeak",
		"PRACTICE_TRANSCRIPT_MODE": "rss",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestValidateRequiresAPIKeyForHostedModels(t *testing.T) {
	t.Setenv("PRACTICE_LLM_MODE", "gemini")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error without api key")
	}
	t.Setenv("PRACTICE_LLM_API_KEY", "k")
	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
