package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind           string   `yaml:"bind"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Assembler   AssemblerConfig  `yaml:"assembler"`
	Transcript  TranscriptConfig `yaml:"transcript"`
	Retry       RetryConfig      `yaml:"retry"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	QueueGroup     string   `yaml:"queue_group"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"` // sqlite, redis, memory
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	UniqueIDs     bool   `yaml:"unique_ids"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, exec, ollama, gemini, openai
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode         string `yaml:"mode"` // mock, exec, polly, http
	Command      string `yaml:"command"`
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Region       string `yaml:"region"`
	Engine       string `yaml:"engine"`
	LanguageCode string `yaml:"language_code"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	Voices       Voices `yaml:"voices"`
}

// Voices maps each conversation role to a backend voice identifier.
type Voices struct {
	Narrator      string `yaml:"narrator"`
	Interlocutor1 string `yaml:"interlocutor1"`
	Interlocutor2 string `yaml:"interlocutor2"`
}

type AssemblerConfig struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
	ExtraArgs  string `yaml:"extra_args"`
	TempRoot   string `yaml:"temp_root"`
	OutputDir  string `yaml:"output_dir"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type TranscriptConfig struct {
	Mode      string `yaml:"mode"` // static, file, youtube
	Source    string `yaml:"source"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialIntervalMS int     `yaml:"initial_interval_ms"`
	MaxIntervalMS     int     `yaml:"max_interval_ms"`
	Multiplier        float64 `yaml:"multiplier"`
}

type PipelineConfig struct {
	TargetLanguage string `yaml:"target_language"`
	ExamLevel      string `yaml:"exam_level"`
	TimeoutMS      int    `yaml:"timeout_ms"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-practice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			QueueGroup:     "practice-workers",
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			Path:        "./data/practices.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "practice",
			UniqueIDs:   true,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Model:       "gemini-2.0-flash",
			MaxTokens:   1024,
			Temperature: 0.7,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Mode:         "mock",
			Region:       "us-east-1",
			Engine:       "standard",
			LanguageCode: "es-US",
			Model:        "tts-1",
			SampleRate:   22050,
			Channels:     1,
			TimeoutMS:    45000,
			Voices: Voices{
				Narrator:      "Lupe",
				Interlocutor1: "Lucia",
				Interlocutor2: "Pedro",
			},
		},
		Assembler: AssemblerConfig{
			FFmpegPath: "ffmpeg",
			TempRoot:   os.TempDir(),
			OutputDir:  "./static_audio",
			TimeoutMS:  120000,
		},
		Transcript: TranscriptConfig{
			Mode:      "youtube",
			Source:    "https://youtu.be/uQk7-sSRljc",
			Language:  "es",
			TimeoutMS: 15000,
		},
		Retry: RetryConfig{
			MaxAttempts:       1,
			InitialIntervalMS: 500,
			MaxIntervalMS:     5000,
			Multiplier:        2,
		},
		Pipeline: PipelineConfig{
			TargetLanguage: "Spanish",
			ExamLevel:      "DELE B2",
			TimeoutMS:      180000,
			MaxConcurrent:  4,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PRACTICE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PRACTICE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PRACTICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PRACTICE_HTTP_PORT")
	overrideStringSlice(&cfg.HTTP.AllowedOrigins, "PRACTICE_HTTP_ALLOWED_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "PRACTICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PRACTICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PRACTICE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PRACTICE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "PRACTICE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PRACTICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PRACTICE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PRACTICE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PRACTICE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PRACTICE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PRACTICE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PRACTICE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PRACTICE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PRACTICE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.QueueGroup, "PRACTICE_BUS_QUEUE_GROUP")
	overrideString(&cfg.Store.Backend, "PRACTICE_STORE_BACKEND")
	overrideString(&cfg.Store.Path, "PRACTICE_STORE_PATH")
	overrideString(&cfg.Store.RedisAddr, "PRACTICE_STORE_REDIS_ADDR")
	overrideString(&cfg.Store.RedisPassword, "PRACTICE_STORE_REDIS_PASSWORD")
	overrideInt(&cfg.Store.RedisDB, "PRACTICE_STORE_REDIS_DB")
	overrideString(&cfg.Store.RedisPrefix, "PRACTICE_STORE_REDIS_PREFIX")
	overrideBool(&cfg.Store.UniqueIDs, "PRACTICE_STORE_UNIQUE_IDS")
	overrideBool(&cfg.Store.VacuumOnStart, "PRACTICE_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "PRACTICE_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PRACTICE_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "PRACTICE_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "PRACTICE_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "PRACTICE_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "PRACTICE_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PRACTICE_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "PRACTICE_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "PRACTICE_TTS_MODE")
	overrideString(&cfg.TTS.Command, "PRACTICE_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "PRACTICE_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "PRACTICE_TTS_API_KEY")
	overrideString(&cfg.TTS.Model, "PRACTICE_TTS_MODEL")
	overrideString(&cfg.TTS.Region, "PRACTICE_TTS_REGION")
	overrideString(&cfg.TTS.Engine, "PRACTICE_TTS_ENGINE")
	overrideString(&cfg.TTS.LanguageCode, "PRACTICE_TTS_LANGUAGE_CODE")
	overrideInt(&cfg.TTS.SampleRate, "PRACTICE_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "PRACTICE_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "PRACTICE_TTS_TIMEOUT_MS")
	overrideString(&cfg.TTS.Voices.Narrator, "PRACTICE_TTS_VOICE_NARRATOR")
	overrideString(&cfg.TTS.Voices.Interlocutor1, "PRACTICE_TTS_VOICE_INTERLOCUTOR1")
	overrideString(&cfg.TTS.Voices.Interlocutor2, "PRACTICE_TTS_VOICE_INTERLOCUTOR2")
	overrideString(&cfg.Assembler.FFmpegPath, "PRACTICE_ASSEMBLER_FFMPEG_PATH")
	overrideString(&cfg.Assembler.ExtraArgs, "PRACTICE_ASSEMBLER_EXTRA_ARGS")
	overrideString(&cfg.Assembler.TempRoot, "PRACTICE_ASSEMBLER_TEMP_ROOT")
	overrideString(&cfg.Assembler.OutputDir, "PRACTICE_ASSEMBLER_OUTPUT_DIR")
	overrideInt(&cfg.Assembler.TimeoutMS, "PRACTICE_ASSEMBLER_TIMEOUT_MS")
	overrideString(&cfg.Transcript.Mode, "PRACTICE_TRANSCRIPT_MODE")
	overrideString(&cfg.Transcript.Source, "PRACTICE_TRANSCRIPT_SOURCE")
	overrideString(&cfg.Transcript.Language, "PRACTICE_TRANSCRIPT_LANGUAGE")
	overrideInt(&cfg.Transcript.TimeoutMS, "PRACTICE_TRANSCRIPT_TIMEOUT_MS")
	overrideInt(&cfg.Retry.MaxAttempts, "PRACTICE_RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.Retry.InitialIntervalMS, "PRACTICE_RETRY_INITIAL_INTERVAL_MS")
	overrideInt(&cfg.Retry.MaxIntervalMS, "PRACTICE_RETRY_MAX_INTERVAL_MS")
	overrideFloat(&cfg.Retry.Multiplier, "PRACTICE_RETRY_MULTIPLIER")
	overrideString(&cfg.Pipeline.TargetLanguage, "PRACTICE_PIPELINE_TARGET_LANGUAGE")
	overrideString(&cfg.Pipeline.ExamLevel, "PRACTICE_PIPELINE_EXAM_LEVEL")
	overrideInt(&cfg.Pipeline.TimeoutMS, "PRACTICE_PIPELINE_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.MaxConcurrent, "PRACTICE_PIPELINE_MAX_CONCURRENT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Store.Backend {
	case "sqlite":
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty when backend=sqlite")
		}
	case "redis":
		if cfg.Store.RedisAddr == "" {
			return errors.New("store.redis_addr must not be empty when backend=redis")
		}
	case "memory":
	default:
		return errors.New("store.backend must be one of sqlite|redis|memory")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "ollama":
	case "gemini", "openai":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key must be set when mode=%s", cfg.LLM.Mode)
		}
	default:
		return errors.New("llm.mode must be one of mock|exec|ollama|gemini|openai")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock", "polly":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "http":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=http")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|polly|http")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if err := validateVoices(cfg.TTS.Voices); err != nil {
		return err
	}
	if cfg.Assembler.FFmpegPath == "" {
		return errors.New("assembler.ffmpeg_path must not be empty")
	}
	if cfg.Assembler.OutputDir == "" {
		return errors.New("assembler.output_dir must not be empty")
	}
	switch cfg.Transcript.Mode {
	case "static", "file", "youtube":
	default:
		return errors.New("transcript.mode must be one of static|file|youtube")
	}
	if cfg.Transcript.Source == "" {
		return errors.New("transcript.source must not be empty")
	}
	if cfg.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be >= 1")
	}
	if cfg.Pipeline.MaxConcurrent <= 0 {
		return errors.New("pipeline.max_concurrent must be >= 1")
	}
	return nil
}

func validateVoices(v Voices) error {
	if v.Narrator == "" || v.Interlocutor1 == "" || v.Interlocutor2 == "" {
		return errors.New("tts.voices must map narrator, interlocutor1 and interlocutor2")
	}
	if v.Narrator == v.Interlocutor1 || v.Narrator == v.Interlocutor2 || v.Interlocutor1 == v.Interlocutor2 {
		return errors.New("tts.voices must be distinct per speaker")
	}
	return nil
}
