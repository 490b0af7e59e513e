package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const maxCompletionAttempts = 10

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	STT         STTConfig        `yaml:"stt"`
	Completion  CompletionConfig `yaml:"completion"`
	TTS         TTSConfig        `yaml:"tts"`
	Personas    PersonasConfig   `yaml:"personas"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig describes the capture stream. FrameSamples is the size of a
// single blocking read; DeviceBufferFrames is the host-side buffer.
type AudioConfig struct {
	SampleRate         int    `yaml:"sample_rate"`
	Channels           int    `yaml:"channels"`
	FrameSamples       int    `yaml:"frame_samples"`
	DeviceBufferFrames int    `yaml:"device_buffer_frames"`
	DumpDir            string `yaml:"dump_dir"`
}

type STTConfig struct {
	Mode           string   `yaml:"mode"` // mock, vosk, exec
	Endpoint       string   `yaml:"endpoint"`
	Command        string   `yaml:"command"`
	ModelPath      string   `yaml:"model_path"`
	Language       string   `yaml:"language"`
	VADThreshold   float64  `yaml:"vad_threshold"`
	QuietMS        int      `yaml:"quiet_ms"`
	PreRollMS      int      `yaml:"pre_roll_ms"`
	MaxUtteranceMS int      `yaml:"max_utterance_ms"`
	Script         []string `yaml:"script"`
}

type CompletionConfig struct {
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	MaxAttempts      int    `yaml:"max_attempts"`
	BaseDelayMS      int    `yaml:"base_delay_ms"`
	AttemptTimeoutMS int    `yaml:"attempt_timeout_ms"`
}

type TTSConfig struct {
	Mode       string  `yaml:"mode"` // mock, translate, exec
	Endpoint   string  `yaml:"endpoint"`
	Language   string  `yaml:"language"`
	Command    string  `yaml:"command"`
	Voice      string  `yaml:"voice"`
	SampleRate int     `yaml:"sample_rate"`
	Channels   int     `yaml:"channels"`
	Speed      float64 `yaml:"speed"`
	Playback   bool    `yaml:"playback"`
}

// PersonasConfig overrides the compiled-in persona prompts. Empty fields keep
// the defaults.
type PersonasConfig struct {
	Mission  string `yaml:"mission"`
	Guidance string `yaml:"guidance"`
	Generic  string `yaml:"generic"`
}

func Default() Config {
	return Config{
		RuntimeName: "voiceloop",
		Environment: "development",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8089,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "/metrics",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voiceloop.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       500,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			Channels:           1,
			FrameSamples:       4096,
			DeviceBufferFrames: 8192,
		},
		STT: STTConfig{
			Mode:           "vosk",
			Endpoint:       "ws://localhost:2700",
			Language:       "en",
			VADThreshold:   0.0005,
			QuietMS:        600,
			PreRollMS:      250,
			MaxUtteranceMS: 15000,
		},
		Completion: CompletionConfig{
			Model:            "deepseek/deepseek-chat-v3-0324:free",
			MaxAttempts:      3,
			BaseDelayMS:      1000,
			AttemptTimeoutMS: 30000,
		},
		TTS: TTSConfig{
			Mode:       "translate",
			Endpoint:   "https://translate.google.com/translate_tts",
			Language:   "en",
			SampleRate: 22050,
			Channels:   1,
			Speed:      1.4,
			Playback:   true,
		},
	}
}

// LoadEnvFile populates the process environment from a dotenv file. Variables
// that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads path (optional), applies environment overrides and validates
// the result.
func Load(path string) (Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse is Load without validation, for tools that only need part of the
// configuration.
func Parse(path string) (Config, error) {
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
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Variables understood by earlier deployments of the assistant.
	overrideString(&cfg.Completion.Endpoint, "OPENROUTER_URL")
	overrideString(&cfg.Completion.APIKey, "OPENROUTER_KEY")

	overrideString(&cfg.RuntimeName, "VOICELOOP_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICELOOP_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "VOICELOOP_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "VOICELOOP_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICELOOP_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICELOOP_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICELOOP_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICELOOP_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICELOOP_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOICELOOP_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICELOOP_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICELOOP_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICELOOP_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICELOOP_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICELOOP_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICELOOP_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICELOOP_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICELOOP_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VOICELOOP_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICELOOP_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICELOOP_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "VOICELOOP_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICELOOP_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Audio.SampleRate, "VOICELOOP_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOICELOOP_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameSamples, "VOICELOOP_AUDIO_FRAME_SAMPLES")
	overrideInt(&cfg.Audio.DeviceBufferFrames, "VOICELOOP_AUDIO_DEVICE_BUFFER_FRAMES")
	overrideString(&cfg.Audio.DumpDir, "VOICELOOP_AUDIO_DUMP_DIR")
	overrideString(&cfg.STT.Mode, "VOICELOOP_STT_MODE")
	overrideString(&cfg.STT.Endpoint, "VOICELOOP_STT_ENDPOINT")
	overrideString(&cfg.STT.Command, "VOICELOOP_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOICELOOP_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "VOICELOOP_STT_LANGUAGE")
	overrideFloat(&cfg.STT.VADThreshold, "VOICELOOP_STT_VAD_THRESHOLD")
	overrideInt(&cfg.STT.QuietMS, "VOICELOOP_STT_QUIET_MS")
	overrideInt(&cfg.STT.PreRollMS, "VOICELOOP_STT_PRE_ROLL_MS")
	overrideInt(&cfg.STT.MaxUtteranceMS, "VOICELOOP_STT_MAX_UTTERANCE_MS")
	overrideString(&cfg.Completion.Endpoint, "VOICELOOP_COMPLETION_ENDPOINT")
	overrideString(&cfg.Completion.APIKey, "VOICELOOP_COMPLETION_API_KEY")
	overrideString(&cfg.Completion.Model, "VOICELOOP_COMPLETION_MODEL")
	overrideInt(&cfg.Completion.MaxAttempts, "VOICELOOP_COMPLETION_MAX_ATTEMPTS")
	overrideInt(&cfg.Completion.BaseDelayMS, "VOICELOOP_COMPLETION_BASE_DELAY_MS")
	overrideInt(&cfg.Completion.AttemptTimeoutMS, "VOICELOOP_COMPLETION_ATTEMPT_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOICELOOP_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "VOICELOOP_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Language, "VOICELOOP_TTS_LANGUAGE")
	overrideString(&cfg.TTS.Command, "VOICELOOP_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOICELOOP_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOICELOOP_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOICELOOP_TTS_CHANNELS")
	overrideFloat(&cfg.TTS.Speed, "VOICELOOP_TTS_SPEED")
	overrideBool(&cfg.TTS.Playback, "VOICELOOP_TTS_PLAYBACK")
	overrideString(&cfg.Personas.Mission, "VOICELOOP_PERSONA_MISSION")
	overrideString(&cfg.Personas.Guidance, "VOICELOOP_PERSONA_GUIDANCE")
	overrideString(&cfg.Personas.Generic, "VOICELOOP_PERSONA_GENERIC")
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
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
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
	switch cfg.EventStore.RetentionMode {
	case "ephemeral":
	case "session", "persistent":
		if cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels != 1 {
		return errors.New("audio.channels must be 1 (mono capture)")
	}
	if cfg.Audio.FrameSamples <= 0 {
		return errors.New("audio.frame_samples must be positive")
	}
	if cfg.Audio.DeviceBufferFrames < cfg.Audio.FrameSamples {
		return errors.New("audio.device_buffer_frames must be >= audio.frame_samples")
	}
	switch cfg.STT.Mode {
	case "mock":
	case "vosk":
		if cfg.STT.Endpoint == "" {
			return errors.New("stt.endpoint must be set when mode=vosk")
		}
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.VADThreshold <= 0 {
			return errors.New("stt.vad_threshold must be positive")
		}
		if cfg.STT.QuietMS <= 0 {
			return errors.New("stt.quiet_ms must be positive")
		}
	default:
		return errors.New("stt.mode must be one of mock|vosk|exec")
	}
	if strings.TrimSpace(cfg.Completion.Endpoint) == "" {
		return errors.New("completion.endpoint must be set (VOICELOOP_COMPLETION_ENDPOINT or OPENROUTER_URL)")
	}
	if strings.TrimSpace(cfg.Completion.APIKey) == "" {
		return errors.New("completion.api_key must be set (VOICELOOP_COMPLETION_API_KEY or OPENROUTER_KEY)")
	}
	if cfg.Completion.Model == "" {
		return errors.New("completion.model must not be empty")
	}
	if cfg.Completion.MaxAttempts <= 0 || cfg.Completion.MaxAttempts > maxCompletionAttempts {
		return fmt.Errorf("completion.max_attempts must be between 1 and %d", maxCompletionAttempts)
	}
	if cfg.Completion.BaseDelayMS < 0 {
		return errors.New("completion.base_delay_ms must be >= 0")
	}
	if cfg.Completion.AttemptTimeoutMS <= 0 {
		return errors.New("completion.attempt_timeout_ms must be positive")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "translate":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=translate")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	default:
		return errors.New("tts.mode must be one of mock|translate|exec")
	}
	if cfg.TTS.Speed <= 0 {
		return errors.New("tts.speed must be positive")
	}
	return nil
}
