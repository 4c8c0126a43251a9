// Package config loads and validates service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInvalidConfig is wrapped by all validation failures so callers can
// distinguish configuration errors from runtime errors with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ServiceConfig holds service identity and network settings.
type ServiceConfig struct {
	Name              string `env:"SERVICE_NAME" envDefault:"realtime-caption-service"`
	HTTPPort          string `env:"HTTP_PORT" envDefault:"8080"`
	ObservabilityPort string `env:"OBSERVABILITY_PORT" envDefault:"9090"`
	Env               string `env:"ENV" envDefault:"production"`
}

// PipelineConfig holds the windowing, stabilization and cadence settings
// for the realtime transcription pipeline.
type PipelineConfig struct {
	SampleRateHz    int           `env:"PIPELINE_SAMPLE_RATE_HZ" envDefault:"16000"`
	WindowSeconds   int           `env:"PIPELINE_WINDOW_SECONDS" envDefault:"15"`
	StepMs          int           `env:"PIPELINE_STEP_MS" envDefault:"300"`
	StabilityStreak int           `env:"PIPELINE_STABILITY_STREAK" envDefault:"3"`
	EnableVAD       bool          `env:"PIPELINE_ENABLE_VAD" envDefault:"true"`
	VADTailMs       int           `env:"PIPELINE_VAD_TAIL_MS" envDefault:"400"`
	VADHoldMs       int           `env:"PIPELINE_VAD_HOLD_MS" envDefault:"800"`
	MaxFailures     int           `env:"PIPELINE_MAX_CONSECUTIVE_FAILURES" envDefault:"3"`
	MaxDuration     time.Duration `env:"PIPELINE_MAX_DURATION" envDefault:"2h"`
	EventBufferSize int           `env:"PIPELINE_EVENT_BUFFER" envDefault:"64"`
	ShutdownTimeout time.Duration `env:"PIPELINE_SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Step returns the tick interval as a duration.
func (p PipelineConfig) Step() time.Duration {
	return time.Duration(p.StepMs) * time.Millisecond
}

// WindowCapacity returns the ring buffer capacity in samples.
func (p PipelineConfig) WindowCapacity() int {
	return p.WindowSeconds * p.SampleRateHz
}

// VADTail returns the VAD classification span as a duration.
func (p PipelineConfig) VADTail() time.Duration {
	return time.Duration(p.VADTailMs) * time.Millisecond
}

// VADHold returns the silence hold time as a duration.
func (p PipelineConfig) VADHold() time.Duration {
	return time.Duration(p.VADHoldMs) * time.Millisecond
}

// STTConfig selects and tunes the transcription engine backend.
type STTConfig struct {
	Engine           string `env:"STT_ENGINE" envDefault:"mock"`
	SourceLanguage   string `env:"STT_SOURCE_LANGUAGE" envDefault:"auto"`
	WhisperModelPath string `env:"STT_WHISPER_MODEL_PATH" envDefault:"./models/ggml-base.bin"`
	GoogleModel      string `env:"STT_GOOGLE_MODEL" envDefault:"latest_long"`
}

// TranslationConfig tunes the segment translation scheduler.
type TranslationConfig struct {
	TargetLanguage string        `env:"TRANSLATION_TARGET_LANGUAGE,required"`
	BaseURL        string        `env:"TRANSLATION_BASE_URL"`
	Timeout        time.Duration `env:"TRANSLATION_TIMEOUT" envDefault:"8s"`
	DebounceMs     int           `env:"TRANSLATION_DEBOUNCE_MS" envDefault:"1000"`
	MinSuffixDelta int           `env:"TRANSLATION_MIN_SUFFIX_DELTA" envDefault:"4"`
}

// Debounce returns the live-suffix debounce interval as a duration.
func (t TranslationConfig) Debounce() time.Duration {
	return time.Duration(t.DebounceMs) * time.Millisecond
}

// KafkaConfig holds the event sink settings.
type KafkaConfig struct {
	Enabled      bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	TopicPartial string   `env:"KAFKA_TOPIC_PARTIAL" envDefault:"caption.transcript.partial"`
	TopicFinal   string   `env:"KAFKA_TOPIC_FINAL" envDefault:"caption.transcript.final"`
	Principal    string   `env:"KAFKA_PRINCIPAL" envDefault:"svc-realtime-caption"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Pipeline      PipelineConfig
	STT           STTConfig
	Translation   TranslationConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// Load reads configuration from environment variables and validates it.
func Load() (*Configuration, error) {
	var cfg Configuration
	for _, section := range []any{
		&cfg.Service, &cfg.Pipeline, &cfg.STT,
		&cfg.Translation, &cfg.Kafka, &cfg.Observability,
	} {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects invalid option combinations before the pipeline starts.
// A running pipeline never sees an invalid configuration.
func (c *Configuration) Validate() error {
	if c.Pipeline.SampleRateHz <= 0 {
		return fmt.Errorf("%w: PIPELINE_SAMPLE_RATE_HZ must be positive, got %d", ErrInvalidConfig, c.Pipeline.SampleRateHz)
	}
	if c.Pipeline.WindowSeconds <= 0 {
		return fmt.Errorf("%w: PIPELINE_WINDOW_SECONDS must be positive, got %d", ErrInvalidConfig, c.Pipeline.WindowSeconds)
	}
	if c.Pipeline.StepMs <= 0 {
		return fmt.Errorf("%w: PIPELINE_STEP_MS must be positive, got %d", ErrInvalidConfig, c.Pipeline.StepMs)
	}
	if c.Pipeline.StabilityStreak <= 0 {
		return fmt.Errorf("%w: PIPELINE_STABILITY_STREAK must be positive, got %d", ErrInvalidConfig, c.Pipeline.StabilityStreak)
	}
	if c.Pipeline.MaxFailures <= 0 {
		return fmt.Errorf("%w: PIPELINE_MAX_CONSECUTIVE_FAILURES must be positive, got %d", ErrInvalidConfig, c.Pipeline.MaxFailures)
	}
	if c.Pipeline.EnableVAD {
		if c.Pipeline.VADTailMs <= 0 {
			return fmt.Errorf("%w: PIPELINE_VAD_TAIL_MS must be positive, got %d", ErrInvalidConfig, c.Pipeline.VADTailMs)
		}
		if c.Pipeline.VADHoldMs <= 0 {
			return fmt.Errorf("%w: PIPELINE_VAD_HOLD_MS must be positive, got %d", ErrInvalidConfig, c.Pipeline.VADHoldMs)
		}
	}
	if c.Translation.TargetLanguage == "" {
		return fmt.Errorf("%w: TRANSLATION_TARGET_LANGUAGE is required", ErrInvalidConfig)
	}
	if c.Translation.DebounceMs < 0 {
		return fmt.Errorf("%w: TRANSLATION_DEBOUNCE_MS must not be negative, got %d", ErrInvalidConfig, c.Translation.DebounceMs)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: KAFKA_BROKERS is required when KAFKA_ENABLED=true", ErrInvalidConfig)
	}
	switch c.STT.Engine {
	case "mock", "google", "whispercpp":
	default:
		return fmt.Errorf("%w: STT_ENGINE must be one of mock, google, whispercpp; got %q", ErrInvalidConfig, c.STT.Engine)
	}
	return nil
}

// IsDevelopment reports whether the service runs in the dev environment.
func (c *Configuration) IsDevelopment() bool {
	return c.Service.Env == "dev" || c.Service.Env == "development"
}
