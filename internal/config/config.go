// Package config provides the configuration structure for the speech server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"
)

// Synthesis variants.
const (
	VariantClone   = "clone"
	VariantSpeaker = "speaker"
	VariantPlain   = "plain"
)

// Model backends.
const (
	BackendHTTP    = "http"
	BackendCommand = "command"
	BackendSilence = "silence"
)

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageNATS       = "nats"
)

const defaultQueueDepth = 16

// Environment overrides.
const (
	envModelName  = "SPEECH_MODEL_NAME"
	envModelDev   = "SPEECH_MODEL_DEVICE"
	envServerPort = "SPEECH_SERVER_PORT"
)

var (
	// ErrUnknownVariant indicates an unsupported synthesis variant.
	ErrUnknownVariant = errors.New("unknown synthesis variant")
	// ErrUnknownBackend indicates an unsupported model backend.
	ErrUnknownBackend = errors.New("unknown model backend")
	// ErrUnknownStorage indicates an unsupported storage backend.
	ErrUnknownStorage = errors.New("unknown storage backend")
	// ErrWorkersRange indicates a non-positive worker pool size.
	ErrWorkersRange = errors.New("synthesis workers must be >= 1")
	// ErrQueueDepthRange indicates a negative queue depth.
	ErrQueueDepthRange = errors.New("synthesis queue depth must be >= 0")
	// ErrMaxTextLengthRange indicates a non-positive text bound.
	ErrMaxTextLengthRange = errors.New("max text length must be >= 1")
	// ErrDefaultSpeakerEmpty indicates the speaker variant has no fallback speaker.
	ErrDefaultSpeakerEmpty = errors.New("default speaker cannot be empty in the speaker variant")
	// ErrPortRange indicates an invalid listen port.
	ErrPortRange = errors.New("server port must be between 1 and 65535")
	// ErrServiceURLEmpty indicates the http backend has nowhere to send requests.
	ErrServiceURLEmpty = errors.New("model service url cannot be empty for the http backend")
	// ErrBinaryPathEmpty indicates the command backend has nothing to run.
	ErrBinaryPathEmpty = errors.New("model binary path cannot be empty for the command backend")
	// ErrNATSURLEmpty indicates NATS is required but not configured.
	ErrNATSURLEmpty = errors.New("nats url cannot be empty when nats is used")
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host                     string  `toml:"host"`
	Port                     int     `toml:"port"`
	FrontendDir              string  `toml:"frontend_dir"`
	ReadHeaderTimeoutSeconds int     `toml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int     `toml:"shutdown_timeout_seconds"`
	MaxUploadMB              int     `toml:"max_upload_mb"`
	RateLimitPerSecond       float64 `toml:"rate_limit_per_second"`
	RateLimitBurst           int     `toml:"rate_limit_burst"`
}

// SynthesisConfig holds the request orchestration configuration.
type SynthesisConfig struct {
	Variant         string `toml:"variant"`
	DefaultLanguage string `toml:"default_language"`
	DefaultSpeaker  string `toml:"default_speaker"`
	MaxTextLength   int    `toml:"max_text_length"`
	Workers         int    `toml:"workers"`
	// QueueDepth is a pointer so that an explicit 0 (no waiting room) survives defaulting.
	QueueDepth      *int   `toml:"queue_depth"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	NormalizeText   bool   `toml:"normalize_text"`
}

// ModelConfig holds the inference backend configuration.
type ModelConfig struct {
	Backend            string `toml:"backend"`
	Name               string `toml:"name"`
	Device             string `toml:"device"`
	ServiceURL         string `toml:"service_url"`
	BinaryPath         string `toml:"binary_path"`
	ModelPath          string `toml:"model_path"`
	LoadTimeoutSeconds int    `toml:"load_timeout_seconds"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// StorageConfig holds the asset store configuration.
type StorageConfig struct {
	Backend      string `toml:"backend"`
	GeneratedDir string `toml:"generated_dir"`
	ReferenceDir string `toml:"reference_dir"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                  bool   `toml:"enabled"`
	URL                      string `toml:"url"`
	ConsumerName             string `toml:"consumer_name"`
	TextProcessedSubject     string `toml:"text_processed_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	TextObjectStoreBucket    string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
	ReferenceObjectBucket    string `toml:"reference_object_store_bucket"`
}

// TranscriptionConfig holds the optional reference transcription configuration.
type TranscriptionConfig struct {
	Enabled   bool   `toml:"enabled"`
	BaseURL   string `toml:"base_url"`
	APIKeyEnv string `toml:"api_key_env"`
	Model     string `toml:"model"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Synthesis     SynthesisConfig     `toml:"synthesis"`
	Model         ModelConfig         `toml:"model"`
	Storage       StorageConfig       `toml:"storage"`
	NATS          NATSConfig          `toml:"nats"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Paths         PathsConfig         `toml:"paths"`
}

// Load loads the configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile loads the configuration from an explicit TOML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config

	err = toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()
	cfg.applyEnv()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.Host, "0.0.0.0")
	setDefault(&c.Server.Port, 8019)
	setDefault(&c.Server.ReadHeaderTimeoutSeconds, 10)
	setDefault(&c.Server.ShutdownTimeoutSeconds, 30)
	setDefault(&c.Server.MaxUploadMB, 50)

	setDefault(&c.Synthesis.Variant, VariantClone)
	setDefault(&c.Synthesis.DefaultLanguage, "Chinese")
	setDefault(&c.Synthesis.DefaultSpeaker, "Vivian")
	setDefault(&c.Synthesis.MaxTextLength, 5000)
	setDefault(&c.Synthesis.Workers, 1)
	if c.Synthesis.QueueDepth == nil {
		c.Synthesis.QueueDepth = new(int)
		*c.Synthesis.QueueDepth = defaultQueueDepth
	}

	setDefault(&c.Model.Backend, BackendHTTP)
	setDefault(&c.Model.Name, "Qwen/Qwen3-TTS-12Hz-0.6B-Base")
	setDefault(&c.Model.Device, "cpu")
	setDefault(&c.Model.ServiceURL, "http://127.0.0.1:8000")
	setDefault(&c.Model.BinaryPath, "chatllm")
	setDefault(&c.Model.LoadTimeoutSeconds, 300)
	setDefault(&c.Model.TimeoutSeconds, 300)

	setDefault(&c.Storage.Backend, StorageFilesystem)
	setDefault(&c.Storage.GeneratedDir, "audio_output")
	setDefault(&c.Storage.ReferenceDir, "ref_audio")

	setDefault(&c.NATS.URL, "nats://127.0.0.1:4222")
	setDefault(&c.NATS.ConsumerName, "speech-workers")
	setDefault(&c.NATS.TextProcessedSubject, "text.processed")
	setDefault(&c.NATS.AudioChunkCreatedSubject, "audio.chunk.created")
	setDefault(&c.NATS.TextObjectStoreBucket, "TEXT_FILES")
	setDefault(&c.NATS.AudioObjectStoreBucket, "AUDIO_FILES")
	setDefault(&c.NATS.ReferenceObjectBucket, "REFERENCE_AUDIO")

	setDefault(&c.Transcription.APIKeyEnv, "OPENAI_API_KEY")
	setDefault(&c.Transcription.Model, "whisper-1")

	setDefault(&c.Paths.BaseLogsDir, "logs")
}

func (c *Config) applyEnv() {
	if name := os.Getenv(envModelName); name != "" {
		c.Model.Name = name
	}

	if device := os.Getenv(envModelDev); device != "" {
		c.Model.Device = device
	}

	if port, err := strconv.Atoi(os.Getenv(envServerPort)); err == nil {
		c.Server.Port = port
	}
}

// Validate ensures that the configuration contains usable values.
func (c *Config) Validate() error {
	switch c.Synthesis.Variant {
	case VariantClone, VariantPlain:
	case VariantSpeaker:
		if c.Synthesis.DefaultSpeaker == "" {
			return ErrDefaultSpeakerEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownVariant, c.Synthesis.Variant)
	}

	if c.Synthesis.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrWorkersRange, c.Synthesis.Workers)
	}

	if c.SynthesisQueueDepth() < 0 {
		return fmt.Errorf("%w: got %d", ErrQueueDepthRange, c.SynthesisQueueDepth())
	}

	if c.Synthesis.MaxTextLength < 1 {
		return fmt.Errorf("%w: got %d", ErrMaxTextLengthRange, c.Synthesis.MaxTextLength)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrPortRange, c.Server.Port)
	}

	switch c.Model.Backend {
	case BackendHTTP:
		if c.Model.ServiceURL == "" {
			return ErrServiceURLEmpty
		}
	case BackendCommand:
		if c.Model.BinaryPath == "" {
			return ErrBinaryPathEmpty
		}
	case BackendSilence:
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBackend, c.Model.Backend)
	}

	switch c.Storage.Backend {
	case StorageFilesystem:
	case StorageNATS:
		if c.NATS.URL == "" {
			return ErrNATSURLEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownStorage, c.Storage.Backend)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return ErrNATSURLEmpty
	}

	return nil
}

// UsesNATS reports whether any component needs a NATS connection.
func (c *Config) UsesNATS() bool {
	return c.NATS.Enabled || c.Storage.Backend == StorageNATS
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SynthesisTimeout returns the optional per-request deadline; zero means none.
func (c *Config) SynthesisTimeout() time.Duration {
	return time.Duration(c.Synthesis.TimeoutSeconds) * time.Second
}

// SynthesisQueueDepth returns how many jobs may wait for a worker; unset means the default.
func (c *Config) SynthesisQueueDepth() int {
	if c.Synthesis.QueueDepth == nil {
		return defaultQueueDepth
	}

	return *c.Synthesis.QueueDepth
}

// MaxUploadBytes returns the multipart upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
