package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the dictation client
type Config struct {
	// HTTP control surface
	Port string `envconfig:"PORT" default:"8080"`

	// Deepgram streaming transcription configuration.
	// The API key is intentionally NOT required at startup: a missing key
	// degrades to a "not configured" error when a session attempts to start.
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramURL      string `envconfig:"DEEPGRAM_URL" default:"wss://api.deepgram.com/v1/listen"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, nova-2-medical, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// Audio capture configuration
	SampleRate       int `envconfig:"SAMPLE_RATE" default:"16000"`      // Capture sample rate in Hz
	Channels         int `envconfig:"CHANNELS" default:"1"`             // Mono capture
	ChunkTimesliceMs int `envconfig:"CHUNK_TIMESLICE_MS" default:"250"` // Chunk cadence (20-250ms recommended by Deepgram)

	// Streaming connection configuration
	KeepAliveInterval    int `envconfig:"KEEPALIVE_INTERVAL" default:"8"`     // Seconds between KeepAlive control messages
	ReconnectMaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"` // Maximum reconnection attempts
	ReconnectBackoff     int `envconfig:"RECONNECT_BACKOFF" default:"1000"`   // Initial reconnection backoff in milliseconds
	UtteranceEndMs       int `envconfig:"UTTERANCE_END_MS" default:"1000"`    // Backend utterance end window

	// Note generation (OpenAI-compatible chat completions endpoint)
	NoteAPIKey  string `envconfig:"NOTE_API_KEY" default:""`
	NoteBaseURL string `envconfig:"NOTE_BASE_URL" default:"https://openrouter.ai/api/v1"`
	NoteModel   string `envconfig:"NOTE_MODEL" default:"openai/gpt-4o-mini"`
	NoteTimeout int    `envconfig:"NOTE_TIMEOUT" default:"30"` // seconds

	// Minimum final-transcript length (characters) before a note is generated
	MinTranscriptChars int `envconfig:"MIN_TRANSCRIPT_CHARS" default:"50"`

	// Local persistence
	StorePath string `envconfig:"STORE_PATH" default:"data/dictation.db"`
	AudioDir  string `envconfig:"AUDIO_DIR" default:"data/audio"`

	// Resilience configuration for the note gateway
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from a .env file if one exists, then from the environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("CHANNELS must be 1 or 2, got %d", c.Channels)
	}
	if c.ChunkTimesliceMs <= 0 {
		return fmt.Errorf("CHUNK_TIMESLICE_MS must be positive, got %d", c.ChunkTimesliceMs)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts)
	}
	return nil
}

// TranscriptionConfigured reports whether a transcription credential is present.
// A session start without one fails with a "not configured" error rather than
// the process refusing to boot.
func (c *Config) TranscriptionConfigured() bool {
	return c.DeepgramAPIKey != ""
}

// NoteGenerationConfigured reports whether the note gateway credential is present.
func (c *Config) NoteGenerationConfigured() bool {
	return c.NoteAPIKey != ""
}

// ChunkTimeslice returns the chunk cadence as a duration.
func (c *Config) ChunkTimeslice() time.Duration {
	return time.Duration(c.ChunkTimesliceMs) * time.Millisecond
}

// KeepAlivePeriod returns the keep-alive interval as a duration.
func (c *Config) KeepAlivePeriod() time.Duration {
	return time.Duration(c.KeepAliveInterval) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
