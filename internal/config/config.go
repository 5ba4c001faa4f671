package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice agent and token server
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// OpenAI configuration (primary TTS, LLM)
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel    string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITTSModel string `envconfig:"OPENAI_TTS_MODEL" default:"tts-1"`
	OpenAITTSVoice string `envconfig:"OPENAI_TTS_VOICE" default:"alloy"`

	// ElevenLabs configuration (fallback TTS). ELEVEN_API_KEY is the
	// legacy name some deployments still set; FallbackAPIKey() resolves both.
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY"`
	ElevenAPIKey      string `envconfig:"ELEVEN_API_KEY"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_turbo_v2"`
	ElevenLabsBaseURL string `envconfig:"ELEVENLABS_BASE_URL" default:"https://api.elevenlabs.io"`
	ElevenLabsWSURL   string `envconfig:"ELEVENLABS_WS_URL" default:"wss://api.elevenlabs.io"`

	// Deepgram STT configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Fault injection: skip the primary TTS entirely and synthesize
	// through the fallback provider from the first pull.
	ForceFallback bool `envconfig:"FORCE_FALLBACK" default:"false"`

	// Run the TTS self-test instead of the full agent
	SelfTest bool `envconfig:"SELF_TEST" default:"false"`

	// Optional path for raw PCM output of synthesized speech (diagnostics)
	AudioOutPath string `envconfig:"AUDIO_OUT_PATH" default:""`

	// LiveKit token server configuration
	LiveKitAPIKey    string `envconfig:"LIVEKIT_API_KEY"`
	LiveKitAPISecret string `envconfig:"LIVEKIT_API_SECRET"`
	LiveKitURL       string `envconfig:"LIVEKIT_URL" default:"ws://localhost:7880"`
	TokenTTLSeconds  int    `envconfig:"TOKEN_TTL_SECONDS" default:"3600"`

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"16384"`    // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Resilience configuration (STT connection)
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // Milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from the environment. A .env.local file, if
// present, takes precedence over the inherited environment, matching how
// the agent is run in development.
func Load() (*Config, error) {
	_ = godotenv.Overload(".env.local")
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without touching .env files (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// The primary provider key is the only hard requirement; a missing
	// fallback key degrades to primary-only operation.
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return &cfg, nil
}

// FallbackAPIKey resolves the ElevenLabs key from either env name.
func (c *Config) FallbackAPIKey() string {
	if c.ElevenLabsAPIKey != "" {
		return c.ElevenLabsAPIKey
	}
	return c.ElevenAPIKey
}

// FallbackEnabled reports whether a fallback TTS provider can be built.
func (c *Config) FallbackEnabled() bool {
	return c.FallbackAPIKey() != ""
}
