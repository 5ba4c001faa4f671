// Package startup holds the explicit environment checks the entrypoints
// run once before building the pipeline. Nothing here runs as an import
// side effect.
package startup

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/config"
)

// ErrMissingPrimaryKey is returned when the OpenAI key is absent. The
// agent cannot synthesize or reason without it, so startup must abort.
var ErrMissingPrimaryKey = errors.New("OPENAI_API_KEY is required but not set")

// KeyStatus reports the presence of one secret plus a masked rendering
// safe to log.
type KeyStatus struct {
	Present bool
	Masked  string
}

// CheckResult is the structured outcome of the startup validation.
type CheckResult struct {
	OpenAI          KeyStatus
	ElevenLabs      KeyStatus
	Deepgram        KeyStatus
	FallbackEnabled bool
}

// Check validates configured secrets and logs their status. A missing
// primary key is fatal; a missing fallback key disables TTS failover; a
// missing Deepgram key disables transcription.
func Check(cfg *config.Config, logger zerolog.Logger) (*CheckResult, error) {
	result := &CheckResult{
		OpenAI:          keyStatus(cfg.OpenAIAPIKey),
		ElevenLabs:      keyStatus(cfg.FallbackAPIKey()),
		Deepgram:        keyStatus(cfg.DeepgramAPIKey),
		FallbackEnabled: cfg.FallbackEnabled(),
	}

	logKey(logger, "OPENAI_API_KEY", result.OpenAI)
	logKey(logger, "ELEVENLABS_API_KEY", result.ElevenLabs)
	logKey(logger, "DEEPGRAM_API_KEY", result.Deepgram)

	if !result.OpenAI.Present {
		logger.Error().Msg("OpenAI API key missing - TTS and LLM cannot start")
		return result, ErrMissingPrimaryKey
	}
	if !result.ElevenLabs.Present {
		logger.Warn().Msg("ElevenLabs API key missing - TTS failover disabled")
	}
	if !result.Deepgram.Present {
		logger.Warn().Msg("Deepgram API key missing - transcription disabled")
	}

	return result, nil
}

func keyStatus(key string) KeyStatus {
	return KeyStatus{Present: key != "", Masked: MaskKey(key)}
}

func logKey(logger zerolog.Logger, name string, status KeyStatus) {
	if status.Present {
		logger.Info().Str("key", name).Str("value", status.Masked).Msg("API key present")
	} else {
		logger.Warn().Str("key", name).Msg("API key missing")
	}
}

// MaskKey renders a secret safe for logs: first six and last four
// characters with the middle elided. Short keys are fully elided.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "..."
	}
	return key[:6] + "..." + key[len(key)-4:]
}
