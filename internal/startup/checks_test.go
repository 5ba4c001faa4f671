package startup

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/config"
)

func TestCheck_AllKeysPresent(t *testing.T) {
	cfg := &config.Config{
		OpenAIAPIKey:     "sk-proj-abcdefghijklmnop",
		ElevenLabsAPIKey: "el-abcdefghijklmnop",
		DeepgramAPIKey:   "dg-abcdefghijklmnop",
	}

	result, err := Check(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}

	if !result.OpenAI.Present || !result.ElevenLabs.Present || !result.Deepgram.Present {
		t.Errorf("expected all keys present, got %+v", result)
	}
	if !result.FallbackEnabled {
		t.Error("expected fallback enabled")
	}
}

func TestCheck_MissingPrimaryKeyIsFatal(t *testing.T) {
	cfg := &config.Config{
		ElevenLabsAPIKey: "el-abcdefghijklmnop",
	}

	_, err := Check(cfg, zerolog.Nop())
	if !errors.Is(err, ErrMissingPrimaryKey) {
		t.Fatalf("expected ErrMissingPrimaryKey, got %v", err)
	}
}

func TestCheck_MissingFallbackKeyDegrades(t *testing.T) {
	cfg := &config.Config{
		OpenAIAPIKey: "sk-proj-abcdefghijklmnop",
	}

	result, err := Check(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Check() failed: %v", err)
	}
	if result.FallbackEnabled {
		t.Error("expected fallback disabled without an ElevenLabs key")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", ""},
		{"short", "sk-123", "..."},
		{"boundary", "abcdefghijkl", "..."},
		{"normal", "sk-proj-abcdefghijklmnop", "sk-pro...mnop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskKey(tt.key); got != tt.want {
				t.Errorf("MaskKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestMaskKey_DoesNotLeakMiddle(t *testing.T) {
	key := "sk-proj-SECRETMIDDLEPART-end"
	masked := MaskKey(key)
	if len(masked) >= len(key) {
		t.Errorf("masked key %q is not shorter than original", masked)
	}
	if masked == key {
		t.Error("masked key equals original")
	}
}
