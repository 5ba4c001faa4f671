// Package room issues LiveKit-compatible access credentials for
// clients joining a conversation.
package room

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/grannylabs/granny-voice/internal/config"
)

// TokenIssuer signs room access tokens with the server's API secret
type TokenIssuer struct {
	apiKey     string
	apiSecret  string
	ttlSeconds int
}

// NewTokenIssuer creates an issuer from configuration. Returns an error
// when the signing credentials are missing.
func NewTokenIssuer(cfg *config.Config) (*TokenIssuer, error) {
	if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		return nil, fmt.Errorf("livekit api key and secret are required to issue tokens")
	}
	ttl := cfg.TokenTTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	return &TokenIssuer{
		apiKey:     cfg.LiveKitAPIKey,
		apiSecret:  cfg.LiveKitAPISecret,
		ttlSeconds: ttl,
	}, nil
}

// NewRoomName generates a unique room identifier
func NewRoomName() string {
	return "room-" + uuid.New().String()
}

// Issue signs an HMAC-SHA256 access token granting identity entry to
// room. The token carries a video grant with the room name, a random
// jti, and the configured TTL.
func (t *TokenIssuer) Issue(room, identity string) (string, error) {
	if room == "" {
		return "", fmt.Errorf("room name is required")
	}

	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"jti":  hex.EncodeToString(jti),
		"iss":  t.apiKey,
		"sub":  identity,
		"name": identity,
		"nbf":  now.Unix(),
		"exp":  now.Add(time.Duration(t.ttlSeconds) * time.Second).Unix(),
		"video": map[string]interface{}{
			"room":         room,
			"roomJoin":     true,
			"canPublish":   true,
			"canSubscribe": true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(t.apiSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
