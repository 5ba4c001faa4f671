package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/grannylabs/granny-voice/internal/config"
)

// ElevenLabsProvider implements Provider using the ElevenLabs API. The
// stream implementation uses the websocket stream-input endpoint, which
// accepts incremental text and returns base64 audio messages, so pushed
// chunks are forwarded as they arrive.
type ElevenLabsProvider struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	wsURL      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewElevenLabsProvider creates the fallback TTS provider
func NewElevenLabsProvider(cfg *config.Config) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:     cfg.FallbackAPIKey(),
		voiceID:    cfg.ElevenLabsVoiceID,
		modelID:    cfg.ElevenLabsModelID,
		baseURL:    cfg.ElevenLabsBaseURL,
		wsURL:      cfg.ElevenLabsWSURL,
		httpClient: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
}

// Name identifies the provider in logs and metrics
func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// ttsRequest is the request payload for the one-shot endpoint
type ttsRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts a complete text to 24kHz mono PCM in one request
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload := ttsRequest{
		Text:          text,
		ModelID:       p.modelID,
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_24000", p.baseURL, p.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return io.ReadAll(resp.Body)
}

// streamInputMessage is a text message on the stream-input socket. An
// empty Text signals end of input to the server.
type streamInputMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// streamOutputMessage is an audio message from the stream-input socket
type streamOutputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// Stream dials the websocket stream-input endpoint. Dial failure is the
// open-time failure mode of this provider.
func (p *ElevenLabsProvider) Stream(ctx context.Context) (SynthesizeStream, error) {
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=pcm_24000",
		p.wsURL, p.voiceID, p.modelID)

	header := http.Header{}
	header.Set("xi-api-key", p.apiKey)

	conn, resp, err := p.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial elevenlabs stream: %w", err)
	}

	// The opening message carries voice settings; a single space keeps the
	// connection from being treated as end-of-input.
	init := streamInputMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	if err := conn.WriteJSON(init); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize elevenlabs stream: %w", err)
	}

	return &elevenLabsStream{conn: conn}, nil
}

// elevenLabsStream forwards pushed text over the websocket and decodes
// base64 audio messages into frames. Write errors are recorded and
// surfaced on the next pull so PushText stays fire-and-forget.
type elevenLabsStream struct {
	conn *websocket.Conn

	mu        sync.Mutex
	sendErr   error
	ended     bool
	exhausted bool
	closed    bool
}

func (s *elevenLabsStream) PushText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended || s.sendErr != nil {
		return
	}
	// The server treats an empty text as end-of-input; an empty push is a
	// legal no-op here instead.
	if text == "" {
		return
	}
	msg := streamInputMessage{Text: text, TryTriggerGeneration: true}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.sendErr = fmt.Errorf("failed to push text to elevenlabs: %w", err)
	}
}

func (s *elevenLabsStream) MarkSegmentEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ended || s.sendErr != nil {
		return
	}
	s.ended = true
	if err := s.conn.WriteJSON(streamInputMessage{Text: ""}); err != nil {
		s.sendErr = fmt.Errorf("failed to end elevenlabs segment: %w", err)
	}
}

func (s *elevenLabsStream) Next(ctx context.Context) (*AudioFrame, error) {
	s.mu.Lock()
	if s.exhausted || s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
	}

	for {
		var msg streamOutputMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.markExhausted()
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read elevenlabs stream: %w", err)
		}

		if msg.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("failed to decode elevenlabs audio: %w", err)
			}
			return &AudioFrame{Data: data, SampleRate: 24000, Channels: 1}, nil
		}

		if msg.IsFinal {
			s.markExhausted()
			return nil, io.EOF
		}
		// Non-audio bookkeeping message; keep reading.
	}
}

func (s *elevenLabsStream) markExhausted() {
	s.mu.Lock()
	s.exhausted = true
	s.mu.Unlock()
}

func (s *elevenLabsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
