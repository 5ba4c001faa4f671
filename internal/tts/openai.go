package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/grannylabs/granny-voice/internal/config"
)

// openAIFrameBytes is the frame size cut from the response body: 100ms of
// 24kHz mono 16-bit PCM.
const openAIFrameBytes = 4800

// OpenAIProvider implements Provider using the OpenAI speech API. The API
// takes complete text per request, so the stream implementation gathers
// pushed chunks and issues a request per gathered segment, slicing the
// response body into frames.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *http.Client
}

// speechRequest is the request payload for the OpenAI speech endpoint
type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// NewOpenAIProvider creates the primary TTS provider
func NewOpenAIProvider(cfg *config.Config) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:     cfg.OpenAIAPIKey,
		baseURL:    cfg.OpenAIBaseURL,
		model:      cfg.OpenAITTSModel,
		voice:      cfg.OpenAITTSVoice,
		httpClient: &http.Client{},
	}
}

// Name identifies the provider in logs and metrics
func (p *OpenAIProvider) Name() string { return "openai" }

// Synthesize converts a complete text to 24kHz mono PCM in one request
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := p.request(ctx, text)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Stream opens a synthesis stream. No connection is made until the first
// pull; the request fires with whatever text has been gathered by then.
func (p *OpenAIProvider) Stream(ctx context.Context) (SynthesizeStream, error) {
	return &openAIStream{p: p}, nil
}

// request issues one speech request and returns the raw PCM body
func (p *OpenAIProvider) request(ctx context.Context, text string) (io.ReadCloser, error) {
	payload := speechRequest{
		Model:          p.model,
		Input:          text,
		Voice:          p.voice,
		ResponseFormat: "pcm",
		Speed:          1.0,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("openai speech API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return resp.Body, nil
}

// openAIStream gathers pushed text and converts it request-by-request.
// Text pushed after a request has started is synthesized in a follow-up
// request once the current response body is drained.
type openAIStream struct {
	p *OpenAIProvider

	mu        sync.Mutex
	pending   []string
	ended     bool
	body      io.ReadCloser
	exhausted bool
	closed    bool
}

func (s *openAIStream) PushText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, text)
}

func (s *openAIStream) MarkSegmentEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
}

func (s *openAIStream) Next(ctx context.Context) (*AudioFrame, error) {
	for {
		s.mu.Lock()
		if s.closed || s.exhausted {
			s.mu.Unlock()
			return nil, io.EOF
		}
		body := s.body
		var text string
		if body == nil {
			text = strings.Join(s.pending, "")
			s.pending = s.pending[:0]
			if text == "" {
				s.exhausted = true
				s.mu.Unlock()
				return nil, io.EOF
			}
		}
		s.mu.Unlock()

		if body == nil {
			b, err := s.p.request(ctx, text)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				b.Close()
				return nil, io.EOF
			}
			s.body = b
			s.mu.Unlock()
			body = b
		}

		buf := make([]byte, openAIFrameBytes)
		n, err := body.Read(buf)
		if n > 0 {
			return &AudioFrame{Data: buf[:n], SampleRate: 24000, Channels: 1}, nil
		}
		if err == io.EOF {
			body.Close()
			s.mu.Lock()
			s.body = nil
			s.mu.Unlock()
			// Drain any text pushed since the request started before
			// signaling exhaustion.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read openai audio response: %w", err)
		}
	}
}

func (s *openAIStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.body != nil {
		err := s.body.Close()
		s.body = nil
		return err
	}
	return nil
}
