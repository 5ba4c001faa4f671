package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/grannylabs/granny-voice/internal/config"
)

func newTestOpenAIProvider(baseURL string) *OpenAIProvider {
	cfg := &config.Config{
		OpenAIAPIKey:   "sk-test",
		OpenAIBaseURL:  baseURL,
		OpenAITTSModel: "tts-1",
		OpenAITTSVoice: "alloy",
	}
	return NewOpenAIProvider(cfg)
}

func TestOpenAIProvider_Stream(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 5000) // 10000 bytes -> 3 frames
	var gotInput string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		gotInput = req.Input
		if req.ResponseFormat != "pcm" {
			t.Errorf("response_format = %q, want pcm", req.ResponseFormat)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(pcm)
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(srv.URL)
	stream, err := p.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream() failed: %v", err)
	}
	defer stream.Close()

	stream.PushText("Hello ")
	stream.PushText("world")
	stream.MarkSegmentEnd()

	var out []byte
	frames := 0
	for {
		frame, err := stream.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		if frame.SampleRate != 24000 || frame.Channels != 1 {
			t.Errorf("frame format %d/%d, want 24000/1", frame.SampleRate, frame.Channels)
		}
		out = append(out, frame.Data...)
		frames++
	}

	if gotInput != "Hello world" {
		t.Errorf("request input = %q, want 'Hello world'", gotInput)
	}
	if !bytes.Equal(out, pcm) {
		t.Errorf("reassembled audio differs: got %d bytes, want %d", len(out), len(pcm))
	}
	if frames != 3 {
		t.Errorf("got %d frames, want 3", frames)
	}
}

func TestOpenAIProvider_StreamEmptyUtterance(t *testing.T) {
	p := newTestOpenAIProvider("http://unused.invalid")
	stream, _ := p.Stream(context.Background())
	defer stream.Close()

	stream.MarkSegmentEnd()
	if _, err := stream.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("empty utterance: got %v, want io.EOF", err)
	}
}

func TestOpenAIProvider_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(srv.URL)
	data, err := p.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize() failed: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("got %q, want audio-bytes", data)
	}
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_api_key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestOpenAIProvider(srv.URL)
	stream, _ := p.Stream(context.Background())
	defer stream.Close()

	stream.PushText("hi")
	stream.MarkSegmentEnd()

	_, err := stream.Next(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected API error, got %v", err)
	}
}
