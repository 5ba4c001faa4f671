package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/config"
	"github.com/grannylabs/granny-voice/internal/observability"
	"github.com/grannylabs/granny-voice/internal/resilience"
)

// callbackHandler embeds the SDK default handler and overrides only the
// messages the agent cares about
type callbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (h *callbackHandler) Message(message *msginterfaces.MessageResponse) error {
	h.onMessage(message)
	return nil
}

func (h *callbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if h.onError != nil {
		return h.onError(errorResponse)
	}
	return h.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client using Deepgram's streaming websocket
// API at 16kHz linear PCM, the format the agent's microphone path uses.
type DeepgramClient struct {
	cfg         *config.Config
	events      SpeechEvents
	client      *listenClient.WSCallback
	transcripts chan *Transcript
	mu          sync.RWMutex
	isActive    bool
	ctx         context.Context
	cancel      context.CancelFunc
	breaker     *resilience.CircuitBreaker
	logger      zerolog.Logger
}

// NewDeepgramClient creates a streaming transcription client. events
// callbacks may be nil.
func NewDeepgramClient(cfg *config.Config, events SpeechEvents) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	breaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramClient{
		cfg:         cfg,
		events:      events,
		transcripts: make(chan *Transcript, 100),
		ctx:         ctx,
		cancel:      cancel,
		breaker:     breaker,
		logger:      observability.WithComponent("stt"),
	}
}

// Start opens the Deepgram websocket session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     16000,
	}

	callback := &callbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("response", errorResponse).Msg("Deepgram error")

			d.breaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()
				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.cfg.DeepgramAPIKey,
		nil,
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.breaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))

	d.logger.Info().
		Str("model", d.cfg.DeepgramModel).
		Str("language", d.cfg.DeepgramLanguage).
		Msg("Deepgram streaming client started")
	return nil
}

// handleMessage routes Deepgram messages into transcripts and speech
// events
func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Interface("metadata", msg.Metadata).Msg("Deepgram metadata")

	case "SpeechStarted":
		d.logger.Debug().Msg("Deepgram speech started")
		if d.events.OnSpeechStarted != nil {
			d.events.OnSpeechStarted()
		}

	case "UtteranceEnd":
		d.logger.Debug().Msg("Deepgram utterance ended")
		if d.events.OnUtteranceEnd != nil {
			d.events.OnUtteranceEnd()
		}

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			lastWord := alt.Words[len(alt.Words)-1]
			duration = lastWord.End - startTime
		}

		result := &Transcript{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		}

		select {
		case d.transcripts <- result:
			if result.IsFinal {
				d.logger.Info().
					Str("text", alt.Transcript).
					Float64("confidence", alt.Confidence).
					Msg("Final transcription")
			} else {
				d.logger.Debug().Str("text", alt.Transcript).Msg("Interim transcription")
			}
		default:
			d.logger.Warn().Msg("Transcript channel full, dropping transcription")
		}

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Unhandled deepgram message type")
	}
}

// SendAudio forwards one audio chunk to Deepgram, protected by the
// circuit breaker
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	err := d.breaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.breaker.GetState()))
	observability.RecordSTTRequest(err == nil)
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}

	return err
}

// attemptReconnect re-establishes the session with backoff
func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(d.ctx, d.Start, reconnectConfig); err != nil {
		d.logger.Error().Err(err).Msg("Failed to reconnect deepgram client")
	} else {
		d.logger.Info().Msg("Deepgram client reconnected")
	}
}

// Transcripts returns the channel of recognition results
func (d *DeepgramClient) Transcripts() <-chan *Transcript {
	return d.transcripts
}

// Stop ends the transcription session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// Close releases the client and stops reconnection attempts
func (d *DeepgramClient) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	// Let pending reads drain before the channel goes away.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.transcripts)
	}()

	return nil
}

// IsActive reports whether the session is live
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
