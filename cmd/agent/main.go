package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/audio"
	"github.com/grannylabs/granny-voice/internal/config"
	"github.com/grannylabs/granny-voice/internal/llm"
	"github.com/grannylabs/granny-voice/internal/observability"
	"github.com/grannylabs/granny-voice/internal/session"
	"github.com/grannylabs/granny-voice/internal/startup"
	"github.com/grannylabs/granny-voice/internal/stt"
	"github.com/grannylabs/granny-voice/internal/tts"
)

const agentInstructions = "You are a warm, patient voice assistant for elderly users. " +
	"Speak clearly, keep replies short, and never rush the conversation."

func main() {
	selfTest := flag.Bool("self-test", false, "run the synthesis self-test and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before the logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("force_fallback", cfg.ForceFallback).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice agent starting")

	checks, err := startup.Check(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Startup check failed")
	}

	llmClient := llm.NewClient(cfg)
	probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = llmClient.Probe(probeCtx)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("OpenAI connection probe failed")
	}

	failover := buildSynthesizer(cfg, checks.FallbackEnabled)

	if *selfTest || cfg.SelfTest {
		os.Exit(runSelfTest(failover, logger))
	}

	sess := session.New(failover, llmClient, session.Options{
		Instructions: agentInstructions,
		Sink:         buildSink(cfg, logger),
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       320,
		},
	})

	if cfg.DeepgramAPIKey != "" {
		sess.AttachSTT(stt.NewDeepgramClient(cfg, sess.SpeechEvents()))
	} else {
		logger.Warn().Msg("DEEPGRAM_API_KEY not set, transcription disabled")
	}

	server := serveObservability(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Session failed to start")
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")

	if err := sess.Close(); err != nil {
		logger.Error().Err(err).Msg("Session close failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shut down")
	}

	logger.Info().Msg("Voice agent exited")
}

// buildSynthesizer assembles the failover TTS stack from configuration
func buildSynthesizer(cfg *config.Config, fallbackEnabled bool) *tts.FailoverTTS {
	primary := tts.NewOpenAIProvider(cfg)

	var fallback tts.Provider
	if fallbackEnabled {
		fallback = tts.NewElevenLabsProvider(cfg)
	}

	return tts.NewFailoverTTS(primary, fallback, cfg.ForceFallback)
}

// buildSink picks where synthesized audio goes. Without an output path
// the audio is counted and discarded.
func buildSink(cfg *config.Config, logger zerolog.Logger) audio.Sink {
	if cfg.AudioOutPath == "" {
		return audio.NewDiscardSink()
	}
	f, err := os.Create(cfg.AudioOutPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.AudioOutPath).
			Msg("Could not open audio output file, discarding audio")
		return audio.NewDiscardSink()
	}
	logger.Info().Str("path", cfg.AudioOutPath).Msg("Writing synthesized audio to file")
	return audio.NewWriterSink(f)
}

// serveObservability starts the /health, /ready and /metrics endpoints
func serveObservability(cfg *config.Config, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler("voice-agent"))
	mux.HandleFunc("/ready", observability.ReadinessHandler("voice-agent", map[string]observability.HealthCheckFunc{
		"config": func(ctx context.Context) (bool, error) { return true, nil },
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Observability server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Observability server failed")
		}
	}()

	return server
}

// runSelfTest streams a fixed phrase through the failover stack,
// counting frames. Exit code 0 means audio was produced.
func runSelfTest(failover *tts.FailoverTTS, logger zerolog.Logger) int {
	const phrase = "This is a synthesis self-test. If you can hear this, text to speech is working."

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	inner, err := failover.Stream(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Self-test: failed to open stream")
		return 1
	}
	stream := tts.NewLoggedStream(inner, func() string { return failover.ActiveProvider().String() })
	defer stream.Close()

	stream.PushText(phrase)
	stream.MarkSegmentEnd()

	var bytes int64
	for {
		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Error().Err(err).Msg("Self-test: synthesis failed")
			return 1
		}
		bytes += int64(len(frame.Data))
	}

	if stream.FrameCount() == 0 {
		logger.Error().Msg("Self-test: no audio produced")
		return 1
	}

	logger.Info().
		Int64("frames", stream.FrameCount()).
		Int64("bytes", bytes).
		Str("provider", failover.ActiveProvider().String()).
		Msg("Self-test passed")
	return 0
}
