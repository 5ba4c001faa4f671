package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/grannylabs/granny-voice/internal/config"
	"github.com/grannylabs/granny-voice/internal/observability"
	"github.com/grannylabs/granny-voice/internal/room"
)

type tokenRequest struct {
	Room     string `json:"room,omitempty"`
	Identity string `json:"identity,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Room  string `json:"room"`
	URL   string `json:"url"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithComponent("tokenserver")

	issuer, err := room.NewTokenIssuer(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Token issuer unavailable")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", withCORS(tokenHandler(issuer, cfg, logger)))
	mux.HandleFunc("/health", observability.HealthCheckHandler("tokenserver"))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Token server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Token server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down token server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Token server forced to shut down")
	}
	logger.Info().Msg("Token server exited")
}

// withCORS allows browser clients on any origin to request tokens and
// answers preflight requests
func withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// tokenHandler issues one room credential per request. Room and
// identity default to generated values when the body omits them.
func tokenHandler(issuer *room.TokenIssuer, cfg *config.Config, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req tokenRequest
		if r.Body != nil {
			// An empty or absent body is fine
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		roomName := req.Room
		if roomName == "" {
			roomName = room.NewRoomName()
		}
		identity := req.Identity
		if identity == "" {
			identity = "caller-" + observability.NewSessionID()
		}

		token, err := issuer.Issue(roomName, identity)
		if err != nil {
			logger.Error().Err(err).Msg("Token issuance failed")
			observability.RecordError("tokenserver")
			http.Error(w, "failed to issue token", http.StatusInternalServerError)
			return
		}

		observability.RecordTokenIssued()
		logger.Info().
			Str("room", roomName).
			Str("identity", identity).
			Msg("Issued room token")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			Token: token,
			Room:  roomName,
			URL:   cfg.LiveKitURL,
		})
	}
}
