// Package main runs the standalone signaling broker that peers use to
// exchange connection offers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"game-session-hub/internal/config"
	sig "game-session-hub/internal/signal"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.SetupLogging(cfg.Log)

	broker := sig.NewBroker(cfg.Signal.PingInterval)
	mux := http.NewServeMux()
	mux.Handle("/peerjs", broker)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Signal.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Signal.Addr).Msg("Signal broker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Signal broker failed")
		}
	}()

	<-ctx.Done()
	log.Info().Int("endpoints", broker.Len()).Msg("Shutting down signal broker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Signal broker shutdown failed")
	}
	log.Info().Msg("Signal broker stopped gracefully")
}
