package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	// Background workers stop when ctx is cancelled.
	workers, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		services.Gateway.Start(workers)
	}()

	if services.Relay != nil {
		if err := services.Relay.Start(workers); err != nil {
			log.Fatal().Err(err).Msg("failed to start relay")
		}
	}

	if services.Listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := services.Listener.Start(workers); err != nil {
				log.Error().Err(err).Msg("match change listener stopped with error")
			}
		}()
	}

	server := setupServer(cfg, services)
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.Store).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shut down server")
	}

	cancelWorkers()
	wg.Wait()
	if services.Relay != nil {
		services.Relay.Wait()
	}
	log.Info().Msg("shutdown complete")
}
