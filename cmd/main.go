package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"comicforge/internal/config"
	"comicforge/internal/engine"
	"comicforge/internal/game"
	"comicforge/internal/gen"
	"comicforge/internal/llm"
	"comicforge/internal/memory"
	"comicforge/internal/prompts"
	"comicforge/internal/render"
	"comicforge/internal/storage"
	"comicforge/internal/universe"
	"comicforge/internal/web"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	catalogPath := flag.String("catalog", "", "path to universe catalog file (built-in catalog when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)

	catalog := universe.Default()
	if *catalogPath != "" {
		catalog, err = universe.Load(*catalogPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load universe catalog")
		}
	}

	if cfg.LLM.APIKey == "" {
		log.Warn().Msg("no LLM api key configured; generation calls will fail")
	}
	llmClient := llm.NewClient(cfg.LLM, log)
	tmpl := prompts.NewEngine()

	// Optional collaborators degrade to nil when unreachable; the game runs
	// on process memory alone.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	var cache *storage.Cache
	if c, err := storage.NewCache(ctx, cfg.Storage.Redis, log); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, render caching disabled")
	} else {
		cache = c
		defer cache.Close()
		log.Info().Msg("redis connected")
	}

	var archive *storage.Archive
	if cfg.Storage.MySQL.Host != "" {
		if a, err := storage.NewArchive(cfg.Storage.MySQL); err != nil {
			log.Warn().Err(err).Msg("mysql unavailable, story archiving disabled")
		} else {
			archive = a
			defer archive.Close()
			log.Info().Msg("mysql connected")
		}
	}

	var recall *memory.Store
	if cfg.Storage.Qdrant.Host != "" && cfg.LLM.APIKey != "" {
		if m, err := memory.NewStore(ctx, cfg.Storage.Qdrant, llmClient, log); err != nil {
			log.Warn().Err(err).Msg("qdrant unavailable, narrative recall disabled")
		} else {
			recall = m
			defer recall.Close()
			log.Info().Msg("qdrant connected")
		}
	}
	cancel()

	sessions := game.NewSessionManager(cfg.Game.SessionTimeout)
	orchestrator := engine.NewOrchestrator(
		sessions,
		gen.NewUniverseGenerator(llmClient, tmpl, catalog, cfg.Game, log),
		gen.NewSegmentGenerator(llmClient, tmpl, cfg.Game, log),
		gen.NewMetadataGenerator(llmClient, tmpl, cfg.Game, log),
		gen.NewImagePromptGenerator(llmClient, tmpl, cfg.Game, log),
		cfg.Game,
		log,
	)
	hub := web.NewEventHub(log)
	orchestrator.Events = hub
	if recall != nil {
		orchestrator.Memory = recall
	}
	if archive != nil {
		orchestrator.Archiver = archive
	}

	var imageClient *render.ImageClient
	if cfg.Image.Endpoint != "" {
		imageClient = render.NewImageClient(cfg.Image, cache, log)
	}
	var speechClient *render.SpeechClient
	if cfg.Speech.APIKey != "" {
		speechClient = render.NewSpeechClient(cfg.Speech, cache, log)
	}

	handlers := web.NewHandlers(orchestrator, hub, llmClient, imageClient, speechClient, log)
	router := web.NewRouter(handlers, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Expired sessions are purged on access; the sweep catches the idle ones
	// nobody touches again.
	stopSweep := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := sessions.PurgeExpired(); n > 0 {
					log.Debug().Int("purged", n).Msg("expired sessions removed")
				}
			case <-stopSweep:
				return
			}
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	close(stopSweep)
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
