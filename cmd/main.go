package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"realtime-caption-service/internal/config"
	"realtime-caption-service/internal/events"
	"realtime-caption-service/internal/observability"
	"realtime-caption-service/internal/observability/logging"
	"realtime-caption-service/internal/observability/metrics"
	"realtime-caption-service/internal/service/stt"
	"realtime-caption-service/internal/service/stt/google"
	"realtime-caption-service/internal/service/stt/mock"
	"realtime-caption-service/internal/service/stt/whisper"
	"realtime-caption-service/internal/service/translation"
	"realtime-caption-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	logFormat := cfg.Observability.LogFormat
	if cfg.IsDevelopment() {
		logFormat = "console"
	}
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: logFormat,
	})
	log.Info().
		Str("service", cfg.Service.Name).
		Str("env", cfg.Service.Env).
		Str("engine", cfg.STT.Engine).
		Msg("starting realtime caption service")

	// Kafka publisher with separate topics for partial and final captions.
	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	engine, err := buildEngine(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("engine", cfg.STT.Engine).Msg("engine init failed")
	}
	defer engine.Close()

	var translator translation.Translator = translation.Noop{}
	if cfg.Translation.BaseURL != "" {
		translator = translation.NewClient(cfg.Translation.BaseURL, cfg.Translation.Timeout)
	} else {
		log.Warn().Msg("no translation backend configured, captions stay untranslated")
	}

	obs := observability.NewServer(":" + cfg.Service.ObservabilityPort)
	obs.Start()

	wsServer := ws.NewServer(cfg, engine, translator, publisher, metrics.DefaultMetrics,
		logging.WithComponent("ws"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/v1/stream", wsServer.Handle)

	server := &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     r,
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("caption ingress listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("observability shutdown failed")
	}
}

func buildEngine(cfg *config.Configuration) (stt.Engine, error) {
	switch cfg.STT.Engine {
	case "mock":
		return mock.New(), nil
	case "google":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return google.New(ctx, cfg.STT.GoogleModel)
	case "whispercpp":
		return whisper.New(cfg.STT.WhisperModelPath)
	default:
		return nil, config.ErrInvalidConfig
	}
}
