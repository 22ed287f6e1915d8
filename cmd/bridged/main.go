package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/declanhiggins/echobridge/internal/bridge"
	"github.com/declanhiggins/echobridge/internal/chatdb"
	"github.com/declanhiggins/echobridge/internal/config"
	"github.com/declanhiggins/echobridge/internal/dedup"
	"github.com/declanhiggins/echobridge/internal/fanout"
	"github.com/declanhiggins/echobridge/internal/messenger"
	"github.com/declanhiggins/echobridge/internal/metrics"
	"github.com/declanhiggins/echobridge/internal/observ"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting echobridge",
		zap.String("env", cfg.Env),
		zap.String("chat_db", cfg.ChatDBPath),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	store, err := chatdb.Open(cfg.ChatDBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}

	// Optional Redis-backed dedup; falls back to in-memory when absent.
	var seen dedup.Store
	if cfg.RedisHost != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisSeen, err := dedup.NewRedis(ctx, dedup.RedisConfig{
			Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using in-memory dedup", zap.Error(err))
		} else {
			seen = redisSeen
			defer redisSeen.Close()
		}
	}

	executor := bridge.NewExecutor(bridge.MessagesScriptSource{}, 30*time.Second, logger)

	msgr, err := messenger.New(store, executor, messenger.Config{
		SendConcurrency:   cfg.SendConcurrency,
		TextTimeout:       cfg.TextTimeout,
		AttachmentTimeout: cfg.AttachmentTimeout,
		MatchTolerance:    cfg.MatchTolerance,
		ResolvedRetention: cfg.ResolvedRetention,
		PollInterval:      cfg.PollInterval,
		UnreadOnly:        cfg.UnreadOnly,
		ExcludeSelf:       cfg.ExcludeSelf,
		Webhook: fanout.WebhookConfig{
			URL:     cfg.WebhookURL,
			Headers: cfg.WebhookHeaders,
			Retries: cfg.WebhookRetries,
			Backoff: cfg.WebhookBackoff,
			Timeout: cfg.WebhookTimeout,
		},
		SeenStore: seen,
	}, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create messenger: %w", err)
	}

	if err := msgr.StartWatching(fanout.Callbacks{
		OnDirectMessage: func(msg *chatdb.Message) {
			logger.Info("new message",
				zap.Int64("row_id", msg.RowID),
				zap.String("from", msg.Handle),
			)
		},
		OnGroupMessage: func(msg *chatdb.Message) {
			logger.Info("new group message",
				zap.Int64("row_id", msg.RowID),
				zap.String("chat", msg.ChatKey),
			)
		},
	}); err != nil {
		msgr.Close()
		return fmt.Errorf("failed to start watching: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		msgr.Close()
		return fmt.Errorf("ops server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
		}

		// Stops polling, drains pending sends, then releases the store.
		if err := msgr.Close(); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		logger.Info("stopped gracefully")
	}

	return nil
}
