package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chatrelay "github.com/chatrelay/chatrelay-go"
	"github.com/chatrelay/chatrelay-go/cache"
	"github.com/chatrelay/chatrelay-go/config"
	"github.com/chatrelay/chatrelay-go/internal/logger"
	"github.com/chatrelay/chatrelay-go/internal/postgres"
	"github.com/chatrelay/chatrelay-go/monitor"
	"github.com/chatrelay/chatrelay-go/queue"
	"github.com/chatrelay/chatrelay-go/reliability"
	"github.com/chatrelay/chatrelay-go/verify"
)

const sweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelayd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	store := postgres.NewInteractionStore(pool)

	client, err := chatrelay.NewClient(
		chatrelay.WithLogger(log),
		chatrelay.WithSendFunc(sendToChannel),
		chatrelay.WithInteractionRecorder(store.RecordInteraction),
		chatrelay.WithQueueOptions(
			queue.WithInterval(cfg.QueueTickInterval),
			queue.WithBatchSize(cfg.QueueBatchSize),
			queue.WithMaxRetries(cfg.QueueMaxRetries),
		),
		chatrelay.WithBreakerOptions(
			reliability.WithFailureThreshold(cfg.BreakerFailureThreshold),
			reliability.WithSuccessThreshold(cfg.BreakerSuccessThreshold),
			reliability.WithCooldown(cfg.BreakerCooldown),
		),
		chatrelay.WithVerifyOptions(
			verify.WithCodeLength(cfg.CodeLength),
			verify.WithMaxAttempts(cfg.CodeMaxAttempts),
			verify.WithRateLimit(cfg.RateLimitCount, cfg.RateLimitWindow),
		),
		chatrelay.WithCodeTTL(cfg.CodeTTL),
		chatrelay.WithCacheOptions(cache.WithMaxEntries(1000)),
	)
	if err != nil {
		return fmt.Errorf("failed to build client: %w", err)
	}

	if err := client.Start(); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}

	health := client.HealthService(store, store,
		monitor.WithErrorRateThreshold(cfg.ErrorRateThreshold),
	)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Method(http.MethodGet, "/health", monitor.NewHandler(health))
	router.Get("/health/live", monitor.LivenessHandler())
	router.Get("/health/ready", monitor.ReadinessHandler(health))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Expired codes are usually pruned on access; the ticker covers keys
	// nobody touches again.
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := client.Codes().Sweep(); removed > 0 {
					log.Debug("swept expired verification codes", "removed", removed)
				}
			}
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if err := client.Close(); err != nil {
		log.Error("queue shutdown failed", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}

// sendToChannel is a stand-in for a real channel binding. Deployments replace
// this with the HTTP call into their messaging provider.
func sendToChannel(ctx context.Context, configID string, payload interface{}) error {
	return nil
}
