package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange"
	"github.com/stashfi/starmf/internal/metrics"
	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/internal/pipeline"
	"github.com/stashfi/starmf/internal/session"
	"github.com/stashfi/starmf/internal/views"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/database"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the order submission worker",
	Long: `Starts the submission consumer.

Drains the durable submission queue with a bounded worker pool and
submits orders to the exchange gateway. State transitions are
idempotent, so any number of worker processes can share one queue.

Example:
  go run ./cmd/starmf worker
  go run ./cmd/starmf worker --concurrency 5`,
	RunE: runWorker,
}

var workerConcurrency int

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "worker pool size (overrides PIPELINE_CONCURRENCY)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StAR MF Submission Worker ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if workerConcurrency > 0 {
		cfg.Pipeline.Concurrency = workerConcurrency
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	redisClient, err := redis.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	cipher, err := newCredentialCipher(cfg)
	if err != nil {
		return fmt.Errorf("credential cipher: %w", err)
	}

	credRepo := credentials.NewRepository(db, cipher)
	orderRepo := orders.NewRepository(db)
	queue := pipeline.NewQueue(db)
	cache := redis.NewCache(redisClient, "views")
	invalidator := views.NewInvalidator(cache, log)

	rateLimiter := redis.NewRateLimiter(redisClient, "bse")
	gateway := exchange.NewGateway(cfg, log, rateLimiter)
	tokens := session.NewProvider(gateway, credRepo, log, cfg.BSE.TokenTTL, cfg.BSE.TokenSkew)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	consumer := pipeline.NewConsumer(cfg, queue, orderRepo, tokens, credRepo, gateway, invalidator, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsServer *metrics.Server
	if cfg.MetricsEnabled {
		metricsServer = metrics.NewServer(cfg.MetricsPort, registry, log)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	fmt.Println("Worker running. Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker...")
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("Worker shutdown timed out")
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}

	log.Info("Worker stopped")
	return nil
}
