package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stashfi/starmf/internal/credentials"
	"github.com/stashfi/starmf/internal/exchange"
	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/internal/pipeline"
	"github.com/stashfi/starmf/internal/scheduler"
	"github.com/stashfi/starmf/internal/scheduler/jobs"
	"github.com/stashfi/starmf/internal/session"
	"github.com/stashfi/starmf/internal/views"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/database"
	"github.com/stashfi/starmf/pkg/logger"
	"github.com/stashfi/starmf/pkg/redis"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Start the background job scheduler",
	Long: `Starts the cron scheduler.

Jobs:
  session-refresh    - every 5 minutes, keeps gateway tokens warm
  order-status-poll  - every 15 minutes, reconciles submitted orders
                       against the exchange status feed (skipped in
                       mock mode)
  queue-maintenance  - daily, prunes settled jobs and requeues
                       orphaned ones

Example:
  go run ./cmd/starmf scheduler`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(schedulerCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StAR MF Scheduler ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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
	lock := redis.NewLock(redisClient, "starmf")
	cache := redis.NewCache(redisClient, "views")
	invalidator := views.NewInvalidator(cache, log)

	rateLimiter := redis.NewRateLimiter(redisClient, "bse")
	gateway := exchange.NewGateway(cfg, log, rateLimiter)
	tokens := session.NewProvider(gateway, credRepo, log, cfg.BSE.TokenTTL, cfg.BSE.TokenSkew)

	sched := scheduler.New(log)

	if err := sched.AddJob(jobs.NewSessionRefresh(tokens, credRepo, lock, log)); err != nil {
		return err
	}
	if err := sched.AddJob(jobs.NewQueueMaintenance(queue, lock, log)); err != nil {
		return err
	}

	// The status feed does not exist in mock mode; mock orders are
	// settled synchronously by the mock gateway's responses.
	if !cfg.BSE.MockMode {
		if err := sched.AddJob(jobs.NewOrderStatusPoll(orderRepo, gateway, invalidator, lock, log)); err != nil {
			return err
		}
	} else {
		log.Warn("Mock mode: order status poll job disabled")
	}

	sched.Start()
	fmt.Println("Scheduler running. Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	return nil
}
