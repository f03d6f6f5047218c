package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashfi/starmf/internal/api"
	"github.com/stashfi/starmf/internal/api/handlers"
	"github.com/stashfi/starmf/internal/orders"
	"github.com/stashfi/starmf/internal/pipeline"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/database"
	"github.com/stashfi/starmf/pkg/logger"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the order API server",
	Long: `Starts the REST API server.

Endpoints:
  GET  /health            - Health check
  POST /api/orders        - Place an order (queued for submission)
  GET  /api/orders        - List the advisor's orders
  GET  /api/orders/{id}   - Get one order
  GET  /api/queue/stats   - Submission queue depth

Example:
  go run ./cmd/starmf api
  go run ./cmd/starmf api --port 8080`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StAR MF API Server ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if apiPort != "" {
		cfg.Port = apiPort
	}

	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	orderRepo := orders.NewRepository(db)
	refs := orders.NewReferenceGenerator(db)
	queue := pipeline.NewQueue(db)

	orderHandler := handlers.NewOrderHandler(orderRepo, refs, queue, cfg.Pipeline.MaxAttempts, log)
	router := api.NewRouter(orderHandler, log)
	server := api.New(cfg, log, router)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("\nServer running on http://localhost:%s\n", cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
