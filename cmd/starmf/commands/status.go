package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashfi/starmf/internal/pipeline"
	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/database"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Monitor submission queue status",
	Long: `Shows the submission queue depth, refreshed periodically.

Example:
  go run ./cmd/starmf status
  go run ./cmd/starmf status --refresh 5s`,
	RunE: runStatus,
}

var statusRefresh time.Duration

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().DurationVar(&statusRefresh, "refresh", 3*time.Second, "refresh interval")
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StAR MF Queue Status ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	queue := pipeline.NewQueue(db)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(statusRefresh)
	defer ticker.Stop()

	displayStats(queue)

	for {
		select {
		case <-sigChan:
			fmt.Println("\nStatus monitor stopped")
			return nil

		case <-ticker.C:
			fmt.Print("\033[H\033[2J")
			fmt.Println("=== StAR MF Queue Status ===")
			fmt.Printf("Refresh: %v | Last update: %s\n\n", statusRefresh, time.Now().Format("15:04:05"))
			displayStats(queue)
		}
	}
}

func displayStats(queue *pipeline.Queue) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := queue.Stats(ctx)
	if err != nil {
		fmt.Printf("Failed to read queue stats: %v\n", err)
		return
	}

	fmt.Println("Submission Queue")
	fmt.Println("--------------------------------")
	fmt.Printf("%-15s %10d\n", "Queued:", stats.Queued)
	fmt.Printf("%-15s %10d\n", "Processing:", stats.Processing)
	fmt.Printf("%-15s %10d\n", "Done:", stats.Done)
	fmt.Printf("%-15s %10d\n", "Failed:", stats.Failed)
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
}
