package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/database"
)

var testDBCmd = &cobra.Command{
	Use:   "test-db",
	Short: "Test the PostgreSQL connection",
	Long: `Tests the database connection and shows pool statistics.

Example:
  go run ./cmd/starmf test-db`,
	RunE: runTestDB,
}

func init() {
	rootCmd.AddCommand(testDBCmd)
}

func runTestDB(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StAR MF Database Connection Test ===")

	fmt.Println("Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Printf("Config loaded (ENV: %s)\n", cfg.Env)
	fmt.Printf("Database URL: %s\n\n", maskPassword(cfg.Database.URL))

	fmt.Println("Connecting to database...")
	db, err := database.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	fmt.Println("Database connection established")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	fmt.Println("Ping successful")

	status, err := db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("Health Check Results:")
	fmt.Printf("  Healthy: %v\n", status.Healthy)
	fmt.Printf("  Response Time: %v\n\n", status.ResponseTime)

	fmt.Println("Connection Pool Statistics:")
	fmt.Printf("  Max Connections: %d\n", status.Stats.MaxConns)
	fmt.Printf("  Total Connections: %d\n", status.Stats.TotalConns)
	fmt.Printf("  Acquired Connections: %d\n", status.Stats.AcquiredConns)
	fmt.Printf("  Idle Connections: %d\n", status.Stats.IdleConns)
	fmt.Printf("  Acquire Count: %d\n", status.Stats.AcquireCount)
	fmt.Printf("  Acquire Duration: %v\n", status.Stats.AcquireDur)

	fmt.Println("\nAll tests passed")
	return nil
}

// maskPassword hides the credential part of a database URL for display.
func maskPassword(url string) string {
	if len(url) < 55 {
		if len(url) > 30 {
			return url[:30] + "***"
		}
		return "***"
	}
	return url[:30] + "***" + url[len(url)-25:]
}
