package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stashfi/starmf/pkg/config"
	"github.com/stashfi/starmf/pkg/logger"
)

var testLoggerCmd = &cobra.Command{
	Use:   "test-logger",
	Short: "Test logger output",
	Long: `Emits sample log lines at every level with the configured
format, to verify log shipping and parsing.

Example:
  go run ./cmd/starmf test-logger
  LOG_FORMAT=json go run ./cmd/starmf test-logger`,
	RunE: runTestLogger,
}

func init() {
	rootCmd.AddCommand(testLoggerCmd)
}

func runTestLogger(cmd *cobra.Command, args []string) error {
	fmt.Println("=== StAR MF Logger Test ===")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg)

	log.Debug("Debug message")
	log.Info("Info message")
	log.Warn("Warn message")
	log.Error("Error message")

	log.WithField("order_id", "order-123").Info("Message with field")
	log.WithFields(map[string]interface{}{
		"ref_no":       "20260828000001",
		"order_number": "BSE12345",
	}).Info("Message with fields")
	log.WithError(errors.New("sample error")).Error("Message with error")

	fmt.Println("\nLogger test finished")
	return nil
}
