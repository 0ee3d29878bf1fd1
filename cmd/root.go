package cmd

import (
	"fmt"
	"os"

	"github.com/psds-microservice/ticketform-service/internal/config"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "ticketform-service",
	Short:         "Ticket types with dynamic form schemas: validation, partial merge, OCR apply",
	RunE:          runAPI,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(revalidateCmd)
}

// loadConfig читает .env/окружение, проверяет конфиг и настраивает логгер.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	return cfg, nil
}
