package cmd

import (
	"fmt"

	"github.com/psds-microservice/ticketform-service/internal/database"
	"github.com/psds-microservice/ticketform-service/internal/logger"
	"github.com/psds-microservice/ticketform-service/internal/service"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the built-in complaint ticket type (idempotent)",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	tt, created, err := service.NewSchemaService(db).SeedComplaintType(cmd.Context())
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Get().Info("seed finished", "ticket_type_id", tt.ID, "name", tt.Name, "created", created, "fields", len(tt.Fields))
	return nil
}
