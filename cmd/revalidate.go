package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/psds-microservice/ticketform-service/internal/database"
	"github.com/psds-microservice/ticketform-service/internal/service"
	"github.com/spf13/cobra"
)

var revalidateCmd = &cobra.Command{
	Use:   "revalidate",
	Short: "Check stored form data of all tickets against current schemas and print a drift report (read-only)",
	RunE:  runRevalidate,
}

var revalidateTypeID uint

func init() {
	revalidateCmd.Flags().UintVar(&revalidateTypeID, "type", 0, "only tickets of this ticket type id (0 = all)")
}

func runRevalidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	schemas := service.NewSchemaService(db)
	report, err := service.NewTicketService(db, schemas, nil).Revalidate(ctx, revalidateTypeID)
	if err != nil {
		return fmt.Errorf("revalidate: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
