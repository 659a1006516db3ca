package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/open-zaak/open-notificaties/pkg/config"
	"github.com/open-zaak/open-notificaties/pkg/store/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|status]",
	Short: "Apply or inspect the kanalen/abonnementen/scheduled_work schema",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromFlags(cmd)
	if err != nil {
		return err
	}

	direction := "up"
	if len(args) == 1 {
		direction = args[0]
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database for migration: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	switch direction {
	case "up":
		return goose.UpContext(cmd.Context(), db, ".")
	case "down":
		return goose.DownContext(cmd.Context(), db, ".")
	case "status":
		return goose.StatusContext(cmd.Context(), db, ".")
	default:
		return fmt.Errorf("unknown migrate direction %q, want up/down/status", direction)
	}
}
