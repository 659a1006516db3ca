package main

import (
	"github.com/spf13/cobra"

	"github.com/open-zaak/open-notificaties/pkg/admin"
	"github.com/open-zaak/open-notificaties/pkg/bootstrap"
	"github.com/open-zaak/open-notificaties/pkg/config"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete audit rows older than --retention-days and exit",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := bootstrap.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger := bootstrap.NewLogger("cleanup", cfg.LogLevel)

	deleted, err := admin.RunCleanup(ctx, svc.Store, cfg.RetentionDays)
	if err != nil {
		logger.Error("cleanup failed", "error", err)
		return err
	}

	logger.Info("cleanup complete", "rows_deleted", deleted, "retention_days", cfg.RetentionDays)
	return nil
}
