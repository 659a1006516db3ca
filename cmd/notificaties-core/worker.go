package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-zaak/open-notificaties/pkg/bootstrap"
	"github.com/open-zaak/open-notificaties/pkg/config"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the scheduler/delivery loop, without the ingest HTTP surface",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromFlags(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger := bootstrap.NewLogger("worker", cfg.LogLevel)
	logger.Info("worker starting", "scheduler_tick", cfg.SchedulerTick, "batch_size", cfg.SchedulerBatchSize)

	startWorkerLoop(ctx, svc, logger)
	<-ctx.Done()
	logger.Info("worker stopping")
	return nil
}
