package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/backup"
	"github.com/scrypster/capsule/internal/server"
	"github.com/scrypster/capsule/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP JSON API and websocket event stream",
	Long: `Serves the journaling API on CAPSULE_HOST:CAPSULE_PORT.

Events (entry saved, tags extracted, phase changes) stream over /ws;
Prometheus metrics are exposed on /metrics. When CAPSULE_BACKUP_INTERVAL
is set and the sqlite engine is used, the diary is snapshotted on that
schedule.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hub := handlers.NewWebSocketHub(logger, cfg.Server.AllowedOrigins...)

	a, err := buildApp(ctx, cfg, logger, appOptions{events: hub, registry: reg})
	if err != nil {
		return err
	}
	defer a.Close()

	addr, err := server.Start(ctx, cfg, server.Deps{
		Machine:  a.machine,
		Journal:  a.journal,
		Hub:      hub,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	logger.Info("capsule API listening", zap.String("addr", "http://"+addr))
	cmd.Printf("capsule API running at http://%s\n", addr)

	if cfg.Storage.Engine == "sqlite" && cfg.Backup.BackupInterval > 0 {
		svc, err := newBackupService(cfg.Backup.BackupInterval)
		if err != nil {
			return err
		}
		go func() {
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("backup service stopped", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	// Give in-flight requests the server's shutdown window.
	time.Sleep(500 * time.Millisecond)
	return nil
}

func newBackupService(interval time.Duration) (*backup.Service, error) {
	return backup.NewService(backup.Config{
		DBPath:    cfg.Storage.SQLitePath(),
		BackupDir: cfg.Backup.BackupPath,
		Interval:  interval,
		Verify:    cfg.Backup.BackupVerify,
		Retention: backup.RetentionPolicy{
			Hourly:  cfg.Backup.BackupRetentionHourly,
			Daily:   cfg.Backup.BackupRetentionDaily,
			Weekly:  cfg.Backup.BackupRetentionWeekly,
			Monthly: cfg.Backup.BackupRetentionMonthly,
		},
		Logger: logger,
	})
}
