// Command poll runs a single mailbox poll cycle and exits. Use it from an
// external scheduler instead of POLL_SCHEDULE.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/app"
	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 2
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Printf("failed to init logger: %v", err)
		return 2
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("failed to build service", zap.Error(err))
		return 1
	}
	defer svc.Close()

	if svc.Driver == nil {
		logger.Error("IMAP_HOST and IMAP_USERNAME are required")
		return 2
	}

	report, err := svc.Driver.RunCycle(ctx)
	if err != nil {
		logger.Error("poll cycle failed", zap.Error(err))
		return 1
	}
	logger.Info("poll cycle finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("processed", report.Processed),
		zap.Int("created", report.Created),
		zap.Int("appended", report.Appended),
		zap.Int("failed", report.Failed),
		zap.Time("watermark", report.Watermark))
	if report.Failed > 0 {
		return 1
	}
	return 0
}
