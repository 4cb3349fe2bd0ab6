package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	httptransport "github.com/Skynetiks/skydesk/internal/api/http"
	"github.com/Skynetiks/skydesk/internal/api/http/handlers"
	"github.com/Skynetiks/skydesk/internal/app"
	"github.com/Skynetiks/skydesk/internal/auth"
	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/observability"
	"github.com/Skynetiks/skydesk/internal/worker"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := app.Build(ctx, cfg, logger, reg)
	if err != nil {
		logger.Error("failed to build service", zap.Error(err))
		return 1
	}
	defer svc.Close()

	deps := map[string]handlers.Pinger{}
	if svc.Postgres.PoolHandle() != nil {
		deps["postgres"] = svc.Postgres
	}
	if svc.Redis != nil {
		deps["redis"] = svc.Redis
	}

	var runner handlers.CycleRunner
	if svc.Driver != nil {
		runner = svc.Driver
	}

	server := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(server, logger, svc.Metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(server, httptransport.RouteConfig{
		Health:      handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Inbound:     handlers.NewInboundHandler(svc.Pipeline),
		Poll:        handlers.NewPollHandler(runner),
		PollSecret:  auth.NewSharedSecret(auth.CronSecretHeader, cfg.Poller.TriggerSecret),
		MetricsHTTP: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	var scheduler *worker.PollScheduler
	if svc.Driver != nil && cfg.Poller.Schedule != "" {
		scheduler, err = worker.NewPollScheduler(cfg.Poller.Schedule, svc.Driver, logger)
		if err != nil {
			logger.Error("invalid POLL_SCHEDULE", zap.Error(err))
			return 2
		}
		scheduler.Start()
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- server.Listen(cfg.App.Addr())
	}()

	code := 0
	select {
	case err := <-listenErr:
		logger.Error("fiber listen", zap.Error(err))
		code = 1
	case sig := <-shutdownSignal():
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Poller.CycleTimeout+5*time.Second)
	defer done()
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("fiber shutdown", zap.Error(err))
		code = 1
	}
	return code
}

func shutdownSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
