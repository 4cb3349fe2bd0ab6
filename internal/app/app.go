// Package app assembles the ingestion components from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/confirmation"
	"github.com/Skynetiks/skydesk/internal/correlation"
	"github.com/Skynetiks/skydesk/internal/dedup"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/events"
	"github.com/Skynetiks/skydesk/internal/ingestion"
	"github.com/Skynetiks/skydesk/internal/mailbox"
	"github.com/Skynetiks/skydesk/internal/mailer"
	"github.com/Skynetiks/skydesk/internal/observability"
	"github.com/Skynetiks/skydesk/internal/persistence"
	"github.com/Skynetiks/skydesk/internal/repository"
	"github.com/Skynetiks/skydesk/internal/service"
	"github.com/Skynetiks/skydesk/internal/worker"
)

// ErrSystemUserMissing is returned when SYSTEM_USER_EMAIL does not resolve.
var ErrSystemUserMissing = errors.New("system user not found")

// Repositories groups the data access used by ingestion.
type Repositories struct {
	Tickets  repository.TicketRepository
	Messages repository.TicketMessageRepository
	Clients  repository.ClientRepository
	Staff    repository.StaffRepository
}

// App holds the assembled components.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	Repos    Repositories
	Pipeline *ingestion.Pipeline
	// Driver is nil when no IMAP mailbox is configured.
	Driver *mailbox.Driver

	closers []func()
}

// Build connects to storage and wires the pipeline. Without POSTGRES_DSN the
// in-memory store is used and the system user is seeded from config; without
// a reachable Redis the claim, lock and watermark stay in process memory.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: observability.NewMetrics(reg)}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	systemUser, err := ResolveSystemUser(ctx, a.Repos.Staff, cfg.Ingestion.SystemUserEmail)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("system user resolved", zap.String("staff_id", systemUser.ID))

	sender := newSender(cfg, logger)
	dispatcher := events.NewInMemoryDispatcher(logger)
	notifications := service.NewNotificationService(service.NotificationDependencies{
		Dispatcher: dispatcher,
		TicketRepo: a.Repos.Tickets,
		StaffRepo:  a.Repos.Staff,
		Sender:     sender,
		Logger:     logger,
		Config:     cfg.Notification,
		Metrics:    a.Metrics,
	})
	worker.StartNotificationWorker(notifications)

	pipeline, err := ingestion.New(ingestion.Dependencies{
		Tickets:  a.Repos.Tickets,
		Messages: a.Repos.Messages,
		Clients:  a.Repos.Clients,
		Correlator: correlation.New(a.Repos.Tickets, a.Repos.Messages,
			correlation.WithWindow(cfg.Ingestion.CorrelationWindow),
			correlation.WithLogger(logger.Named("correlation")),
			correlation.WithMetrics(a.Metrics)),
		Registry: confirmation.NewRegistry(cfg.Ingestion.SupportDomain, a.Repos.Tickets),
		Sender:   sender,
		Assigner: service.NewAssignmentService(service.AssignmentDependencies{
			TicketRepo: a.Repos.Tickets,
			StaffRepo:  a.Repos.Staff,
			Config:     cfg.Ingestion,
			Logger:     logger,
		}),
		Claimer:               a.claimer(),
		Dispatcher:            dispatcher,
		Metrics:               a.Metrics,
		Logger:                logger,
		SystemUserID:          systemUser.ID,
		RegisteredClientsOnly: cfg.Ingestion.RegisteredClientsOnly,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = pipeline

	if cfg.IMAP.Enabled() {
		lock, watermark := a.pollCheckpoint()
		driver, err := mailbox.NewDriver(mailbox.Dependencies{
			IMAP:      cfg.IMAP,
			Poller:    cfg.Poller,
			Ingester:  pipeline,
			Messages:  a.Repos.Messages,
			Lock:      lock,
			Watermark: watermark,
			Metrics:   a.Metrics,
			Logger:    logger,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Driver = driver
	}
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.Config
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, a.Logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.Postgres = pg
	a.closers = append(a.closers, pg.Close)

	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, a.Logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		a.Repos = Repositories{
			Tickets:  repository.NewTicketRepository(pool),
			Messages: repository.NewTicketMessageRepository(pool),
			Clients:  repository.NewClientRepository(pool),
			Staff:    repository.NewStaffRepository(pool),
		}
	} else {
		a.Logger.Warn("using in-memory store; data is lost on restart")
		store := repository.NewMemoryStore()
		if email := strings.TrimSpace(cfg.Ingestion.SystemUserEmail); email != "" {
			store.AddStaff(domain.StaffMember{Name: "System", Email: strings.ToLower(email), Role: domain.StaffRoleSystem, Active: true})
		}
		a.Repos = Repositories{
			Tickets:  store.Tickets(),
			Messages: store.Messages(),
			Clients:  store.Clients(),
			Staff:    store.Staff(),
		}
	}

	r := persistence.NewRedis(cfg.Redis, a.Logger)
	a.closers = append(a.closers, r.Close)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		a.Logger.Warn("redis unavailable; dedup claims, poll lock and watermark stay in process", zap.Error(err))
		return nil
	}
	a.Logger.Info("connected to redis")
	a.Redis = r
	return nil
}

func (a *App) claimer() dedup.Claimer {
	if a.Redis == nil {
		return dedup.NewLocalClaimer(a.Config.Ingestion.DedupClaimTTL)
	}
	// Pending claims expire with the request so a crash cannot pin a message.
	pending := a.Config.App.RequestTimeout()
	if a.Config.Poller.CycleTimeout > pending {
		pending = a.Config.Poller.CycleTimeout
	}
	return dedup.NewRedisClaimer(a.Redis.Client, a.Redis.Key(), pending, a.Config.Ingestion.DedupClaimTTL)
}

func (a *App) pollCheckpoint() (mailbox.Lock, mailbox.Watermark) {
	if a.Redis == nil {
		return &mailbox.LocalLock{}, &mailbox.MemoryWatermark{}
	}
	user, folder := strings.ToLower(a.Config.IMAP.Username), a.Config.IMAP.Folder
	return mailbox.NewRedisLock(a.Redis.Client, a.Redis.Key("poll", user, folder, "lock")),
		mailbox.NewRedisWatermark(a.Redis.Client, a.Redis.Key("poll", user, folder, "watermark"))
}

// Close releases storage connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ResolveSystemUser looks up the identity recorded as creator of every
// ticket. A missing user is a setup error.
func ResolveSystemUser(ctx context.Context, staff repository.StaffRepository, email string) (*domain.StaffMember, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("%w: SYSTEM_USER_EMAIL is not set", ErrSystemUserMissing)
	}
	member, err := staff.GetByEmail(ctx, email)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: no staff member with email %s; create it before starting", ErrSystemUserMissing, email)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve system user: %w", err)
	}
	return member, nil
}

func newSender(cfg *config.Config, logger *zap.Logger) mailer.Sender {
	if strings.TrimSpace(cfg.SMTP.Host) == "" {
		logger.Warn("SMTP_HOST not set; outbound email is logged, not delivered")
		return mailer.NewLogSender(cfg.SMTP.From, cfg.Ingestion.SupportDomain, logger)
	}
	return mailer.NewSMTPSender(cfg.SMTP, cfg.Ingestion.SupportDomain, logger)
}
