package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/mailbox"
)

// CycleRunner runs one mailbox poll cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (mailbox.Report, error)
}

// PollScheduler triggers poll cycles on a cron schedule. Overlapping runs
// within the process are skipped.
type PollScheduler struct {
	cron   *cron.Cron
	runner CycleRunner
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPollScheduler parses schedule (standard cron or @every descriptors) and
// registers the poll job.
func NewPollScheduler(schedule string, runner CycleRunner, logger *zap.Logger) (*PollScheduler, error) {
	if runner == nil {
		return nil, errors.New("poll scheduler requires a runner")
	}
	logger = logger.Named("poll_scheduler")
	cronLogger := zapCronLogger{logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)), cron.WithLogger(cronLogger))

	ctx, cancel := context.WithCancel(context.Background())
	s := &PollScheduler{cron: c, runner: runner, logger: logger, ctx: ctx, cancel: cancel}
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid POLL_SCHEDULE %q: %w", schedule, err)
	}
	return s, nil
}

func (s *PollScheduler) tick() {
	report, err := s.runner.RunCycle(s.ctx)
	switch {
	case errors.Is(err, mailbox.ErrCycleInProgress):
		s.logger.Info("poll cycle skipped; another instance holds the lock")
	case err != nil:
		s.logger.Error("poll cycle failed", zap.Error(err))
	default:
		s.logger.Debug("poll cycle done", zap.Int("processed", report.Processed), zap.Int("failed", report.Failed))
	}
}

// Start begins scheduling.
func (s *PollScheduler) Start() {
	s.cron.Start()
	s.logger.Info("poll scheduler started")
}

// Stop cancels the running cycle and waits for it to return or ctx to end.
func (s *PollScheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	s.cancel()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("poll scheduler stop timed out")
	}
}

type zapCronLogger struct{ l *zap.SugaredLogger }

func (z zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Debugw(msg, keysAndValues...)
}

func (z zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
