// Package correlation decides which existing ticket, if any, an inbound email
// belongs to. Strategies run in a fixed order and the first hit wins; every
// strategy is read-only.
package correlation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/observability"
)

// DefaultWindow bounds timestamp-based matches.
const DefaultWindow = 5 * time.Minute

// TicketLookup is the ticket read side the strategies need.
type TicketLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByExternalKey(ctx context.Context, key string) (*domain.Ticket, error)
	FindByThreadToken(ctx context.Context, token string) (*domain.Ticket, error)
	FindCreatedNear(ctx context.Context, at time.Time, window time.Duration) (*domain.Ticket, error)
}

// MessageLookup is the message read side the strategies need.
type MessageLookup interface {
	FindByMessageID(ctx context.Context, messageID string) (*domain.TicketMessage, error)
	FindByThreadToken(ctx context.Context, token string) (*domain.TicketMessage, error)
}

// Strategy is one matching heuristic. Match returns nil, nil on no match.
type Strategy interface {
	Name() string
	Match(ctx context.Context, env domain.Envelope) (*domain.Ticket, error)
}

// Result is the outcome of a correlation. Ticket is nil when nothing matched.
type Result struct {
	Ticket   *domain.Ticket
	Strategy string
}

// Matched reports whether a ticket was found.
func (r Result) Matched() bool {
	return r.Ticket != nil
}

// Correlator runs strategies in order.
type Correlator struct {
	strategies []Strategy
	logger     *zap.Logger
	metrics    *observability.Metrics
}

type settings struct {
	window  time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Option customises a Correlator.
type Option func(*settings)

// WithWindow sets the ± window for timestamp matches.
func WithWindow(window time.Duration) Option {
	return func(s *settings) {
		if window > 0 {
			s.window = window
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *settings) { s.metrics = metrics }
}

// New builds a correlator with the standard strategy order.
func New(tickets TicketLookup, messages MessageLookup, opts ...Option) *Correlator {
	cfg := settings{window: DefaultWindow, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Correlator{
		strategies: DefaultStrategies(tickets, messages, cfg.window),
		logger:     cfg.logger,
		metrics:    cfg.metrics,
	}
}

// NewWithStrategies builds a correlator over an explicit strategy list.
func NewWithStrategies(strategies []Strategy, opts ...Option) *Correlator {
	cfg := settings{window: DefaultWindow, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Correlator{strategies: strategies, logger: cfg.logger, metrics: cfg.metrics}
}

// Strategies returns the strategy names in evaluation order.
func (c *Correlator) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Correlate returns the first strategy hit. A lookup failure aborts with an
// error rather than being treated as no match.
func (c *Correlator) Correlate(ctx context.Context, env domain.Envelope) (Result, error) {
	for _, s := range c.strategies {
		ticket, err := s.Match(ctx, env)
		if err != nil {
			return Result{}, fmt.Errorf("correlate %s: %w", s.Name(), err)
		}
		if ticket != nil {
			c.logger.Debug("correlated",
				zap.String("strategy", s.Name()),
				zap.String("ticket_id", ticket.ID),
				zap.String("message_id", env.MessageID))
			c.metrics.RecordCorrelation(s.Name())
			return Result{Ticket: ticket, Strategy: s.Name()}, nil
		}
	}
	c.metrics.RecordCorrelation("none")
	return Result{}, nil
}
