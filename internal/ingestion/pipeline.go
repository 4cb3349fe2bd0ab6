// Package ingestion turns inbound emails into ticket messages. Every email,
// whether it arrived through the webhook or the mailbox poller, goes through
// Pipeline.Ingest.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/confirmation"
	"github.com/Skynetiks/skydesk/internal/correlation"
	"github.com/Skynetiks/skydesk/internal/dedup"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/events"
	"github.com/Skynetiks/skydesk/internal/identity"
	"github.com/Skynetiks/skydesk/internal/mailer"
	"github.com/Skynetiks/skydesk/internal/observability"
	"github.com/Skynetiks/skydesk/internal/repository"
)

// Correlator finds the ticket an envelope belongs to.
type Correlator interface {
	Correlate(ctx context.Context, env domain.Envelope) (correlation.Result, error)
}

// Assigner picks an assignee for a new ticket.
type Assigner interface {
	AutoAssign(ctx context.Context, ticket *domain.Ticket) (*domain.StaffMember, error)
	Policy() string
}

// Dependencies bundles the pipeline collaborators. Assigner, Claimer,
// Dispatcher and Metrics are optional.
type Dependencies struct {
	Tickets    repository.TicketRepository
	Messages   repository.TicketMessageRepository
	Clients    repository.ClientRepository
	Correlator Correlator
	Registry   *confirmation.Registry
	Sender     mailer.Sender
	Assigner   Assigner
	Claimer    dedup.Claimer
	Dispatcher events.Dispatcher
	Extractor  *identity.Extractor
	Metrics    *observability.Metrics
	Logger     *zap.Logger

	// SystemUserID is recorded as the creator of every ticket.
	SystemUserID string
	// RegisteredClientsOnly rejects new tickets from unknown senders.
	RegisteredClientsOnly bool
}

// Pipeline is the ticket ingestion orchestrator.
type Pipeline struct {
	deps   Dependencies
	logger *zap.Logger
	now    func() time.Time
}

// New validates deps and builds a Pipeline.
func New(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Tickets == nil, deps.Messages == nil:
		return nil, errors.New("ingestion: ticket and message repositories are required")
	case deps.Correlator == nil:
		return nil, errors.New("ingestion: correlator is required")
	case deps.Registry == nil:
		return nil, errors.New("ingestion: confirmation registry is required")
	case deps.Sender == nil:
		return nil, errors.New("ingestion: sender is required")
	case deps.SystemUserID == "":
		return nil, errors.New("ingestion: system user is required")
	case deps.RegisteredClientsOnly && deps.Clients == nil:
		return nil, errors.New("ingestion: client repository is required when only registered clients are accepted")
	}
	if deps.Extractor == nil {
		deps.Extractor = identity.NewExtractor()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: logger.Named("ingestion"), now: time.Now}, nil
}

// run carries the state of a single Ingest call.
type run struct {
	outcome Outcome
	logger  *zap.Logger
}

func (r *run) to(state State) {
	r.outcome.State = state
	r.logger.Debug("ingestion state", zap.String("state", string(state)))
}

// Ingest processes one raw email. The returned Outcome is always populated;
// err is non-nil only in the FAILED state.
func (p *Pipeline) Ingest(ctx context.Context, source domain.Source, raw identity.RawEmail) (out Outcome, err error) {
	r := &run{outcome: Outcome{Source: source}, logger: p.logger.With(zap.String("source", string(source)))}
	r.to(StateStart)
	defer func() {
		p.deps.Metrics.RecordIngestion(string(source), string(out.State))
		if err != nil {
			r.logger.Warn("ingestion failed", zap.String("message_id", out.Envelope.MessageID), zap.Error(err))
		}
	}()

	env, err := p.deps.Extractor.Extract(raw)
	if err != nil {
		r.to(StateFailed)
		return r.outcome, err
	}
	r.outcome.Envelope = env
	r.logger = r.logger.With(zap.String("message_id", env.MessageID))
	r.to(StateExtracted)

	// Bracketed and bare forms of one Message-ID share a claim.
	claimKey := identity.StripBrackets(env.MessageID)
	claimed, proceed := p.claim(ctx, r, claimKey)
	if !proceed {
		return p.duplicateOf(ctx, r, env), nil
	}
	if claimed {
		defer func() { p.settleClaim(ctx, r, claimKey, out.State) }()
	}

	result, err := p.deps.Correlator.Correlate(ctx, env)
	if err != nil {
		r.to(StateFailed)
		return r.outcome, fmt.Errorf("correlate: %w", err)
	}
	if result.Matched() {
		r.outcome.Ticket = result.Ticket
		r.outcome.Strategy = result.Strategy
		r.outcome.IsReply = true
		r.to(StateMatched)
		return p.appendReply(ctx, r, env)
	}
	r.to(StateUnmatched)
	return p.createTicket(ctx, r, env)
}

// claim takes the in-flight claim on messageID. proceed is false when another
// caller holds it. A claimer outage is logged and ingestion continues
// unclaimed; the unique message constraint still applies.
func (p *Pipeline) claim(ctx context.Context, r *run, messageID string) (claimed, proceed bool) {
	if p.deps.Claimer == nil {
		return false, true
	}
	ok, err := p.deps.Claimer.Claim(ctx, messageID)
	if err != nil {
		r.logger.Warn("dedup claim unavailable", zap.Error(err))
		return false, true
	}
	return ok, ok
}

func (p *Pipeline) settleClaim(ctx context.Context, r *run, messageID string, state State) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if state == StateFailed {
		err = p.deps.Claimer.Release(ctx, messageID)
	} else {
		err = p.deps.Claimer.Keep(ctx, messageID)
	}
	if err != nil {
		r.logger.Warn("settle dedup claim", zap.String("state", string(state)), zap.Error(err))
	}
}

// duplicateOf reports an email that is already stored or being stored.
func (p *Pipeline) duplicateOf(ctx context.Context, r *run, env domain.Envelope) Outcome {
	r.outcome.IsReply = true
	for _, form := range correlation.MessageIDForms(env.MessageID) {
		msg, err := p.deps.Messages.FindByMessageID(ctx, form)
		if err != nil || msg == nil {
			continue
		}
		if ticket, err := p.deps.Tickets.GetByID(ctx, msg.TicketID); err == nil {
			r.outcome.Ticket = ticket
		}
		r.outcome.Message = msg
		break
	}
	r.to(StateDuplicate)
	return r.outcome
}

func (p *Pipeline) appendReply(ctx context.Context, r *run, env domain.Envelope) (Outcome, error) {
	ticket := r.outcome.Ticket
	if r.outcome.Strategy == correlation.StrategyMessageID {
		// The email itself is already stored on this ticket.
		r.to(StateDuplicate)
		return r.outcome, nil
	}

	msg := newMessage(env)
	updated, err := p.deps.Tickets.AppendMessage(ctx, ticket.ID, msg)
	if errors.Is(err, repository.ErrDuplicateMessage) {
		r.to(StateDuplicate)
		return r.outcome, nil
	}
	if err != nil {
		r.to(StateFailed)
		return r.outcome, fmt.Errorf("append message to ticket %s: %w", ticket.ID, err)
	}
	r.outcome.Ticket = updated
	r.outcome.Message = msg
	r.to(StateAppended)
	r.logger.Info("reply appended",
		zap.String("ticket_id", updated.ID),
		zap.String("strategy", r.outcome.Strategy))

	p.publish(ctx, events.EventTicketMessageAdded, updated.ID, r.outcome.Source, events.TicketMessageAddedPayload{
		MessageID:   msg.ID,
		Strategy:    r.outcome.Strategy,
		FromEmail:   env.FromEmail,
		BodyPreview: events.Preview(env.Text),
	})
	return r.outcome, nil
}

func (p *Pipeline) publish(ctx context.Context, eventType events.EventType, ticketID string, source domain.Source, payload any) {
	if p.deps.Dispatcher == nil {
		return
	}
	_ = p.deps.Dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Source:    string(source),
		Timestamp: p.now(),
		Payload:   payload,
	})
}

func newMessage(env domain.Envelope) *domain.TicketMessage {
	msg := &domain.TicketMessage{
		Body:       env.Text,
		HTML:       env.HTML,
		IsFromUser: true,
		MessageID:  env.MessageID,
		InReplyTo:  domain.OptionalHeader(env.InReplyTo),
		References: domain.OptionalHeader(env.References),
	}
	for _, a := range env.Attachments {
		msg.Attachments = append(msg.Attachments, domain.AttachmentReference{
			FileName:  a.FileName,
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
		})
	}
	return msg
}

// envelopeFields is the attempted input echoed in TICKET_CREATE_FAILED.
func envelopeFields(env domain.Envelope) map[string]any {
	return map[string]any{
		"from":        env.FromEmail,
		"fromName":    env.FromName,
		"subject":     env.Subject,
		"messageId":   env.MessageID,
		"inReplyTo":   env.InReplyTo,
		"references":  env.References,
		"attachments": len(env.Attachments),
	}
}
