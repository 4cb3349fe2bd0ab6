package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/events"
	"github.com/Skynetiks/skydesk/internal/mailer"
	"github.com/Skynetiks/skydesk/internal/repository"
	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

// Outbound email purposes, used as metric labels.
const (
	purposeConfirmation = "confirmation"
	purposeRejection    = "rejection"
)

// persistTimeout bounds the writes that follow an accepted confirmation.
const persistTimeout = 15 * time.Second

// createTicket handles an email no existing ticket claims. The confirmation
// is sent before anything is stored: a ticket exists only if its sender was
// acknowledged.
func (p *Pipeline) createTicket(ctx context.Context, r *run, env domain.Envelope) (Outcome, error) {
	if p.deps.RegisteredClientsOnly {
		known, err := p.isRegisteredClient(ctx, env.FromEmail)
		if err != nil {
			r.to(StateFailed)
			return r.outcome, fmt.Errorf("look up client %s: %w", env.FromEmail, err)
		}
		if !known {
			p.reject(ctx, r, env)
			return r.outcome, nil
		}
	}

	reserved := p.deps.Registry.Reserve()
	confirm := mailer.Confirmation{
		To:        env.FromEmail,
		ToName:    env.FromName,
		Subject:   env.Subject,
		Reference: reserved.Reference(),
		MessageID: reserved.MessageID,
	}
	if !env.SyntheticID {
		confirm.InReplyTo = env.MessageID
		confirm.References = env.References
	}
	_, err := p.deps.Sender.Send(ctx, mailer.ConfirmationEmail(confirm))
	p.deps.Metrics.RecordSend(purposeConfirmation, err)
	if err != nil {
		sendErr := mailer.Classify(err)
		r.to(StateFailed)
		return r.outcome, apperrors.NewSendFailed(sendErr, sendErr.Kind, sendErr.Hint)
	}

	// The sender has been acknowledged. Storing the ticket must not be cut
	// short by the caller's deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	ticket := &domain.Ticket{
		ExternalKey:   reserved.Reference(),
		Subject:       env.Subject,
		FromEmail:     env.FromEmail,
		FromName:      env.FromName,
		Status:        domain.TicketStatusOpen,
		Priority:      domain.TicketPriorityMedium,
		EmailID:       env.MessageID,
		LastMessageID: env.MessageID,
		MessageIDs:    []string{env.MessageID},
		CreatedByID:   p.deps.SystemUserID,
	}
	msg := newMessage(env)
	if err := p.deps.Tickets.CreateWithMessage(ctx, ticket, msg); err != nil {
		if errors.Is(err, repository.ErrDuplicateMessage) {
			// Another path stored this email first.
			r.logger.Info("new ticket lost race to concurrent ingestion")
			return p.duplicateOf(ctx, r, env), nil
		}
		input := envelopeFields(env)
		r.logger.Error("confirmation sent but ticket could not be created",
			zap.Any("envelope", input),
			zap.String("text", env.Text),
			zap.String("confirmation_id", reserved.MessageID),
			zap.Error(err))
		r.to(StateFailed)
		return r.outcome, apperrors.NewTicketCreateFailed(err, input)
	}
	r.outcome.Ticket = ticket
	r.outcome.Message = msg

	p.assign(ctx, r, ticket)

	if err := p.deps.Registry.Record(ctx, ticket.ID, reserved.MessageID); err != nil {
		r.logger.Warn("confirmation id not recorded; replies fall back to timestamp matching",
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
	} else {
		ticket.LastMessageID = reserved.MessageID
		ticket.MessageIDs = append(ticket.MessageIDs, reserved.MessageID)
	}

	r.to(StateCreated)
	r.logger.Info("ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("external_key", ticket.ExternalKey))
	p.publish(ctx, events.EventTicketCreated, ticket.ID, r.outcome.Source, events.TicketCreatedPayload{
		ExternalKey: ticket.ExternalKey,
		Subject:     ticket.Subject,
		FromEmail:   ticket.FromEmail,
		Priority:    ticket.Priority,
	})
	return r.outcome, nil
}

func (p *Pipeline) isRegisteredClient(ctx context.Context, email string) (bool, error) {
	_, err := p.deps.Clients.FindByEmail(ctx, email)
	if repository.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// reject notifies an unknown sender. A failed notice does not change the
// outcome.
func (p *Pipeline) reject(ctx context.Context, r *run, env domain.Envelope) {
	inReplyTo := env.MessageID
	if env.SyntheticID {
		inReplyTo = ""
	}
	_, err := p.deps.Sender.Send(ctx, mailer.RejectionEmail(env.FromEmail, env.FromName, env.Subject, inReplyTo))
	p.deps.Metrics.RecordSend(purposeRejection, err)
	if err != nil {
		r.logger.Warn("rejection notice not delivered", zap.String("from", env.FromEmail), zap.Error(err))
	}
	r.outcome.IsReply = false
	r.to(StateRejected)
	r.logger.Info("sender not registered", zap.String("from", env.FromEmail))
}

func (p *Pipeline) assign(ctx context.Context, r *run, ticket *domain.Ticket) {
	if p.deps.Assigner == nil {
		return
	}
	assignee, err := p.deps.Assigner.AutoAssign(ctx, ticket)
	if err != nil {
		r.logger.Warn("auto-assignment failed", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	if assignee == nil {
		return
	}
	p.publish(ctx, events.EventTicketAssigned, ticket.ID, r.outcome.Source, events.TicketAssignedPayload{
		AssigneeStaffID: assignee.ID,
		Policy:          p.deps.Assigner.Policy(),
	})
}
