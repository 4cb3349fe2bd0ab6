package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/events"
	"github.com/Skynetiks/skydesk/internal/mailer"
	"github.com/Skynetiks/skydesk/internal/repository"
)

// NotificationService emails assignees about activity on their tickets.
// Delivery is best effort: failures are logged and never block ingestion.
type NotificationService struct {
	dispatcher events.Dispatcher
	tickets    repository.TicketRepository
	staff      repository.StaffRepository
	sender     mailer.Sender
	logger     *zap.Logger
	cfg        config.NotificationConfig
	metrics    sendRecorder
}

type sendRecorder interface {
	RecordSend(purpose string, err error)
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	TicketRepo repository.TicketRepository
	StaffRepo  repository.StaffRepository
	Sender     mailer.Sender
	Logger     *zap.Logger
	Config     config.NotificationConfig
	Metrics    sendRecorder
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		tickets:    deps.TicketRepo,
		staff:      deps.StaffRepo,
		sender:     deps.Sender,
		logger:     logger.Named("notification"),
		cfg:        deps.Config,
		metrics:    deps.Metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketMessageAdded, n.handleTicketMessageAdded)
}

func (n *NotificationService) handleTicketCreated(_ context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleTicketAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketAssigned", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	payload, ok := event.Payload.(events.TicketAssignedPayload)
	if !ok {
		return nil
	}
	ticket, err := n.tickets.GetByID(ctx, event.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket: %w", err)
	}
	body := fmt.Sprintf("Ticket %s has been assigned to you.\n\nFrom: %s <%s>\nSubject: %s\n",
		ticket.ExternalKey, ticket.FromName, ticket.FromEmail, ticket.Subject)
	return n.notify(ctx, "assigned", payload.AssigneeStaffID, "Assigned: "+ticket.Subject+" ["+ticket.ExternalKey+"]", body)
}

func (n *NotificationService) handleTicketMessageAdded(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketMessageAdded", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	payload, ok := event.Payload.(events.TicketMessageAddedPayload)
	if !ok {
		return nil
	}
	ticket, err := n.tickets.GetByID(ctx, event.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket: %w", err)
	}
	if ticket.AssigneeID == nil {
		n.logger.Debug("ticket unassigned; skipping reply notification", zap.String("ticket_id", ticket.ID))
		return nil
	}
	body := fmt.Sprintf("%s replied on ticket %s.\n\n%s\n", payload.FromEmail, ticket.ExternalKey, payload.BodyPreview)
	return n.notify(ctx, "reply", *ticket.AssigneeID, "New reply: "+ticket.Subject+" ["+ticket.ExternalKey+"]", body)
}

func (n *NotificationService) notify(ctx context.Context, purpose, staffID, subject, body string) error {
	if n.sender == nil || strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return nil
	}
	member, err := n.staff.GetByID(ctx, staffID)
	if err != nil {
		return fmt.Errorf("load assignee %s: %w", staffID, err)
	}
	if !member.Active || member.Role == domain.StaffRoleSystem {
		return nil
	}
	_, err = n.sender.Send(ctx, mailer.Outbound{
		To:      member.Email,
		ToName:  member.Name,
		Subject: subject,
		Text:    body,
		Headers: map[string]string{"X-Skydesk-Notification": purpose},
	})
	if n.metrics != nil {
		n.metrics.RecordSend("notify_"+purpose, err)
	}
	if err != nil {
		return fmt.Errorf("notify %s: %w", member.Email, err)
	}
	n.logger.Debug("assignee notified",
		zap.String("staff_id", member.ID),
		zap.String("purpose", purpose))
	return nil
}
