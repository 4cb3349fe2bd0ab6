package events

import (
	"time"

	"github.com/Skynetiks/skydesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketAssigned     EventType = "ticket_assigned"
	EventTicketMessageAdded EventType = "ticket_message_added"
)

// Event represents a domain event emitted by the ingestion pipeline.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	ExternalKey string                `json:"external_key"`
	Subject     string                `json:"subject"`
	FromEmail   string                `json:"from_email"`
	Priority    domain.TicketPriority `json:"priority"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeStaffID string `json:"assignee_staff_id"`
	Policy          string `json:"policy"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string `json:"message_id"`
	Strategy    string `json:"strategy"`
	FromEmail   string `json:"from_email"`
	BodyPreview string `json:"body_preview"`
}

// Preview truncates body to a notification-sized excerpt.
func Preview(body string) string {
	const max = 200
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "..."
}
