package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityUrgent TicketPriority = "URGENT"
)

// Ticket is a conversation thread started by an inbound email.
//
// EmailID is the first Message-ID seen for the thread. MessageIDs is the
// append-only log of every Message-ID tied to the ticket, synthetic
// confirmation IDs included; a Message-ID belongs to at most one ticket.
type Ticket struct {
	ID            string
	ExternalKey   string
	Subject       string
	FromEmail     string
	FromName      string
	Status        TicketStatus
	Priority      TicketPriority
	EmailID       string
	LastMessageID string
	MessageIDs    []string
	AssigneeID    *string
	CreatedByID   string
	CreatedAt     time.Time
	LastRepliedAt *time.Time
	UpdatedAt     time.Time
}

// HasMessageID reports whether id is already recorded on the ticket.
func (t *Ticket) HasMessageID(id string) bool {
	for _, existing := range t.MessageIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// IsActive reports whether the ticket counts towards an assignee's load.
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress
}
