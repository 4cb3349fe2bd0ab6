package domain

import "time"

// TicketMessage is one inbound or outbound email in a ticket's thread.
// MessageID, InReplyTo and References hold the header values as received.
type TicketMessage struct {
	ID          string
	TicketID    string
	Body        string
	HTML        string
	IsFromUser  bool
	MessageID   string
	InReplyTo   *string
	References  *string
	Attachments []AttachmentReference
	CreatedAt   time.Time
}

// AttachmentReference stores metadata for ticket message attachments.
type AttachmentReference struct {
	ID              string
	TicketMessageID string
	FileName        string
	MimeType        string
	SizeBytes       int64
	CreatedAt       time.Time
}
