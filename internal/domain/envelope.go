package domain

import "time"

// Source identifies the entrypoint an email arrived through.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceMailbox Source = "mailbox"
)

// Envelope is the normalized form of an inbound email.
type Envelope struct {
	FromName    string
	FromEmail   string
	Subject     string
	Text        string
	HTML        string
	MessageID   string
	InReplyTo   string
	References  string
	Attachments []Attachment
	ReceivedAt  time.Time
	// SyntheticID is set when MessageID was generated locally.
	SyntheticID bool
}

// Attachment is inbound attachment metadata. Content is not retained.
type Attachment struct {
	FileName  string
	MimeType  string
	SizeBytes int64
}

// OptionalHeader returns nil for empty header values.
func OptionalHeader(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
