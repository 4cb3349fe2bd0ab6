// Package mailer delivers outbound email. The ingestion pipeline depends only
// on Sender; SMTP and logging implementations are provided.
package mailer

import (
	"context"
	"time"
)

// Outbound is one email to deliver. Message-ID, In-Reply-To and References in
// Headers are written as message-id lists; other headers are copied as-is.
type Outbound struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// Receipt describes an accepted delivery.
type Receipt struct {
	MessageID  string
	AcceptedAt time.Time
}

// Sender delivers outbound email. Send returns an error when the message was
// not accepted.
type Sender interface {
	Send(ctx context.Context, msg Outbound) (Receipt, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Outbound) (Receipt, error)

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, msg Outbound) (Receipt, error) {
	return f(ctx, msg)
}
