package mailer

import (
	"fmt"
	"html"
	"strings"
)

// Confirmation describes the acknowledgment sent for a new ticket.
type Confirmation struct {
	To         string
	ToName     string
	Subject    string
	Reference  string
	MessageID  string
	InReplyTo  string
	References string
}

// ConfirmationEmail renders the acknowledgment. Replies to it thread back to
// the ticket through MessageID and the bracketed reference in the subject.
func ConfirmationEmail(c Confirmation) Outbound {
	greeting := "Hello,"
	if c.ToName != "" {
		greeting = fmt.Sprintf("Hello %s,", c.ToName)
	}
	text := strings.Join([]string{
		greeting,
		"",
		fmt.Sprintf("We received your message %q and opened ticket %s.", c.Subject, c.Reference),
		"Reply to this email to add more information to the ticket.",
		"",
		fmt.Sprintf("Ticket ID: %s", c.Reference),
		"",
	}, "\n")
	body := fmt.Sprintf(
		"<p>%s</p><p>We received your message &quot;%s&quot; and opened ticket <strong>%s</strong>.</p>"+
			"<p>Reply to this email to add more information to the ticket.</p><p>Ticket ID: %s</p>",
		html.EscapeString(greeting), html.EscapeString(c.Subject), c.Reference, c.Reference)

	headers := map[string]string{
		"Message-ID":    c.MessageID,
		"X-Skydesk-Ref": c.Reference,
	}
	if c.InReplyTo != "" {
		headers["In-Reply-To"] = c.InReplyTo
		headers["References"] = strings.TrimSpace(c.References + " " + c.InReplyTo)
	}
	return Outbound{
		To:      c.To,
		ToName:  c.ToName,
		Subject: fmt.Sprintf("Re: %s [%s]", c.Subject, c.Reference),
		Text:    text,
		HTML:    body,
		Headers: headers,
	}
}

// RejectionEmail tells an unregistered sender their message was not accepted.
func RejectionEmail(to, toName, subject, inReplyTo string) Outbound {
	text := strings.Join([]string{
		"Hello,",
		"",
		"Your message could not be processed because this address is not registered with our support desk.",
		"Please contact your account manager to get access.",
		"",
	}, "\n")
	headers := map[string]string{}
	if inReplyTo != "" {
		headers["In-Reply-To"] = inReplyTo
		headers["References"] = inReplyTo
	}
	return Outbound{
		To:      to,
		ToName:  toName,
		Subject: "Re: " + subject,
		Text:    text,
		Headers: headers,
	}
}
