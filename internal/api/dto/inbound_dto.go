package dto

import (
	"time"

	"github.com/Skynetiks/skydesk/internal/mailbox"
)

// InboundEmailRequest is the webhook payload posted by the mail provider.
type InboundEmailRequest struct {
	From        string              `json:"from"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text"`
	HTML        string              `json:"html"`
	Attachments []InboundAttachment `json:"attachments"`
	Headers     map[string]string   `json:"headers"`
}

// InboundAttachment carries attachment metadata only.
type InboundAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// InboundEmailResponse reports what happened to the email.
type InboundEmailResponse struct {
	Success   bool   `json:"success"`
	TicketID  string `json:"ticketId,omitempty"`
	IsReply   bool   `json:"isReply"`
	Rejected  bool   `json:"rejected,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PollResponse is returned by the manual poll trigger.
type PollResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Report    mailbox.Report `json:"report"`
}
