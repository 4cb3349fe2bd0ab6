package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/Skynetiks/skydesk/internal/api/dto"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/identity"
	"github.com/Skynetiks/skydesk/internal/ingestion"
	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

// Ingester processes one inbound email.
type Ingester interface {
	Ingest(ctx context.Context, source domain.Source, raw identity.RawEmail) (ingestion.Outcome, error)
}

// InboundHandler accepts emails pushed by the mail provider.
type InboundHandler struct {
	pipeline Ingester
}

// NewInboundHandler constructs handler.
func NewInboundHandler(pipeline Ingester) *InboundHandler {
	return &InboundHandler{pipeline: pipeline}
}

// ReceiveEmail POST /api/v1/inbound/email.
func (h *InboundHandler) ReceiveEmail(c *fiber.Ctx) error {
	var req dto.InboundEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	raw := identity.RawEmail{
		From:    req.From,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
		Headers: req.Headers,
	}
	for _, a := range req.Attachments {
		raw.Attachments = append(raw.Attachments, domain.Attachment{
			FileName:  a.Filename,
			MimeType:  a.ContentType,
			SizeBytes: a.Size,
		})
	}

	out, err := h.pipeline.Ingest(c.UserContext(), domain.SourceWebhook, raw)
	if err != nil {
		return err
	}
	resp := dto.InboundEmailResponse{Success: true, TicketID: out.TicketID(), IsReply: out.IsReply}
	switch out.State {
	case ingestion.StateRejected:
		resp = dto.InboundEmailResponse{Success: true, Rejected: true}
	case ingestion.StateDuplicate:
		resp.Duplicate = true
	}
	return c.JSON(resp)
}
