package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Skynetiks/skydesk/internal/api/dto"
	"github.com/Skynetiks/skydesk/internal/mailbox"
	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

// CycleRunner runs one mailbox poll cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (mailbox.Report, error)
}

// PollHandler exposes the manual poll trigger used by external schedulers.
type PollHandler struct {
	runner CycleRunner
	now    func() time.Time
}

// NewPollHandler constructs handler. A nil runner means no mailbox is
// configured.
func NewPollHandler(runner CycleRunner) *PollHandler {
	return &PollHandler{runner: runner, now: time.Now}
}

// Trigger GET|POST /api/v1/inbound/poll.
func (h *PollHandler) Trigger(c *fiber.Ctx) error {
	if h.runner == nil {
		return apperrors.NewMailboxUnavailable(errors.New("IMAP mailbox is not configured"))
	}
	// The cycle carries its own timeout and outlives the request deadline.
	report, err := h.runner.RunCycle(context.WithoutCancel(c.UserContext()))
	if errors.Is(err, mailbox.ErrCycleInProgress) {
		return apperrors.NewConflict("poll cycle already running", nil)
	}
	if err != nil {
		return err
	}
	return c.JSON(dto.PollResponse{
		Success:   true,
		Message:   "poll cycle completed",
		Timestamp: h.now().UTC(),
		Report:    report,
	})
}
