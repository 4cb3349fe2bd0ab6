package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	assert.Nil(t, ToDomainError(nil))

	wrapped := fmt.Errorf("ingest: %w", NewConflict("busy", nil))
	assert.Equal(t, CodeConflict, ToDomainError(wrapped).Code)

	timeout := ToDomainError(fmt.Errorf("send: %w", context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, timeout.Code)
	assert.Equal(t, http.StatusGatewayTimeout, timeout.HTTPStatus)

	internal := ToDomainError(errors.New("boom"))
	assert.Equal(t, CodeInternal, internal.Code)
	assert.Equal(t, http.StatusInternalServerError, internal.HTTPStatus)
}

func TestSendFailedCarriesHint(t *testing.T) {
	cause := errors.New("535 auth")
	err := ToDomainError(NewSendFailed(cause, "auth", "check credentials"))
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, map[string]any{"kind": "auth", "hint": "check credentials", "cause": "535 auth"}, DetailsOf(err))
}

func TestDetailsOf(t *testing.T) {
	assert.Nil(t, DetailsOf(nil))
	assert.Nil(t, DetailsOf(ToDomainError(NewUnauthorized("no"))))
	assert.Equal(t, map[string]any{"cause": "disk full"}, DetailsOf(ToDomainError(NewInternalError(errors.New("disk full")))))

	created := ToDomainError(NewTicketCreateFailed(errors.New("reset"), map[string]any{"from": "a@b.c"}))
	assert.Equal(t, CodeTicketCreateFailed, created.Code)
	assert.Equal(t, map[string]any{"from": "a@b.c"}, DetailsOf(created)["input"])
}
