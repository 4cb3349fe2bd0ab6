package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes rendered to API callers.
const (
	CodeValidation         = "VALIDATION_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeConflict           = "CONFLICT"
	CodeSendFailed         = "SEND_FAILED"
	CodeTicketCreateFailed = "TICKET_CREATE_FAILED"
	CodeMailboxUnavailable = "MAILBOX_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError(CodeConflict, message, http.StatusConflict, details)
}

// NewSendFailed reports an outbound delivery failure. hint tells the operator
// what to check; kind classifies the failure.
func NewSendFailed(err error, kind, hint string) error {
	details := map[string]any{"kind": kind, "hint": hint}
	if err != nil {
		details["cause"] = err.Error()
	}
	return &DomainError{
		Code:       CodeSendFailed,
		Message:    "failed to send email",
		HTTPStatus: http.StatusBadGateway,
		Details:    details,
		Err:        err,
	}
}

// NewTicketCreateFailed reports a ticket that could not be stored after the
// sender was already acknowledged. input is echoed back for recovery.
func NewTicketCreateFailed(err error, input map[string]any) error {
	details := map[string]any{"input": input}
	if err != nil {
		details["cause"] = err.Error()
	}
	return &DomainError{
		Code:       CodeTicketCreateFailed,
		Message:    "confirmation sent but ticket could not be created",
		HTTPStatus: http.StatusInternalServerError,
		Details:    details,
		Err:        err,
	}
}

func NewMailboxUnavailable(err error) error {
	return &DomainError{
		Code:       CodeMailboxUnavailable,
		Message:    "mailbox unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DomainError{
			Code:       CodeTimeout,
			Message:    "operation timed out",
			HTTPStatus: http.StatusGatewayTimeout,
			Err:        err,
		}
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// DetailsOf returns the details to expose for err. Internal causes are added
// for 5xx errors that carry no details of their own.
func DetailsOf(err *DomainError) map[string]any {
	if err == nil {
		return nil
	}
	if len(err.Details) > 0 {
		return err.Details
	}
	if err.HTTPStatus >= http.StatusInternalServerError && err.Err != nil {
		return map[string]any{"cause": err.Err.Error()}
	}
	return nil
}
