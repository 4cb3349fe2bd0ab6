package mailer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-smtp"
)

// Failure kinds reported by Classify.
const (
	KindAuth       = "auth"
	KindConnection = "connection"
	KindTLS        = "tls"
	KindRejected   = "rejected"
	KindTemporary  = "temporary"
	KindTimeout    = "timeout"
	KindUnknown    = "unknown"
)

// SendError is a classified delivery failure. Hint names the setting an
// operator should check.
type SendError struct {
	Kind string
	Hint string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send email (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Classify wraps err in a SendError. Errors already classified are returned
// unchanged.
func Classify(err error) *SendError {
	if err == nil {
		return nil
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 530, 534, 535, 538:
			return &SendError{Kind: KindAuth, Hint: "SMTP authentication failed: check SMTP_USERNAME and SMTP_PASSWORD", Err: err}
		}
		if smtpErr.Temporary() {
			return &SendError{Kind: KindTemporary, Hint: "SMTP server deferred the message; retry later", Err: err}
		}
		return &SendError{Kind: KindRejected, Hint: "SMTP server rejected the message: check SMTP_FROM and the recipient address", Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &SendError{Kind: KindTimeout, Hint: "SMTP server did not answer in time: check SMTP_HOST, SMTP_PORT and SMTP_TIMEOUT", Err: err}
	}

	var (
		certErr   *tls.CertificateVerificationError
		unknownCA x509.UnknownAuthorityError
		hostErr   x509.HostnameError
		recordErr tls.RecordHeaderError
	)
	if errors.As(err, &certErr) || errors.As(err, &unknownCA) || errors.As(err, &hostErr) || errors.As(err, &recordErr) {
		return &SendError{Kind: KindTLS, Hint: "TLS handshake failed: check SMTP_SECURITY matches the port and the server certificate", Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &SendError{Kind: KindConnection, Hint: "cannot reach SMTP server: check SMTP_HOST and SMTP_PORT", Err: err}
	}

	return &SendError{Kind: KindUnknown, Hint: "email delivery failed; see cause", Err: err}
}
