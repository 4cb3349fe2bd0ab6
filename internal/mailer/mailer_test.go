package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Skynetiks/skydesk/internal/identity"
)

var testFrom = &gomail.Address{Name: "Support", Address: "support@desk.test"}

func TestBuildWritesThreadingHeaders(t *testing.T) {
	raw, id, err := Build(testFrom, Outbound{
		To:      "jane@x.com",
		ToName:  "Jane",
		Subject: "Re: Printer on fire [SD-1700000000000]",
		Text:    "We received your request.",
		Headers: map[string]string{
			"Message-ID":  "<ticket-confirmation-1700000000000-ab12cd34@desk.test>",
			"In-Reply-To": "<abc@x.com>",
			"References":  "<root@x.com> <abc@x.com>",
			"X-Skydesk":   "confirmation",
		},
	}, time.Unix(1700000000, 0), "desk.test")
	require.NoError(t, err)
	assert.Equal(t, "ticket-confirmation-1700000000000-ab12cd34@desk.test", id)

	parsed, err := identity.ParseMIME(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "<ticket-confirmation-1700000000000-ab12cd34@desk.test>", parsed.Headers[identity.HeaderMessageID])
	assert.Equal(t, []string{"abc@x.com"}, identity.Tokens(parsed.Headers[identity.HeaderInReplyTo]))
	assert.Equal(t, []string{"root@x.com", "abc@x.com"}, identity.Tokens(parsed.Headers[identity.HeaderReferences]))
	assert.Equal(t, "Re: Printer on fire [SD-1700000000000]", parsed.Subject)
	assert.Contains(t, parsed.Text, "We received your request.")
	assert.Contains(t, string(raw), "X-Skydesk: confirmation")
}

func TestBuildGeneratesMessageID(t *testing.T) {
	_, id, err := Build(testFrom, Outbound{To: "a@b.c", Subject: "hi", Text: "x"}, time.Now(), "desk.test")
	require.NoError(t, err)
	assert.Contains(t, id, "@desk.test")
}

func TestBuildMultipartAlternative(t *testing.T) {
	raw, _, err := Build(testFrom, Outbound{
		To:      "a@b.c",
		Subject: "hi",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
	}, time.Now(), "desk.test")
	require.NoError(t, err)

	parsed, err := identity.ParseMIME(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Contains(t, parsed.Text, "plain body")
	assert.Contains(t, parsed.HTML, "html body")
}

func TestLogSenderReturnsReceipt(t *testing.T) {
	s := NewLogSender("support@desk.test", "desk.test", zaptest.NewLogger(t))
	receipt, err := s.Send(context.Background(), Outbound{
		To:      "a@b.c",
		Subject: "hi",
		Text:    "x",
		Headers: map[string]string{"Message-ID": "<fixed@desk.test>"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed@desk.test", receipt.MessageID)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"auth", &smtp.SMTPError{Code: 535, Message: "bad credentials"}, KindAuth},
		{"temporary", &smtp.SMTPError{Code: 451, Message: "try later"}, KindTemporary},
		{"rejected", &smtp.SMTPError{Code: 550, Message: "no such user"}, KindRejected},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindTimeout},
		{"network", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}, KindConnection},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			require.NotNil(t, got)
			assert.Equal(t, tc.kind, got.Kind)
			assert.NotEmpty(t, got.Hint)
			assert.ErrorIs(t, got, tc.err)
		})
	}
}

func TestClassifyKeepsExistingSendError(t *testing.T) {
	orig := &SendError{Kind: KindTLS, Hint: "h", Err: errors.New("x")}
	assert.Same(t, orig, Classify(fmt.Errorf("wrap: %w", orig)))
	assert.Nil(t, Classify(nil))
}

func TestConfirmationEmailThreadsToInbound(t *testing.T) {
	out := ConfirmationEmail(Confirmation{
		To:         "jane@x.com",
		ToName:     "Jane",
		Subject:    "Printer on fire",
		Reference:  "SD-1700000000000",
		MessageID:  "ticket-confirmation-1700000000000-ab12cd34@desk.test",
		InReplyTo:  "<abc@x.com>",
		References: "<root@x.com>",
	})
	assert.Equal(t, "Re: Printer on fire [SD-1700000000000]", out.Subject)
	assert.Equal(t, "<abc@x.com>", out.Headers["In-Reply-To"])
	assert.Equal(t, "<root@x.com> <abc@x.com>", out.Headers["References"])
	assert.Equal(t, "ticket-confirmation-1700000000000-ab12cd34@desk.test", out.Headers["Message-ID"])
	assert.Contains(t, out.Text, "Ticket ID: SD-1700000000000")
	assert.Contains(t, out.HTML, "SD-1700000000000")
}

func TestRejectionEmail(t *testing.T) {
	out := RejectionEmail("a@b.c", "", "Help", "<m@b.c>")
	assert.Equal(t, "Re: Help", out.Subject)
	assert.Equal(t, "<m@b.c>", out.Headers["In-Reply-To"])
	assert.Contains(t, out.Text, "not registered")
}
