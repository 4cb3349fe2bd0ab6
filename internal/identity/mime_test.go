package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMIMEPlain(t *testing.T) {
	msg := strings.Join([]string{
		"From: Jane Doe <jane@x.com>",
		"To: support@desk.test",
		"Subject: Printer on fire",
		"Message-ID: <abc@x.com>",
		"In-Reply-To: <ticket-confirmation-1700000000000-ab12@desk.test>",
		"References: <root@x.com> <ticket-confirmation-1700000000000-ab12@desk.test>",
		"Date: Tue, 14 Nov 2023 22:13:20 +0000",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"It is still burning.",
		"",
	}, "\r\n")

	raw, err := ParseMIME(strings.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe <jane@x.com>", raw.From)
	assert.Equal(t, "Printer on fire", raw.Subject)
	assert.Equal(t, "<abc@x.com>", raw.Headers[HeaderMessageID])
	assert.Equal(t, "<ticket-confirmation-1700000000000-ab12@desk.test>", raw.Headers[HeaderInReplyTo])
	assert.Equal(t, "<root@x.com> <ticket-confirmation-1700000000000-ab12@desk.test>", raw.Headers[HeaderReferences])
	assert.Contains(t, raw.Text, "It is still burning.")
	assert.False(t, raw.ReceivedAt.IsZero())

	env, err := NewExtractor().Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", env.FromEmail)
	assert.Equal(t, "Jane Doe", env.FromName)
}

func TestParseMIMEHTMLOnlyFallsBackToText(t *testing.T) {
	msg := strings.Join([]string{
		"From: bob@example.org",
		"Subject: Hi",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>Hello <b>there</b></p></body></html>",
		"",
	}, "\r\n")

	raw, err := ParseMIME(strings.NewReader(msg))
	require.NoError(t, err)
	assert.Contains(t, raw.Text, "Hello")
	assert.NotContains(t, raw.Text, "<b>")
	assert.Contains(t, raw.HTML, "<b>there</b>")
}

func TestParseMIMEMultipartWithAttachment(t *testing.T) {
	msg := strings.Join([]string{
		"From: bob@example.org",
		"Subject: Logs",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="xyz"`,
		"",
		"--xyz",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"see attached",
		"--xyz",
		`Content-Type: text/plain; name="log.txt"`,
		`Content-Disposition: attachment; filename="log.txt"`,
		"",
		"line1",
		"--xyz--",
		"",
	}, "\r\n")

	raw, err := ParseMIME(strings.NewReader(msg))
	require.NoError(t, err)
	assert.Contains(t, raw.Text, "see attached")
	require.Len(t, raw.Attachments, 1)
	assert.Equal(t, "log.txt", raw.Attachments[0].FileName)
	assert.Equal(t, "text/plain", raw.Attachments[0].MimeType)
	assert.Positive(t, raw.Attachments[0].SizeBytes)
}
