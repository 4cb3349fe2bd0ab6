package identity

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"

	"github.com/Skynetiks/skydesk/internal/domain"
)

const maxPartBytes = 10 << 20

// ParseMIME reads an RFC 5322 message into a RawEmail. Threading headers are
// kept verbatim. When the message has no text/plain part the text is derived
// from the first text/html part.
func ParseMIME(r io.Reader) (RawEmail, error) {
	reader, err := gomail.CreateReader(r)
	if err != nil {
		return RawEmail{}, fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	raw := RawEmail{
		From:    fromHeader(&reader.Header),
		Subject: subjectHeader(&reader.Header),
		Headers: map[string]string{},
	}
	for _, key := range []string{HeaderMessageID, HeaderInReplyTo, HeaderReferences} {
		if v := strings.TrimSpace(reader.Header.Get(key)); v != "" {
			raw.Headers[key] = v
		}
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		raw.ReceivedAt = date
	}

	var plain, html string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep whatever was read before the malformed part.
			break
		}
		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, ctErr := header.ContentType()
			if ctErr != nil || mediaType == "" {
				mediaType = "text/plain"
			}
			body, readErr := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(mediaType, "text/plain") && plain == "":
				plain = string(body)
			case strings.HasPrefix(mediaType, "text/html") && html == "":
				html = string(body)
			}
		case *gomail.AttachmentHeader:
			raw.Attachments = append(raw.Attachments, attachmentMeta(part, header))
		}
	}

	raw.Text = plain
	raw.HTML = html
	if strings.TrimSpace(raw.Text) == "" && html != "" {
		raw.Text = html2text.HTML2Text(html)
	}
	return raw, nil
}

func fromHeader(h *gomail.Header) string {
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		addr := list[0]
		if addr.Name != "" {
			return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
		}
		return addr.Address
	}
	return strings.TrimSpace(h.Get("From"))
}

func subjectHeader(h *gomail.Header) string {
	if subject, err := h.Subject(); err == nil {
		return subject
	}
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(h.Get("Subject")); err == nil {
		return decoded
	}
	return h.Get("Subject")
}

func attachmentMeta(part *gomail.Part, header *gomail.AttachmentHeader) domain.Attachment {
	att := domain.Attachment{MimeType: "application/octet-stream"}
	if name, err := header.Filename(); err == nil {
		att.FileName = name
	}
	if mediaType, _, err := header.ContentType(); err == nil && mediaType != "" {
		att.MimeType = mediaType
	}
	if n, err := io.Copy(io.Discard, part.Body); err == nil {
		att.SizeBytes = n
	}
	return att
}
