package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"

	"github.com/Skynetiks/skydesk/internal/identity"
)

// Build renders msg as an RFC 5322 message from the given sender. It returns
// the bare Message-ID written to the message.
func Build(from *gomail.Address, msg Outbound, now time.Time, fallbackDomain string) ([]byte, string, error) {
	var h gomail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*gomail.Address{from})
	h.SetAddressList("To", []*gomail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)

	messageID := ""
	for key, value := range msg.Headers {
		switch {
		case strings.EqualFold(key, identity.HeaderMessageID):
			messageID = identity.StripBrackets(value)
		case strings.EqualFold(key, identity.HeaderInReplyTo):
			if ids := identity.Tokens(value); len(ids) > 0 {
				h.SetMsgIDList(identity.HeaderInReplyTo, ids)
			}
		case strings.EqualFold(key, identity.HeaderReferences):
			if ids := identity.Tokens(value); len(ids) > 0 {
				h.SetMsgIDList(identity.HeaderReferences, ids)
			}
		default:
			h.Set(key, value)
		}
	}
	if messageID == "" {
		if err := h.GenerateMessageIDWithHostname(fallbackDomain); err != nil {
			return nil, "", fmt.Errorf("generate message id: %w", err)
		}
		id, err := h.MessageID()
		if err != nil {
			return nil, "", fmt.Errorf("read message id: %w", err)
		}
		messageID = id
	} else {
		h.SetMessageID(messageID)
	}

	var buf bytes.Buffer
	if msg.HTML == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := gomail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, "", err
		}
		if err := writeAndClose(w, msg.Text); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), messageID, nil
	}

	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", err
	}
	inline, err := mw.CreateInline()
	if err != nil {
		return nil, "", err
	}
	for _, part := range []struct{ mediaType, body string }{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	} {
		var ph gomail.InlineHeader
		ph.SetContentType(part.mediaType, map[string]string{"charset": "utf-8"})
		pw, err := inline.CreatePart(ph)
		if err != nil {
			return nil, "", err
		}
		if err := writeAndClose(pw, part.body); err != nil {
			return nil, "", err
		}
	}
	if err := inline.Close(); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), messageID, nil
}

func writeAndClose(w io.WriteCloser, body string) error {
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
