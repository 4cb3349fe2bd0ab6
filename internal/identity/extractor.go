// Package identity normalizes inbound emails into envelopes the correlator
// and the ingestion pipeline work with.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skynetiks/skydesk/internal/domain"
	apperrors "github.com/Skynetiks/skydesk/pkg/util/errorutil"
)

// RawEmail is an inbound email before normalization. Headers may use any
// key casing.
type RawEmail struct {
	From        string
	Subject     string
	Text        string
	HTML        string
	Headers     map[string]string
	Attachments []domain.Attachment
	ReceivedAt  time.Time
}

// Header names used for threading.
const (
	HeaderMessageID  = "Message-ID"
	HeaderInReplyTo  = "In-Reply-To"
	HeaderReferences = "References"
)

var namedAddress = regexp.MustCompile(`^\s*(.*?)\s*<([^<>]+)>\s*$`)

// Extractor turns raw emails into envelopes. The zero value is not usable;
// use NewExtractor.
type Extractor struct {
	now func() time.Time
}

// Option customises an Extractor.
type Option func(*Extractor)

// WithClock overrides the clock used for synthesized Message-IDs.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor constructs an Extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract validates raw and returns its normalized envelope. Missing from,
// subject or text is a validation error.
func (e *Extractor) Extract(raw RawEmail) (domain.Envelope, error) {
	var missing []string
	if strings.TrimSpace(raw.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(raw.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(raw.Text) == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return domain.Envelope{}, apperrors.NewValidationError(
			fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
			map[string]any{"fields": missing},
		)
	}

	name, email := SplitAddress(raw.From)
	env := domain.Envelope{
		FromName:    name,
		FromEmail:   email,
		Subject:     strings.TrimSpace(raw.Subject),
		Text:        raw.Text,
		HTML:        raw.HTML,
		MessageID:   strings.TrimSpace(HeaderValue(raw.Headers, HeaderMessageID)),
		InReplyTo:   strings.TrimSpace(HeaderValue(raw.Headers, HeaderInReplyTo)),
		References:  strings.TrimSpace(HeaderValue(raw.Headers, HeaderReferences)),
		Attachments: raw.Attachments,
		ReceivedAt:  raw.ReceivedAt,
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = e.now()
	}
	if env.MessageID == "" {
		env.MessageID = e.syntheticID()
		env.SyntheticID = true
	}
	return env, nil
}

func (e *Extractor) syntheticID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("email_%d_%s", e.now().UnixMilli(), random)
}

// SplitAddress splits "Name <email>" into its parts. Without angle brackets
// the whole value is taken as the address. The address is lower-cased.
func SplitAddress(from string) (name, email string) {
	if m := namedAddress.FindStringSubmatch(from); m != nil {
		name = strings.Trim(strings.TrimSpace(m[1]), `"'`)
		email = strings.ToLower(strings.TrimSpace(m[2]))
		return name, email
	}
	return "", strings.ToLower(strings.TrimSpace(from))
}

// HeaderValue looks a header up ignoring key case.
func HeaderValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
