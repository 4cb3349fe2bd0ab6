// Package confirmation issues and records the synthetic Message-IDs carried by
// acknowledgment emails, so replies to them can be threaded back even when
// the client drops References.
package confirmation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skynetiks/skydesk/internal/identity"
)

// Prefix starts every confirmation Message-ID local part.
const Prefix = "ticket-confirmation-"

var (
	confirmationPattern = regexp.MustCompile(`(?i)ticket-confirmation-([^@\s<>]+)@`)
	timestampToken      = regexp.MustCompile(`^(\d{10}|\d{13})(?:-[A-Za-z0-9]+)?$`)
)

// ID is a reserved confirmation Message-ID.
type ID struct {
	MessageID string
	Timestamp time.Time
}

// Reference renders the human reference embedded in outbound subjects.
func (id ID) Reference() string {
	return Reference(id.Timestamp)
}

// Reference renders the SD-<unix millis> reference for t.
func Reference(t time.Time) string {
	return fmt.Sprintf("SD-%d", t.UnixMilli())
}

// Token is the decoded payload of a confirmation Message-ID.
type Token struct {
	Raw string
	// Timestamp is set for the <timestamp>-<random> form.
	Timestamp *time.Time
}

// Parse recognises a confirmation Message-ID anywhere in value.
func Parse(value string) (Token, bool) {
	m := confirmationPattern.FindStringSubmatch(value)
	if m == nil {
		return Token{}, false
	}
	tok := Token{Raw: m[1]}
	if tm := timestampToken.FindStringSubmatch(m[1]); tm != nil {
		if ts, ok := ParseTimestamp(tm[1]); ok {
			tok.Timestamp = &ts
		}
	}
	return tok, true
}

// ParseTimestamp decodes 13-digit unix millis or 10-digit unix seconds.
func ParseTimestamp(digits string) (time.Time, bool) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch len(digits) {
	case 13:
		return time.UnixMilli(n), true
	case 10:
		return time.Unix(n, 0), true
	default:
		return time.Time{}, false
	}
}

// Recorder persists a confirmation Message-ID against its ticket.
type Recorder interface {
	AppendMessageID(ctx context.Context, ticketID, messageID string) error
}

// Registry reserves and records confirmation IDs.
type Registry struct {
	domain string
	store  Recorder
	now    func() time.Time
}

// NewRegistry builds a registry issuing IDs under domain.
func NewRegistry(domain string, store Recorder) *Registry {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = "localhost"
	}
	return &Registry{domain: domain, store: store, now: time.Now}
}

// WithClock returns a copy of r using now as its clock.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	cp := *r
	cp.now = now
	return &cp
}

// Reserve generates a new confirmation ID without I/O.
func (r *Registry) Reserve() ID {
	ts := r.now()
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return ID{
		MessageID: fmt.Sprintf("%s%d-%s@%s", Prefix, ts.UnixMilli(), random, r.domain),
		Timestamp: time.UnixMilli(ts.UnixMilli()),
	}
}

// Record pushes messageID into the ticket's message IDs and makes it the
// ticket's last Message-ID. The ID is stored in its header form.
func (r *Registry) Record(ctx context.Context, ticketID, messageID string) error {
	id := identity.Bracket(messageID)
	if id == "" {
		return fmt.Errorf("record confirmation: empty message id")
	}
	if err := r.store.AppendMessageID(ctx, ticketID, id); err != nil {
		return fmt.Errorf("record confirmation for ticket %s: %w", ticketID, err)
	}
	return nil
}
