package correlation

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Skynetiks/skydesk/internal/confirmation"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/identity"
	"github.com/Skynetiks/skydesk/internal/repository"
)

// Strategy names, in evaluation order.
const (
	StrategyMessageID             = "message-id"
	StrategyThreadHeaders         = "thread-headers"
	StrategyConfirmationTimestamp = "confirmation-timestamp"
	StrategyBodyReference         = "body-reference"
	StrategySubjectReference      = "subject-reference"
	StrategyConfirmationMessageID = "confirmation-message-id"
	StrategyReverseInReplyTo      = "reverse-in-reply-to"
)

// maxCandidates caps how many textual references one pattern may try.
const maxCandidates = 5

const refChars = `[A-Za-z0-9][A-Za-z0-9-]{2,63}`

var (
	sdPattern = regexp.MustCompile(`(?i)\bSD-(\d{10}|\d{13})\b`)

	bodyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bticket\s*id\s*:\s*(` + refChars + `)`),
		regexp.MustCompile(`(?i)\bticket\s*#\s*(` + refChars + `)`),
		regexp.MustCompile(`(?i)\bcase\s*#\s*(` + refChars + `)`),
		regexp.MustCompile(`\[\s*(` + refChars + `)\s*\]`),
		sdPattern,
	}

	subjectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[\s*(` + refChars + `)\s*\]`),
		sdPattern,
	}

	externalKey = regexp.MustCompile(`(?i)^SD-(\d{10}|\d{13})$`)
)

type strategy struct {
	name  string
	match func(ctx context.Context, env domain.Envelope) (*domain.Ticket, error)
}

func (s strategy) Name() string { return s.name }

func (s strategy) Match(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	return s.match(ctx, env)
}

// Func adapts a function into a Strategy.
func Func(name string, match func(ctx context.Context, env domain.Envelope) (*domain.Ticket, error)) Strategy {
	return strategy{name: name, match: match}
}

type resolver struct {
	tickets  TicketLookup
	messages MessageLookup
	window   time.Duration
}

// DefaultStrategies returns the standard ordered strategy list.
func DefaultStrategies(tickets TicketLookup, messages MessageLookup, window time.Duration) []Strategy {
	r := resolver{tickets: tickets, messages: messages, window: window}
	return []Strategy{
		Func(StrategyMessageID, r.exactMessageID),
		Func(StrategyThreadHeaders, r.threadHeaders),
		Func(StrategyConfirmationTimestamp, r.confirmationTimestamp),
		Func(StrategyBodyReference, r.bodyReference),
		Func(StrategySubjectReference, r.subjectReference),
		Func(StrategyConfirmationMessageID, r.confirmationMessageID),
		Func(StrategyReverseInReplyTo, r.reverseInReplyTo),
	}
}

func (r resolver) exactMessageID(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	return r.ticketForMessageID(ctx, env.MessageID)
}

func (r resolver) threadHeaders(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	for _, token := range threadTokens(env) {
		ticket, err := found(r.tickets.FindByThreadToken(ctx, token))
		if err != nil || ticket != nil {
			return ticket, err
		}
		msg, err := foundMessage(r.messages.FindByThreadToken(ctx, token))
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return found(r.tickets.GetByID(ctx, msg.TicketID))
		}
	}
	return nil, nil
}

func (r resolver) confirmationTimestamp(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	for _, token := range threadTokens(env) {
		tok, ok := confirmation.Parse(token)
		if !ok || tok.Timestamp == nil {
			continue
		}
		ticket, err := found(r.tickets.FindCreatedNear(ctx, *tok.Timestamp, r.window))
		if err != nil || ticket != nil {
			return ticket, err
		}
	}
	return nil, nil
}

func (r resolver) bodyReference(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	return r.scan(ctx, env.Text, bodyPatterns)
}

func (r resolver) subjectReference(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	return r.scan(ctx, env.Subject, subjectPatterns)
}

func (r resolver) confirmationMessageID(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	tok, ok := confirmation.Parse(env.MessageID)
	if !ok {
		return nil, nil
	}
	return r.direct(ctx, tok.Raw)
}

func (r resolver) reverseInReplyTo(ctx context.Context, env domain.Envelope) (*domain.Ticket, error) {
	tokens := identity.Tokens(env.InReplyTo)
	if len(tokens) == 0 {
		return nil, nil
	}
	return r.ticketForMessageID(ctx, tokens[0])
}

// scan tries each pattern in order; within a pattern, matches are tried in
// text order. The first reference that resolves wins.
func (r resolver) scan(ctx context.Context, text string, patterns []*regexp.Regexp) (*domain.Ticket, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	for _, p := range patterns {
		for _, m := range p.FindAllStringSubmatch(text, maxCandidates) {
			var (
				ticket *domain.Ticket
				err    error
			)
			if p == sdPattern {
				ticket, err = r.byTimestamp(ctx, m[1])
			} else {
				ticket, err = r.reference(ctx, m[1])
			}
			if err != nil || ticket != nil {
				return ticket, err
			}
		}
	}
	return nil, nil
}

// reference resolves a textual reference: SD-<digits> keys by external key
// then by window, everything else as a direct ticket ID.
func (r resolver) reference(ctx context.Context, ref string) (*domain.Ticket, error) {
	if m := externalKey.FindStringSubmatch(ref); m != nil {
		ticket, err := found(r.tickets.GetByExternalKey(ctx, "SD-"+m[1]))
		if err != nil || ticket != nil {
			return ticket, err
		}
		return r.byTimestamp(ctx, m[1])
	}
	return r.direct(ctx, ref)
}

// direct looks a ticket up by ID; non-UUID values are tried as external keys.
func (r resolver) direct(ctx context.Context, id string) (*domain.Ticket, error) {
	if parsed, err := uuid.Parse(id); err == nil {
		return found(r.tickets.GetByID(ctx, parsed.String()))
	}
	return found(r.tickets.GetByExternalKey(ctx, strings.ToUpper(id)))
}

func (r resolver) byTimestamp(ctx context.Context, digits string) (*domain.Ticket, error) {
	ts, ok := confirmation.ParseTimestamp(digits)
	if !ok {
		return nil, nil
	}
	return found(r.tickets.FindCreatedNear(ctx, ts, r.window))
}

func (r resolver) ticketForMessageID(ctx context.Context, messageID string) (*domain.Ticket, error) {
	for _, form := range MessageIDForms(messageID) {
		msg, err := foundMessage(r.messages.FindByMessageID(ctx, form))
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return found(r.tickets.GetByID(ctx, msg.TicketID))
		}
	}
	return nil, nil
}

// threadTokens returns In-Reply-To tokens followed by References tokens,
// nearest ancestor first.
func threadTokens(env domain.Envelope) []string {
	tokens := identity.Tokens(env.InReplyTo)
	refs := identity.Tokens(env.References)
	seen := make(map[string]struct{}, len(tokens)+len(refs))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	for i := len(refs) - 1; i >= 0; i-- {
		if _, ok := seen[refs[i]]; ok {
			continue
		}
		seen[refs[i]] = struct{}{}
		tokens = append(tokens, refs[i])
	}
	return tokens
}

// MessageIDForms lists the verbatim, bare and bracketed spellings of id,
// without duplicates.
func MessageIDForms(id string) []string {
	raw := strings.TrimSpace(id)
	if raw == "" {
		return nil
	}
	var forms []string
	for _, f := range []string{raw, identity.StripBrackets(raw), identity.Bracket(raw)} {
		if f != "" && !contains(forms, f) {
			forms = append(forms, f)
		}
	}
	return forms
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func found(ticket *domain.Ticket, err error) (*domain.Ticket, error) {
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return ticket, err
}

func foundMessage(msg *domain.TicketMessage, err error) (*domain.TicketMessage, error) {
	if repository.IsNotFound(err) {
		return nil, nil
	}
	return msg, err
}
