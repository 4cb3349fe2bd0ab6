package correlation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/repository"
)

var base = time.UnixMilli(1700000000000)

type fixture struct {
	store *repository.MemoryStore
	c     *Correlator
	a, b  *domain.Ticket
}

// newFixture seeds ticket A (created at base) with one inbound message and
// ticket B (created an hour later) with one inbound message.
func newFixture(t *testing.T) fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	a := store.PutTicket(domain.Ticket{
		ExternalKey:   "SD-1700000000000",
		Subject:       "Printer",
		Status:        domain.TicketStatusOpen,
		EmailID:       "<a-root@client.test>",
		LastMessageID: "<ticket-confirmation-1700000000000-aa@desk.test>",
		MessageIDs:    []string{"<a-root@client.test>", "<ticket-confirmation-1700000000000-aa@desk.test>"},
		CreatedAt:     base,
	})
	b := store.PutTicket(domain.Ticket{
		ExternalKey:   "SD-1700003600000",
		Subject:       "VPN",
		Status:        domain.TicketStatusOpen,
		EmailID:       "<b-root@client.test>",
		LastMessageID: "<b-root@client.test>",
		MessageIDs:    []string{"<b-root@client.test>"},
		CreatedAt:     base.Add(time.Hour),
	})
	refs := "<b-root@client.test> <b-agent@desk.test>"
	_, err := store.PutMessage(domain.TicketMessage{TicketID: a.ID, MessageID: "<a-root@client.test>", Body: "x", IsFromUser: true})
	require.NoError(t, err)
	_, err = store.PutMessage(domain.TicketMessage{TicketID: b.ID, MessageID: "<b-root@client.test>", Body: "y", IsFromUser: true})
	require.NoError(t, err)
	_, err = store.PutMessage(domain.TicketMessage{TicketID: b.ID, MessageID: "<b-second@client.test>", References: &refs, Body: "z", IsFromUser: true})
	require.NoError(t, err)

	return fixture{store: store, c: New(store.Tickets(), store.Messages()), a: a, b: b}
}

func TestStrategyOrder(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		StrategyMessageID,
		StrategyThreadHeaders,
		StrategyConfirmationTimestamp,
		StrategyBodyReference,
		StrategySubjectReference,
		StrategyConfirmationMessageID,
		StrategyReverseInReplyTo,
	}, f.c.Strategies())
}

func TestCorrelateStrategies(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name     string
		env      domain.Envelope
		want     func(fixture) *domain.Ticket
		strategy string
	}{
		{
			name:     "exact message id",
			env:      domain.Envelope{MessageID: "<a-root@client.test>"},
			want:     func(f fixture) *domain.Ticket { return f.a },
			strategy: StrategyMessageID,
		},
		{
			name:     "exact message id without brackets",
			env:      domain.Envelope{MessageID: "a-root@client.test"},
			want:     func(f fixture) *domain.Ticket { return f.a },
			strategy: StrategyMessageID,
		},
		{
			name:     "in-reply-to matches recorded confirmation id",
			env:      domain.Envelope{MessageID: "<new1@client.test>", InReplyTo: "<ticket-confirmation-1700000000000-aa@desk.test>"},
			want:     func(f fixture) *domain.Ticket { return f.a },
			strategy: StrategyThreadHeaders,
		},
		{
			name:     "references substring on message",
			env:      domain.Envelope{MessageID: "<new2@client.test>", References: "<unknown@x> <b-agent@desk.test>"},
			want:     func(f fixture) *domain.Ticket { return f.b },
			strategy: StrategyThreadHeaders,
		},
		{
			name:     "unrecorded confirmation id within window",
			env:      domain.Envelope{MessageID: "<new3@client.test>", InReplyTo: "<ticket-confirmation-1700003690000-zz@desk.test>"},
			want:     func(f fixture) *domain.Ticket { return f.b },
			strategy: StrategyConfirmationTimestamp,
		},
		{
			name:     "body ticket id",
			env:      domain.Envelope{MessageID: "<new4@client.test>", Text: "hello\nTicket ID: " + f.b.ID + "\nthanks"},
			want:     func(f fixture) *domain.Ticket { return f.b },
			strategy: StrategyBodyReference,
		},
		{
			name:     "body case number by external key",
			env:      domain.Envelope{MessageID: "<new5@client.test>", Text: "re case #SD-1700003600000"},
			want:     func(f fixture) *domain.Ticket { return f.b },
			strategy: StrategyBodyReference,
		},
		{
			name:     "body SD timestamp within window",
			env:      domain.Envelope{MessageID: "<new6@client.test>", Text: "ref SD-1700000120000 please"},
			want:     func(f fixture) *domain.Ticket { return f.a },
			strategy: StrategyBodyReference,
		},
		{
			name:     "unresolvable bracket falls through to SD pattern",
			env:      domain.Envelope{MessageID: "<new7@client.test>", Text: "[EXTERNAL] see SD-1700003600000"},
			want:     func(f fixture) *domain.Ticket { return f.b },
			strategy: StrategyBodyReference,
		},
		{
			name:     "subject bracket",
			env:      domain.Envelope{MessageID: "<new8@client.test>", Subject: "Re: Printer [SD-1700000000000]"},
			want:     func(f fixture) *domain.Ticket { return f.a },
			strategy: StrategySubjectReference,
		},
		{
			name:     "own message id carries ticket id",
			env:      domain.Envelope{MessageID: "<ticket-confirmation-" + f.a.ID + "@desk.test>"},
			want:     func(f fixture) *domain.Ticket { return f.a },
			strategy: StrategyConfirmationMessageID,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.c.Correlate(context.Background(), tc.env)
			require.NoError(t, err)
			require.True(t, res.Matched())
			assert.Equal(t, tc.want(f).ID, res.Ticket.ID)
			assert.Equal(t, tc.strategy, res.Strategy)
		})
	}
}

func TestCorrelateNoMatch(t *testing.T) {
	f := newFixture(t)
	res, err := f.c.Correlate(context.Background(), domain.Envelope{
		MessageID:  "<fresh@client.test>",
		InReplyTo:  "<nothing@x>",
		References: "<nothing@x>",
		Subject:    "New problem [URGENT]",
		Text:       "ticket #nope",
	})
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.Empty(t, res.Strategy)
}

func TestCorrelatePriorityIsAbsolute(t *testing.T) {
	f := newFixture(t)
	// Message-ID belongs to A while the body points at B.
	res, err := f.c.Correlate(context.Background(), domain.Envelope{
		MessageID: "<a-root@client.test>",
		Text:      "Ticket ID: " + f.b.ID,
	})
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, f.a.ID, res.Ticket.ID)
	assert.Equal(t, StrategyMessageID, res.Strategy)
}

func TestSDWindowIsConfigurable(t *testing.T) {
	f := newFixture(t)
	env := domain.Envelope{MessageID: "<w@client.test>", Text: fmt.Sprintf("SD-%d", base.Add(4*time.Minute).UnixMilli())}

	res, err := f.c.Correlate(context.Background(), env)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, f.a.ID, res.Ticket.ID)

	narrow := New(f.store.Tickets(), f.store.Messages(), WithWindow(time.Minute))
	res, err = narrow.Correlate(context.Background(), env)
	require.NoError(t, err)
	assert.False(t, res.Matched())
}

func TestSDOutsideWindowDoesNotMatch(t *testing.T) {
	f := newFixture(t)
	env := domain.Envelope{MessageID: "<o@client.test>", Text: fmt.Sprintf("SD-%d", base.Add(6*time.Minute).UnixMilli())}

	res, err := f.c.Correlate(context.Background(), env)
	require.NoError(t, err)
	assert.False(t, res.Matched())
}

func TestReverseInReplyTo(t *testing.T) {
	f := newFixture(t)
	s := DefaultStrategies(f.store.Tickets(), f.store.Messages(), DefaultWindow)[6]
	require.Equal(t, StrategyReverseInReplyTo, s.Name())

	ticket, err := s.Match(context.Background(), domain.Envelope{InReplyTo: "b-second@client.test"})
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, f.b.ID, ticket.ID)
}

type failingMessages struct{ err error }

func (f failingMessages) FindByMessageID(context.Context, string) (*domain.TicketMessage, error) {
	return nil, f.err
}

func (f failingMessages) FindByThreadToken(context.Context, string) (*domain.TicketMessage, error) {
	return nil, f.err
}

func TestLookupErrorAborts(t *testing.T) {
	store := repository.NewMemoryStore()
	boom := errors.New("db down")
	c := New(store.Tickets(), failingMessages{err: boom})

	_, err := c.Correlate(context.Background(), domain.Envelope{MessageID: "<x@y>"})
	require.ErrorIs(t, err, boom)
}

func TestCustomStrategies(t *testing.T) {
	called := []string{}
	hit := &domain.Ticket{ID: "t-1"}
	c := NewWithStrategies([]Strategy{
		Func("first", func(context.Context, domain.Envelope) (*domain.Ticket, error) {
			called = append(called, "first")
			return nil, nil
		}),
		Func("second", func(context.Context, domain.Envelope) (*domain.Ticket, error) {
			called = append(called, "second")
			return hit, nil
		}),
		Func("third", func(context.Context, domain.Envelope) (*domain.Ticket, error) {
			called = append(called, "third")
			return nil, nil
		}),
	})

	res, err := c.Correlate(context.Background(), domain.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Strategy)
	assert.Equal(t, []string{"first", "second"}, called)
}
