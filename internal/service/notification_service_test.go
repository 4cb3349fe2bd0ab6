package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Skynetiks/skydesk/internal/config"
	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/events"
	"github.com/Skynetiks/skydesk/internal/mailer"
	"github.com/Skynetiks/skydesk/internal/repository"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mailer.Outbound
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg mailer.Outbound) (mailer.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return mailer.Receipt{}, s.err
	}
	s.sent = append(s.sent, msg)
	return mailer.Receipt{MessageID: "n@desk.test"}, nil
}

func newNotificationFixture(t *testing.T, sender *recordingSender) (*repository.MemoryStore, events.Dispatcher, domain.StaffMember) {
	t.Helper()
	store := repository.NewMemoryStore()
	alice, _ := seedStaff(store)
	dispatcher := events.NewInMemoryDispatcher(zaptest.NewLogger(t))
	svc := NewNotificationService(NotificationDependencies{
		Dispatcher: dispatcher,
		TicketRepo: store.Tickets(),
		StaffRepo:  store.Staff(),
		Sender:     sender,
		Logger:     zaptest.NewLogger(t),
		Config:     config.NotificationConfig{EmailFrom: "support@desk.test"},
	})
	svc.RegisterHandlers()
	return store, dispatcher, alice
}

func TestReplyNotifiesAssignee(t *testing.T) {
	sender := &recordingSender{}
	store, dispatcher, alice := newNotificationFixture(t, sender)
	id := alice.ID
	ticket := store.PutTicket(domain.Ticket{ExternalKey: "SD-1", Subject: "Printer", AssigneeID: &id})

	err := dispatcher.Publish(context.Background(), events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		Payload:  events.TicketMessageAddedPayload{FromEmail: "jane@x.com", BodyPreview: "still broken"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@desk.test", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Subject, "[SD-1]")
	assert.Contains(t, sender.sent[0].Text, "still broken")
}

func TestReplyOnUnassignedTicketSendsNothing(t *testing.T) {
	sender := &recordingSender{}
	store, dispatcher, _ := newNotificationFixture(t, sender)
	ticket := store.PutTicket(domain.Ticket{ExternalKey: "SD-1", Subject: "Printer"})

	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		Payload:  events.TicketMessageAddedPayload{FromEmail: "jane@x.com"},
	}))
	assert.Empty(t, sender.sent)
}

func TestAssignmentNotifiesAssignee(t *testing.T) {
	sender := &recordingSender{}
	store, dispatcher, alice := newNotificationFixture(t, sender)
	ticket := store.PutTicket(domain.Ticket{ExternalKey: "SD-2", Subject: "Login"})

	require.NoError(t, dispatcher.Publish(context.Background(), events.Event{
		Type:     events.EventTicketAssigned,
		TicketID: ticket.ID,
		Payload:  events.TicketAssignedPayload{AssigneeStaffID: alice.ID, Policy: config.AssignmentRoundRobin},
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@desk.test", sender.sent[0].To)
}

func TestNotificationFailureDoesNotReachPublisher(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	store, dispatcher, alice := newNotificationFixture(t, sender)
	id := alice.ID
	ticket := store.PutTicket(domain.Ticket{ExternalKey: "SD-3", Subject: "x", AssigneeID: &id})

	err := dispatcher.Publish(context.Background(), events.Event{
		Type:     events.EventTicketMessageAdded,
		TicketID: ticket.ID,
		Payload:  events.TicketMessageAddedPayload{},
	})
	assert.NoError(t, err)
}
