package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skynetiks/skydesk/internal/domain"
	"github.com/Skynetiks/skydesk/internal/identity"
)

// MemoryStore keeps tickets, messages, clients and staff in process memory.
// It mirrors the Postgres repositories, including the unique Message-ID
// constraint, and backs local runs without POSTGRES_DSN as well as tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	tickets  []*domain.Ticket
	messages []*domain.TicketMessage
	clients  []domain.Client
	staff    []domain.StaffMember
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetClock overrides the clock stamping created rows.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// AddClient registers a client; addresses are lower-cased.
func (s *MemoryStore) AddClient(client domain.Client) domain.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	emails := make([]string, len(client.Emails))
	for i, e := range client.Emails {
		emails[i] = strings.ToLower(strings.TrimSpace(e))
	}
	client.Emails = emails
	client.CreatedAt = s.now()
	s.clients = append(s.clients, client)
	return client
}

// AddStaff registers a staff member.
func (s *MemoryStore) AddStaff(member domain.StaffMember) domain.StaffMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = s.now().Add(time.Duration(len(s.staff)) * time.Millisecond)
	}
	s.staff = append(s.staff, member)
	return member
}

// PutTicket inserts a ticket as-is, for seeding.
func (s *MemoryStore) PutTicket(ticket domain.Ticket) *domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = s.now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	stored := copyTicket(&ticket)
	s.tickets = append(s.tickets, stored)
	return copyTicket(stored)
}

// PutMessage inserts a message as-is, for seeding.
func (s *MemoryStore) PutMessage(msg domain.TicketMessage) (*domain.TicketMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertMessageLocked(&msg); err != nil {
		return nil, err
	}
	cp := msg
	return &cp, nil
}

// Tickets returns the ticket repository view.
func (s *MemoryStore) Tickets() TicketRepository { return memoryTickets{s} }

// Messages returns the message repository view.
func (s *MemoryStore) Messages() TicketMessageRepository { return memoryMessages{s} }

// Clients returns the client repository view.
func (s *MemoryStore) Clients() ClientRepository { return memoryClients{s} }

// Staff returns the staff repository view.
func (s *MemoryStore) Staff() StaffRepository { return memoryStaff{s} }

// TicketCount reports how many tickets are stored.
func (s *MemoryStore) TicketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// MessageCount reports how many messages carry messageID.
func (s *MemoryStore) MessageCount(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.MessageID == messageID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) insertMessageLocked(msg *domain.TicketMessage) error {
	for _, existing := range s.messages {
		if existing.MessageID == msg.MessageID {
			return ErrDuplicateMessage
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	for i := range msg.Attachments {
		msg.Attachments[i].ID = uuid.NewString()
		msg.Attachments[i].TicketMessageID = msg.ID
		msg.Attachments[i].CreatedAt = msg.CreatedAt
	}
	cp := *msg
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *MemoryStore) ticketLocked(id string) *domain.Ticket {
	for _, t := range s.tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func copyTicket(t *domain.Ticket) *domain.Ticket {
	cp := *t
	cp.MessageIDs = append([]string(nil), t.MessageIDs...)
	return &cp
}

func sameToken(stored, token string) bool {
	return stored != "" && identity.StripBrackets(stored) == token
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

type memoryTickets struct{ s *MemoryStore }

func (r memoryTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t := r.s.ticketLocked(id); t != nil {
		return copyTicket(t), nil
	}
	return nil, ErrNotFound
}

func (r memoryTickets) GetByExternalKey(_ context.Context, key string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tickets {
		if t.ExternalKey == key {
			return copyTicket(t), nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryTickets) FindByThreadToken(_ context.Context, token string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tickets {
		if sameToken(t.EmailID, token) || sameToken(t.LastMessageID, token) {
			return copyTicket(t), nil
		}
		for _, id := range t.MessageIDs {
			if sameToken(id, token) {
				return copyTicket(t), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (r memoryTickets) FindCreatedNear(_ context.Context, at time.Time, window time.Duration) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		best     *domain.Ticket
		bestDiff time.Duration
	)
	for _, t := range r.s.tickets {
		diff := t.CreatedAt.Sub(at)
		if diff < 0 {
			diff = -diff
		}
		if diff > window {
			continue
		}
		if best == nil || diff < bestDiff {
			best, bestDiff = t, diff
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyTicket(best), nil
}

func (r memoryTickets) CreateWithMessage(_ context.Context, ticket *domain.Ticket, msg *domain.TicketMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.messages {
		if existing.MessageID == msg.MessageID {
			return ErrDuplicateMessage
		}
	}
	now := r.s.now()
	ticket.ID = uuid.NewString()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	msg.TicketID = ticket.ID
	msg.CreatedAt = now
	if err := r.s.insertMessageLocked(msg); err != nil {
		return err
	}
	r.s.tickets = append(r.s.tickets, copyTicket(ticket))
	return nil
}

func (r memoryTickets) AppendMessage(_ context.Context, ticketID string, msg *domain.TicketMessage) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.ticketLocked(ticketID)
	if t == nil {
		return nil, ErrNotFound
	}
	msg.TicketID = ticketID
	if err := r.s.insertMessageLocked(msg); err != nil {
		return nil, err
	}
	replied := msg.CreatedAt
	t.LastRepliedAt = &replied
	t.LastMessageID = msg.MessageID
	t.MessageIDs = appendUnique(t.MessageIDs, msg.MessageID)
	t.UpdatedAt = r.s.now()
	return copyTicket(t), nil
}

func (r memoryTickets) AppendMessageID(_ context.Context, ticketID, messageID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.ticketLocked(ticketID)
	if t == nil {
		return ErrNotFound
	}
	t.LastMessageID = messageID
	t.MessageIDs = appendUnique(t.MessageIDs, messageID)
	t.UpdatedAt = r.s.now()
	return nil
}

func (r memoryTickets) Assign(_ context.Context, ticketID, staffID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t := r.s.ticketLocked(ticketID)
	if t == nil {
		return ErrNotFound
	}
	id := staffID
	t.AssigneeID = &id
	t.UpdatedAt = r.s.now()
	return nil
}

func (r memoryTickets) CountActiveByAssignee(_ context.Context) (map[string]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[string]int)
	for _, t := range r.s.tickets {
		if t.AssigneeID != nil && t.Status.IsActive() {
			counts[*t.AssigneeID]++
		}
	}
	return counts, nil
}

type memoryMessages struct{ s *MemoryStore }

func (r memoryMessages) FindByMessageID(_ context.Context, messageID string) (*domain.TicketMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.MessageID == messageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryMessages) FindByThreadToken(_ context.Context, token string) (*domain.TicketMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		match := sameToken(m.MessageID, token) ||
			(m.InReplyTo != nil && sameToken(*m.InReplyTo, token)) ||
			(m.References != nil && strings.Contains(*m.References, token))
		if match {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryMessages) ExistsByMessageID(_ context.Context, messageID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

func (r memoryMessages) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []domain.TicketMessage
	for _, m := range r.s.messages {
		if m.TicketID == ticketID {
			result = append(result, *m)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

type memoryClients struct{ s *MemoryStore }

func (r memoryClients) FindByEmail(_ context.Context, email string) (*domain.Client, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, c := range r.s.clients {
		for _, e := range c.Emails {
			if e == email {
				cp := c
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

type memoryStaff struct{ s *MemoryStore }

func (r memoryStaff) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.staff {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryStaff) GetByEmail(_ context.Context, email string) (*domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, m := range r.s.staff {
		if strings.ToLower(m.Email) == email {
			cp := m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r memoryStaff) ListAssignable(_ context.Context) ([]domain.StaffMember, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []domain.StaffMember
	for _, m := range r.s.staff {
		if m.Assignable() {
			result = append(result, m)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
