package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skynetiks/skydesk/internal/domain"
)

// TicketRepository encapsulates ticket persistence and the thread lookups the
// correlator relies on.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByExternalKey(ctx context.Context, key string) (*domain.Ticket, error)
	// FindByThreadToken matches a bare Message-ID against email_id,
	// last_message_id and message_ids.
	FindByThreadToken(ctx context.Context, token string) (*domain.Ticket, error)
	// FindCreatedNear returns the ticket created closest to at within ±window.
	FindCreatedNear(ctx context.Context, at time.Time, window time.Duration) (*domain.Ticket, error)
	// CreateWithMessage stores a new ticket and its first message atomically.
	CreateWithMessage(ctx context.Context, ticket *domain.Ticket, msg *domain.TicketMessage) error
	// AppendMessage stores msg on the ticket and advances its thread state.
	AppendMessage(ctx context.Context, ticketID string, msg *domain.TicketMessage) (*domain.Ticket, error)
	AppendMessageID(ctx context.Context, ticketID, messageID string) error
	Assign(ctx context.Context, ticketID, staffID string) error
	CountActiveByAssignee(ctx context.Context) (map[string]int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, external_key, subject, from_email, from_name, status, priority,
               email_id, last_message_id, message_ids, assignee_staff_id, created_by_staff_id,
               created_at, last_replied_at, updated_at`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(r.pool.QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByExternalKey(ctx context.Context, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE external_key=$1 ORDER BY created_at ASC LIMIT 1`
	return scanTicket(r.pool.QueryRow(ctx, query, key))
}

func (r *ticketRepository) FindByThreadToken(ctx context.Context, token string) (*domain.Ticket, error) {
	bare, bracketed := threadForms(token)
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE email_id IN ($1,$2) OR last_message_id IN ($1,$2)
           OR $1 = ANY(message_ids) OR $2 = ANY(message_ids)
        ORDER BY created_at ASC LIMIT 1`
	return scanTicket(r.pool.QueryRow(ctx, query, bare, bracketed))
}

func (r *ticketRepository) FindCreatedNear(ctx context.Context, at time.Time, window time.Duration) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE created_at BETWEEN $1 AND $2
        ORDER BY ABS(EXTRACT(EPOCH FROM (created_at - $3::timestamptz))) ASC LIMIT 1`
	return scanTicket(r.pool.QueryRow(ctx, query, at.Add(-window), at.Add(window), at))
}

func (r *ticketRepository) CreateWithMessage(ctx context.Context, ticket *domain.Ticket, msg *domain.TicketMessage) error {
	const insertTicket = `
        INSERT INTO tickets (external_key, subject, from_email, from_name, status, priority,
            email_id, last_message_id, message_ids, assignee_staff_id, created_by_staff_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id, created_at, updated_at`

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertTicket,
			ticket.ExternalKey,
			ticket.Subject,
			ticket.FromEmail,
			ticket.FromName,
			ticket.Status,
			ticket.Priority,
			ticket.EmailID,
			ticket.LastMessageID,
			ticket.MessageIDs,
			ticket.AssigneeID,
			ticket.CreatedByID,
		).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
			return err
		}
		msg.TicketID = ticket.ID
		return insertMessage(ctx, tx, msg)
	})
	if isUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	return err
}

func (r *ticketRepository) AppendMessage(ctx context.Context, ticketID string, msg *domain.TicketMessage) (*domain.Ticket, error) {
	updateThread := `
        UPDATE tickets
        SET last_replied_at=$2, last_message_id=$3,
            message_ids = CASE WHEN $3 = ANY(message_ids) THEN message_ids ELSE array_append(message_ids, $3) END,
            updated_at=NOW()
        WHERE id=$1
        RETURNING ` + ticketColumns

	var ticket *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		msg.TicketID = ticketID
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		updated, err := scanTicket(tx.QueryRow(ctx, updateThread, ticketID, msg.CreatedAt, msg.MessageID))
		if err != nil {
			return err
		}
		ticket = updated
		return nil
	})
	if isUniqueViolation(err) {
		return nil, ErrDuplicateMessage
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *ticketRepository) AppendMessageID(ctx context.Context, ticketID, messageID string) error {
	const query = `
        UPDATE tickets
        SET last_message_id=$2,
            message_ids = CASE WHEN $2 = ANY(message_ids) THEN message_ids ELSE array_append(message_ids, $2) END,
            updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, ticketID, messageID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) Assign(ctx context.Context, ticketID, staffID string) error {
	const query = `UPDATE tickets SET assignee_staff_id=$2, updated_at=NOW() WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, ticketID, staffID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) CountActiveByAssignee(ctx context.Context) (map[string]int, error) {
	const query = `
        SELECT assignee_staff_id, COUNT(*)
        FROM tickets
        WHERE assignee_staff_id IS NOT NULL AND status IN ($1,$2)
        GROUP BY assignee_staff_id`
	rows, err := r.pool.Query(ctx, query, domain.TicketStatusOpen, domain.TicketStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			staffID string
			count   int
		)
		if err := rows.Scan(&staffID, &count); err != nil {
			return nil, err
		}
		counts[staffID] = count
	}
	return counts, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.ExternalKey,
		&ticket.Subject,
		&ticket.FromEmail,
		&ticket.FromName,
		&ticket.Status,
		&ticket.Priority,
		&ticket.EmailID,
		&ticket.LastMessageID,
		&ticket.MessageIDs,
		&ticket.AssigneeID,
		&ticket.CreatedByID,
		&ticket.CreatedAt,
		&ticket.LastRepliedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	return &ticket, nil
}
