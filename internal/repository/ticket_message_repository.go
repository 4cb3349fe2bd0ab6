package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skynetiks/skydesk/internal/domain"
)

// TicketMessageRepository reads ticket thread messages. Messages are written
// through TicketRepository so thread state moves with them.
type TicketMessageRepository interface {
	FindByMessageID(ctx context.Context, messageID string) (*domain.TicketMessage, error)
	// FindByThreadToken matches a bare Message-ID against message_id and
	// in_reply_to, and as a substring of references.
	FindByThreadToken(ctx context.Context, token string) (*domain.TicketMessage, error)
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
}

type ticketMessageRepository struct {
	pool *pgxpool.Pool
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(pool *pgxpool.Pool) TicketMessageRepository {
	return &ticketMessageRepository{pool: pool}
}

const messageColumns = `id, ticket_id, body, html, is_from_user, message_id, in_reply_to, references_header, created_at`

func insertMessage(ctx context.Context, tx pgx.Tx, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (ticket_id, body, html, is_from_user, message_id, in_reply_to, references_header)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at`
	if err := tx.QueryRow(ctx, query,
		msg.TicketID,
		msg.Body,
		msg.HTML,
		msg.IsFromUser,
		msg.MessageID,
		msg.InReplyTo,
		msg.References,
	).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return err
	}
	return insertAttachments(ctx, tx, msg)
}

func (r *ticketMessageRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE message_id=$1`
	return scanMessage(r.pool.QueryRow(ctx, query, messageID))
}

func (r *ticketMessageRepository) FindByThreadToken(ctx context.Context, token string) (*domain.TicketMessage, error) {
	bare, bracketed := threadForms(token)
	query := `SELECT ` + messageColumns + ` FROM ticket_messages
        WHERE message_id IN ($1,$2) OR in_reply_to IN ($1,$2) OR strpos(references_header, $1) > 0
        ORDER BY created_at ASC LIMIT 1`
	return scanMessage(r.pool.QueryRow(ctx, query, bare, bracketed))
}

func (r *ticketMessageRepository) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM ticket_messages WHERE message_id=$1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, messageID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		attachments, err := listAttachments(ctx, r.pool, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Attachments = attachments
	}
	return result, nil
}

func scanMessage(row pgx.Row) (*domain.TicketMessage, error) {
	var msg domain.TicketMessage
	if err := row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.Body,
		&msg.HTML,
		&msg.IsFromUser,
		&msg.MessageID,
		&msg.InReplyTo,
		&msg.References,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}
