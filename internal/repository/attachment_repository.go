package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skynetiks/skydesk/internal/domain"
)

// Attachment metadata is written in the same transaction as its message.

func insertAttachments(ctx context.Context, tx pgx.Tx, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO attachment_references (ticket_message_id, file_name, mime_type, size_bytes)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	for i := range msg.Attachments {
		attachment := &msg.Attachments[i]
		attachment.TicketMessageID = msg.ID
		if err := tx.QueryRow(ctx, query,
			attachment.TicketMessageID,
			attachment.FileName,
			attachment.MimeType,
			attachment.SizeBytes,
		).Scan(&attachment.ID, &attachment.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func listAttachments(ctx context.Context, pool *pgxpool.Pool, messageID string) ([]domain.AttachmentReference, error) {
	const query = `
        SELECT id, ticket_message_id, file_name, mime_type, size_bytes, created_at
        FROM attachment_references WHERE ticket_message_id=$1 ORDER BY created_at ASC`
	rows, err := pool.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AttachmentReference
	for rows.Next() {
		var attachment domain.AttachmentReference
		if err := rows.Scan(
			&attachment.ID,
			&attachment.TicketMessageID,
			&attachment.FileName,
			&attachment.MimeType,
			&attachment.SizeBytes,
			&attachment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, attachment)
	}
	return result, rows.Err()
}
