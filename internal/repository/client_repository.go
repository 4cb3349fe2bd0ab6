package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skynetiks/skydesk/internal/domain"
)

// ClientRepository is the read-only allowlist of registered clients.
type ClientRepository interface {
	FindByEmail(ctx context.Context, email string) (*domain.Client, error)
}

type clientRepository struct {
	pool *pgxpool.Pool
}

// NewClientRepository constructs repository.
func NewClientRepository(pool *pgxpool.Pool) ClientRepository {
	return &clientRepository{pool: pool}
}

func (r *clientRepository) FindByEmail(ctx context.Context, email string) (*domain.Client, error) {
	const query = `
        SELECT id, name, emails, created_at
        FROM clients WHERE $1 = ANY(emails) LIMIT 1`

	var client domain.Client
	if err := r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))).Scan(
		&client.ID,
		&client.Name,
		&client.Emails,
		&client.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &client, nil
}
