package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Skynetiks/skydesk/internal/domain"
)

// StaffRepository reads staff members for attribution, assignment and
// notification.
type StaffRepository interface {
	GetByID(ctx context.Context, id string) (*domain.StaffMember, error)
	GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error)
	// ListAssignable returns active non-system members, oldest first.
	ListAssignable(ctx context.Context) ([]domain.StaffMember, error)
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository returns a repository implementation.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

const staffColumns = `id, name, email, role, active_flag, created_at`

func (r *staffRepository) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE id=$1`
	return scanStaff(r.pool.QueryRow(ctx, query, id))
}

func (r *staffRepository) GetByEmail(ctx context.Context, email string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE lower(email)=$1`
	return scanStaff(r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

func (r *staffRepository) ListAssignable(ctx context.Context) ([]domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members
        WHERE active_flag = TRUE AND role <> $1
        ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, domain.StaffRoleSystem)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StaffMember
	for rows.Next() {
		staff, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *staff)
	}
	return result, rows.Err()
}

func scanStaff(row pgx.Row) (*domain.StaffMember, error) {
	var staff domain.StaffMember
	if err := row.Scan(
		&staff.ID,
		&staff.Name,
		&staff.Email,
		&staff.Role,
		&staff.Active,
		&staff.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &staff, nil
}
