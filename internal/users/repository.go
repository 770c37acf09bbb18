package users

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, name, role, is_active, email_notifications, created_at, updated_at`

// ListActivePartners returns active partner users ordered by id. The stable
// ordering is what makes round-robin assignment deterministic.
func (r *Repository) ListActivePartners(ctx context.Context) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 AND is_active = TRUE ORDER BY id`, RolePartner)
}

// ListNotifiablePartners returns active partners who opted into email
// notifications, ordered by id.
func (r *Repository) ListNotifiablePartners(ctx context.Context) ([]User, error) {
	return r.list(ctx, `SELECT `+userColumns+` FROM users WHERE role = $1 AND is_active = TRUE AND email_notifications = TRUE ORDER BY id`, RolePartner)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.EmailNotifications, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
