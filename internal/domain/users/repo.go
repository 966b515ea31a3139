package users

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, role, created_at, updated_at
		FROM users WHERE email = $1
	`, normalize(email))

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// RoleByEmail resolves the caller's role. Unknown accounts are viewers.
func (r *Repo) RoleByEmail(ctx context.Context, email string) (Role, error) {
	u, err := r.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if u == nil {
		return RoleViewer, nil
	}
	return u.Role, nil
}

// Upsert creates the account or changes its role.
func (r *Repo) Upsert(ctx context.Context, email string, role Role) (*User, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (email, role)
		VALUES ($1,$2)
		ON CONFLICT (email)
		DO UPDATE SET role = EXCLUDED.role, updated_at = now()
		RETURNING id, email, role, created_at, updated_at
	`, normalize(email), role)

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
