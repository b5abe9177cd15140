// Package repositories implements the data access layer (repository pattern)
// for the task service. Each repository type encapsulates all database
// queries for a domain entity. Handlers never issue SQL directly; all
// database access goes through this layer, which makes query logic testable
// in isolation and prevents accidental cross-domain data access.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/taskhive/taskhive/internal/db/models"
)

// UserRepository reads and stamps user rows. Account creation is not here:
// inserts happen inside the provisioner's transaction together with the
// welcome tasks.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetUserByEmail retrieves a user by email. Matching is case insensitive,
// mirroring the unique index on lower(email).
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, name, password, federated, last_logon_at, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`

	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Password,
		&user.Federated,
		&user.LastLogonAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return user, nil
}

// UpdateLastLogon stamps the user's last successful logon time
func (r *UserRepository) UpdateLastLogon(ctx context.Context, userID int64) error {
	query := `UPDATE users SET last_logon_at = $2, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, userID, time.Now())
	return err
}
