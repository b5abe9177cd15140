// origin_repository.go implements OriginRepository, providing database
// queries for the CORS origin allow-list and the GitHub accounts permitted
// to manage it.
package repositories

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/taskhive/taskhive/internal/db/models"
)

// OriginRepository handles origin allow-list database operations
type OriginRepository struct {
	db *sqlx.DB
}

// NewOriginRepository creates a new OriginRepository
func NewOriginRepository(db *sqlx.DB) *OriginRepository {
	return &OriginRepository{db: db}
}

// CreateOrigin inserts a new allowed origin. Duplicates surface as a unique
// violation the caller can detect with IsUniqueViolation.
func (r *OriginRepository) CreateOrigin(ctx context.Context, origin *models.Origin) error {
	query := `
		INSERT INTO origins (origin, added_by)
		VALUES ($1, $2)
		RETURNING id, created_at
	`

	return r.db.QueryRowxContext(ctx, query, origin.Origin, origin.AddedBy).
		Scan(&origin.ID, &origin.CreatedAt)
}

// ListOrigins returns all allowed origins, oldest first
func (r *OriginRepository) ListOrigins(ctx context.Context) ([]*models.Origin, error) {
	origins := make([]*models.Origin, 0)
	query := `SELECT id, origin, added_by, created_at FROM origins ORDER BY created_at ASC`
	err := r.db.SelectContext(ctx, &origins, query)
	return origins, err
}

// ListOriginValues returns just the origin strings, for CORS middleware
// configuration.
func (r *OriginRepository) ListOriginValues(ctx context.Context) ([]string, error) {
	origins := make([]string, 0)
	query := `SELECT origin FROM origins ORDER BY created_at ASC`
	err := r.db.SelectContext(ctx, &origins, query)
	return origins, err
}

// DeleteOrigin removes an allowed origin by value. Returns false when no
// row matched.
func (r *OriginRepository) DeleteOrigin(ctx context.Context, origin string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM origins WHERE origin = $1`, origin)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

// GetGitHubAccount looks up an allow-listed GitHub account by username.
// Matching is case insensitive; rows are stored lowercase. Returns nil when
// the username is not allow-listed.
func (r *OriginRepository) GetGitHubAccount(ctx context.Context, username string) (*models.GitHubAccount, error) {
	query := `
		SELECT id, username, created_at
		FROM github_accounts
		WHERE username = $1
	`

	account := &models.GitHubAccount{}
	err := r.db.GetContext(ctx, account, query, strings.ToLower(username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// CreateGitHubAccount adds a username to the admin allow-list, stored
// lowercase.
func (r *OriginRepository) CreateGitHubAccount(ctx context.Context, account *models.GitHubAccount) error {
	account.Username = strings.ToLower(account.Username)

	query := `
		INSERT INTO github_accounts (username)
		VALUES ($1)
		RETURNING id, created_at
	`

	return r.db.QueryRowxContext(ctx, query, account.Username).
		Scan(&account.ID, &account.CreatedAt)
}
