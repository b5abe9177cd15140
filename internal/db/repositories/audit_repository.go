// audit_repository.go implements AuditRepository, providing database queries
// for writing and retrieving security event records.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskhive/taskhive/internal/db/models"
)

// AuditRepository handles audit event database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit events
type AuditFilters struct {
	Action    *string
	Actor     *string
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateEvent writes a new audit event
func (r *AuditRepository) CreateEvent(ctx context.Context, event *models.AuditEvent) error {
	detailJSON := []byte("{}")
	if event.Detail != nil {
		var err error
		detailJSON, err = json.Marshal(event.Detail)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_events (action, actor, subject, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		event.Action,
		event.Actor,
		event.Subject,
		detailJSON,
	).Scan(&event.ID, &event.CreatedAt)
}

// ListEvents retrieves audit events with optional filters and pagination,
// newest first.
func (r *AuditRepository) ListEvents(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_events WHERE 1=1`
	query := `
		SELECT id, action, actor, subject, detail, created_at
		FROM audit_events
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.Action != nil {
		countQuery += fmt.Sprintf(` AND action = $%d`, paramIndex)
		query += fmt.Sprintf(` AND action = $%d`, paramIndex)
		args = append(args, *filters.Action)
		paramIndex++
	}

	if filters.Actor != nil {
		countQuery += fmt.Sprintf(` AND actor = $%d`, paramIndex)
		query += fmt.Sprintf(` AND actor = $%d`, paramIndex)
		args = append(args, *filters.Actor)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	if err := r.db.QueryRowxContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		event := &models.AuditEvent{}
		var detailJSON []byte

		err := rows.Scan(
			&event.ID,
			&event.Action,
			&event.Actor,
			&event.Subject,
			&detailJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &event.Detail); err != nil {
				return nil, 0, err
			}
		}

		events = append(events, event)
	}

	return events, total, rows.Err()
}
