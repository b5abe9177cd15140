// task_repository.go implements TaskRepository, providing database queries
// for the per-user task lists with support for filtered, sorted, and
// paginated reads joined against the owning user.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskhive/taskhive/internal/db/models"
)

// TaskRepository handles task database operations
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new TaskRepository
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// TaskFilters contains filters for querying a user's tasks
type TaskFilters struct {
	TitleContains string // case-insensitive substring match on title
	IsCompleted   *bool
	Priority      string
	MinDate       *time.Time // created_at lower bound, inclusive
	MaxDate       *time.Time // created_at upper bound, inclusive
}

// taskSortColumns maps API sort keys onto table columns. Anything not in
// this map falls back to created_at.
var taskSortColumns = map[string]string{
	"createdAt":   "t.created_at",
	"title":       "t.title",
	"priority":    "t.priority",
	"isCompleted": "t.is_completed",
}

// buildFilterClause renders the filter set into SQL conditions starting at
// the given parameter index. The user scope condition is always first.
func buildFilterClause(userID int64, filters TaskFilters) (string, []interface{}) {
	clause := ` WHERE t.user_id = $1`
	args := []interface{}{userID}
	paramIndex := 2

	if filters.TitleContains != "" {
		clause += fmt.Sprintf(` AND t.title ILIKE $%d`, paramIndex)
		args = append(args, "%"+filters.TitleContains+"%")
		paramIndex++
	}

	if filters.IsCompleted != nil {
		clause += fmt.Sprintf(` AND t.is_completed = $%d`, paramIndex)
		args = append(args, *filters.IsCompleted)
		paramIndex++
	}

	if filters.Priority != "" {
		clause += fmt.Sprintf(` AND t.priority = $%d`, paramIndex)
		args = append(args, filters.Priority)
		paramIndex++
	}

	if filters.MinDate != nil {
		clause += fmt.Sprintf(` AND t.created_at >= $%d`, paramIndex)
		args = append(args, *filters.MinDate)
		paramIndex++
	}

	if filters.MaxDate != nil {
		clause += fmt.Sprintf(` AND t.created_at <= $%d`, paramIndex)
		args = append(args, *filters.MaxDate)
		paramIndex++
	}

	return clause, args
}

// List retrieves a page of the user's tasks joined with the owner's public
// fields, honoring the filter set and sort order.
func (r *TaskRepository) List(ctx context.Context, userID int64, filters TaskFilters, sortBy, direction string, limit, offset int) ([]*models.TaskWithOwner, error) {
	column, ok := taskSortColumns[sortBy]
	if !ok {
		column = "t.created_at"
	}
	dir := "ASC"
	if strings.EqualFold(direction, "desc") {
		dir = "DESC"
	}

	clause, args := buildFilterClause(userID, filters)

	query := `
		SELECT t.id, t.user_id, t.title, t.is_completed, t.priority, t.created_at,
		       u.name AS owner_name, u.email AS owner_email
		FROM tasks t
		JOIN users u ON u.id = t.user_id` + clause +
		fmt.Sprintf(` ORDER BY %s %s LIMIT $%d OFFSET $%d`, column, dir, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	tasks := make([]*models.TaskWithOwner, 0)
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountFiltered returns how many of the user's tasks match the filter set
func (r *TaskRepository) CountFiltered(ctx context.Context, userID int64, filters TaskFilters) (int, error) {
	clause, args := buildFilterClause(userID, filters)
	query := `SELECT COUNT(*) FROM tasks t` + clause

	var total int
	err := r.db.GetContext(ctx, &total, query, args...)
	return total, err
}

// CountByUser returns the total number of tasks the user owns, used to
// enforce the per-user cap.
func (r *TaskRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM tasks WHERE user_id = $1`, userID)
	return total, err
}

// Get retrieves a single task scoped to its owner, joined with the owner's
// public fields. Returns nil when the task does not exist or belongs to a
// different user.
func (r *TaskRepository) Get(ctx context.Context, userID, taskID int64) (*models.TaskWithOwner, error) {
	query := `
		SELECT t.id, t.user_id, t.title, t.is_completed, t.priority, t.created_at,
		       u.name AS owner_name, u.email AS owner_email
		FROM tasks t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1 AND t.user_id = $2
	`

	task := &models.TaskWithOwner{}
	err := r.db.GetContext(ctx, task, query, taskID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Create inserts a new task and fills in its generated ID and timestamp
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (user_id, title, is_completed, priority)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		task.UserID,
		task.Title,
		task.IsCompleted,
		task.Priority,
	).Scan(&task.ID, &task.CreatedAt)
}

// TaskPatch carries the fields a partial update may change. Nil fields are
// left untouched.
type TaskPatch struct {
	Title       *string
	IsCompleted *bool
	Priority    *string
}

// Update applies a partial update scoped to the owner and returns the
// updated row. Returns nil when the task does not exist for that user.
// An empty patch reads the task back unchanged.
func (r *TaskRepository) Update(ctx context.Context, userID, taskID int64, patch TaskPatch) (*models.Task, error) {
	sets := make([]string, 0, 3)
	args := []interface{}{taskID, userID}
	paramIndex := 3

	if patch.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", paramIndex))
		args = append(args, *patch.Title)
		paramIndex++
	}
	if patch.IsCompleted != nil {
		sets = append(sets, fmt.Sprintf("is_completed = $%d", paramIndex))
		args = append(args, *patch.IsCompleted)
		paramIndex++
	}
	if patch.Priority != nil {
		sets = append(sets, fmt.Sprintf("priority = $%d", paramIndex))
		args = append(args, *patch.Priority)
		paramIndex++
	}

	if len(sets) == 0 {
		got, err := r.Get(ctx, userID, taskID)
		if err != nil || got == nil {
			return nil, err
		}
		return &got.Task, nil
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, title, is_completed, priority, created_at`

	task := &models.Task{}
	err := r.db.GetContext(ctx, task, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes a task scoped to its owner and returns the deleted row.
// Returns nil when the task does not exist for that user.
func (r *TaskRepository) Delete(ctx context.Context, userID, taskID int64) (*models.Task, error) {
	query := `
		DELETE FROM tasks
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, title, is_completed, priority, created_at
	`

	task := &models.Task{}
	err := r.db.GetContext(ctx, task, query, taskID, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// BulkCreate inserts a batch of tasks in one statement and returns how many
// rows were written. The caller validates each task and checks the per-user
// cap beforehand.
func (r *TaskRepository) BulkCreate(ctx context.Context, tasks []*models.Task) (int64, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(tasks))
	args := make([]interface{}, 0, len(tasks)*4)
	paramIndex := 1
	for _, task := range tasks {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", paramIndex, paramIndex+1, paramIndex+2, paramIndex+3))
		args = append(args, task.UserID, task.Title, task.IsCompleted, task.Priority)
		paramIndex += 4
	}

	query := `INSERT INTO tasks (user_id, title, is_completed, priority) VALUES ` + strings.Join(values, ", ")

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
