// Package services holds business operations that span multiple tables.
// The provisioner owns account creation: a new user row and their welcome
// backlog are written in one transaction so a half-provisioned account can
// never be observed.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/db/models"
	"github.com/taskhive/taskhive/internal/db/repositories"
)

// ErrEmailTaken signals that the requested email already has an account.
// Handlers map it to a 400 with "Email already registered".
var ErrEmailTaken = errors.New("email already registered")

// Every new account starts with the same three tasks.
var welcomeTasks = []struct {
	title    string
	priority string
}{
	{"Complete your profile", models.PriorityMedium},
	{"Add your first task", models.PriorityHigh},
	{"Explore the app", models.PriorityLow},
}

// Provisioner creates accounts together with their seed data
type Provisioner struct {
	db *sqlx.DB
}

// NewProvisioner creates a new Provisioner
func NewProvisioner(db *sqlx.DB) *Provisioner {
	return &Provisioner{db: db}
}

// Register creates an account with the given credentials and its welcome
// tasks in one transaction. The password is hashed before any row is
// written. A duplicate email returns ErrEmailTaken.
func (p *Provisioner) Register(ctx context.Context, name, email, password string) (*models.User, []*models.Task, error) {
	record, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return p.provision(ctx, name, email, record, false)
}

// ProvisionFromFederation creates an account for a federated identity. The
// account gets a generated password so the credential column is never
// empty; the user can only sign in through the identity provider until
// they reset it.
func (p *Provisioner) ProvisionFromFederation(ctx context.Context, name, email string) (*models.User, []*models.Task, error) {
	password, err := auth.GeneratePassword(0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate password: %w", err)
	}
	record, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return p.provision(ctx, name, email, record, true)
}

func (p *Provisioner) provision(ctx context.Context, name, email, passwordRecord string, federated bool) (*models.User, []*models.Task, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user := &models.User{
		Email:     email,
		Name:      name,
		Password:  passwordRecord,
		Federated: federated,
	}

	insertUser := `
		INSERT INTO users (email, name, password, federated)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowxContext(ctx, insertUser, user.Email, user.Name, user.Password, user.Federated).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	insertTasks := `
		INSERT INTO tasks (user_id, title, priority)
		VALUES ($1, $2, $3), ($1, $4, $5), ($1, $6, $7)
		RETURNING id, user_id, title, is_completed, priority, created_at
	`
	rows, err := tx.QueryxContext(ctx, insertTasks, user.ID,
		welcomeTasks[0].title, welcomeTasks[0].priority,
		welcomeTasks[1].title, welcomeTasks[1].priority,
		welcomeTasks[2].title, welcomeTasks[2].priority,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create welcome tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.Task, 0, len(welcomeTasks))
	for rows.Next() {
		task := &models.Task{}
		if err := rows.StructScan(task); err != nil {
			return nil, nil, fmt.Errorf("failed to read welcome tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read welcome tasks: %w", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit: %w", err)
	}

	return user, tasks, nil
}
