// Package models - task.go defines the Task model and its priority levels.
package models

import "time"

// Task priorities, lowest to highest urgency.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task represents a single to-do item owned by a user.
type Task struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"-" db:"user_id"`
	Title       string    `json:"title" db:"title"`
	IsCompleted bool      `json:"isCompleted" db:"is_completed"`
	Priority    string    `json:"priority" db:"priority"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// TaskWithOwner is a task joined with its owning user's public fields.
// The owner columns are flat for sqlx scanning; response shaping nests
// them under "user".
type TaskWithOwner struct {
	Task
	OwnerName  string `json:"-" db:"owner_name"`
	OwnerEmail string `json:"-" db:"owner_email"`
}
