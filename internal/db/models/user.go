// Package models - user.go defines the User model for task service accounts
// with email, display name, and the scrypt credential record.
package models

import "time"

// User represents an account in the system. Password holds the scrypt
// credential record (hex salt and hex derived key joined by a colon), never
// a plaintext password.
type User struct {
	ID          int64      `json:"id" db:"id"`
	Email       string     `json:"email" db:"email"`
	Name        string     `json:"name" db:"name"`
	Password    string     `json:"-" db:"password"`
	Federated   bool       `json:"federated" db:"federated"`
	LastLogonAt *time.Time `json:"last_logon_at,omitempty" db:"last_logon_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}
