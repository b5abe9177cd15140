// Package models - audit_event.go defines the AuditEvent model for recording
// security-relevant events such as logons, registrations, and origin changes.
package models

import "time"

// AuditEvent represents a single recorded security event.
type AuditEvent struct {
	ID        int64                  `json:"id" db:"id"`
	Action    string                 `json:"action" db:"action"` // "user.logon", "user.register", "origin.create"
	Actor     string                 `json:"actor" db:"actor"`   // email, GitHub username, or "system"
	Subject   string                 `json:"subject" db:"subject"`
	Detail    map[string]interface{} `json:"detail"` // JSONB: additional context
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}
