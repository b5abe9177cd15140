// Package models - origin.go defines the models backing the origin-admin
// subsystem: the CORS allow-list entries and the GitHub accounts permitted
// to manage them.
package models

import "time"

// Origin is a web origin allowed to call the API from a browser.
// The value is a full origin (scheme, host, optional port), HTTPS only.
type Origin struct {
	ID        int64     `json:"id" db:"id"`
	Origin    string    `json:"origin" db:"origin"`
	AddedBy   string    `json:"added_by" db:"added_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// GitHubAccount is a GitHub username allowed to register origins.
// Usernames are stored lowercase.
type GitHubAccount struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
