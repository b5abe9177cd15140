// Package audit records security-relevant events. Writes happen on a
// background goroutine so a slow or failing audit table never adds latency
// to the request path; loss of an audit row is logged, not surfaced.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskhive/taskhive/internal/db/models"
	"github.com/taskhive/taskhive/internal/safego"
)

const writeTimeout = 5 * time.Second

// EventWriter persists audit events. Satisfied by repositories.AuditRepository.
type EventWriter interface {
	CreateEvent(ctx context.Context, event *models.AuditEvent) error
}

// Recorder writes audit events asynchronously
type Recorder struct {
	writer EventWriter
}

// NewRecorder creates a new Recorder. A nil writer produces a recorder
// that drops every event, which keeps tests and dev setups simple.
func NewRecorder(writer EventWriter) *Recorder {
	return &Recorder{writer: writer}
}

// Record persists the event in the background and returns immediately.
func (r *Recorder) Record(action, actor, subject string, detail map[string]interface{}) {
	if r == nil || r.writer == nil {
		return
	}

	event := &models.AuditEvent{
		Action:  action,
		Actor:   actor,
		Subject: subject,
		Detail:  detail,
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.writer.CreateEvent(ctx, event); err != nil {
			slog.Error("failed to write audit event", "action", action, "error", err)
		}
	})
}
