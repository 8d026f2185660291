// Package audit records authorization decisions for later review.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/store"
	"github.com/org/credbroker/pkg/models"
)

// Logger writes structured decision entries to the active database.
type Logger struct {
	databases *store.Manager
}

// NewLogger creates an audit Logger over the open databases.
func NewLogger(databases *store.Manager) *Logger {
	return &Logger{databases: databases}
}

// LogDecision records one authorization decision to the audit log.
// Credential values must NEVER be passed here, only request metadata.
// Audit failures do not break the request flow.
func (l *Logger) LogDecision(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = time.Now().UTC()
	decisionsTotal.WithLabelValues(entry.Action, entry.Decision).Inc()

	db := l.databases.Active()
	if db == nil {
		log.Debug().Str("action", entry.Action).Msg("no active database, audit entry dropped")
		return
	}
	if err := db.WriteAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("writing audit entry")
	}
}

// Query retrieves paginated audit entries from the active database.
func (l *Logger) Query(ctx context.Context, filter store.AuditFilter) ([]*models.AuditEntry, error) {
	db := l.databases.Active()
	if db == nil {
		return nil, store.ErrNotFound
	}
	return db.QueryAuditLog(ctx, filter)
}
