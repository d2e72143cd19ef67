package mongostore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shopledger/shopledger/internal/shared"
)

type auditDoc struct {
	ID         string         `bson:"_id"`
	ActorID    string         `bson:"actor_id,omitempty"`
	Action     string         `bson:"action"`
	Entity     string         `bson:"entity"`
	EntityID   string         `bson:"entity_id"`
	Meta       map[string]any `bson:"meta,omitempty"`
	OccurredAt time.Time      `bson:"occurred_at"`
}

// AuditLogger appends audit entries to the audit_logs collection.
type AuditLogger struct {
	store *Store
}

// Audit returns the audit logger.
func (s *Store) Audit() *AuditLogger {
	return &AuditLogger{store: s}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	at := log.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := l.store.collection(colAudit).InsertOne(ctx, auditDoc{
		ID:         uuid.NewString(),
		ActorID:    log.ActorID,
		Action:     log.Action,
		Entity:     log.Entity,
		EntityID:   log.EntityID,
		Meta:       log.Meta,
		OccurredAt: at,
	})
	return classify(err)
}
