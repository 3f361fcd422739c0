package store

import (
	"context"
	"encoding/json"
	"time"
)

type AuditStore struct {
	db DB
}

type AuditEntry struct {
	ID         string          `db:"id" json:"id"`
	ActorID    *string         `db:"actor_id" json:"actor_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	Data       json.RawMessage `db:"data" json:"data"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

// Log records an action inside the caller's unit of work. An empty actorID is
// stored as NULL for system actors such as the reconciler.
func (s *AuditStore) Log(ctx context.Context, tx Execer, actorID, action, entityType, entityID string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var actor *string
	if actorID != "" {
		actor = &actorID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, data)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
	`, actor, action, entityType, entityID, string(payload))
	return err
}

func (s *AuditStore) List(ctx context.Context, entityType string, page Page) ([]AuditEntry, error) {
	var b filterBuilder
	if entityType != "" {
		b.add("entity_type = ?", entityType)
	}
	query := `SELECT id, actor_id, action, entity_type, entity_id, data, created_at FROM audit_logs` +
		b.where() + ` ORDER BY created_at DESC` + b.page(page)
	rows := []AuditEntry{}
	if err := s.db.SelectContext(ctx, &rows, query, b.args...); err != nil {
		return nil, err
	}
	return rows, nil
}
