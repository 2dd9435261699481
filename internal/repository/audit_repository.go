package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"realsync/api/internal/models"
)

type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, event models.AuditEvent) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}

	const query = `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7)
	`
	_, err = r.db.Exec(ctx, query,
		event.UserID,
		string(event.Action),
		event.EntityType,
		event.EntityID,
		event.IPAddress,
		event.UserAgent,
		rawMetadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// PurgeBefore deletes audit rows created before cutoff and returns how many went.
func (r *AuditRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM audit_logs WHERE created_at < $1`
	cmd, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return cmd.RowsAffected(), nil
}
