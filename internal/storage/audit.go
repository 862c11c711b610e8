package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/pkg/models"
)

// AuditLogRepository is the append-only trail of admin actions
type AuditLogRepository interface {
	RecordAction(ctx context.Context, a *models.AuditAction) error
	ListActions(ctx context.Context, limit, offset int) ([]*models.AuditAction, error)
	ListActionsForTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditAction, error)
}

// PostgresAuditLogRepository implements AuditLogRepository using PostgreSQL
type PostgresAuditLogRepository struct {
	db *sql.DB
}

// NewPostgresAuditLogRepository creates a new PostgresAuditLogRepository
func NewPostgresAuditLogRepository(db *sql.DB) *PostgresAuditLogRepository {
	return &PostgresAuditLogRepository{db: db}
}

// RecordAction inserts an audit entry
func (r *PostgresAuditLogRepository) RecordAction(ctx context.Context, a *models.AuditAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_logs (id, admin_id, action, target_type, target_id, reason, duration_hours, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.AdminID,
		a.ActionType,
		a.TargetType,
		a.TargetID,
		a.Reason,
		a.DurationHours,
		a.ExpiresAt,
		a.CreatedAt,
	)

	return err
}

const auditSelect = `
	SELECT a.id, a.admin_id, COALESCE(u.username, ''), a.action, a.target_type, a.target_id,
		a.reason, a.duration_hours, a.expires_at, a.created_at
	FROM audit_logs a
	LEFT JOIN users u ON u.id = a.admin_id
`

func (r *PostgresAuditLogRepository) queryActions(ctx context.Context, query string, args ...any) ([]*models.AuditAction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*models.AuditAction
	for rows.Next() {
		a := &models.AuditAction{}
		err := rows.Scan(
			&a.ID,
			&a.AdminID,
			&a.AdminUsername,
			&a.ActionType,
			&a.TargetType,
			&a.TargetID,
			&a.Reason,
			&a.DurationHours,
			&a.ExpiresAt,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return actions, nil
}

// ListActions retrieves audit entries, newest first
func (r *PostgresAuditLogRepository) ListActions(ctx context.Context, limit, offset int) ([]*models.AuditAction, error) {
	return r.queryActions(ctx, auditSelect+` ORDER BY a.created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

// ListActionsForTarget retrieves the latest entries targeting one object
func (r *PostgresAuditLogRepository) ListActionsForTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditAction, error) {
	return r.queryActions(ctx, auditSelect+` WHERE a.target_id = $1 ORDER BY a.created_at DESC LIMIT $2`, targetID, limit)
}
