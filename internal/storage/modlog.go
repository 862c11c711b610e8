package storage

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/moderation"
)

// ModerationLogRepository is the append-only classifier trail. It has no
// update or delete operations.
type ModerationLogRepository interface {
	AppendLog(ctx context.Context, e *moderation.LogEntry) error
	ListLogs(ctx context.Context, limit, offset int) ([]*moderation.LogEntry, error)
}

// PostgresModerationLogRepository implements ModerationLogRepository using PostgreSQL
type PostgresModerationLogRepository struct {
	db *sql.DB
}

// NewPostgresModerationLogRepository creates a new PostgresModerationLogRepository
func NewPostgresModerationLogRepository(db *sql.DB) *PostgresModerationLogRepository {
	return &PostgresModerationLogRepository{db: db}
}

// AppendLog inserts a moderation log entry
func (r *PostgresModerationLogRepository) AppendLog(ctx context.Context, e *moderation.LogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	query := `
		INSERT INTO moderation_logs (id, theory_id, classification, confidence, action_taken, reasoning, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.TheoryID,
		string(e.Classification),
		e.Confidence,
		string(e.Action),
		e.Reasoning,
		e.Actor,
		e.CreatedAt,
	)

	return err
}

// ListLogs retrieves log entries, newest first
func (r *PostgresModerationLogRepository) ListLogs(ctx context.Context, limit, offset int) ([]*moderation.LogEntry, error) {
	query := `
		SELECT id, theory_id, classification, confidence, action_taken, reasoning, actor, created_at
		FROM moderation_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*moderation.LogEntry
	for rows.Next() {
		e := &moderation.LogEntry{}
		err := rows.Scan(
			&e.ID,
			&e.TheoryID,
			&e.Classification,
			&e.Confidence,
			&e.Action,
			&e.Reasoning,
			&e.Actor,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
