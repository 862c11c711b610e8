package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/pkg/models"
)

// TheoryRepository defines the interface for theory storage operations
type TheoryRepository interface {
	CreateTheory(ctx context.Context, t *moderation.Theory) error
	GetTheory(ctx context.Context, id uuid.UUID) (*moderation.Theory, error)
	UpdateModerationStatus(ctx context.Context, id uuid.UUID, from, to moderation.PublicationState) (bool, error)
	ListByStatus(ctx context.Context, status moderation.PublicationState, limit, offset int) ([]*moderation.Theory, error)
	ListByAuthor(ctx context.Context, userID uuid.UUID, status moderation.PublicationState, order models.TheorySort, limit, offset int) ([]*moderation.Theory, error)
	SearchTheories(ctx context.Context, query string, limit int) ([]*moderation.Theory, error)
	DeleteTheory(ctx context.Context, id uuid.UUID) (bool, error)
	SetMature(ctx context.Context, id uuid.UUID, mature bool) (bool, error)
	TheoryStats(ctx context.Context, id uuid.UUID) (*models.TheoryStats, error)
	ComplexityScores(ctx context.Context) ([]float64, error)
	CountTheories(ctx context.Context, now time.Time) (*models.TheoryCounts, error)
}

// PostgresTheoryRepository implements TheoryRepository using PostgreSQL
type PostgresTheoryRepository struct {
	db *sql.DB
}

// NewPostgresTheoryRepository creates a new PostgresTheoryRepository
func NewPostgresTheoryRepository(db *sql.DB) *PostgresTheoryRepository {
	return &PostgresTheoryRepository{db: db}
}

const theoryColumns = `id, user_id, title, body, refs, moderation_status, complexity_score, is_mature, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTheory(row rowScanner) (*moderation.Theory, error) {
	t := &moderation.Theory{}
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Body,
		&t.Refs,
		&t.ModerationStatus,
		&t.ComplexityScore,
		&t.IsMature,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectTheories(rows *sql.Rows) ([]*moderation.Theory, error) {
	defer rows.Close()

	var theories []*moderation.Theory
	for rows.Next() {
		t, err := scanTheory(rows)
		if err != nil {
			return nil, err
		}
		theories = append(theories, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return theories, nil
}

// CreateTheory inserts a new theory into the database
func (r *PostgresTheoryRepository) CreateTheory(ctx context.Context, t *moderation.Theory) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	query := `
		INSERT INTO theories (id, user_id, title, body, refs, moderation_status, complexity_score, is_mature, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.UserID,
		t.Title,
		t.Body,
		t.Refs,
		string(t.ModerationStatus),
		t.ComplexityScore,
		t.IsMature,
		t.CreatedAt,
		t.UpdatedAt,
	)

	return err
}

// GetTheory retrieves a theory by its ID
func (r *PostgresTheoryRepository) GetTheory(ctx context.Context, id uuid.UUID) (*moderation.Theory, error) {
	query := `SELECT ` + theoryColumns + ` FROM theories WHERE id = $1`

	t, err := scanTheory(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return t, nil
}

// UpdateModerationStatus moves a theory from one state to another. It is
// a no-op, returning false, when the theory is no longer in state from.
func (r *PostgresTheoryRepository) UpdateModerationStatus(ctx context.Context, id uuid.UUID, from, to moderation.PublicationState) (bool, error) {
	query := `
		UPDATE theories
		SET moderation_status = $3, updated_at = $4
		WHERE id = $1 AND moderation_status = $2
	`

	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), time.Now())
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// ListByStatus retrieves theories in a state, newest first
func (r *PostgresTheoryRepository) ListByStatus(ctx context.Context, status moderation.PublicationState, limit, offset int) ([]*moderation.Theory, error) {
	query := `
		SELECT ` + theoryColumns + `
		FROM theories
		WHERE moderation_status = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTheories(rows)
}

const (
	upvoteCount = `(SELECT COUNT(*) FROM votes v WHERE v.theory_id = theories.id AND v.vote_type = 'upvote')`

	interactionCount = `((SELECT COUNT(*) FROM votes v WHERE v.theory_id = theories.id)
		+ (SELECT COUNT(*) FROM stances s WHERE s.theory_id = theories.id)
		+ (SELECT COUNT(*) FROM comments c WHERE c.theory_id = theories.id AND NOT c.is_deleted))`
)

// authorOrder maps each sort to a fixed ORDER BY clause; ties fall back to
// newest first
var authorOrder = map[models.TheorySort]string{
	models.SortRecent:      `created_at DESC`,
	models.SortMostUpvoted: upvoteCount + ` DESC, created_at DESC`,
	models.SortPopular:     interactionCount + ` DESC, created_at DESC`,
}

// ListByAuthor retrieves an author's theories in a state
func (r *PostgresTheoryRepository) ListByAuthor(ctx context.Context, userID uuid.UUID, status moderation.PublicationState, order models.TheorySort, limit, offset int) ([]*moderation.Theory, error) {
	orderBy, ok := authorOrder[order]
	if !ok {
		orderBy = authorOrder[models.SortRecent]
	}
	query := `
		SELECT ` + theoryColumns + `
		FROM theories
		WHERE user_id = $1 AND moderation_status = $2
		ORDER BY ` + orderBy + `
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.QueryContext(ctx, query, userID, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectTheories(rows)
}

// SearchTheories matches published theories by title or body
func (r *PostgresTheoryRepository) SearchTheories(ctx context.Context, q string, limit int) ([]*moderation.Theory, error) {
	query := `
		SELECT ` + theoryColumns + `
		FROM theories
		WHERE moderation_status = 'safe' AND (title ILIKE $1 OR body ILIKE $1)
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, "%"+escapeLike(q)+"%", limit)
	if err != nil {
		return nil, err
	}
	return collectTheories(rows)
}

// DeleteTheory removes a theory; votes, stances and comments cascade
func (r *PostgresTheoryRepository) DeleteTheory(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM theories WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// SetMature sets or clears the mature-content flag
func (r *PostgresTheoryRepository) SetMature(ctx context.Context, id uuid.UUID, mature bool) (bool, error) {
	query := `UPDATE theories SET is_mature = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, mature, time.Now())
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// TheoryStats counts interactions on a theory
func (r *PostgresTheoryRepository) TheoryStats(ctx context.Context, id uuid.UUID) (*models.TheoryStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM votes WHERE theory_id = $1 AND vote_type = 'upvote'),
			(SELECT COUNT(*) FROM votes WHERE theory_id = $1 AND vote_type = 'downvote'),
			(SELECT COUNT(*) FROM stances WHERE theory_id = $1 AND stance_type = 'for'),
			(SELECT COUNT(*) FROM stances WHERE theory_id = $1 AND stance_type = 'against'),
			(SELECT COUNT(*) FROM comments WHERE theory_id = $1 AND NOT is_deleted)
	`

	stats := &models.TheoryStats{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&stats.Upvotes,
		&stats.Downvotes,
		&stats.ForCount,
		&stats.AgainstCount,
		&stats.CommentCount,
	)
	if err != nil {
		return nil, err
	}
	stats.ComputeInteractionScore()
	return stats, nil
}

// ComplexityScores returns the complexity score of every stored theory
func (r *PostgresTheoryRepository) ComplexityScores(ctx context.Context) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT complexity_score FROM theories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		scores = append(scores, float64(s))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}

// CountTheories aggregates theory counts for the admin dashboard
func (r *PostgresTheoryRepository) CountTheories(ctx context.Context, now time.Time) (*models.TheoryCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE moderation_status = 'safe'),
			COUNT(*) FILTER (WHERE moderation_status = 'shadowbanned'),
			COUNT(*) FILTER (WHERE is_mature),
			COUNT(*) FILTER (WHERE created_at > $1),
			COUNT(*) FILTER (WHERE created_at > $2),
			(SELECT COUNT(*) FROM moderation_logs WHERE action_taken = 'blocked')
		FROM theories
	`

	c := &models.TheoryCounts{}
	err := r.db.QueryRowContext(ctx, query, now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)).Scan(
		&c.Total,
		&c.Published,
		&c.Shadowbanned,
		&c.Mature,
		&c.New24h,
		&c.New7d,
		&c.Blocked,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
