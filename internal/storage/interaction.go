package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/pkg/models"
)

// InteractionRepository stores votes, stances and comments
type InteractionRepository interface {
	// UpsertVote returns the previous vote type, or "" for a new vote
	UpsertVote(ctx context.Context, v *models.Vote) (models.VoteType, error)
	GetVote(ctx context.Context, userID, theoryID uuid.UUID) (*models.Vote, error)
	// UpsertStance returns the previous stance type, or "" for a new stance
	UpsertStance(ctx context.Context, s *models.Stance) (models.StanceType, error)
	GetStance(ctx context.Context, userID, theoryID uuid.UUID) (*models.Stance, error)
	CreateComment(ctx context.Context, c *models.Comment) error
	GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error)
	ListComments(ctx context.Context, theoryID uuid.UUID, limit, offset int) ([]*models.Comment, error)
	SoftDeleteComment(ctx context.Context, id uuid.UUID) (bool, error)
	CountInteractions(ctx context.Context) (comments int, votes int, err error)
}

// PostgresInteractionRepository implements InteractionRepository using PostgreSQL
type PostgresInteractionRepository struct {
	db *sql.DB
}

// NewPostgresInteractionRepository creates a new PostgresInteractionRepository
func NewPostgresInteractionRepository(db *sql.DB) *PostgresInteractionRepository {
	return &PostgresInteractionRepository{db: db}
}

// UpsertVote records or changes a user's vote on a theory. The CTE reads
// the row as it was before the statement.
func (r *PostgresInteractionRepository) UpsertVote(ctx context.Context, v *models.Vote) (models.VoteType, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	query := `
		WITH prev AS (
			SELECT vote_type FROM votes WHERE user_id = $2 AND theory_id = $3
		)
		INSERT INTO votes (id, user_id, theory_id, vote_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, theory_id) DO UPDATE SET vote_type = EXCLUDED.vote_type
		RETURNING (SELECT vote_type FROM prev)
	`

	var prev sql.NullString
	err := r.db.QueryRowContext(ctx, query, v.ID, v.UserID, v.TheoryID, string(v.VoteType), v.CreatedAt).Scan(&prev)
	if err != nil {
		return "", err
	}
	return models.VoteType(prev.String), nil
}

// GetVote retrieves a user's vote on a theory
func (r *PostgresInteractionRepository) GetVote(ctx context.Context, userID, theoryID uuid.UUID) (*models.Vote, error) {
	query := `
		SELECT id, user_id, theory_id, vote_type, created_at
		FROM votes
		WHERE user_id = $1 AND theory_id = $2
	`

	v := &models.Vote{}
	err := r.db.QueryRowContext(ctx, query, userID, theoryID).Scan(
		&v.ID,
		&v.UserID,
		&v.TheoryID,
		&v.VoteType,
		&v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UpsertStance records or changes a user's stance on a theory
func (r *PostgresInteractionRepository) UpsertStance(ctx context.Context, s *models.Stance) (models.StanceType, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	query := `
		WITH prev AS (
			SELECT stance_type FROM stances WHERE user_id = $2 AND theory_id = $3
		)
		INSERT INTO stances (id, user_id, theory_id, stance_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, theory_id) DO UPDATE SET stance_type = EXCLUDED.stance_type
		RETURNING (SELECT stance_type FROM prev)
	`

	var prev sql.NullString
	err := r.db.QueryRowContext(ctx, query, s.ID, s.UserID, s.TheoryID, string(s.StanceType), s.CreatedAt).Scan(&prev)
	if err != nil {
		return "", err
	}
	return models.StanceType(prev.String), nil
}

// GetStance retrieves a user's stance on a theory
func (r *PostgresInteractionRepository) GetStance(ctx context.Context, userID, theoryID uuid.UUID) (*models.Stance, error) {
	query := `
		SELECT id, user_id, theory_id, stance_type, created_at
		FROM stances
		WHERE user_id = $1 AND theory_id = $2
	`

	st := &models.Stance{}
	err := r.db.QueryRowContext(ctx, query, userID, theoryID).Scan(
		&st.ID,
		&st.UserID,
		&st.TheoryID,
		&st.StanceType,
		&st.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CreateComment inserts a new comment
func (r *PostgresInteractionRepository) CreateComment(ctx context.Context, c *models.Comment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO comments (id, theory_id, user_id, body, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`

	_, err := r.db.ExecContext(ctx, query, c.ID, c.TheoryID, c.UserID, c.Body, c.CreatedAt)
	return err
}

// GetComment retrieves a comment by ID, deleted or not
func (r *PostgresInteractionRepository) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	query := `
		SELECT id, theory_id, user_id, body, is_deleted, created_at
		FROM comments
		WHERE id = $1
	`

	c := &models.Comment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.TheoryID,
		&c.UserID,
		&c.Body,
		&c.IsDeleted,
		&c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments retrieves the visible comments on a theory, oldest first
func (r *PostgresInteractionRepository) ListComments(ctx context.Context, theoryID uuid.UUID, limit, offset int) ([]*models.Comment, error) {
	query := `
		SELECT c.id, c.theory_id, c.user_id, c.body, c.is_deleted, c.created_at, u.username, u.level
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.theory_id = $1 AND NOT c.is_deleted
		ORDER BY c.created_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, theoryID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		c := &models.Comment{Author: &models.Author{}}
		err := rows.Scan(
			&c.ID,
			&c.TheoryID,
			&c.UserID,
			&c.Body,
			&c.IsDeleted,
			&c.CreatedAt,
			&c.Author.Username,
			&c.Author.Level,
		)
		if err != nil {
			return nil, err
		}
		c.Author.ID = c.UserID
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}

// SoftDeleteComment hides a comment without removing it
func (r *PostgresInteractionRepository) SoftDeleteComment(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE comments SET is_deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// CountInteractions returns total comment and vote counts
func (r *PostgresInteractionRepository) CountInteractions(ctx context.Context) (int, int, error) {
	var comments, votes int
	err := r.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM comments), (SELECT COUNT(*) FROM votes)`).Scan(&comments, &votes)
	return comments, votes, err
}
