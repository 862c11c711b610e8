package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/pkg/models"
)

// UserRepository defines the interface for user storage operations
type UserRepository interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByExternalUID(ctx context.Context, uid string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	AddReputation(ctx context.Context, id uuid.UUID, delta int, levelFor func(int) int) (int, int, error)
	UpdateUserModeration(ctx context.Context, u *models.User) (bool, error)
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
	ListUsers(ctx context.Context, filter models.UserFilter, search string, limit, offset int, now time.Time) ([]*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error)
	GetUserProfile(ctx context.Context, username string) (*models.UserProfile, error)
	// RecentActivity merges a user's latest published theories and stances
	// on published theories, newest first
	RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Activity, error)
	CountUsers(ctx context.Context, now time.Time) (*models.UserCounts, error)
}

// PostgresUserRepository implements UserRepository using PostgreSQL
type PostgresUserRepository struct {
	db *sql.DB
}

// NewPostgresUserRepository creates a new PostgresUserRepository
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `id, external_uid, username, role, reputation_score, level, banned_status, banned_until,
	shadowbanned, suspended_until, post_restricted_until, created_at, last_active_at`

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(
		&u.ID,
		&u.ExternalUID,
		&u.Username,
		&u.Role,
		&u.ReputationScore,
		&u.Level,
		&u.BannedStatus,
		&u.BannedUntil,
		&u.Shadowbanned,
		&u.SuspendedUntil,
		&u.PostRestrictedUntil,
		&u.CreatedAt,
		&u.LastActiveAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func collectUsers(rows *sql.Rows) ([]*models.User, error) {
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser inserts a new user. New users start at zero reputation, level 1.
func (r *PostgresUserRepository) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Level == 0 {
		u.Level = 1
	}

	query := `
		INSERT INTO users (id, external_uid, username, role, reputation_score, level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.ExternalUID,
		u.Username,
		u.Role,
		u.ReputationScore,
		u.Level,
		u.CreatedAt,
	)
	switch {
	case uniqueViolation(err, "users_username_key"):
		return ErrUsernameTaken
	case uniqueViolation(err, "users_external_uid_key"):
		return ErrAlreadyRegistered
	case err != nil:
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepository) getUserBy(ctx context.Context, column string, value any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by %s: %w", column, err)
	}
	return u, nil
}

// GetUserByID retrieves a user by their ID
func (r *PostgresUserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getUserBy(ctx, "id", id)
}

// GetUserByExternalUID retrieves a user by their identity provider uid
func (r *PostgresUserRepository) GetUserByExternalUID(ctx context.Context, uid string) (*models.User, error) {
	return r.getUserBy(ctx, "external_uid", uid)
}

// GetUserByUsername retrieves a user by username
func (r *PostgresUserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getUserBy(ctx, "username", username)
}

// AddReputation applies delta and the derived level in one transaction.
// The row lock serializes concurrent deltas on the same user.
func (r *PostgresUserRepository) AddReputation(ctx context.Context, id uuid.UUID, delta int, levelFor func(int) int) (int, int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT reputation_score FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return 0, 0, reputation.ErrUserNotFound
	}
	if err != nil {
		return 0, 0, err
	}

	score := current + delta
	level := levelFor(score)
	if _, err := tx.ExecContext(ctx, `UPDATE users SET reputation_score = $2, level = $3 WHERE id = $1`, id, score, level); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return score, level, nil
}

// UpdateUserModeration writes the ban, shadowban, suspension and posting
// restriction fields of u
func (r *PostgresUserRepository) UpdateUserModeration(ctx context.Context, u *models.User) (bool, error) {
	query := `
		UPDATE users
		SET banned_status = $2, banned_until = $3, shadowbanned = $4, suspended_until = $5, post_restricted_until = $6
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query,
		u.ID,
		u.BannedStatus,
		u.BannedUntil,
		u.Shadowbanned,
		u.SuspendedUntil,
		u.PostRestrictedUntil,
	)
	if err != nil {
		return false, err
	}
	return rowsAffected(res)
}

// TouchLastActive records user activity
func (r *PostgresUserRepository) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_active_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListUsers lists users for the admin console, newest first
func (r *PostgresUserRepository) ListUsers(ctx context.Context, filter models.UserFilter, search string, limit, offset int, now time.Time) ([]*models.User, error) {
	var conds []string
	args := []any{limit, offset}

	switch filter {
	case models.FilterBanned:
		conds = append(conds, "banned_status")
	case models.FilterShadowbanned:
		conds = append(conds, "shadowbanned")
	case models.FilterSuspended:
		args = append(args, now)
		conds = append(conds, fmt.Sprintf("suspended_until > $%d", len(args)))
	case models.FilterAdmins:
		conds = append(conds, "role = 'admin'")
	}
	if search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		conds = append(conds, fmt.Sprintf("username ILIKE $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	query := `SELECT ` + userColumns + ` FROM users ` + where + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// SearchUsers matches non-banned users by username
func (r *PostgresUserRepository) SearchUsers(ctx context.Context, q string, limit int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE username ILIKE $1 AND NOT banned_status
		ORDER BY reputation_score DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, "%"+escapeLike(q)+"%", limit)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// GetUserProfile builds the public profile of a user
func (r *PostgresUserRepository) GetUserProfile(ctx context.Context, username string) (*models.UserProfile, error) {
	query := `
		SELECT u.id, u.username, u.level, u.reputation_score, u.created_at,
			(SELECT COUNT(*) FROM theories t WHERE t.user_id = u.id AND t.moderation_status = 'safe'),
			(SELECT COUNT(*) FROM votes v JOIN theories t ON t.id = v.theory_id
				WHERE t.user_id = u.id AND v.vote_type = 'upvote'),
			(SELECT COUNT(*) FROM stances s WHERE s.user_id = u.id)
		FROM users u
		WHERE u.username = $1
	`

	p := &models.UserProfile{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&p.ID,
		&p.Username,
		&p.Level,
		&p.ReputationScore,
		&p.CreatedAt,
		&p.TheoryCount,
		&p.UpvotesReceived,
		&p.StancesTaken,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RecentActivity returns the newest theories and stances of a user. Each
// branch is limited before the merge so neither scans the full history.
func (r *PostgresUserRepository) RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Activity, error) {
	query := `
		SELECT kind, theory_id, title, stance_type, created_at FROM (
			(SELECT 'theory' AS kind, t.id AS theory_id, t.title, '' AS stance_type, t.created_at
			FROM theories t
			WHERE t.user_id = $1 AND t.moderation_status = 'safe'
			ORDER BY t.created_at DESC
			LIMIT $2)
			UNION ALL
			(SELECT 'stance', s.theory_id, t.title, s.stance_type, s.created_at
			FROM stances s
			JOIN theories t ON t.id = s.theory_id
			WHERE s.user_id = $1 AND t.moderation_status = 'safe'
			ORDER BY s.created_at DESC
			LIMIT $2)
		) activity
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Activity
	for rows.Next() {
		a := &models.Activity{}
		if err := rows.Scan(&a.Type, &a.TheoryID, &a.Detail, &a.StanceType, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountUsers aggregates user counts for the admin dashboard
func (r *PostgresUserRepository) CountUsers(ctx context.Context, now time.Time) (*models.UserCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT banned_status),
			COUNT(*) FILTER (WHERE banned_status),
			COUNT(*) FILTER (WHERE shadowbanned),
			COUNT(*) FILTER (WHERE last_active_at > $1),
			COUNT(*) FILTER (WHERE last_active_at > $2),
			COUNT(*) FILTER (WHERE created_at > $1),
			COUNT(*) FILTER (WHERE created_at > $2)
		FROM users
	`

	c := &models.UserCounts{}
	err := r.db.QueryRowContext(ctx, query, now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)).Scan(
		&c.Total,
		&c.Active,
		&c.Banned,
		&c.Shadowbanned,
		&c.Active24h,
		&c.Active7d,
		&c.New24h,
		&c.New7d,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
