package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ErrUsernameTaken is returned when creating a user with a duplicate username
var ErrUsernameTaken = errors.New("username already taken")

// ErrAlreadyRegistered is returned when the external identity already has a user
var ErrAlreadyRegistered = errors.New("user already registered")

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates the schema if it does not exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	external_uid TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL DEFAULT 'user',
	reputation_score INTEGER NOT NULL DEFAULT 0,
	level INTEGER NOT NULL DEFAULT 1,
	banned_status BOOLEAN NOT NULL DEFAULT FALSE,
	banned_until TIMESTAMPTZ,
	shadowbanned BOOLEAN NOT NULL DEFAULT FALSE,
	suspended_until TIMESTAMPTZ,
	post_restricted_until TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_active_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS theories (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	refs TEXT,
	moderation_status TEXT NOT NULL CHECK (moderation_status IN ('safe', 'shadowbanned', 'unsafe')),
	complexity_score INTEGER NOT NULL DEFAULT 0,
	is_mature BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS theories_status_created_idx ON theories (moderation_status, created_at DESC);
CREATE INDEX IF NOT EXISTS theories_user_idx ON theories (user_id);

-- no foreign key: entries outlive deleted theories
CREATE TABLE IF NOT EXISTS moderation_logs (
	id UUID PRIMARY KEY,
	theory_id UUID,
	classification TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	action_taken TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS moderation_logs_created_idx ON moderation_logs (created_at DESC);

CREATE TABLE IF NOT EXISTS audit_logs (
	id UUID PRIMARY KEY,
	admin_id UUID NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id UUID NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	duration_hours INTEGER,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS audit_logs_target_idx ON audit_logs (target_id, created_at DESC);

CREATE TABLE IF NOT EXISTS votes (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	theory_id UUID NOT NULL REFERENCES theories(id) ON DELETE CASCADE,
	vote_type TEXT NOT NULL CHECK (vote_type IN ('upvote', 'downvote')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, theory_id)
);

CREATE TABLE IF NOT EXISTS stances (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	theory_id UUID NOT NULL REFERENCES theories(id) ON DELETE CASCADE,
	stance_type TEXT NOT NULL CHECK (stance_type IN ('for', 'against')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, theory_id)
);

CREATE TABLE IF NOT EXISTS comments (
	id UUID PRIMARY KEY,
	theory_id UUID NOT NULL REFERENCES theories(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	body TEXT NOT NULL,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS comments_theory_idx ON comments (theory_id, created_at);
`

// uniqueViolation reports whether err is a unique constraint violation on constraint
func uniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// rowsAffected reports whether a statement touched at least one row
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE wildcards so user input matches literally
func escapeLike(s string) string {
	return likeReplacer.Replace(s)
}
