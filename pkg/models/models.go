package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered user. Identity lives with the external
// provider; ExternalUID links the two.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	ExternalUID         string     `json:"-"`
	Username            string     `json:"username"`
	Role                string     `json:"role"`
	ReputationScore     int        `json:"reputation_score"`
	Level               int        `json:"level"`
	BannedStatus        bool       `json:"banned_status"`
	BannedUntil         *time.Time `json:"banned_until,omitempty"`
	Shadowbanned        bool       `json:"shadowbanned"`
	SuspendedUntil      *time.Time `json:"suspended_until,omitempty"`
	PostRestrictedUntil *time.Time `json:"post_restricted_until,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	LastActiveAt        *time.Time `json:"last_active_at,omitempty"`
}

// IsAdmin reports whether the user may use moderation tooling
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsBanned reports whether a ban is in force at now. A ban without an
// expiry is permanent.
func (u *User) IsBanned(now time.Time) bool {
	if !u.BannedStatus {
		return false
	}
	return u.BannedUntil == nil || now.Before(*u.BannedUntil)
}

// IsSuspended reports whether a suspension is in force at now
func (u *User) IsSuspended(now time.Time) bool {
	return u.SuspendedUntil != nil && now.Before(*u.SuspendedUntil)
}

// IsPostRestricted reports whether posting is restricted at now
func (u *User) IsPostRestricted(now time.Time) bool {
	return u.PostRestrictedUntil != nil && now.Before(*u.PostRestrictedUntil)
}

// PostingBlockReason returns why the user may not post, or "" if they may
func (u *User) PostingBlockReason(now time.Time) string {
	switch {
	case u.IsBanned(now):
		return "Account is banned"
	case u.IsSuspended(now):
		return "Account is suspended until " + u.SuspendedUntil.UTC().Format(time.RFC3339)
	case u.IsPostRestricted(now):
		return "Posting is restricted until " + u.PostRestrictedUntil.UTC().Format(time.RFC3339)
	}
	return ""
}

// Author is the public view of a content author
type Author struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Level    int       `json:"level"`
}

type VoteType string

const (
	Upvote   VoteType = "upvote"
	Downvote VoteType = "downvote"
)

// Vote is a user's up or down vote on a theory; one per user and theory
type Vote struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TheoryID  uuid.UUID `json:"theory_id"`
	VoteType  VoteType  `json:"vote_type"`
	CreatedAt time.Time `json:"created_at"`
}

type StanceType string

const (
	StanceFor     StanceType = "for"
	StanceAgainst StanceType = "against"
)

// Stance is a user's position on a theory; one per user and theory
type Stance struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	TheoryID   uuid.UUID  `json:"theory_id"`
	StanceType StanceType `json:"stance_type"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Comment is soft-deleted, never removed
type Comment struct {
	ID        uuid.UUID `json:"id"`
	TheoryID  uuid.UUID `json:"theory_id"`
	UserID    uuid.UUID `json:"user_id"`
	Body      string    `json:"body"`
	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	Author    *Author   `json:"author,omitempty"`
}

// TheoryStats aggregates interactions on a theory
type TheoryStats struct {
	Upvotes          int `json:"upvotes"`
	Downvotes        int `json:"downvotes"`
	ForCount         int `json:"for_count"`
	AgainstCount     int `json:"against_count"`
	CommentCount     int `json:"comment_count"`
	InteractionScore int `json:"interaction_score"`
}

// ComputeInteractionScore sums every interaction on the theory
func (s *TheoryStats) ComputeInteractionScore() {
	s.InteractionScore = s.Upvotes + s.Downvotes + s.ForCount + s.AgainstCount + s.CommentCount
}

// TheorySort orders an author's theory listing
type TheorySort string

const (
	SortRecent      TheorySort = "recent"
	SortMostUpvoted TheorySort = "most_upvoted"
	SortPopular     TheorySort = "popular"
)

// ParseTheorySort maps a query value to a sort order. Unknown values
// fall back to SortRecent.
func ParseTheorySort(v string) TheorySort {
	switch s := TheorySort(v); s {
	case SortMostUpvoted, SortPopular:
		return s
	}
	return SortRecent
}

// AuditAction is an entry in the human moderation trail
type AuditAction struct {
	ID            uuid.UUID  `json:"id"`
	AdminID       uuid.UUID  `json:"admin_id"`
	AdminUsername string     `json:"admin_username,omitempty"`
	ActionType    string     `json:"action"`
	TargetType    string     `json:"target_type"`
	TargetID      uuid.UUID  `json:"target_id"`
	Reason        string     `json:"reason"`
	DurationHours *int       `json:"duration_hours,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

const (
	TargetTheory  = "theory"
	TargetComment = "comment"
	TargetUser    = "user"
)

// UserFilter narrows admin user listings
type UserFilter string

const (
	FilterAll          UserFilter = "all"
	FilterBanned       UserFilter = "banned"
	FilterShadowbanned UserFilter = "shadowbanned"
	FilterSuspended    UserFilter = "suspended"
	FilterAdmins       UserFilter = "admins"
)

// UserProfile is the public profile view of a user
type UserProfile struct {
	ID              uuid.UUID `json:"id"`
	Username        string    `json:"username"`
	Level           int       `json:"level"`
	ReputationScore int       `json:"reputation_score"`
	CreatedAt       time.Time `json:"created_at"`
	TheoryCount     int       `json:"theory_count"`
	UpvotesReceived int       `json:"upvotes_received"`
	StancesTaken    int       `json:"stances_taken"`
}

type ActivityType string

const (
	ActivityTheory ActivityType = "theory"
	ActivityStance ActivityType = "stance"
)

// Activity is an entry in a user's public recent activity feed. Label and
// Points are filled in by the API layer.
type Activity struct {
	Type       ActivityType `json:"type"`
	TheoryID   uuid.UUID    `json:"theory_id"`
	Detail     string       `json:"detail"`
	StanceType StanceType   `json:"stance_type,omitempty"`
	Label      string       `json:"label"`
	Points     int          `json:"points"`
	CreatedAt  time.Time    `json:"created_at"`
}

// UserCounts feeds the admin dashboard
type UserCounts struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Banned       int `json:"banned"`
	Shadowbanned int `json:"shadowbanned"`
	Active24h    int `json:"active_24h"`
	Active7d     int `json:"active_7d"`
	New24h       int `json:"new_24h"`
	New7d        int `json:"new_7d"`
}

// TheoryCounts feeds the admin dashboard. Blocked submissions are never
// stored, so they are counted from the moderation log.
type TheoryCounts struct {
	Total        int `json:"total"`
	Published    int `json:"published"`
	Shadowbanned int `json:"shadowbanned"`
	Blocked      int `json:"blocked"`
	Mature       int `json:"mature"`
	New24h       int `json:"new_24h"`
	New7d        int `json:"new_7d"`
}
