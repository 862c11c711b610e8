package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/theorogram/server/pkg/models"
)

// Action types recorded in the audit trail
const (
	ActionDeleteTheory      = "delete_theory"
	ActionFlagMature        = "flag_mature"
	ActionUnflagMature      = "unflag_mature"
	ActionDeleteComment     = "delete_comment"
	ActionBanUser           = "ban_user"
	ActionUnbanUser         = "unban_user"
	ActionBanTimed          = "ban_timed"
	ActionSuspend           = "suspend"
	ActionUnsuspend         = "unsuspend"
	ActionShadowban         = "shadowban"
	ActionUnshadowban       = "unshadowban"
	ActionRestrictPosting   = "restrict_posting"
	ActionUnrestrictPosting = "unrestrict_posting"
)

const (
	defaultReason = "No reason provided"
	historyLimit  = 50
)

// TheoryStore is the slice of theory storage the admin tooling mutates
type TheoryStore interface {
	DeleteTheory(ctx context.Context, id uuid.UUID) (bool, error)
	SetMature(ctx context.Context, id uuid.UUID, mature bool) (bool, error)
	ComplexityScores(ctx context.Context) ([]float64, error)
	CountTheories(ctx context.Context, now time.Time) (*models.TheoryCounts, error)
}

type CommentStore interface {
	SoftDeleteComment(ctx context.Context, id uuid.UUID) (bool, error)
	CountInteractions(ctx context.Context) (comments, votes int, err error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateUserModeration(ctx context.Context, u *models.User) (bool, error)
	ListUsers(ctx context.Context, filter models.UserFilter, search string, limit, offset int, now time.Time) ([]*models.User, error)
	CountUsers(ctx context.Context, now time.Time) (*models.UserCounts, error)
}

// AuditStore is the append-only human moderation trail
type AuditStore interface {
	RecordAction(ctx context.Context, a *models.AuditAction) error
	ListActions(ctx context.Context, limit, offset int) ([]*models.AuditAction, error)
	ListActionsForTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditAction, error)
}

// Stores groups the storage dependencies of the Service
type Stores struct {
	Theories TheoryStore
	Comments CommentStore
	Users    UserStore
	Audit    AuditStore
}

// Service carries out admin moderation actions. Every successful action
// records exactly one audit entry.
type Service struct {
	stores Stores
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewService(stores Stores, logger logrus.FieldLogger) *Service {
	return &Service{
		stores: stores,
		logger: logger.WithField("component", "admin"),
		now:    time.Now,
	}
}

func (s *Service) record(ctx context.Context, a *models.AuditAction) *models.AuditAction {
	if a.Reason == "" {
		a.Reason = defaultReason
	}
	a.CreatedAt = s.now()
	actionsTotal.WithLabelValues(a.ActionType).Inc()
	if err := s.stores.Audit.RecordAction(ctx, a); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":    a.ActionType,
			"target_id": a.TargetID,
			"admin_id":  a.AdminID,
		}).Error("Failed to record admin action")
	}
	return a
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

func (s *Service) DeleteTheory(ctx context.Context, adminID, theoryID uuid.UUID, reason string) (*models.AuditAction, error) {
	found, err := s.stores.Theories.DeleteTheory(ctx, theoryID)
	if err != nil {
		return nil, fmt.Errorf("delete theory: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return s.record(ctx, &models.AuditAction{
		AdminID:    adminID,
		ActionType: ActionDeleteTheory,
		TargetType: models.TargetTheory,
		TargetID:   theoryID,
		Reason:     reason,
	}), nil
}

func (s *Service) setMature(ctx context.Context, adminID, theoryID uuid.UUID, mature bool, action, reason string) (*models.AuditAction, error) {
	found, err := s.stores.Theories.SetMature(ctx, theoryID, mature)
	if err != nil {
		return nil, fmt.Errorf("set mature: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return s.record(ctx, &models.AuditAction{
		AdminID:    adminID,
		ActionType: action,
		TargetType: models.TargetTheory,
		TargetID:   theoryID,
		Reason:     reason,
	}), nil
}

func (s *Service) FlagMature(ctx context.Context, adminID, theoryID uuid.UUID, reason string) (*models.AuditAction, error) {
	return s.setMature(ctx, adminID, theoryID, true, ActionFlagMature, reasonOr(reason, "Flagged as mature content"))
}

func (s *Service) UnflagMature(ctx context.Context, adminID, theoryID uuid.UUID, reason string) (*models.AuditAction, error) {
	return s.setMature(ctx, adminID, theoryID, false, ActionUnflagMature, reasonOr(reason, "Removed mature content flag"))
}

// DeleteComment soft-deletes a comment
func (s *Service) DeleteComment(ctx context.Context, adminID, commentID uuid.UUID, reason string) (*models.AuditAction, error) {
	found, err := s.stores.Comments.SoftDeleteComment(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("delete comment: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return s.record(ctx, &models.AuditAction{
		AdminID:    adminID,
		ActionType: ActionDeleteComment,
		TargetType: models.TargetComment,
		TargetID:   commentID,
		Reason:     reason,
	}), nil
}

// userAction loads the target user, applies mutate and persists the
// moderation fields. Ban-like actions refuse self-targeting and admins.
func (s *Service) userAction(ctx context.Context, adminID, userID uuid.UUID, guard bool, mutate func(u *models.User)) (*models.User, error) {
	if guard && adminID == userID {
		return nil, ErrSelfAction
	}
	u, err := s.stores.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if guard && u.IsAdmin() {
		return nil, ErrTargetIsAdmin
	}
	mutate(u)
	found, err := s.stores.Users.UpdateUserModeration(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *Service) recordUser(ctx context.Context, adminID, userID uuid.UUID, action, reason string, hours *int, expires *time.Time) *models.AuditAction {
	return s.record(ctx, &models.AuditAction{
		AdminID:       adminID,
		ActionType:    action,
		TargetType:    models.TargetUser,
		TargetID:      userID,
		Reason:        reason,
		DurationHours: hours,
		ExpiresAt:     expires,
	})
}

func (s *Service) expiry(hours int) (time.Time, error) {
	if hours < 1 {
		return time.Time{}, ErrInvalidDuration
	}
	return s.now().Add(time.Duration(hours) * time.Hour), nil
}

// BanUser bans a user permanently
func (s *Service) BanUser(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.AuditAction, error) {
	_, err := s.userAction(ctx, adminID, userID, true, func(u *models.User) {
		u.BannedStatus = true
		u.BannedUntil = nil
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionBanUser, reason, nil, nil), nil
}

// BanUserFor bans a user until hours from now
func (s *Service) BanUserFor(ctx context.Context, adminID, userID uuid.UUID, hours int, reason string) (*models.AuditAction, error) {
	until, err := s.expiry(hours)
	if err != nil {
		return nil, err
	}
	_, err = s.userAction(ctx, adminID, userID, true, func(u *models.User) {
		u.BannedStatus = true
		u.BannedUntil = &until
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionBanTimed, reason, &hours, &until), nil
}

func (s *Service) UnbanUser(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.AuditAction, error) {
	_, err := s.userAction(ctx, adminID, userID, false, func(u *models.User) {
		u.BannedStatus = false
		u.BannedUntil = nil
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionUnbanUser, reason, nil, nil), nil
}

func (s *Service) SuspendUser(ctx context.Context, adminID, userID uuid.UUID, hours int, reason string) (*models.AuditAction, error) {
	until, err := s.expiry(hours)
	if err != nil {
		return nil, err
	}
	_, err = s.userAction(ctx, adminID, userID, true, func(u *models.User) {
		u.SuspendedUntil = &until
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionSuspend, reason, &hours, &until), nil
}

func (s *Service) UnsuspendUser(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.AuditAction, error) {
	_, err := s.userAction(ctx, adminID, userID, false, func(u *models.User) {
		u.SuspendedUntil = nil
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionUnsuspend, reasonOr(reason, "Suspension lifted"), nil, nil), nil
}

// ShadowbanUser hides a user's content from everyone else without telling them
func (s *Service) ShadowbanUser(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.AuditAction, error) {
	_, err := s.userAction(ctx, adminID, userID, true, func(u *models.User) {
		u.Shadowbanned = true
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionShadowban, reason, nil, nil), nil
}

func (s *Service) UnshadowbanUser(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.AuditAction, error) {
	_, err := s.userAction(ctx, adminID, userID, false, func(u *models.User) {
		u.Shadowbanned = false
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionUnshadowban, reasonOr(reason, "Shadowban lifted"), nil, nil), nil
}

func (s *Service) RestrictPosting(ctx context.Context, adminID, userID uuid.UUID, hours int, reason string) (*models.AuditAction, error) {
	until, err := s.expiry(hours)
	if err != nil {
		return nil, err
	}
	_, err = s.userAction(ctx, adminID, userID, true, func(u *models.User) {
		u.PostRestrictedUntil = &until
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionRestrictPosting, reason, &hours, &until), nil
}

func (s *Service) UnrestrictPosting(ctx context.Context, adminID, userID uuid.UUID, reason string) (*models.AuditAction, error) {
	_, err := s.userAction(ctx, adminID, userID, false, func(u *models.User) {
		u.PostRestrictedUntil = nil
	})
	if err != nil {
		return nil, err
	}
	return s.recordUser(ctx, adminID, userID, ActionUnrestrictPosting, reasonOr(reason, "Posting restriction lifted"), nil, nil), nil
}

// History returns the latest actions targeting a user, newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]*models.AuditAction, error) {
	return s.stores.Audit.ListActionsForTarget(ctx, userID, historyLimit)
}

func (s *Service) ListActions(ctx context.Context, limit, offset int) ([]*models.AuditAction, error) {
	return s.stores.Audit.ListActions(ctx, limit, offset)
}

func (s *Service) ListUsers(ctx context.Context, filter models.UserFilter, search string, limit, offset int) ([]*models.User, error) {
	return s.stores.Users.ListUsers(ctx, filter, search, limit, offset, s.now())
}
