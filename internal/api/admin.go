package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/admin"
	"github.com/theorogram/server/internal/cache"
	"github.com/theorogram/server/internal/rescan"
	"github.com/theorogram/server/pkg/models"
)

type adminRequest struct {
	Reason        string `json:"reason"`
	DurationHours int    `json:"duration_hours"`
}

// readAdminRequest decodes an optional body; an empty body is allowed
func readAdminRequest(w http.ResponseWriter, r *http.Request) (adminRequest, bool) {
	var req adminRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func (s *Server) respondAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, admin.ErrSelfAction):
		respondError(w, http.StatusBadRequest, "Cannot ban yourself")
	case errors.Is(err, admin.ErrTargetIsAdmin):
		respondError(w, http.StatusForbidden, "Cannot ban other administrators")
	case errors.Is(err, admin.ErrInvalidDuration):
		respondError(w, http.StatusBadRequest, "Duration must be at least 1 hour")
	case errors.Is(err, admin.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found")
	default:
		s.logger.WithError(err).Error("admin action failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

type contentAction func(ctx context.Context, adminID, targetID uuid.UUID, reason string) (*models.AuditAction, error)

// contentHandler runs an action on a theory or comment and drops caches
func (s *Server) contentHandler(label string, action contentAction, theory bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", label)
		if !ok {
			return
		}
		req, ok := readAdminRequest(w, r)
		if !ok {
			return
		}

		a, err := action(r.Context(), user.ID, id, req.Reason)
		if err != nil {
			s.respondAdminError(w, err)
			return
		}

		if theory {
			s.theoryChanged(r.Context(), id)
		} else {
			s.invalidate(r.Context(), nil, "theory:", cache.TheoriesListPrefix)
		}
		respondJSON(w, http.StatusOK, map[string]any{"action": a})
	}
}

func (s *Server) handleAdminDeleteTheory(w http.ResponseWriter, r *http.Request) {
	s.contentHandler("theory", s.deps.Admin.DeleteTheory, true)(w, r)
}

func (s *Server) handleAdminFlagMature(w http.ResponseWriter, r *http.Request) {
	s.contentHandler("theory", s.deps.Admin.FlagMature, true)(w, r)
}

func (s *Server) handleAdminUnflagMature(w http.ResponseWriter, r *http.Request) {
	s.contentHandler("theory", s.deps.Admin.UnflagMature, true)(w, r)
}

func (s *Server) handleAdminDeleteComment(w http.ResponseWriter, r *http.Request) {
	s.contentHandler("comment", s.deps.Admin.DeleteComment, false)(w, r)
}

type userAction func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error)

// userHandler runs an action on a user. Theory listings embed author data
// and user-level moderation can change visibility, so listings are dropped.
func (s *Server) userHandler(action userAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "id", "user")
		if !ok {
			return
		}
		req, ok := readAdminRequest(w, r)
		if !ok {
			return
		}

		a, err := action(r.Context(), user.ID, id, req)
		if err != nil {
			s.respondAdminError(w, err)
			return
		}

		s.invalidate(r.Context(), nil, cache.TheoriesListPrefix, "user:")
		respondJSON(w, http.StatusOK, map[string]any{"action": a})
	}
}

func (s *Server) handleAdminBan(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.BanUser(ctx, adminID, userID, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminUnban(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.UnbanUser(ctx, adminID, userID, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminBanTimed(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.BanUserFor(ctx, adminID, userID, req.DurationHours, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminSuspend(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.SuspendUser(ctx, adminID, userID, req.DurationHours, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminUnsuspend(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.UnsuspendUser(ctx, adminID, userID, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminShadowban(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.ShadowbanUser(ctx, adminID, userID, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminUnshadowban(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.UnshadowbanUser(ctx, adminID, userID, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminRestrictPosting(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.RestrictPosting(ctx, adminID, userID, req.DurationHours, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminUnrestrictPosting(w http.ResponseWriter, r *http.Request) {
	s.userHandler(func(ctx context.Context, adminID, userID uuid.UUID, req adminRequest) (*models.AuditAction, error) {
		return s.deps.Admin.UnrestrictPosting(ctx, adminID, userID, req.Reason)
	})(w, r)
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	filter := models.UserFilter(r.URL.Query().Get("filter"))
	switch filter {
	case "":
		filter = models.FilterAll
	case models.FilterAll, models.FilterBanned, models.FilterShadowbanned, models.FilterSuspended, models.FilterAdmins:
	default:
		respondError(w, http.StatusBadRequest, "Invalid filter")
		return
	}

	users, err := s.deps.Admin.ListUsers(r.Context(), filter, r.URL.Query().Get("search"), limit, offset)
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminModerationLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	logs, err := s.deps.Repos.Logs.ListLogs(r.Context(), limit, offset)
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleAdminAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	actions, err := s.deps.Admin.ListActions(r.Context(), limit, offset)
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (s *Server) handleAdminHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "user")
	if !ok {
		return
	}
	history, err := s.deps.Admin.History(r.Context(), id)
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Admin.Stats(r.Context())
	if err != nil {
		s.respondAdminError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleAdminRescan starts a rescan pass in the background. The pass
// outlives the request.
func (s *Server) handleAdminRescan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rescan.Running() {
		respondError(w, http.StatusConflict, "Rescan already running")
		return
	}

	go func() {
		if _, err := s.deps.Rescan.RunOnce(s.baseCtx); err != nil {
			if errors.Is(err, rescan.ErrAlreadyRunning) {
				s.logger.Warn("manual rescan skipped, another run holds the lock")
				return
			}
			s.logger.WithError(err).Error("manual rescan failed")
		}
	}()

	respondJSON(w, http.StatusAccepted, map[string]string{"message": "Rescan started"})
}

func (s *Server) handleAdminRescanStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"running":     s.deps.Rescan.Running(),
		"last_report": s.deps.Rescan.LastReport(),
	})
}
