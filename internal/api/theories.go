package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/cache"
	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/pkg/models"
)

// TheoryRequest is the body of a theory submission
type TheoryRequest struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Refs  *string `json:"refs"`
}

// TheoryView is a theory with its author and interaction counts
type TheoryView struct {
	*moderation.Theory
	Author *models.Author      `json:"author,omitempty"`
	Stats  *models.TheoryStats `json:"theory_stats"`
}

// ModerationSummary tells the author what happened to a submission
type ModerationSummary struct {
	Status         moderation.PublicationState `json:"status"`
	Classification moderation.Classification   `json:"classification"`
	Message        string                      `json:"message"`
}

func (s *Server) handleCreateTheory(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	if reason := user.PostingBlockReason(time.Now()); reason != "" {
		respondJSON(w, http.StatusForbidden, map[string]string{
			"error":  "Posting is not allowed",
			"reason": reason,
		})
		return
	}

	var req TheoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	decision, err := s.deps.Submitter.Submit(r.Context(), moderation.Submission{
		AuthorID: user.ID,
		Title:    req.Title,
		Body:     req.Body,
		Refs:     req.Refs,
	})
	if err != nil {
		var verr *moderation.ValidationError
		var rejected *moderation.RejectedError
		switch {
		case errors.As(err, &verr):
			respondError(w, http.StatusBadRequest, verr.Message)
		case errors.As(err, &rejected):
			respondJSON(w, http.StatusForbidden, map[string]string{
				"error":  "Theory submission blocked due to content policy violation",
				"reason": rejected.Reasoning,
			})
		case errors.Is(err, moderation.ErrClassifierUnavailable):
			respondError(w, http.StatusServiceUnavailable, "Content moderation is temporarily unavailable")
		default:
			s.logger.WithError(err).WithField("user_id", user.ID).Error("create theory failed")
			respondError(w, http.StatusInternalServerError, "Failed to create theory")
		}
		return
	}

	if decision.State == moderation.StatusSafe {
		s.invalidate(r.Context(), nil, cache.TheoriesListPrefix)
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"theory": decision.Theory,
		"moderation": ModerationSummary{
			Status:         decision.State,
			Classification: decision.Result.Classification,
			Message:        decision.Message,
		},
	})
}

// view decorates a theory with its author and stats
func (s *Server) view(ctx context.Context, t *moderation.Theory) (*TheoryView, error) {
	v := &TheoryView{Theory: t}

	author, err := s.deps.Repos.Users.GetUserByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	if author != nil {
		v.Author = &models.Author{ID: author.ID, Username: author.Username, Level: author.Level}
	}

	v.Stats, err = s.deps.Repos.Theories.TheoryStats(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Server) views(ctx context.Context, theories []*moderation.Theory) ([]*TheoryView, error) {
	out := make([]*TheoryView, 0, len(theories))
	for _, t := range theories {
		v, err := s.view(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// handleListTheories returns published theories, newest first
func (s *Server) handleListTheories(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	body, err := s.cached(r.Context(), cache.TheoriesListKey(limit, offset), func() (any, error) {
		theories, err := s.deps.Repos.Theories.ListByStatus(r.Context(), moderation.StatusSafe, limit, offset)
		if err != nil {
			return nil, err
		}
		views, err := s.views(r.Context(), theories)
		if err != nil {
			return nil, err
		}
		return map[string]any{"theories": views}, nil
	})
	if err != nil {
		s.logger.WithError(err).Error("list theories failed")
		respondError(w, http.StatusInternalServerError, "Failed to fetch theories")
		return
	}
	respondRaw(w, http.StatusOK, body)
}

// handleGetTheory returns a published theory. Authors may also see their
// own shadowbanned theories; to everyone else those do not exist.
func (s *Server) handleGetTheory(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "theory")
	if !ok {
		return
	}

	theory, err := s.deps.Repos.Theories.GetTheory(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).WithField("theory_id", id).Error("get theory failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if theory == nil || !s.visible(r, theory) {
		respondError(w, http.StatusNotFound, "Theory not found")
		return
	}

	if theory.ModerationStatus != moderation.StatusSafe {
		v, err := s.view(r.Context(), theory)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"theory": v})
		return
	}

	body, err := s.cached(r.Context(), cache.TheoryKey(id), func() (any, error) {
		v, err := s.view(r.Context(), theory)
		if err != nil {
			return nil, err
		}
		return map[string]any{"theory": v}, nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("theory_id", id).Error("get theory failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondRaw(w, http.StatusOK, body)
}

func (s *Server) visible(r *http.Request, t *moderation.Theory) bool {
	switch t.ModerationStatus {
	case moderation.StatusSafe:
		return true
	case moderation.StatusShadowbanned:
		user, ok := currentUserOptional(r)
		return ok && user.ID == t.UserID
	}
	return false
}

func (s *Server) handleTheoryStats(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id", "theory")
	if !ok {
		return
	}

	body, err := s.cached(r.Context(), cache.TheoryStatsKey(id), func() (any, error) {
		theory, err := s.deps.Repos.Theories.GetTheory(r.Context(), id)
		if err != nil {
			return nil, err
		}
		if theory == nil || theory.ModerationStatus != moderation.StatusSafe {
			return nil, errTheoryNotFound
		}
		return s.deps.Repos.Theories.TheoryStats(r.Context(), id)
	})
	switch {
	case errors.Is(err, errTheoryNotFound):
		respondError(w, http.StatusNotFound, "Theory not found")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Internal server error")
	default:
		respondRaw(w, http.StatusOK, body)
	}
}

// publishedTheory loads a theory that interactions may target
func (s *Server) publishedTheory(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*moderation.Theory, bool) {
	theory, err := s.deps.Repos.Theories.GetTheory(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).WithField("theory_id", id).Error("load theory failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	if theory == nil || theory.ModerationStatus != moderation.StatusSafe {
		respondError(w, http.StatusNotFound, "Theory not found")
		return nil, false
	}
	return theory, true
}

// theoryChanged drops every cached view of a theory
func (s *Server) theoryChanged(ctx context.Context, id uuid.UUID) {
	s.invalidate(ctx, []string{cache.TheoryKey(id), cache.TheoryStatsKey(id)}, cache.TheoriesListPrefix)
}
