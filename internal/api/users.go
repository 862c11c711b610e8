package api

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/theorogram/server/internal/auth"
	"github.com/theorogram/server/internal/cache"
	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/internal/storage"
	"github.com/theorogram/server/pkg/models"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

const recentActivityLimit = 3

// PublicUser is a user as shown in search results
type PublicUser struct {
	models.Author
	ReputationScore int `json:"reputation_score"`
}

// handleRegister creates the local user for a verified identity
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.GetSubjectFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		respondError(w, http.StatusBadRequest, "Username must be 3-30 letters, digits or underscores")
		return
	}

	user := &models.User{ExternalUID: subject, Username: req.Username, Role: models.RoleUser, Level: 1}
	err := s.deps.Repos.Users.CreateUser(r.Context(), user)
	switch {
	case errors.Is(err, storage.ErrUsernameTaken):
		respondError(w, http.StatusBadRequest, "Username already taken")
		return
	case errors.Is(err, storage.ErrAlreadyRegistered):
		respondError(w, http.StatusBadRequest, "User already registered")
		return
	case err != nil:
		s.logger.WithError(err).Error("create user failed")
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"level_info": reputation.GetLevelInfo(user.ReputationScore),
	})
}

func (s *Server) handleUserProfile(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	body, err := s.cached(r.Context(), cache.UserKey(username), func() (any, error) {
		profile, err := s.deps.Repos.Users.GetUserProfile(r.Context(), username)
		if err != nil {
			return nil, err
		}
		if profile == nil {
			return nil, errUserNotFound
		}
		activity, err := s.deps.Repos.Users.RecentActivity(r.Context(), profile.ID, recentActivityLimit)
		if err != nil {
			return nil, err
		}
		for _, a := range activity {
			describeActivity(a)
		}
		if activity == nil {
			activity = []*models.Activity{}
		}
		return map[string]any{
			"user":            profile,
			"level_info":      reputation.GetLevelInfo(profile.ReputationScore),
			"recent_activity": activity,
		}, nil
	})
	switch {
	case errors.Is(err, errUserNotFound):
		respondError(w, http.StatusNotFound, "User not found")
	case err != nil:
		s.logger.WithError(err).WithField("username", username).Error("get profile failed")
		respondError(w, http.StatusInternalServerError, "Internal server error")
	default:
		respondRaw(w, http.StatusOK, body)
	}
}

// describeActivity fills in the display label and the reputation the
// activity earned
func describeActivity(a *models.Activity) {
	switch a.Type {
	case models.ActivityTheory:
		a.Label = "Published Theory"
		a.Points, _ = reputation.Points(reputation.CreateTheory)
	case models.ActivityStance:
		a.Label = "Took Stance: " + strings.ToUpper(string(a.StanceType))
		a.Points, _ = reputation.Points(reputation.TakeStance)
	}
}

// handleUserTheories lists a user's published theories. sort is recent,
// most_upvoted or popular; anything else is treated as recent.
func (s *Server) handleUserTheories(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	limit, offset := pagination(r)
	order := models.ParseTheorySort(r.URL.Query().Get("sort"))

	user, err := s.deps.Repos.Users.GetUserByUsername(r.Context(), username)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}

	theories, err := s.deps.Repos.Theories.ListByAuthor(r.Context(), user.ID, moderation.StatusSafe, order, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch theories")
		return
	}
	views, err := s.views(r.Context(), theories)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch theories")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"theories": views})
}

func (s *Server) handleUserLevel(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Repos.Users.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"level_info": reputation.GetLevelInfo(user.ReputationScore),
		"formatted":  reputation.FormatReputation(user.ReputationScore),
	})
}

// handleSearch matches published theories by title or body and
// non-banned users by username
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondError(w, http.StatusBadRequest, "Search query (q) is required")
		return
	}
	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "all"
	}
	if kind != "all" && kind != "theories" && kind != "users" {
		respondError(w, http.StatusBadRequest, `type must be "all", "theories" or "users"`)
		return
	}
	limit := defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}

	result := struct {
		Theories []*TheoryView `json:"theories"`
		Users    []PublicUser  `json:"users"`
	}{Theories: []*TheoryView{}, Users: []PublicUser{}}

	if kind != "users" {
		theories, err := s.deps.Repos.Theories.SearchTheories(r.Context(), q, limit)
		if err != nil {
			s.logger.WithError(err).Error("theory search failed")
		} else if result.Theories, err = s.views(r.Context(), theories); err != nil {
			s.logger.WithError(err).Error("theory search failed")
			result.Theories = []*TheoryView{}
		}
	}

	if kind != "theories" {
		users, err := s.deps.Repos.Users.SearchUsers(r.Context(), q, limit)
		if err != nil {
			s.logger.WithError(err).Error("user search failed")
		}
		for _, u := range users {
			result.Users = append(result.Users, PublicUser{
				Author:          models.Author{ID: u.ID, Username: u.Username, Level: u.Level},
				ReputationScore: u.ReputationScore,
			})
		}
	}

	respondJSON(w, http.StatusOK, result)
}
