package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/theorogram/server/internal/auth"
	"github.com/theorogram/server/pkg/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": versioninfo.Short(),
	})
}

// pagination reads limit and offset query parameters, clamping bad values
// to the defaults
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// uuidParam parses a uuid path parameter, writing a 400 on failure
func uuidParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+label+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

var (
	errTheoryNotFound = errors.New("theory not found")
	errUserNotFound   = errors.New("user not found")
)

func currentUserOptional(r *http.Request) (*models.User, bool) {
	return auth.GetUserFromContext(r.Context())
}

func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return user, true
}

// cached serves key from the cache, computing and storing it on a miss.
// Cache failures degrade to computing the value.
func (s *Server) cached(ctx context.Context, key string, compute func() (any, error)) ([]byte, error) {
	if s.deps.Cache != nil {
		if val, ok, err := s.deps.Cache.Get(ctx, key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		} else if ok {
			cacheLookups.WithLabelValues("hit").Inc()
			return []byte(val), nil
		}
		cacheLookups.WithLabelValues("miss").Inc()
	}

	v, err := compute()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, key, string(b), s.cfg.CacheTTL); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("cache write failed")
		}
	}
	return b, nil
}

func respondRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// invalidate drops cached keys and key patterns, logging failures
func (s *Server) invalidate(ctx context.Context, keys []string, patterns ...string) {
	if s.deps.Cache == nil {
		return
	}
	for _, k := range keys {
		if err := s.deps.Cache.Delete(ctx, k); err != nil {
			s.logger.WithError(err).WithField("key", k).Warn("cache invalidation failed")
		}
	}
	for _, p := range patterns {
		if err := s.deps.Cache.InvalidatePattern(ctx, p); err != nil {
			s.logger.WithError(err).WithField("pattern", p).Warn("cache invalidation failed")
		}
	}
}
