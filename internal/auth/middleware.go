package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/theorogram/server/pkg/models"
)

type contextKey string

const (
	// UserContextKey is the key used to store the local user in context
	UserContextKey contextKey = "user"
	// SubjectContextKey holds the verified external id, registered or not
	SubjectContextKey contextKey = "subject"
)

// Authenticator builds the HTTP middlewares that attach identities to requests
type Authenticator struct {
	verifier *Verifier
	users    UserLookup
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewAuthenticator(verifier *Verifier, users UserLookup, logger logrus.FieldLogger) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		users:    users,
		logger:   logger.WithField("component", "auth"),
		now:      time.Now,
	}
}

func (a *Authenticator) resolve(r *http.Request) (*models.User, int, string) {
	token := extractToken(r)
	if token == "" {
		return nil, http.StatusUnauthorized, "Missing or invalid authorization header"
	}

	subject, err := a.verifier.Verify(token)
	if err != nil {
		return nil, http.StatusUnauthorized, "Authentication failed"
	}

	user, err := a.users.GetUserByExternalUID(r.Context(), subject)
	if err != nil {
		a.logger.WithError(err).Error("Failed to look up user")
		return nil, http.StatusUnauthorized, "Authentication failed"
	}
	if user == nil {
		return nil, http.StatusUnauthorized, "Authentication failed"
	}

	now := a.now()
	if user.IsBanned(now) {
		return nil, http.StatusForbidden, "User is banned"
	}

	if err := a.users.TouchLastActive(r.Context(), user.ID, now); err != nil {
		a.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to update last activity")
	}
	return user, http.StatusOK, ""
}

// Middleware requires a registered, non-banned user
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, status, msg := a.resolve(r)
		if user == nil {
			respondError(w, status, msg)
			return
		}
		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalMiddleware sets the user in context if the token is valid
// but doesn't require authentication
func (a *Authenticator) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, _ := a.resolve(r); user != nil {
			r = r.WithContext(context.WithValue(r.Context(), UserContextKey, user))
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityMiddleware only verifies the token. Registration runs behind it,
// before any local user exists.
func (a *Authenticator) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
			return
		}
		subject, err := a.verifier.Verify(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Authentication failed")
			return
		}
		ctx := context.WithValue(r.Context(), SubjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after Middleware
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUserFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !user.IsAdmin() {
			respondError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext retrieves the user from the request context
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// GetSubjectFromContext retrieves the verified external id
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectContextKey).(string)
	return subject, ok && subject != ""
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return parts[1]
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
