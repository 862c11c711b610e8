package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/theorogram/server/pkg/models"
)

var ErrInvalidToken = errors.New("invalid token")

// UserLookup resolves verified identities to local users
type UserLookup interface {
	GetUserByExternalUID(ctx context.Context, uid string) (*models.User, error)
	TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Config holds token verification configuration
type Config struct {
	SecretKey     string
	Issuer        string
	TokenDuration time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		SecretKey:     "change-me-in-production",
		TokenDuration: 24 * time.Hour,
	}
}

// Verifier validates HS256 bearer tokens issued by the identity provider.
// The subject claim carries the provider's user id.
type Verifier struct {
	config Config
}

// NewVerifier creates a new token verifier
func NewVerifier(config Config) *Verifier {
	if config.TokenDuration <= 0 {
		config.TokenDuration = DefaultConfig().TokenDuration
	}
	return &Verifier{config: config}
}

// Verify validates a token and returns the external user id it was issued for
func (v *Verifier) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(v.config.SecretKey), nil
	}, opts...)
	if err != nil {
		return "", ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// Issue signs a token for an external user id. Used by ops tooling and tests;
// in production tokens come from the identity provider.
func (v *Verifier) Issue(subject string) (string, error) {
	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.config.Issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(v.config.TokenDuration)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(v.config.SecretKey))
}
