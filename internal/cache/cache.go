// Package cache provides a read-through cache for API responses. Values
// are opaque strings, usually JSON.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is used when Set is called with a zero ttl
const DefaultTTL = 60 * time.Second

// Store is a key/value cache with per-entry expiry
type Store interface {
	// Get returns ok=false on a miss or an expired entry
	Get(ctx context.Context, key string) (val string, ok bool, err error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// InvalidatePattern removes every key containing pattern
	InvalidatePattern(ctx context.Context, pattern string) error
}

// Clock abstracts time so expiry can be tested
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

const TheoriesListPrefix = "theories:list"

// TheoriesListKey caches one page of the published feed
func TheoriesListKey(limit, offset int) string {
	return fmt.Sprintf("%s:%d:%d", TheoriesListPrefix, limit, offset)
}

// TheoryKey caches a single theory view
func TheoryKey(id uuid.UUID) string {
	return "theory:" + id.String()
}

// TheoryStatsKey caches the interaction counts of a theory
func TheoryStatsKey(id uuid.UUID) string {
	return "theory:stats:" + id.String()
}

// UserKey caches a public profile
func UserKey(username string) string {
	return "user:" + username
}
