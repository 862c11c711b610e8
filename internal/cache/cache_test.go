package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemoryStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	s, err := NewMemoryStore(16, clock)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "a", `{"x":1}`, 10*time.Second))
	val, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(`{"x":1}`, val)

	clock.now = clock.now.Add(10 * time.Second)
	_, ok, _ = s.Get(ctx, "a")
	assert.True(ok, "entry is still valid at its exact expiry instant")

	clock.now = clock.now.Add(time.Millisecond)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(ok)
	assert.Equal(0, s.Len())
}

func TestMemoryStoreDefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := NewMemoryStore(16, clock)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "a", "v", 0))
	clock.now = clock.now.Add(DefaultTTL - time.Second)
	_, ok, _ := s.Get(ctx, "a")
	assert.True(t, ok)
	clock.now = clock.now.Add(2 * time.Second)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryStoreInvalidatePattern(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, err := NewMemoryStore(16, nil)
	require.NoError(t, err)

	id := uuid.New()
	for _, k := range []string{TheoriesListKey(20, 0), TheoriesListKey(20, 20), TheoryKey(id), UserKey("ada")} {
		require.NoError(t, s.Set(ctx, k, "v", time.Minute))
	}

	require.NoError(t, s.InvalidatePattern(ctx, TheoriesListPrefix))
	_, ok, _ := s.Get(ctx, TheoriesListKey(20, 0))
	assert.False(ok)
	_, ok, _ = s.Get(ctx, TheoriesListKey(20, 20))
	assert.False(ok)
	_, ok, _ = s.Get(ctx, TheoryKey(id))
	assert.True(ok)

	require.NoError(t, s.Delete(ctx, UserKey("ada")))
	_, ok, _ = s.Get(ctx, UserKey("ada"))
	assert.False(ok)
}

func TestMemoryStoreBounded(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(2, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "b", "2", time.Minute))
	require.NoError(t, s.Set(ctx, "c", "3", time.Minute))
	assert.Equal(t, 2, s.Len())
	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok)
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("3f1b0c9e-8d2a-4c55-9a51-2b7f6f0d4e10")
	assert.Equal(t, "theory:3f1b0c9e-8d2a-4c55-9a51-2b7f6f0d4e10", TheoryKey(id))
	assert.Equal(t, "theory:stats:3f1b0c9e-8d2a-4c55-9a51-2b7f6f0d4e10", TheoryStatsKey(id))
	assert.Equal(t, "theories:list:20:40", TheoriesListKey(20, 40))
	assert.Equal(t, "user:ada", UserKey("ada"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `theories:list`, escapeGlob("theories:list"))
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}
