package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/storage"
	"github.com/theorogram/server/pkg/models"
)

type fixture struct {
	svc   *Service
	mem   *storage.MemoryStore
	admin *models.User
	user  *models.User
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := storage.NewMemoryStore()
	ctx := context.Background()

	admin := &models.User{ExternalUID: "idp|root", Username: "root", Role: models.RoleAdmin}
	require.NoError(t, mem.CreateUser(ctx, admin))
	user := &models.User{ExternalUID: "idp|ada", Username: "ada"}
	require.NoError(t, mem.CreateUser(ctx, user))

	logger, _ := test.NewNullLogger()
	svc := NewService(Stores{Theories: mem, Comments: mem, Users: mem, Audit: mem}, logger)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, mem: mem, admin: admin, user: user, now: now}
}

func (f *fixture) history(t *testing.T, id uuid.UUID) []*models.AuditAction {
	t.Helper()
	h, err := f.svc.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

func TestBanUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.BanUser(ctx, f.admin.ID, f.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, ActionBanUser, a.ActionType)
	assert.Equal(t, "No reason provided", a.Reason)

	u, _ := f.mem.GetUserByID(ctx, f.user.ID)
	assert.True(t, u.BannedStatus)
	assert.Nil(t, u.BannedUntil)
	assert.True(t, u.IsBanned(f.now.Add(1000*time.Hour)))

	h := f.history(t, f.user.ID)
	require.Len(t, h, 1)
	assert.Equal(t, "root", h[0].AdminUsername)
}

func TestBanUserGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.BanUser(ctx, f.admin.ID, f.admin.ID, "")
	assert.ErrorIs(t, err, ErrSelfAction)

	other := &models.User{ExternalUID: "idp|root2", Username: "root2", Role: models.RoleAdmin}
	require.NoError(t, f.mem.CreateUser(ctx, other))
	_, err = f.svc.BanUser(ctx, f.admin.ID, other.ID, "")
	assert.ErrorIs(t, err, ErrTargetIsAdmin)

	_, err = f.svc.BanUser(ctx, f.admin.ID, uuid.New(), "")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, f.history(t, other.ID))
}

func TestTimedActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SuspendUser(ctx, f.admin.ID, f.user.ID, 0, "")
	assert.ErrorIs(t, err, ErrInvalidDuration)

	a, err := f.svc.SuspendUser(ctx, f.admin.ID, f.user.ID, 24, "spam")
	require.NoError(t, err)
	require.NotNil(t, a.DurationHours)
	assert.Equal(t, 24, *a.DurationHours)
	assert.Equal(t, f.now.Add(24*time.Hour), *a.ExpiresAt)

	u, _ := f.mem.GetUserByID(ctx, f.user.ID)
	assert.True(t, u.IsSuspended(f.now))
	assert.False(t, u.IsSuspended(f.now.Add(25*time.Hour)))
	assert.NotEmpty(t, u.PostingBlockReason(f.now))

	_, err = f.svc.RestrictPosting(ctx, f.admin.ID, f.user.ID, 2, "")
	require.NoError(t, err)
	_, err = f.svc.BanUserFor(ctx, f.admin.ID, f.user.ID, 48, "")
	require.NoError(t, err)

	u, _ = f.mem.GetUserByID(ctx, f.user.ID)
	assert.True(t, u.IsPostRestricted(f.now))
	assert.True(t, u.IsBanned(f.now))
	assert.False(t, u.IsBanned(f.now.Add(49*time.Hour)))

	a, err = f.svc.UnsuspendUser(ctx, f.admin.ID, f.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Suspension lifted", a.Reason)
	_, err = f.svc.UnrestrictPosting(ctx, f.admin.ID, f.user.ID, "")
	require.NoError(t, err)
	_, err = f.svc.UnbanUser(ctx, f.admin.ID, f.user.ID, "")
	require.NoError(t, err)

	u, _ = f.mem.GetUserByID(ctx, f.user.ID)
	assert.Equal(t, "", u.PostingBlockReason(f.now))

	h := f.history(t, f.user.ID)
	require.Len(t, h, 6)
	assert.Equal(t, ActionUnbanUser, h[0].ActionType)
	assert.Equal(t, ActionSuspend, h[5].ActionType)
}

func TestShadowban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ShadowbanUser(ctx, f.admin.ID, f.user.ID, "")
	require.NoError(t, err)
	banned, err := f.svc.ListUsers(ctx, models.FilterShadowbanned, "", 50, 0)
	require.NoError(t, err)
	require.Len(t, banned, 1)
	assert.Equal(t, f.user.ID, banned[0].ID)

	a, err := f.svc.UnshadowbanUser(ctx, f.admin.ID, f.user.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Shadowban lifted", a.Reason)
	banned, _ = f.svc.ListUsers(ctx, models.FilterShadowbanned, "", 50, 0)
	assert.Empty(t, banned)
}

func TestContentActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	theory := &moderation.Theory{UserID: f.user.ID, ModerationStatus: moderation.StatusSafe}
	require.NoError(t, f.mem.CreateTheory(ctx, theory))

	a, err := f.svc.FlagMature(ctx, f.admin.ID, theory.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Flagged as mature content", a.Reason)
	got, _ := f.mem.GetTheory(ctx, theory.ID)
	assert.True(t, got.IsMature)

	a, err = f.svc.UnflagMature(ctx, f.admin.ID, theory.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Removed mature content flag", a.Reason)

	comment := &models.Comment{TheoryID: theory.ID, UserID: f.user.ID, Body: "A comment body"}
	require.NoError(t, f.mem.CreateComment(ctx, comment))
	_, err = f.svc.DeleteComment(ctx, f.admin.ID, comment.ID, "offensive")
	require.NoError(t, err)
	c, _ := f.mem.GetComment(ctx, comment.ID)
	assert.True(t, c.IsDeleted)

	_, err = f.svc.DeleteTheory(ctx, f.admin.ID, theory.ID, "duplicate")
	require.NoError(t, err)
	got, _ = f.mem.GetTheory(ctx, theory.ID)
	assert.Nil(t, got)

	_, err = f.svc.DeleteTheory(ctx, f.admin.ID, theory.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := f.svc.ListActions(ctx, 50, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

type failingAudit struct {
	*storage.MemoryStore
}

func (failingAudit) RecordAction(context.Context, *models.AuditAction) error {
	return errors.New("audit table gone")
}

func TestRecordFailureIsNotSurfaced(t *testing.T) {
	f := newFixture(t)
	logger, hook := test.NewNullLogger()
	svc := NewService(Stores{Theories: f.mem, Comments: f.mem, Users: f.mem, Audit: failingAudit{f.mem}}, logger)

	_, err := svc.ShadowbanUser(context.Background(), f.admin.ID, f.user.ID, "")
	require.NoError(t, err)

	u, _ := f.mem.GetUserByID(context.Background(), f.user.ID)
	assert.True(t, u.Shadowbanned)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Failed to record admin action", hook.LastEntry().Message)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, ComplexitySummary{}, Summarize(nil))

	s := Summarize([]float64{50, 10, 40, 20, 30})
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 30, s.Mean, 1e-9)
	assert.InDelta(t, 15.811, s.StdDev, 1e-3)
	assert.Equal(t, 30.0, s.Median)
	assert.Equal(t, 50.0, s.P90)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 50.0, s.Max)

	single := Summarize([]float64{7})
	assert.Equal(t, 7.0, single.Median)
	assert.Equal(t, 0.0, single.StdDev)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, score := range []int{10, 20, 30} {
		require.NoError(t, f.mem.CreateTheory(ctx, &moderation.Theory{
			UserID:           f.user.ID,
			ModerationStatus: moderation.StatusSafe,
			ComplexityScore:  score,
		}))
	}
	require.NoError(t, f.mem.AppendLog(ctx, &moderation.LogEntry{Action: moderation.ActionBlocked}))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users.Total)
	assert.Equal(t, 3, stats.Theories.Published)
	assert.Equal(t, 1, stats.Theories.Blocked)
	assert.Equal(t, 3, stats.Complexity.Count)
	assert.InDelta(t, 20, stats.Complexity.Mean, 1e-9)
}
