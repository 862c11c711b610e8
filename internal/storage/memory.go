package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/pkg/models"
)

// MemoryStore implements every repository in process memory. It is used
// when no database is configured and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	theories map[uuid.UUID]*moderation.Theory
	users    map[uuid.UUID]*models.User
	logs     []*moderation.LogEntry
	audit    []*models.AuditAction
	votes    map[[2]uuid.UUID]*models.Vote
	stances  map[[2]uuid.UUID]*models.Stance
	comments map[uuid.UUID]*models.Comment
}

var (
	_ TheoryRepository        = (*MemoryStore)(nil)
	_ UserRepository          = (*MemoryStore)(nil)
	_ ModerationLogRepository = (*MemoryStore)(nil)
	_ AuditLogRepository      = (*MemoryStore)(nil)
	_ InteractionRepository   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		theories: make(map[uuid.UUID]*moderation.Theory),
		users:    make(map[uuid.UUID]*models.User),
		votes:    make(map[[2]uuid.UUID]*models.Vote),
		stances:  make(map[[2]uuid.UUID]*models.Stance),
		comments: make(map[uuid.UUID]*models.Comment),
	}
}

func copyTheory(t *moderation.Theory) *moderation.Theory {
	cp := *t
	return &cp
}

func copyUser(u *models.User) *models.User {
	cp := *u
	return &cp
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func newestTheoriesFirst(ts []*moderation.Theory) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].CreatedAt.After(ts[j].CreatedAt) })
}

// theories

func (m *MemoryStore) CreateTheory(ctx context.Context, t *moderation.Theory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
		t.UpdatedAt = t.CreatedAt
	}
	m.theories[t.ID] = copyTheory(t)
	return nil
}

func (m *MemoryStore) GetTheory(ctx context.Context, id uuid.UUID) (*moderation.Theory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.theories[id]
	if !ok {
		return nil, nil
	}
	return copyTheory(t), nil
}

func (m *MemoryStore) UpdateModerationStatus(ctx context.Context, id uuid.UUID, from, to moderation.PublicationState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.theories[id]
	if !ok || t.ModerationStatus != from {
		return false, nil
	}
	t.ModerationStatus = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) filterTheories(keep func(*moderation.Theory) bool) []*moderation.Theory {
	var out []*moderation.Theory
	for _, t := range m.theories {
		if keep(t) {
			out = append(out, copyTheory(t))
		}
	}
	newestTheoriesFirst(out)
	return out
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status moderation.PublicationState, limit, offset int) ([]*moderation.Theory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filterTheories(func(t *moderation.Theory) bool { return t.ModerationStatus == status })
	return page(out, limit, offset), nil
}

func (m *MemoryStore) ListByAuthor(ctx context.Context, userID uuid.UUID, status moderation.PublicationState, order models.TheorySort, limit, offset int) ([]*moderation.Theory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.filterTheories(func(t *moderation.Theory) bool {
		return t.UserID == userID && t.ModerationStatus == status
	})

	var score func(*models.TheoryStats) int
	switch order {
	case models.SortMostUpvoted:
		score = func(st *models.TheoryStats) int { return st.Upvotes }
	case models.SortPopular:
		score = func(st *models.TheoryStats) int { return st.InteractionScore }
	}
	if score != nil {
		scores := make(map[uuid.UUID]int, len(out))
		for _, t := range out {
			scores[t.ID] = score(m.statsLocked(t.ID))
		}
		// stable keeps newest first among equal scores
		sort.SliceStable(out, func(i, j int) bool { return scores[out[i].ID] > scores[out[j].ID] })
	}
	return page(out, limit, offset), nil
}

func (m *MemoryStore) SearchTheories(ctx context.Context, query string, limit int) ([]*moderation.Theory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	out := m.filterTheories(func(t *moderation.Theory) bool {
		return t.ModerationStatus == moderation.StatusSafe &&
			(strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.Body), q))
	})
	return page(out, limit, 0), nil
}

func (m *MemoryStore) DeleteTheory(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.theories[id]; !ok {
		return false, nil
	}
	delete(m.theories, id)
	for k := range m.votes {
		if k[1] == id {
			delete(m.votes, k)
		}
	}
	for k := range m.stances {
		if k[1] == id {
			delete(m.stances, k)
		}
	}
	for cid, c := range m.comments {
		if c.TheoryID == id {
			delete(m.comments, cid)
		}
	}
	return true, nil
}

func (m *MemoryStore) SetMature(ctx context.Context, id uuid.UUID, mature bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.theories[id]
	if !ok {
		return false, nil
	}
	t.IsMature = mature
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) TheoryStats(ctx context.Context, id uuid.UUID) (*models.TheoryStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked(id), nil
}

// statsLocked expects m.mu to be held
func (m *MemoryStore) statsLocked(id uuid.UUID) *models.TheoryStats {
	stats := &models.TheoryStats{}
	for k, v := range m.votes {
		if k[1] != id {
			continue
		}
		if v.VoteType == models.Upvote {
			stats.Upvotes++
		} else {
			stats.Downvotes++
		}
	}
	for k, s := range m.stances {
		if k[1] != id {
			continue
		}
		if s.StanceType == models.StanceFor {
			stats.ForCount++
		} else {
			stats.AgainstCount++
		}
	}
	for _, c := range m.comments {
		if c.TheoryID == id && !c.IsDeleted {
			stats.CommentCount++
		}
	}
	stats.ComputeInteractionScore()
	return stats
}

func (m *MemoryStore) ComplexityScores(ctx context.Context) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scores := make([]float64, 0, len(m.theories))
	for _, t := range m.theories {
		scores = append(scores, float64(t.ComplexityScore))
	}
	return scores, nil
}

func (m *MemoryStore) CountTheories(ctx context.Context, now time.Time) (*models.TheoryCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day, week := now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)
	c := &models.TheoryCounts{}
	for _, t := range m.theories {
		c.Total++
		switch t.ModerationStatus {
		case moderation.StatusSafe:
			c.Published++
		case moderation.StatusShadowbanned:
			c.Shadowbanned++
		}
		if t.IsMature {
			c.Mature++
		}
		if t.CreatedAt.After(day) {
			c.New24h++
		}
		if t.CreatedAt.After(week) {
			c.New7d++
		}
	}
	for _, e := range m.logs {
		if e.Action == moderation.ActionBlocked {
			c.Blocked++
		}
	}
	return c, nil
}

// users

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.ExternalUID == u.ExternalUID {
			return ErrAlreadyRegistered
		}
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Level == 0 {
		u.Level = 1
	}
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MemoryStore) findUser(match func(*models.User) bool) *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return copyUser(u)
		}
	}
	return nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.ID == id }), nil
}

func (m *MemoryStore) GetUserByExternalUID(ctx context.Context, uid string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.ExternalUID == uid }), nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.Username == username }), nil
}

func (m *MemoryStore) AddReputation(ctx context.Context, id uuid.UUID, delta int, levelFor func(int) int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, 0, reputation.ErrUserNotFound
	}
	u.ReputationScore += delta
	u.Level = levelFor(u.ReputationScore)
	return u.ReputationScore, u.Level, nil
}

func (m *MemoryStore) UpdateUserModeration(ctx context.Context, u *models.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return false, nil
	}
	cur.BannedStatus = u.BannedStatus
	cur.BannedUntil = u.BannedUntil
	cur.Shadowbanned = u.Shadowbanned
	cur.SuspendedUntil = u.SuspendedUntil
	cur.PostRestrictedUntil = u.PostRestrictedUntil
	return true, nil
}

func (m *MemoryStore) TouchLastActive(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastActiveAt = &at
	}
	return nil
}

func (m *MemoryStore) ListUsers(ctx context.Context, filter models.UserFilter, search string, limit, offset int, now time.Time) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search = strings.ToLower(search)
	var out []*models.User
	for _, u := range m.users {
		switch filter {
		case models.FilterBanned:
			if !u.BannedStatus {
				continue
			}
		case models.FilterShadowbanned:
			if !u.Shadowbanned {
				continue
			}
		case models.FilterSuspended:
			if !u.IsSuspended(now) {
				continue
			}
		case models.FilterAdmins:
			if !u.IsAdmin() {
				continue
			}
		}
		if search != "" && !strings.Contains(strings.ToLower(u.Username), search) {
			continue
		}
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (m *MemoryStore) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(query)
	var out []*models.User
	for _, u := range m.users {
		if !u.BannedStatus && strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReputationScore > out[j].ReputationScore })
	return page(out, limit, 0), nil
}

func (m *MemoryStore) GetUserProfile(ctx context.Context, username string) (*models.UserProfile, error) {
	u, _ := m.GetUserByUsername(ctx, username)
	if u == nil {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	p := &models.UserProfile{
		ID:              u.ID,
		Username:        u.Username,
		Level:           u.Level,
		ReputationScore: u.ReputationScore,
		CreatedAt:       u.CreatedAt,
	}
	for _, t := range m.theories {
		if t.UserID == u.ID && t.ModerationStatus == moderation.StatusSafe {
			p.TheoryCount++
		}
	}
	for k, v := range m.votes {
		if t, ok := m.theories[k[1]]; ok && t.UserID == u.ID && v.VoteType == models.Upvote {
			p.UpvotesReceived++
		}
	}
	for k := range m.stances {
		if k[0] == u.ID {
			p.StancesTaken++
		}
	}
	return p, nil
}

func (m *MemoryStore) RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Activity
	for _, t := range m.theories {
		if t.UserID == userID && t.ModerationStatus == moderation.StatusSafe {
			out = append(out, &models.Activity{
				Type:      models.ActivityTheory,
				TheoryID:  t.ID,
				Detail:    t.Title,
				CreatedAt: t.CreatedAt,
			})
		}
	}
	for k, st := range m.stances {
		if k[0] != userID {
			continue
		}
		t, ok := m.theories[k[1]]
		if !ok || t.ModerationStatus != moderation.StatusSafe {
			continue
		}
		out = append(out, &models.Activity{
			Type:       models.ActivityStance,
			TheoryID:   t.ID,
			Detail:     t.Title,
			StanceType: st.StanceType,
			CreatedAt:  st.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (m *MemoryStore) CountUsers(ctx context.Context, now time.Time) (*models.UserCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	day, week := now.Add(-24*time.Hour), now.Add(-7*24*time.Hour)
	c := &models.UserCounts{}
	for _, u := range m.users {
		c.Total++
		if u.BannedStatus {
			c.Banned++
		} else {
			c.Active++
		}
		if u.Shadowbanned {
			c.Shadowbanned++
		}
		if u.LastActiveAt != nil && u.LastActiveAt.After(day) {
			c.Active24h++
		}
		if u.LastActiveAt != nil && u.LastActiveAt.After(week) {
			c.Active7d++
		}
		if u.CreatedAt.After(day) {
			c.New24h++
		}
		if u.CreatedAt.After(week) {
			c.New7d++
		}
	}
	return c, nil
}

// moderation log

func (m *MemoryStore) AppendLog(ctx context.Context, e *moderation.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *MemoryStore) ListLogs(ctx context.Context, limit, offset int) ([]*moderation.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*moderation.LogEntry, 0, len(m.logs))
	for i := len(m.logs) - 1; i >= 0; i-- {
		cp := *m.logs[i]
		out = append(out, &cp)
	}
	return page(out, limit, offset), nil
}

// audit log

func (m *MemoryStore) RecordAction(ctx context.Context, a *models.AuditAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	cp := *a
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryStore) auditNewestFirst(keep func(*models.AuditAction) bool) []*models.AuditAction {
	var out []*models.AuditAction
	for i := len(m.audit) - 1; i >= 0; i-- {
		if !keep(m.audit[i]) {
			continue
		}
		cp := *m.audit[i]
		if admin, ok := m.users[cp.AdminID]; ok {
			cp.AdminUsername = admin.Username
		}
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) ListActions(ctx context.Context, limit, offset int) ([]*models.AuditAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.auditNewestFirst(func(*models.AuditAction) bool { return true })
	return page(out, limit, offset), nil
}

func (m *MemoryStore) ListActionsForTarget(ctx context.Context, targetID uuid.UUID, limit int) ([]*models.AuditAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.auditNewestFirst(func(a *models.AuditAction) bool { return a.TargetID == targetID })
	return page(out, limit, 0), nil
}

// interactions

func (m *MemoryStore) UpsertVote(ctx context.Context, v *models.Vote) (models.VoteType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{v.UserID, v.TheoryID}
	if cur, ok := m.votes[key]; ok {
		prev := cur.VoteType
		cur.VoteType = v.VoteType
		return prev, nil
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	cp := *v
	m.votes[key] = &cp
	return "", nil
}

func (m *MemoryStore) GetVote(ctx context.Context, userID, theoryID uuid.UUID) (*models.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.votes[[2]uuid.UUID{userID, theoryID}]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) GetStance(ctx context.Context, userID, theoryID uuid.UUID) (*models.Stance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stances[[2]uuid.UUID{userID, theoryID}]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) UpsertStance(ctx context.Context, s *models.Stance) (models.StanceType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{s.UserID, s.TheoryID}
	if cur, ok := m.stances[key]; ok {
		prev := cur.StanceType
		cur.StanceType = s.StanceType
		return prev, nil
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	m.stances[key] = &cp
	return "", nil
}

func (m *MemoryStore) CreateComment(ctx context.Context, c *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	cp.Author = nil
	m.comments[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetComment(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListComments(ctx context.Context, theoryID uuid.UUID, limit, offset int) ([]*models.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Comment
	for _, c := range m.comments {
		if c.TheoryID != theoryID || c.IsDeleted {
			continue
		}
		cp := *c
		if u, ok := m.users[c.UserID]; ok {
			cp.Author = &models.Author{ID: u.ID, Username: u.Username, Level: u.Level}
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (m *MemoryStore) SoftDeleteComment(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return false, nil
	}
	c.IsDeleted = true
	return true, nil
}

func (m *MemoryStore) CountInteractions(ctx context.Context) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.comments), len(m.votes), nil
}
