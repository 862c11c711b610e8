package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/theorogram/server/internal/moderation"
	"github.com/theorogram/server/internal/reputation"
	"github.com/theorogram/server/pkg/models"
)

func seedUser(t *testing.T, m *MemoryStore, username string) *models.User {
	t.Helper()
	u := &models.User{ExternalUID: "idp|" + username, Username: username}
	if err := m.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return u
}

func TestMemoryStore_ConcurrentReputation(t *testing.T) {
	m := NewMemoryStore()
	u := seedUser(t, m, "ada")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := m.AddReputation(context.Background(), u.ID, 10, reputation.LevelFor); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := m.GetUserByID(context.Background(), u.ID)
	if got.ReputationScore != 1000 {
		t.Errorf("expected score 1000, got %d", got.ReputationScore)
	}
	if got.Level != reputation.LevelFor(1000) {
		t.Errorf("expected level %d, got %d", reputation.LevelFor(1000), got.Level)
	}

	_, _, err := m.AddReputation(context.Background(), uuid.New(), 10, reputation.LevelFor)
	if !errors.Is(err, reputation.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateUserConflicts(t *testing.T) {
	m := NewMemoryStore()
	seedUser(t, m, "ada")

	err := m.CreateUser(context.Background(), &models.User{ExternalUID: "other", Username: "ada"})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
	err = m.CreateUser(context.Background(), &models.User{ExternalUID: "idp|ada", Username: "ada2"})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestMemoryStore_ConditionalStatusUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	theory := &moderation.Theory{UserID: uuid.New(), Title: "t", Body: "b", ModerationStatus: moderation.StatusSafe}
	if err := m.CreateTheory(ctx, theory); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, _ := m.UpdateModerationStatus(ctx, theory.ID, moderation.StatusSafe, moderation.StatusShadowbanned)
	if !ok {
		t.Error("expected first update to apply")
	}
	ok, _ = m.UpdateModerationStatus(ctx, theory.ID, moderation.StatusSafe, moderation.StatusShadowbanned)
	if ok {
		t.Error("expected second update to be a no-op")
	}

	safe, _ := m.ListByStatus(ctx, moderation.StatusSafe, 100, 0)
	if len(safe) != 0 {
		t.Errorf("expected no safe theories, got %d", len(safe))
	}
}

func TestMemoryStore_ListByStatusPaging(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		err := m.CreateTheory(ctx, &moderation.Theory{
			UserID:           uuid.New(),
			ModerationStatus: moderation.StatusSafe,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	first, _ := m.ListByStatus(ctx, moderation.StatusSafe, 2, 0)
	if len(first) != 2 || !first[0].CreatedAt.After(first[1].CreatedAt) {
		t.Errorf("expected two theories newest first, got %d", len(first))
	}
	last, _ := m.ListByStatus(ctx, moderation.StatusSafe, 2, 4)
	if len(last) != 1 {
		t.Errorf("expected one theory on last page, got %d", len(last))
	}
	none, _ := m.ListByStatus(ctx, moderation.StatusSafe, 2, 10)
	if len(none) != 0 {
		t.Errorf("expected empty page, got %d", len(none))
	}
}

func TestMemoryStore_VotesAndStats(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	author := seedUser(t, m, "author")
	voter := seedUser(t, m, "voter")
	theory := &moderation.Theory{UserID: author.ID, ModerationStatus: moderation.StatusSafe}
	m.CreateTheory(ctx, theory)

	prev, _ := m.UpsertVote(ctx, &models.Vote{UserID: voter.ID, TheoryID: theory.ID, VoteType: models.Upvote})
	if prev != "" {
		t.Errorf("expected new vote, got previous %q", prev)
	}
	prev, _ = m.UpsertVote(ctx, &models.Vote{UserID: voter.ID, TheoryID: theory.ID, VoteType: models.Downvote})
	if prev != models.Upvote {
		t.Errorf("expected previous upvote, got %q", prev)
	}

	prevStance, _ := m.UpsertStance(ctx, &models.Stance{UserID: voter.ID, TheoryID: theory.ID, StanceType: models.StanceFor})
	if prevStance != "" {
		t.Errorf("expected new stance, got %q", prevStance)
	}

	c := &models.Comment{TheoryID: theory.ID, UserID: voter.ID, Body: "Interesting idea"}
	m.CreateComment(ctx, c)
	hidden := &models.Comment{TheoryID: theory.ID, UserID: voter.ID, Body: "Rude comment"}
	m.CreateComment(ctx, hidden)
	m.SoftDeleteComment(ctx, hidden.ID)

	stats, _ := m.TheoryStats(ctx, theory.ID)
	if stats.Upvotes != 0 || stats.Downvotes != 1 || stats.ForCount != 1 || stats.CommentCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.InteractionScore != 3 {
		t.Errorf("expected interaction score 3, got %d", stats.InteractionScore)
	}

	comments, _ := m.ListComments(ctx, theory.ID, 50, 0)
	if len(comments) != 1 || comments[0].Author == nil || comments[0].Author.Username != "voter" {
		t.Errorf("unexpected comments: %+v", comments)
	}

	deleted, _ := m.DeleteTheory(ctx, theory.ID)
	if !deleted {
		t.Error("expected theory to be deleted")
	}
	stats, _ = m.TheoryStats(ctx, theory.ID)
	if stats.InteractionScore != 0 {
		t.Errorf("expected interactions to cascade, got %+v", stats)
	}
}

func TestMemoryStore_AuditNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	admin := seedUser(t, m, "admin")
	target := uuid.New()

	for _, action := range []string{"suspend", "unsuspend", "ban_user"} {
		m.RecordAction(ctx, &models.AuditAction{AdminID: admin.ID, ActionType: action, TargetType: models.TargetUser, TargetID: target})
	}
	m.RecordAction(ctx, &models.AuditAction{AdminID: admin.ID, ActionType: "flag_mature", TargetType: models.TargetTheory, TargetID: uuid.New()})

	history, _ := m.ListActionsForTarget(ctx, target, 50)
	if len(history) != 3 {
		t.Fatalf("expected 3 actions, got %d", len(history))
	}
	if history[0].ActionType != "ban_user" || history[0].AdminUsername != "admin" {
		t.Errorf("unexpected newest action: %+v", history[0])
	}

	all, _ := m.ListActions(ctx, 2, 0)
	if len(all) != 2 || all[0].ActionType != "flag_mature" {
		t.Errorf("unexpected listing: %+v", all)
	}
}

func TestMemoryStore_ListByAuthorSorts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	author := seedUser(t, m, "author")
	base := time.Now().Add(-time.Hour)

	// oldest has the most upvotes, middle has the most interactions
	var theories []*moderation.Theory
	for i, title := range []string{"oldest", "middle", "newest"} {
		th := &moderation.Theory{
			UserID:           author.ID,
			Title:            title,
			ModerationStatus: moderation.StatusSafe,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		m.CreateTheory(ctx, th)
		theories = append(theories, th)
	}
	hidden := &moderation.Theory{UserID: author.ID, Title: "hidden", ModerationStatus: moderation.StatusShadowbanned}
	m.CreateTheory(ctx, hidden)

	for i := 0; i < 2; i++ {
		u := seedUser(t, m, "up"+string(rune('a'+i)))
		m.UpsertVote(ctx, &models.Vote{UserID: u.ID, TheoryID: theories[0].ID, VoteType: models.Upvote})
	}
	for i := 0; i < 4; i++ {
		u := seedUser(t, m, "down"+string(rune('a'+i)))
		m.UpsertVote(ctx, &models.Vote{UserID: u.ID, TheoryID: theories[1].ID, VoteType: models.Downvote})
	}

	titles := func(order models.TheorySort) []string {
		out, err := m.ListByAuthor(ctx, author.ID, moderation.StatusSafe, order, 10, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var got []string
		for _, th := range out {
			got = append(got, th.Title)
		}
		return got
	}

	cases := map[models.TheorySort][]string{
		models.SortRecent:      {"newest", "middle", "oldest"},
		models.SortMostUpvoted: {"oldest", "newest", "middle"},
		models.SortPopular:     {"middle", "oldest", "newest"},
	}
	for order, want := range cases {
		got := titles(order)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %v, got %v", order, want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s: expected %v, got %v", order, want, got)
				break
			}
		}
	}
}

func TestMemoryStore_RecentActivity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	author := seedUser(t, m, "author")
	other := seedUser(t, m, "other")
	base := time.Now().Add(-time.Hour)

	own := &moderation.Theory{UserID: author.ID, Title: "Own", ModerationStatus: moderation.StatusSafe, CreatedAt: base}
	hidden := &moderation.Theory{UserID: author.ID, Title: "Hidden", ModerationStatus: moderation.StatusShadowbanned, CreatedAt: base.Add(time.Minute)}
	foreign := &moderation.Theory{UserID: other.ID, Title: "Foreign", ModerationStatus: moderation.StatusSafe, CreatedAt: base}
	for _, th := range []*moderation.Theory{own, hidden, foreign} {
		m.CreateTheory(ctx, th)
	}
	m.UpsertStance(ctx, &models.Stance{UserID: author.ID, TheoryID: foreign.ID, StanceType: models.StanceAgainst, CreatedAt: base.Add(2 * time.Minute)})
	m.UpsertStance(ctx, &models.Stance{UserID: author.ID, TheoryID: hidden.ID, StanceType: models.StanceFor, CreatedAt: base.Add(3 * time.Minute)})

	got, err := m.RecentActivity(ctx, author.ID, 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %+v", got)
	}
	if got[0].Type != models.ActivityStance || got[0].Detail != "Foreign" || got[0].StanceType != models.StanceAgainst {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].Type != models.ActivityTheory || got[1].TheoryID != own.ID {
		t.Errorf("unexpected second entry: %+v", got[1])
	}

	st, _ := m.GetStance(ctx, author.ID, foreign.ID)
	if st == nil || st.StanceType != models.StanceAgainst {
		t.Errorf("unexpected stance: %+v", st)
	}
	if st, _ := m.GetStance(ctx, other.ID, foreign.ID); st != nil {
		t.Errorf("expected no stance, got %+v", st)
	}
}
