package reputation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestGetLevelInfo(t *testing.T) {
	assert := assert.New(t)

	info := GetLevelInfo(0)
	assert.Equal(LevelInfo{Level: 1, Title: "INITIATE", CurrentRep: 0, RepForNextLevel: 100, Progress: 0}, info)

	info = GetLevelInfo(100)
	assert.Equal(2, info.Level)
	assert.Equal("THEORIST", info.Title)
	assert.Equal(400, info.RepForNextLevel)
	assert.Equal(0, info.Progress)

	info = GetLevelInfo(250)
	assert.Equal(2, info.Level)
	assert.Equal(50, info.Progress)

	info = GetLevelInfo(99)
	assert.Equal(1, info.Level)
	assert.Equal(99, info.Progress)

	info = GetLevelInfo(6000)
	assert.Equal(8, info.Level)
	assert.Equal("SOVEREIGN", info.Title)
	assert.Equal(7000, info.RepForNextLevel)

	info = GetLevelInfo(9000)
	assert.Equal(8, info.Level)
	assert.Equal(100, info.Progress)

	info = GetLevelInfo(-40)
	assert.Equal(1, info.Level)
	assert.Equal("INITIATE", info.Title)
	assert.Equal(-40, info.CurrentRep)
	assert.Equal(0, info.Progress)
}

func TestLevelMonotonic(t *testing.T) {
	prev := LevelFor(-100)
	for s := -100; s <= 8000; s += 7 {
		lvl := LevelFor(s)
		if lvl < prev {
			t.Fatalf("level decreased at score %d: %d < %d", s, lvl, prev)
		}
		info := GetLevelInfo(s)
		if info.Progress < 0 || info.Progress > 100 {
			t.Fatalf("progress out of range at score %d: %d", s, info.Progress)
		}
		prev = lvl
	}
}

func TestFormatReputation(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("999", FormatReputation(999))
	assert.Equal("1.0k", FormatReputation(1000))
	assert.Equal("12.4k", FormatReputation(12400))
	assert.Equal("-5", FormatReputation(-5))
}

func TestPoints(t *testing.T) {
	assert := assert.New(t)
	cases := map[ActionName]int{
		CreateTheory:         50,
		ReceiveUpvote:        10,
		ReceiveDownvote:      -5,
		ReceiveForStance:     15,
		ReceiveAgainstStance: 5,
		TakeStance:           5,
		PostComment:          3,
	}
	for action, want := range cases {
		got, ok := Points(action)
		assert.True(ok, action)
		assert.Equal(want, got, action)
	}
	_, ok := Points("NOPE")
	assert.False(ok)
}

type fakeStore struct {
	mu     sync.Mutex
	scores map[uuid.UUID]int
	levels map[uuid.UUID]int
	calls  int
	err    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{scores: map[uuid.UUID]int{}, levels: map[uuid.UUID]int{}}
}

func (f *fakeStore) AddReputation(ctx context.Context, userID uuid.UUID, delta int, levelFor func(int) int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, 0, f.err
	}
	if _, ok := f.scores[userID]; !ok {
		return 0, 0, ErrUserNotFound
	}
	f.scores[userID] += delta
	f.levels[userID] = levelFor(f.scores[userID])
	return f.scores[userID], f.levels[userID], nil
}

func testLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestLedgerApply(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	store := newFakeStore()
	user := uuid.New()
	store.scores[user] = 90
	ledger := NewLedger(store, testLogger())

	ledger.Apply(ctx, user, CreateTheory)
	assert.Equal(140, store.scores[user])
	assert.Equal(2, store.levels[user])

	ledger.Apply(ctx, user, ReceiveDownvote)
	assert.Equal(135, store.scores[user])
}

func TestLedgerZeroDeltaIsNoop(t *testing.T) {
	store := newFakeStore()
	ledger := NewLedger(store, testLogger())

	ledger.ApplyDelta(context.Background(), uuid.New(), 0)
	assert.Equal(t, 0, store.calls)
}

func TestLedgerSwallowsErrors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	logger, hook := test.NewNullLogger()

	store := newFakeStore()
	ledger := NewLedger(store, logger)

	// missing user
	ledger.ApplyDelta(ctx, uuid.New(), 10)
	assert.Equal(logrus.WarnLevel, hook.LastEntry().Level)

	store.err = errors.New("connection reset")
	user := uuid.New()
	store.scores[user] = 0
	ledger.ApplyDelta(ctx, user, 10)
	assert.Equal(logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(0, store.scores[user])
}

func TestLedgerConcurrentDeltas(t *testing.T) {
	store := newFakeStore()
	user := uuid.New()
	store.scores[user] = 0
	ledger := NewLedger(store, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledger.Apply(context.Background(), user, ReceiveUpvote)
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, store.scores[user])
	assert.Equal(t, LevelFor(500), store.levels[user])
}
