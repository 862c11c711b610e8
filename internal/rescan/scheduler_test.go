package rescan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theorogram/server/internal/moderation"
)

type fakeRescanner struct {
	mu       sync.Mutex
	outcomes map[uuid.UUID]moderation.RescanOutcome
	errs     map[uuid.UUID]error
	panics   map[uuid.UUID]bool
	seen     []uuid.UUID
	block    chan struct{}
	work     time.Duration
	starts   []time.Time
	ends     []time.Time
}

func newFakeRescanner() *fakeRescanner {
	return &fakeRescanner{
		outcomes: map[uuid.UUID]moderation.RescanOutcome{},
		errs:     map[uuid.UUID]error{},
		panics:   map[uuid.UUID]bool{},
	}
}

func (f *fakeRescanner) Rescan(ctx context.Context, id uuid.UUID) (moderation.RescanOutcome, error) {
	if f.block != nil {
		<-f.block
	}
	if f.work > 0 {
		f.mu.Lock()
		f.starts = append(f.starts, time.Now())
		f.mu.Unlock()
		time.Sleep(f.work)
		defer func() {
			f.mu.Lock()
			f.ends = append(f.ends, time.Now())
			f.mu.Unlock()
		}()
	}
	f.mu.Lock()
	f.seen = append(f.seen, id)
	shouldPanic := f.panics[id]
	err := f.errs[id]
	outcome, ok := f.outcomes[id]
	f.mu.Unlock()

	if shouldPanic {
		panic("classifier exploded")
	}
	if err != nil {
		return moderation.OutcomeFailed, err
	}
	if !ok {
		outcome = moderation.OutcomeUnchanged
	}
	return outcome, nil
}

type fakeSource struct {
	theories []*moderation.Theory
	err      error
	limit    int
	status   moderation.PublicationState
}

func (f *fakeSource) ListByStatus(ctx context.Context, status moderation.PublicationState, limit, offset int) ([]*moderation.Theory, error) {
	f.limit = limit
	f.status = status
	if f.err != nil {
		return nil, f.err
	}
	if len(f.theories) > limit {
		return f.theories[:limit], nil
	}
	return f.theories, nil
}

func theoriesWithIDs(n int) ([]*moderation.Theory, []uuid.UUID) {
	var out []*moderation.Theory
	var ids []uuid.UUID
	for i := 0; i < n; i++ {
		id := uuid.New()
		ids = append(ids, id)
		out = append(out, &moderation.Theory{ID: id, ModerationStatus: moderation.StatusSafe})
	}
	return out, ids
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.ItemDelay = 0
	return cfg
}

func TestRunOnceCountsOutcomes(t *testing.T) {
	assert := assert.New(t)
	logger, _ := test.NewNullLogger()

	theories, ids := theoriesWithIDs(5)
	r := newFakeRescanner()
	r.outcomes[ids[0]] = moderation.OutcomeDemoted
	r.errs[ids[1]] = errors.New("classifier unavailable")
	r.panics[ids[2]] = true
	r.outcomes[ids[3]] = moderation.OutcomeSkipped

	src := &fakeSource{theories: theories}
	s := NewScheduler(r, src, nil, fastConfig(), logger)

	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(moderation.StatusSafe, src.status)
	assert.Equal(100, src.limit)
	assert.Equal(5, report.Scanned)
	assert.Equal(1, report.Demoted)
	assert.Equal(2, report.Failed)
	assert.Equal(1, report.Skipped)
	assert.Equal(1, report.Unchanged)
	assert.Equal(ids, r.seen)
	assert.Same(report, s.LastReport())
	assert.False(s.Running())
}

func TestRunOnceBatchLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	theories, _ := theoriesWithIDs(7)
	cfg := fastConfig()
	cfg.BatchSize = 3

	s := NewScheduler(newFakeRescanner(), &fakeSource{theories: theories}, nil, cfg, logger)
	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
}

func TestRunOnceFetchError(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := newFakeRescanner()
	s := NewScheduler(r, &fakeSource{err: errors.New("db down")}, nil, fastConfig(), logger)

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Empty(t, r.seen)

	// lock released, next run proceeds
	s.source = &fakeSource{}
	_, err = s.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestRunOnceNotReentrant(t *testing.T) {
	logger, _ := test.NewNullLogger()
	theories, _ := theoriesWithIDs(1)
	r := newFakeRescanner()
	r.block = make(chan struct{})
	s := NewScheduler(r, &fakeSource{theories: theories}, nil, fastConfig(), logger)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)
	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(r.block)
	require.NoError(t, <-done)
	assert.Len(t, r.seen, 1)
}

func TestRunOnceSkipsWhenLeaseHeld(t *testing.T) {
	logger, _ := test.NewNullLogger()
	locker := NewMemoryLocker()
	_, ok, err := locker.TryLock(context.Background(), lockKey, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	theories, _ := theoriesWithIDs(2)
	r := newFakeRescanner()
	s := NewScheduler(r, &fakeSource{theories: theories}, locker, fastConfig(), logger)

	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Empty(t, r.seen)
}

func TestRescanBatchPacing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := fastConfig()
	cfg.ItemDelay = 30 * time.Millisecond
	s := NewScheduler(newFakeRescanner(), &fakeSource{}, nil, cfg, logger)

	_, ids := theoriesWithIDs(3)
	start := time.Now()
	results := s.RescanBatch(context.Background(), ids)
	assert.Len(t, results, 3)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestRescanBatchDelayCountsFromItemEnd(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := fastConfig()
	cfg.ItemDelay = 40 * time.Millisecond
	r := newFakeRescanner()
	r.work = 60 * time.Millisecond
	s := NewScheduler(r, &fakeSource{}, nil, cfg, logger)

	_, ids := theoriesWithIDs(3)
	results := s.RescanBatch(context.Background(), ids)
	require.Len(t, results, 3)
	require.Len(t, r.starts, 3)
	require.Len(t, r.ends, 3)
	for i := 1; i < len(r.starts); i++ {
		// an item slower than the delay must not let the next one start straight away
		assert.GreaterOrEqual(t, r.starts[i].Sub(r.ends[i-1]), 35*time.Millisecond)
	}
}

func TestRescanBatchCancelled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := fastConfig()
	cfg.ItemDelay = time.Hour
	s := NewScheduler(newFakeRescanner(), &fakeSource{}, nil, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, ids := theoriesWithIDs(3)
	results := s.RescanBatch(ctx, ids)
	// first item passes the burst, the second waits on the limiter
	assert.Len(t, results, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := fastConfig()
	cfg.Interval = 10 * time.Millisecond
	theories, _ := theoriesWithIDs(1)
	r := newFakeRescanner()
	s := NewScheduler(r, &fakeSource{theories: theories}, nil, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.LastReport() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestMemoryLocker(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLocker()
	l.now = func() time.Time { return now }

	unlock, ok, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(ok)

	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(ok)

	// expired lease can be taken over
	now = now.Add(2 * time.Minute)
	unlock2, ok, _ := l.TryLock(ctx, "k", time.Minute)
	assert.True(ok)

	// stale unlock must not release the new holder
	require.NoError(t, unlock(ctx))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.False(ok)

	require.NoError(t, unlock2(ctx))
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(ok)
}
