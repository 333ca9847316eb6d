package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendsync/internal/mirror"
	"attendsync/internal/streak"
)

// countingStore wraps a real store and can be told to fail.
type countingStore struct {
	*mirror.Store
	mu    sync.Mutex
	calls int
	fail  error
}

func (c *countingStore) Update(ctx context.Context, userID string, fn func(*mirror.Document) error) (mirror.Document, error) {
	c.mu.Lock()
	c.calls++
	fail := c.fail
	c.mu.Unlock()
	if fail != nil {
		return mirror.Document{}, fail
	}
	return c.Store.Update(ctx, userID, fn)
}

func (c *countingStore) setFail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestBuffer(t *testing.T) (*Buffer, *countingStore, *mirror.MemoryBackend) {
	t.Helper()
	mem := mirror.NewMemoryBackend()
	store := &countingStore{Store: mirror.NewStore(mem, 3)}
	return New(store, Config{Debounce: time.Second, Interval: 10 * time.Millisecond}), store, mem
}

func TestMerge(t *testing.T) {
	p1 := &streak.Patch{CurrentStreak: new(int)}
	op1 := streak.Op{Kind: streak.OpAdd, Day: 10, Today: 10}
	op2 := streak.Op{Kind: streak.OpRemove, Day: 10, Today: 10}

	older := PendingWrite{
		UserID: "u1", AmplixDelta: 10, Urgent: true,
		Summary:     []mirror.CourseEntry{{CourseID: "a", AttendedClasses: 1}},
		StreakOps:   []streak.Op{op1},
		StreakPatch: p1,
	}
	newer := PendingWrite{
		UserID: "u1", AmplixDelta: -3,
		Summary:   []mirror.CourseEntry{{CourseID: "a", AttendedClasses: 2}},
		StreakOps: []streak.Op{op2},
	}

	got := Merge(older, newer)

	assert.Equal(t, 7, got.AmplixDelta)
	assert.True(t, got.Urgent)
	assert.Equal(t, 2, got.Summary[0].AttendedClasses)
	assert.Equal(t, []streak.Op{op1, op2}, got.StreakOps)
	assert.Same(t, p1, got.StreakPatch)
}

func TestMerge_KeepsOlderSummaryWhenNewerHasNone(t *testing.T) {
	older := PendingWrite{UserID: "u1", Summary: []mirror.CourseEntry{{CourseID: "a"}}}
	got := Merge(older, PendingWrite{UserID: "u1", AmplixDelta: 1})
	require.Len(t, got.Summary, 1)
	assert.False(t, got.Urgent)
}

func TestFlushNow_TwoEnqueuesOneTransaction(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	ctx := context.Background()

	b.Enqueue(PendingWrite{UserID: "u1", AmplixDelta: 10})
	b.Enqueue(PendingWrite{UserID: "u1", AmplixDelta: 5, Urgent: true})
	require.Equal(t, 1, b.Len())

	require.NoError(t, b.FlushNow(ctx, "u1"))

	assert.Equal(t, 1, store.count())
	assert.Equal(t, 0, b.Len())
	doc, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 15, doc.Amplix)
	assert.Equal(t, 15, doc.CurrentWeekAmplixGained)
}

func TestFlushNow_AppliesStreakAndSummary(t *testing.T) {
	b, store, mem := newTestBuffer(t)
	ctx := context.Background()
	mem.Put("u1", mirror.Document{
		StreakHistory:   mirror.History{100, 101},
		CurrentStreak:   2,
		LongestStreak:   2,
		CoursesEnrolled: []mirror.CourseEntry{{CourseID: "cs101", AttendedClasses: 3, TotalClasses: 5}},
	})

	b.Enqueue(PendingWrite{
		UserID:      "u1",
		AmplixDelta: 10,
		StreakOps:   []streak.Op{{Kind: streak.OpAdd, Day: 102, Today: 102}},
		Summary:     []mirror.CourseEntry{{CourseID: "cs101", AttendedClasses: 4, TotalClasses: 5}},
	})
	require.NoError(t, b.FlushNow(ctx, "u1"))

	doc, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, mirror.History{100, 101, 102}, doc.StreakHistory)
	assert.Equal(t, 3, doc.CurrentStreak)
	assert.Equal(t, 3, doc.LongestStreak)
	assert.Equal(t, 4, doc.CoursesEnrolled[0].AttendedClasses)
}

func TestFlushNow_ReplaysAgainstFreshDocument(t *testing.T) {
	b, store, mem := newTestBuffer(t)
	ctx := context.Background()

	b.Enqueue(PendingWrite{UserID: "u1", StreakOps: []streak.Op{{Kind: streak.OpAdd, Day: 102, Today: 102}}})
	// Someone else wrote the previous day after the op was recorded.
	mem.Put("u1", mirror.Document{StreakHistory: mirror.History{101}, CurrentStreak: 1, LongestStreak: 1})

	require.NoError(t, b.FlushNow(ctx, "u1"))

	doc, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.CurrentStreak)
}

func TestFlushNow_FailureRequeues(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	ctx := context.Background()
	boom := errors.New("db down")
	store.setFail(boom)

	b.Enqueue(PendingWrite{UserID: "u1", AmplixDelta: 10, Urgent: true})
	err := b.FlushNow(ctx, "u1")
	require.ErrorIs(t, err, boom)

	pending, ok := b.Pending("u1")
	require.True(t, ok)
	assert.Equal(t, 10, pending.AmplixDelta)

	// A write that arrives while the first is waiting merges behind it.
	b.Enqueue(PendingWrite{UserID: "u1", AmplixDelta: 2})
	store.setFail(nil)
	require.NoError(t, b.FlushNow(ctx, "u1"))

	doc, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 12, doc.Amplix)
}

func TestFlushNow_NothingPending(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	require.NoError(t, b.FlushNow(context.Background(), "ghost"))
	assert.Equal(t, 0, store.count())
}

func TestFlushNow_EmptyWriteSkipsTransaction(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	b.Enqueue(PendingWrite{UserID: "u1"})
	require.NoError(t, b.FlushNow(context.Background(), "u1"))
	assert.Equal(t, 0, store.count())
	assert.Equal(t, 0, b.Len())
}

func TestFlushDue_RespectsDebounce(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	b.Enqueue(PendingWrite{UserID: "old", AmplixDelta: 1})
	now = now.Add(600 * time.Millisecond)
	b.Enqueue(PendingWrite{UserID: "new", AmplixDelta: 1})
	now = now.Add(500 * time.Millisecond)

	require.NoError(t, b.FlushDue(ctx))

	assert.Equal(t, 1, store.count())
	_, stillOld := b.Pending("old")
	_, stillNew := b.Pending("new")
	assert.False(t, stillOld)
	assert.True(t, stillNew)
}

func TestFlushAll(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	for _, id := range []string{"a", "b", "c"} {
		b.Enqueue(PendingWrite{UserID: id, AmplixDelta: 1})
	}
	require.NoError(t, b.FlushAll(context.Background()))
	assert.Equal(t, 3, store.count())
	assert.Equal(t, 0, b.Len())
}

func TestRun_FlushesInBackground(t *testing.T) {
	mem := mirror.NewMemoryBackend()
	store := mirror.NewStore(mem, 3)
	b := New(store, Config{Debounce: time.Millisecond, Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.Enqueue(PendingWrite{UserID: "u1", AmplixDelta: 4})
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	doc, err := store.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, doc.Amplix)
}

func TestFlushNow_ConcurrentCallersSeePersistedWrites(t *testing.T) {
	b, store, _ := newTestBuffer(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Enqueue(PendingWrite{UserID: "u1", AmplixDelta: 1, Urgent: true})
			assert.NoError(t, b.FlushNow(ctx, "u1"))
		}()
	}
	wg.Wait()

	doc, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 20, doc.Amplix)
	assert.LessOrEqual(t, store.count(), 20)
}
