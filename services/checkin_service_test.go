package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/store"
)

// memStore is a map-backed RecordStore with the same version semantics as the real backends.
type memStore struct {
	mu        sync.Mutex
	records   map[string]*models.CheckInRecord
	conflicts int
	fetchErr  error
	upsertErr error
	upserts   int
	blockCtx  bool
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*models.CheckInRecord{}}
}

func (m *memStore) Fetch(ctx context.Context, userID string) (*models.CheckInRecord, error) {
	if m.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	rec, ok := m.records[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) Upsert(ctx context.Context, rec *models.CheckInRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return store.ErrConflict
	}
	cur, ok := m.records[rec.UserID]
	if !rec.Persisted() {
		if ok {
			return store.ErrConflict
		}
	} else if !ok || cur.Version != rec.Version {
		return store.ErrConflict
	}
	rec.Version++
	rec.MarkPersisted()
	m.records[rec.UserID] = rec.Clone()
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestPerformCheckIn_FirstThenDuplicateThenNextDay(t *testing.T) {
	st := newMemStore()
	day1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	clock := day1
	svc := NewCheckInService(st, WithClock(func() time.Time { return clock }))

	res, err := svc.PerformCheckIn(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFirstCheckIn, res.Outcome)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Streak)
	assert.False(t, res.AlreadyCheckedIn)

	clock = day1.Add(3 * time.Hour)
	res, err = svc.PerformCheckIn(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCheckedIn, res.Outcome)
	assert.True(t, res.AlreadyCheckedIn)
	assert.Equal(t, 1, res.Count)
	assert.True(t, day1.Equal(res.LastCheckIn))

	clock = day1.Add(24 * time.Hour)
	res, err = svc.PerformCheckIn(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStreakContinued, res.Outcome)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 2, res.Streak)

	stored := st.records["123"]
	assert.Len(t, stored.History, 3)
	assert.Equal(t, int64(3), stored.Version)
}

func TestPerformCheckIn_RetriesOnceOnConflict(t *testing.T) {
	st := newMemStore()
	st.conflicts = 1
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewCheckInService(st,
		WithClock(fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))),
		WithLogger(zap.New(core)),
	)

	res, err := svc.PerformCheckIn(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, st.upserts)
	assert.Equal(t, 1, logs.FilterMessage("check-in write conflicted").Len())
}

func TestPerformCheckIn_SecondConflictSurfaces(t *testing.T) {
	st := newMemStore()
	st.conflicts = 2
	svc := NewCheckInService(st, WithClock(fixedClock(time.Now())))

	res, err := svc.PerformCheckIn(context.Background(), "u1")

	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 2, st.upserts)
	assert.Empty(t, st.records)
}

func TestPerformCheckIn_StoreErrorsAreTyped(t *testing.T) {
	boom := errors.New("connection refused")

	cases := []struct {
		name      string
		fetchErr  error
		upsertErr error
		want      Kind
	}{
		{name: "fetch unavailable", fetchErr: boom, want: KindStoreUnavailable},
		{name: "fetch corrupt", fetchErr: store.ErrCorrupt, want: KindCorruptRecord},
		{name: "upsert unavailable", upsertErr: boom, want: KindStoreUnavailable},
		{name: "upsert deadline", upsertErr: context.DeadlineExceeded, want: KindTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newMemStore()
			st.fetchErr = tc.fetchErr
			st.upsertErr = tc.upsertErr
			svc := NewCheckInService(st)

			res, err := svc.PerformCheckIn(context.Background(), "u1")

			assert.Nil(t, res)
			assert.Equal(t, tc.want, KindOf(err))
		})
	}
}

func TestPerformCheckIn_TimeoutOnSlowStore(t *testing.T) {
	st := newMemStore()
	st.blockCtx = true
	svc := NewCheckInService(st, WithTimeout(20*time.Millisecond))

	_, err := svc.PerformCheckIn(context.Background(), "u1")

	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, st.upserts)
}

func TestPerformCheckIn_EmptyUserID(t *testing.T) {
	svc := NewCheckInService(newMemStore())

	_, err := svc.PerformCheckIn(context.Background(), "")

	assert.Equal(t, KindMalformedInput, KindOf(err))
}

func TestPerformCheckIn_WriteHookRunsOnlyOnSuccess(t *testing.T) {
	st := newMemStore()
	var hooked []string
	svc := NewCheckInService(st, WithWriteHook(func(id string) { hooked = append(hooked, id) }))

	_, err := svc.PerformCheckIn(context.Background(), "u1")
	require.NoError(t, err)

	st.upsertErr = errors.New("down")
	_, err = svc.PerformCheckIn(context.Background(), "u1")
	require.Error(t, err)

	assert.Equal(t, []string{"u1"}, hooked)
}

type countingLocker struct {
	mu       sync.Mutex
	locked   []string
	released int
	err      error
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

func TestPerformCheckIn_UsesPerUserLock(t *testing.T) {
	locker := &countingLocker{}
	svc := NewCheckInService(newMemStore(), WithLocker(locker))

	_, err := svc.PerformCheckIn(context.Background(), "u9")

	require.NoError(t, err)
	assert.Equal(t, []string{"checkin:u9"}, locker.locked)
	assert.Equal(t, 1, locker.released)
}

func TestPerformCheckIn_LockWaitTimesOut(t *testing.T) {
	locker := &countingLocker{err: context.DeadlineExceeded}
	st := newMemStore()
	svc := NewCheckInService(st, WithLocker(locker))

	_, err := svc.PerformCheckIn(context.Background(), "u9")

	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Zero(t, st.upserts)
}

func TestPerformCheckIn_ConcurrentSameUserNeverLosesWrites(t *testing.T) {
	st := newMemStore()
	day := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := NewCheckInService(st, WithClock(fixedClock(day)), WithLocker(&mutexLocker{}))

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PerformCheckIn(context.Background(), "u1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec := st.records["u1"]
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, 1, rec.Streak)
	assert.Len(t, rec.History, n)
}

type mutexLocker struct{ mu sync.Mutex }

func (l *mutexLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}
