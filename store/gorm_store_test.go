package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/checkin/models"
)

func newTestGormStore(t *testing.T, migrate bool) (*GormStore, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewGormStore(db)
	if migrate {
		existed, err := s.EnsureTable(context.Background())
		require.NoError(t, err)
		require.False(t, existed)
	}
	return s, db
}

func utc(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestGormStore_FetchMissing(t *testing.T) {
	s, _ := newTestGormStore(t, true)

	_, err := s.Fetch(context.Background(), "nobody")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormStore_InsertThenUpdate(t *testing.T) {
	s, _ := newTestGormStore(t, true)
	ctx := context.Background()
	at := utc(2024, 1, 1, 10)

	rec := &models.CheckInRecord{
		UserID:      "u1",
		LastCheckIn: &at,
		Count:       1,
		Streak:      1,
		History:     datatypes.JSONSlice[time.Time]{at},
	}
	require.NoError(t, s.Upsert(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "u1", rec.ID)

	got, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.Persisted())
	assert.Equal(t, 1, got.Count)
	require.Len(t, got.History, 1)
	assert.True(t, at.Equal(got.History[0]))

	next := utc(2024, 1, 2, 9)
	got.LastCheckIn = &next
	got.Count = 2
	got.Streak = 2
	got.History = append(got.History, next)
	require.NoError(t, s.Upsert(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	again, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.Streak)
	assert.Len(t, again.History, 2)
	assert.Equal(t, int64(2), again.Version)
}

func TestGormStore_StaleVersionConflicts(t *testing.T) {
	s, _ := newTestGormStore(t, true)
	ctx := context.Background()
	at := utc(2024, 1, 1, 10)
	require.NoError(t, s.Upsert(ctx, &models.CheckInRecord{UserID: "u1", LastCheckIn: &at, Count: 1, Streak: 1}))

	a, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	b, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)

	a.Count = 2
	require.NoError(t, s.Upsert(ctx, a))

	b.Count = 5
	assert.ErrorIs(t, s.Upsert(ctx, b), ErrConflict)

	final, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, final.Count)
}

func TestGormStore_DuplicateInsertConflicts(t *testing.T) {
	s, _ := newTestGormStore(t, true)
	ctx := context.Background()
	at := utc(2024, 1, 1, 10)
	require.NoError(t, s.Upsert(ctx, &models.CheckInRecord{UserID: "u1", LastCheckIn: &at, Count: 1, Streak: 1}))

	err := s.Upsert(ctx, &models.CheckInRecord{UserID: "u1", LastCheckIn: &at, Count: 1, Streak: 1})

	assert.ErrorIs(t, err, ErrConflict)
}

func TestGormStore_CorruptHistory(t *testing.T) {
	s, db := newTestGormStore(t, true)
	require.NoError(t, db.Exec(
		"INSERT INTO users (id, userid, count, streak, checkinhistory, version) VALUES (?, ?, ?, ?, ?, ?)",
		"x", "broken", 1, 1, "not json", 1,
	).Error)

	_, err := s.Fetch(context.Background(), "broken")

	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestGormStore_ListUsersOrdersByLastCheckIn(t *testing.T) {
	s, _ := newTestGormStore(t, true)
	ctx := context.Background()

	for i, id := range []string{"old", "new", "mid"} {
		at := utc(2024, 1, []int{1, 5, 3}[i], 8)
		require.NoError(t, s.Upsert(ctx, &models.CheckInRecord{UserID: id, LastCheckIn: &at, Count: 1, Streak: 1}))
	}
	require.NoError(t, s.Upsert(ctx, &models.CheckInRecord{UserID: "never"}))

	page1, total, err := s.ListUsers(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, page1, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{page1[0].UserID, page1[1].UserID, page1[2].UserID})

	page2, _, err := s.ListUsers(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "never", page2[0].UserID)
}

func TestGormStore_InsertRowsThenCheckIn(t *testing.T) {
	s, _ := newTestGormStore(t, true)
	ctx := context.Background()

	n, err := s.InsertRows(ctx, []map[string]any{
		{"id": "r1", "userid": "imported", "count": int64(9), "streak": int64(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.Fetch(ctx, "imported")
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Count)
	assert.Nil(t, rec.LastCheckIn)
	assert.Equal(t, int64(0), rec.Version)

	at := utc(2024, 1, 1, 10)
	rec.LastCheckIn = &at
	rec.Count = 1
	rec.Streak = 1
	require.NoError(t, s.Upsert(ctx, rec), "imported rows are updated, never re-inserted")
	assert.Equal(t, int64(1), rec.Version)
}

func TestGormStore_InsertRowsWithoutTable(t *testing.T) {
	s, _ := newTestGormStore(t, false)

	ok, err := s.TableExists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.InsertRows(context.Background(), []map[string]any{{"userid": "u1"}})
	assert.ErrorIs(t, err, ErrTableMissing)
}

func TestGormStore_EnsureTableIsIdempotent(t *testing.T) {
	s, _ := newTestGormStore(t, true)

	existed, err := s.EnsureTable(context.Background())

	require.NoError(t, err)
	assert.True(t, existed)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestGormStore_WrongHistoryTypeIsCorrupt(t *testing.T) {
	s, db := newTestGormStore(t, true)
	require.NoError(t, db.Exec(
		"INSERT INTO users (id, userid, count, streak, checkinhistory, version) VALUES (?, ?, ?, ?, ?, ?)",
		"y", "typed", 1, 1, `{"a":1}`, 1,
	).Error)

	_, err := s.Fetch(context.Background(), "typed")

	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestIsScanError(t *testing.T) {
	var decoded []time.Time
	syntaxErr := json.Unmarshal([]byte("not json"), &decoded)
	typeErr := json.Unmarshal([]byte(`{"a":1}`), &decoded)

	assert.True(t, isScanError(fmt.Errorf("sql: column 5: %w", syntaxErr)))
	assert.True(t, isScanError(fmt.Errorf("wrapped: %w", typeErr)))
	assert.True(t, isScanError(errors.New(`sql: Scan error on column index 5, name "checkinhistory"`)))
	assert.False(t, isScanError(errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")))
}

func TestGormStore_EnsureTableAddsVersionColumn(t *testing.T) {
	s, db := newTestGormStore(t, false)
	ctx := context.Background()
	require.NoError(t, db.Exec(`CREATE TABLE users (
		id TEXT PRIMARY KEY, userid TEXT NOT NULL UNIQUE, lastcheckin DATETIME,
		count INTEGER DEFAULT 0, streak INTEGER DEFAULT 0, checkinhistory TEXT,
		created_at DATETIME, updated_at DATETIME)`).Error)
	require.NoError(t, db.Exec(
		"INSERT INTO users (id, userid, count, streak, checkinhistory) VALUES (?, ?, ?, ?, ?)",
		"old", "legacy", 4, 0, "[]",
	).Error)

	existed, err := s.EnsureTable(ctx)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.True(t, db.Migrator().HasColumn(&models.CheckInRecord{}, "version"))

	rec, err := s.Fetch(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.Version)

	at := utc(2024, 1, 1, 10)
	rec.LastCheckIn = &at
	rec.Count = 5
	rec.Streak = 1
	require.NoError(t, s.Upsert(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)
}
