package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/davidhoung2/helpbot/internal/db"
	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Opts{DB: testDB(t)})
	require.NoError(t, err)
	return s
}

func rec(vehicle, task, date string) *models.Dispatch {
	return &models.Dispatch{
		VehicleID:    vehicle,
		TaskName:     task,
		DispatchDate: date,
		Commander:    "上士曾智偉",
		Driver:       "上士周宗暘",
	}
}

func mustCreate(t *testing.T, s *Store, d *models.Dispatch) uint {
	t.Helper()
	res, err := s.Upsert(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, Created, res.Status)
	return res.ID
}

func strp(s string) *string { return &s }

func TestNew_RequiresDB(t *testing.T) {
	_, err := New(Opts{})
	assert.ErrorContains(t, err, "db is required")
}

func TestUpsert_CreatedThenDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.Upsert(ctx, rec("軍K-20539", "9A觀測所佈覽", "2025-12-17"))
	require.NoError(t, err)
	assert.Equal(t, Created, first.Status)
	assert.NotZero(t, first.ID)

	again := rec("軍K-20539", "另一個任務", "2025-12-17")
	again.Commander = "someone else"
	second, err := s.Upsert(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, DuplicateSkipped, second.Status)
	assert.Equal(t, first.ID, second.ID)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "上士曾智偉", got.Commander, "duplicate must not modify the existing row")

	n, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpsert_KeyDerivation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	id := mustCreate(t, s, rec("軍K-20539", "9A觀測所佈覽", "2025-12-17"))
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "軍K-20539", got.EffectiveKey)

	id = mustCreate(t, s, rec("", "9A觀測所佈纜", "2025-12-17"))
	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "9A觀測所佈纜", got.EffectiveKey)
	assert.Equal(t, models.ValidationAccepted, got.Validation)
}

func TestUpsert_SameKeyOtherDate(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, rec("軍K-20539", "", "2025-12-17"))
	mustCreate(t, s, rec("軍K-20539", "", "2025-12-18"))
}

func TestUpsert_Incomplete(t *testing.T) {
	s := testStore(t)
	_, err := s.Upsert(context.Background(), rec(" ", "", "2025-12-17"))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestUpsert_ConcurrentSameDispatch(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const n = 16
	results := make([]UpsertResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Upsert(ctx, rec("軍K-20539", "9A觀測所佈覽", "2025-12-17"))
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		require.NoError(t, errs[i])
		if results[i].Status == Created {
			created++
		} else {
			assert.Equal(t, DuplicateSkipped, results[i].Status)
		}
	}
	assert.Equal(t, 1, created)

	count, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestEdit_Fields(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, rec("軍K-20539", "9A觀測所佈覽", "2025-12-17"))

	got, err := s.Edit(ctx, id, Changes{Commander: strp("中士王大明"), Driver: strp("")})
	require.NoError(t, err)
	assert.Equal(t, "中士王大明", got.Commander)
	assert.Equal(t, "", got.Driver)
	assert.Equal(t, "軍K-20539", got.EffectiveKey)

	reread, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "中士王大明", reread.Commander)
}

func TestEdit_RecomputesKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, rec("軍K-20539", "9A觀測所佈覽", "2025-12-17"))

	got, err := s.Edit(ctx, id, Changes{VehicleID: strp("")})
	require.NoError(t, err)
	assert.Equal(t, "9A觀測所佈覽", got.EffectiveKey)

	got, err = s.Edit(ctx, id, Changes{DispatchDate: strp("2025-12-18")})
	require.NoError(t, err)
	assert.Equal(t, "2025-12-18", got.DispatchDate)
}

func TestEdit_KeyCollisionLeavesBothUnchanged(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, rec("軍K-11111", "線巡", "2025-12-17"))
	b := mustCreate(t, s, rec("軍K-22222", "搶修", "2025-12-17"))

	beforeA, _ := s.Get(ctx, a)
	beforeB, _ := s.Get(ctx, b)

	_, err := s.Edit(ctx, a, Changes{VehicleID: strp("軍K-22222"), Commander: strp("x")})
	assert.ErrorIs(t, err, ErrKeyCollision)

	afterA, _ := s.Get(ctx, a)
	afterB, _ := s.Get(ctx, b)
	assert.Equal(t, beforeA, afterA)
	assert.Equal(t, beforeB, afterB)
}

func TestEdit_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Edit(context.Background(), 999, Changes{Commander: strp("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEdit_ClearingBothIdentifiers(t *testing.T) {
	s := testStore(t)
	id := mustCreate(t, s, rec("軍K-20539", "線巡", "2025-12-17"))
	_, err := s.Edit(context.Background(), id, Changes{VehicleID: strp(""), TaskName: strp("")})
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, rec("軍K-20539", "", "2025-12-17"))

	require.NoError(t, s.Delete(ctx, id))
	_, err := s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
}

func TestListActive_OrderAndFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := rec("軍K-3", "", "2025-12-18")
	c.ChannelID = "ops"
	mustCreate(t, s, c)
	b := rec("軍K-2", "", "2025-12-17")
	b.ChannelID = "ops"
	mustCreate(t, s, b)
	a := rec("軍K-1", "", "2025-12-17")
	a.ChannelID = "other"
	mustCreate(t, s, a)
	old := rec("軍K-0", "", "2025-12-01")
	mustCreate(t, s, old)

	all, err := s.ListActive(ctx, ListFilter{From: "2025-12-10"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"軍K-1", "軍K-2", "軍K-3"}, []string{all[0].EffectiveKey, all[1].EffectiveKey, all[2].EffectiveKey})

	ops, err := s.ListActive(ctx, ListFilter{From: "2025-12-10", ChannelID: "ops"})
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	everything, err := s.ListActive(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, everything, 4)
}

func TestPurgeExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, rec("軍K-1", "", "2025-12-16"))
	today := mustCreate(t, s, rec("軍K-2", "", "2025-12-17"))
	tomorrow := mustCreate(t, s, rec("軍K-3", "", "2025-12-18"))

	n, err := s.PurgeExpired(ctx, "2025-12-17")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.ListActive(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, today, left[0].ID)
	assert.Equal(t, tomorrow, left[1].ID)

	n, err = s.PurgeExpired(ctx, "2025-12-17")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelMatching(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, rec("", "三分隊線巡", "2025-11-11"))
	mustCreate(t, s, rec("軍K-20539", "搶修", "2025-11-11"))
	mustCreate(t, s, rec("", "三分隊線巡", "2025-11-12"))

	n, err := s.CancelMatching(ctx, "2025-11-11", "三分隊線巡")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), left)

	n, err = s.CancelMatching(ctx, "2025-11-11", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnavailable(t *testing.T) {
	gdb := testDB(t)
	s, err := New(Opts{DB: gdb})
	require.NoError(t, err)
	require.NoError(t, db.Close(gdb))

	_, err = s.Upsert(context.Background(), rec("軍K-1", "", "2025-12-17"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = s.ListActive(context.Background(), ListFilter{})
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "duplicate_skipped", DuplicateSkipped.String())
	assert.Equal(t, "key_collision", KeyCollision.String())
}
