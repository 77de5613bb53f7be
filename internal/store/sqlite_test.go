package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-sync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testListing(id string, price int64, seen time.Time) model.Listing {
	return model.Listing{
		ID:            id,
		Unit:          "Windsor",
		Region:        "ON",
		Country:       "CA",
		Currency:      "CAD",
		Status:        model.StatusJustListed,
		Provider:      "alpha",
		Price:         model.Int64Ptr(price),
		PriceDisplay:  "$500,000",
		Address:       model.Address{Street: "1 Main St", City: "Windsor", Region: "ON"},
		Beds:          model.IntPtr(3),
		Geo:           &model.GeoPoint{Lat: 42.3, Lng: -83.0},
		Media:         []string{"https://img.example.com/1.jpg"},
		RunID:         "run-1",
		FirstSeenAt:   seen,
		LastSeenAt:    seen,
		LastUpdatedAt: seen,
	}
}

// --- Listings ---

func TestSQLite_UpsertAndGetListings(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.UpsertListings(ctx, []model.Listing{
		testListing("a", 500000, now),
		testListing("b", 610000, now),
	}))

	got, err := st.GetListings(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got["a"]
	assert.Equal(t, model.StatusJustListed, a.Status)
	require.NotNil(t, a.Price)
	assert.Equal(t, int64(500000), *a.Price)
	assert.Nil(t, a.PreviousPrice)
	assert.Nil(t, a.Baths)
	require.NotNil(t, a.Beds)
	assert.Equal(t, 3, *a.Beds)
	require.NotNil(t, a.Geo)
	assert.InDelta(t, 42.3, a.Geo.Lat, 1e-9)
	assert.Equal(t, []string{"https://img.example.com/1.jpg"}, a.Media)
	assert.True(t, now.Equal(a.FirstSeenAt))
}

func TestSQLite_GetListings_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetListings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_Upsert_KeepsStoredFirstSeen(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(48 * time.Hour)

	require.NoError(t, st.UpsertListings(ctx, []model.Listing{testListing("a", 500000, first)}))

	updated := testListing("a", 480000, later)
	updated.Status = model.StatusPriceChanged
	updated.PreviousPrice = model.Int64Ptr(500000)
	updated.PriceChangedAt = &later
	require.NoError(t, st.UpsertListings(ctx, []model.Listing{updated}))

	got, err := st.GetListings(ctx, []string{"a"})
	require.NoError(t, err)
	a := got["a"]
	assert.True(t, first.Equal(a.FirstSeenAt), "first_seen_at must not move")
	assert.True(t, later.Equal(a.LastSeenAt))
	assert.Equal(t, model.StatusPriceChanged, a.Status)
	require.NotNil(t, a.PreviousPrice)
	assert.Equal(t, int64(500000), *a.PreviousPrice)
	require.NotNil(t, a.PriceChangedAt)
	assert.True(t, later.Equal(*a.PriceChangedAt))
}

func TestSQLite_ListListings_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runStart := old.Add(24 * time.Hour)
	fresh := runStart.Add(time.Hour)

	stale := testListing("stale", 1, old)
	seen := testListing("seen", 2, fresh)
	sold := testListing("sold", 3, old)
	sold.Status = model.StatusSold
	other := testListing("other", 4, old)
	other.Unit = "Toronto"

	require.NoError(t, st.UpsertListings(ctx, []model.Listing{stale, seen, sold, other}))

	got, err := st.ListListings(ctx, ListingFilter{
		Unit:       "Windsor",
		Statuses:   model.LiveStatuses(),
		SeenBefore: runStart,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].ID)

	all, err := st.ListListings(ctx, ListingFilter{Unit: "Windsor", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	run := &model.Run{ID: "run-1", Region: "ON", Units: []string{"Windsor", "London"}, StartedAt: start}
	require.NoError(t, st.CreateRun(ctx, run))
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, got.Status)
	assert.Equal(t, []string{"Windsor", "London"}, got.Units)
	assert.Nil(t, got.CompletedAt)

	done := start.Add(90 * time.Second)
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &done
	run.Duration = 90 * time.Second
	run.Counts = model.RunCounts{New: 3, Sold: 1}
	run.Details = []model.UnitReport{{Unit: "Windsor", Listings: 3, Complete: true}}
	require.NoError(t, st.CompleteRun(ctx, run))

	got, err = st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.Counts.New)
	assert.Equal(t, 90*time.Second, got.Duration)
	require.Len(t, got.Details, 1)
	assert.Equal(t, "Windsor", got.Details[0].Unit)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
}

func TestSQLite_CompleteRun_Immutable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &model.Run{ID: "run-1", StartedAt: time.Now().UTC()}
	require.NoError(t, st.CreateRun(ctx, run))
	run.Status = model.RunStatusCompleted
	require.NoError(t, st.CompleteRun(ctx, run))

	run.Status = model.RunStatusFailed
	run.Counts.Errors = 9
	err := st.CompleteRun(ctx, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunFinalized)

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.Equal(t, 0, got.Counts.Errors)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, st.CreateRun(ctx, &model.Run{ID: id, Region: "ON", StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}
	require.NoError(t, st.CreateRun(ctx, &model.Run{ID: "r4", Region: "BC", StartedAt: base}))

	runs, err := st.ListRuns(ctx, RunFilter{Region: "ON", Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)

	runs, err = st.ListRuns(ctx, RunFilter{Status: model.RunStatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, runs)
}
