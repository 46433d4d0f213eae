package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/journal-insights-api/internal/models"
	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

var storeNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func newTestBadger(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBadgerSnapshotStoreLatestAndSince(t *testing.T) {
	store := NewBadgerSnapshotStore(newTestBadger(t))
	ctx := context.Background()

	_, err := store.Latest(ctx)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	for _, age := range []time.Duration{72 * time.Hour, 24 * time.Hour, 0} {
		ts := storeNow.Add(-age)
		require.NoError(t, store.Save(ctx, &models.AnalyticsSnapshot{
			ID:         models.SnapshotID(ts),
			Timestamp:  ts,
			TotalWords: int(age.Hours()),
		}))
	}

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Timestamp.Equal(storeNow))

	recent, err := store.Since(ctx, storeNow.Add(-48*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 24, recent[0].TotalWords)
	assert.Equal(t, 0, recent[1].TotalWords)
}

func TestBadgerFlagStoreUpsertKeepsResources(t *testing.T) {
	store := NewBadgerFlagStore(newTestBadger(t))
	ctx := context.Background()
	key := models.FlagKey{StudentID: "s1", IssueType: models.IssueBullying}

	_, err := store.Get(ctx, key)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, store.Upsert(ctx, &models.StudentFlag{
		StudentID:         "s1",
		IssueType:         models.IssueBullying,
		FlagCount:         1,
		DateLastFlagged:   storeNow,
		ProcessedEntryIDs: []string{"e1"},
	}))

	delivered, err := store.MarkResourcesDelivered(ctx, key, 2, storeNow)
	require.NoError(t, err)
	assert.True(t, delivered.ResourcesDelivered)
	assert.Equal(t, 2, delivered.DeliveredResourcesCount)

	require.NoError(t, store.Upsert(ctx, &models.StudentFlag{
		StudentID:         "s1",
		IssueType:         models.IssueBullying,
		FlagCount:         2,
		DateLastFlagged:   storeNow,
		ProcessedEntryIDs: []string{"e1", "e2"},
	}))

	flag, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, flag.FlagCount)
	assert.Equal(t, []string{"e1", "e2"}, flag.ProcessedEntryIDs)
	assert.True(t, flag.ResourcesDelivered)
	assert.Equal(t, 2, flag.DeliveredResourcesCount)
	require.NotNil(t, flag.ResourcesDeliveredAt)
	assert.True(t, flag.ResourcesDeliveredAt.Equal(storeNow))

	_, err = store.MarkResourcesDelivered(ctx, models.FlagKey{StudentID: "nobody", IssueType: models.IssueBullying}, 1, storeNow)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestBadgerFlagStoreListAndClear(t *testing.T) {
	store := NewBadgerFlagStore(newTestBadger(t))
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, &models.StudentFlag{StudentID: "s1", ClassID: "C1", IssueType: models.IssueDepression, DateLastFlagged: storeNow.Add(-time.Hour)}))
	require.NoError(t, store.Upsert(ctx, &models.StudentFlag{StudentID: "s2", ClassID: "C1", IssueType: models.IssueDepression, DateLastFlagged: storeNow}))
	require.NoError(t, store.Upsert(ctx, &models.StudentFlag{StudentID: "s3", ClassID: "C2", IssueType: models.IssueIntroversion, DateLastFlagged: storeNow}))

	flags, err := store.List(ctx, models.FlagFilter{ScopeFilter: models.ScopeFilter{ClassID: "C1"}})
	require.NoError(t, err)
	require.Len(t, flags, 2)
	assert.Equal(t, "s2", flags[0].StudentID)
	assert.Equal(t, "s1", flags[1].StudentID)

	delivered := false
	flags, err = store.List(ctx, models.FlagFilter{IssueType: models.IssueIntroversion, ResourcesDelivered: &delivered})
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "s3", flags[0].StudentID)

	removed, err := store.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	flags, err = store.List(ctx, models.FlagFilter{})
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestBadgerCursorStore(t *testing.T) {
	store := NewBadgerCursorStore(newTestBadger(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "journal_entries")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, store.Advance(ctx, models.AnalysisCursor{Source: "journal_entries", LastEntryAt: storeNow, LastEntryID: "e9"}))

	cursor, err := store.Get(ctx, "journal_entries")
	require.NoError(t, err)
	assert.Equal(t, "e9", cursor.LastEntryID)
	assert.True(t, cursor.LastEntryAt.Equal(storeNow))
	assert.False(t, cursor.UpdatedAt.IsZero())
}
