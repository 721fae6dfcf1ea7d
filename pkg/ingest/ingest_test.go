package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/matchlink/pkg/catalog"
	"github.com/orneryd/matchlink/pkg/linker"
	"github.com/orneryd/matchlink/pkg/storage"
)

func setupCoordinator(t *testing.T) (*Coordinator, *storage.MemoryEngine) {
	t.Helper()
	store := storage.NewMemoryEngine()
	t.Cleanup(func() { store.Close() })
	lk := linker.New(store, catalog.Default(), nil)
	return New(store, lk, nil), store
}

func TestBulkInsert_PartialFailure(t *testing.T) {
	coord, store := setupCoordinator(t)

	// Item 2 has an unknown kind, so it fails while the rest land.
	events := []*storage.Event{
		{ID: "e1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 1_000},
		{ID: "e2", MatchID: "m1", Kind: storage.KindFoul, ClockMS: 2_000},
		{ID: "e3", MatchID: "m1", Kind: "throw_in", ClockMS: 3_000},
		{ID: "e4", MatchID: "m1", Kind: storage.KindSave, ClockMS: 4_000},
		{ID: "e5", MatchID: "m1", Kind: storage.KindCorner, ClockMS: 5_000},
	}

	res := coord.BulkInsert(context.Background(), events)

	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Index)
	assert.Equal(t, storage.EventID("e3"), res.Errors[0].EventID)
	assert.Contains(t, res.Errors[0].Error, "persist")

	count, err := store.EventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	_, err = store.Get("e3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBulkInsert_AssignsIDsAndTimestamps(t *testing.T) {
	coord, store := setupCoordinator(t)

	events := []*storage.Event{
		{MatchID: "m1", Kind: storage.KindGoal, ClockMS: 1_000},
		{MatchID: "m1", Kind: storage.KindFoul, ClockMS: 2_000},
	}

	res := coord.BulkInsert(context.Background(), events)
	require.Equal(t, 2, res.Processed)
	require.Zero(t, res.Failed)

	for _, ev := range events {
		assert.NotEmpty(t, ev.ID)
		stored, err := store.Get(ev.ID)
		require.NoError(t, err)
		assert.False(t, stored.CreatedAt.IsZero())
		assert.False(t, stored.UpdatedAt.IsZero())
	}
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestBulkInsert_LinksWithinBatch(t *testing.T) {
	coord, store := setupCoordinator(t)

	// The assist lands first, so the goal's AutoLink pass finds it.
	events := []*storage.Event{
		{ID: "assist-1", MatchID: "m1", Kind: storage.KindAssist, ClockMS: 8_000},
		{ID: "goal-1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 10_000},
	}

	res := coord.BulkInsert(context.Background(), events)
	require.Equal(t, 2, res.Processed)

	goal, err := store.Get("goal-1")
	require.NoError(t, err)
	assert.True(t, goal.HasLink("assist-1"))
	assist, err := store.Get("assist-1")
	require.NoError(t, err)
	assert.True(t, assist.HasLink("goal-1"))
}

func TestBulkInsert_NilItem(t *testing.T) {
	coord, _ := setupCoordinator(t)

	res := coord.BulkInsert(context.Background(), []*storage.Event{
		{ID: "e1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 1_000},
		nil,
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
}

func TestBulkInsert_CancelledContext(t *testing.T) {
	coord, _ := setupCoordinator(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := coord.BulkInsert(ctx, []*storage.Event{
		{ID: "e1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 1_000},
		{ID: "e2", MatchID: "m1", Kind: storage.KindFoul, ClockMS: 2_000},
	})

	assert.Zero(t, res.Processed)
	assert.Equal(t, 2, res.Failed)
}

func TestBulkUpdate(t *testing.T) {
	coord, store := setupCoordinator(t)

	created := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	_, err := store.Add(&storage.Event{
		ID: "e1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 1_000,
		Sentiment: 1, CreatedAt: created, UpdatedAt: created,
	})
	require.NoError(t, err)

	sentiment := 5
	notes := "corrected after replay"
	res := coord.BulkUpdate(context.Background(), []Update{
		{ID: "e1", Patch: storage.Patch{Sentiment: &sentiment, Notes: &notes}},
		{ID: "ghost", Patch: storage.Patch{Sentiment: &sentiment}},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, storage.EventID("ghost"), res.Errors[0].EventID)

	ev, err := store.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, 5, ev.Sentiment)
	assert.Equal(t, notes, ev.Notes)
	assert.True(t, ev.UpdatedAt.After(created), "update stamps UpdatedAt")
	assert.Equal(t, created, ev.CreatedAt, "CreatedAt is immutable")
}

func TestInsertOne(t *testing.T) {
	coord, store := setupCoordinator(t)
	ctx := context.Background()

	_, err := store.Add(&storage.Event{
		ID: "assist-1", MatchID: "m1", Kind: storage.KindAssist, ClockMS: 9_000,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)

	outcome, err := coord.InsertOne(ctx, &storage.Event{
		MatchID: "m1", Kind: storage.KindGoal, ClockMS: 10_000,
	})
	require.NoError(t, err)
	assert.True(t, outcome.OK())
	assert.Equal(t, 1, outcome.Linked)

	t.Run("nil event", func(t *testing.T) {
		_, err := coord.InsertOne(ctx, nil)
		assert.ErrorIs(t, err, storage.ErrInvalidEvent)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := coord.InsertOne(ctx, &storage.Event{
			ID: "assist-1", MatchID: "m1", Kind: storage.KindAssist, ClockMS: 9_000,
		})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	})
}
