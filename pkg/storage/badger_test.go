package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadger(t *testing.T) *BadgerEngine {
	t.Helper()
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_AddGetUpdate(t *testing.T) {
	engine := setupBadger(t)

	_, err := engine.Add(testEvent("e1", "m1", KindGoal, 10_000))
	require.NoError(t, err)

	_, err = engine.Add(testEvent("e1", "m1", KindGoal, 10_000))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := engine.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, KindGoal, got.Kind)

	sentiment := -1
	require.NoError(t, engine.Update("e1", Patch{Sentiment: &sentiment}))
	got, err = engine.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, -1, got.Sentiment)

	_, err = engine.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerEngine_ClockRange(t *testing.T) {
	engine := setupBadger(t)

	for _, ev := range []*Event{
		testEvent("e1", "m1", KindGoal, 10_000),
		testEvent("e2", "m1", KindAssist, 20_000),
		testEvent("e3", "m1", KindSave, 30_000),
		testEvent("x1", "m2", KindFoul, 15_000),
	} {
		_, err := engine.Add(ev)
		require.NoError(t, err)
	}

	events, err := engine.ClockRange("m1", 10_000, 20_000)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventID("e1"), events[0].ID)
	assert.Equal(t, EventID("e2"), events[1].ID)

	all, err := engine.MatchEvents("m1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, EventID("e1"), all[0].ID)
	assert.Equal(t, EventID("e3"), all[2].ID)
}

func TestBadgerEngine_UpdateMovesClockIndex(t *testing.T) {
	engine := setupBadger(t)

	_, err := engine.Add(testEvent("e1", "m1", KindGoal, 10_000))
	require.NoError(t, err)

	moved := int64(50_000)
	require.NoError(t, engine.Update("e1", Patch{ClockMS: &moved}))

	early, err := engine.ClockRange("m1", 0, 20_000)
	require.NoError(t, err)
	assert.Empty(t, early, "stale index entry must be removed")

	late, err := engine.ClockRange("m1", 40_000, 60_000)
	require.NoError(t, err)
	require.Len(t, late, 1)
	assert.Equal(t, int64(50_000), late[0].ClockMS)
}

func TestBadgerEngine_TxCommitAndRollback(t *testing.T) {
	engine := setupBadger(t)

	for _, id := range []EventID{"a", "b"} {
		_, err := engine.Add(testEvent(id, "m1", KindGoal, 0))
		require.NoError(t, err)
	}

	t.Run("commit is atomic across both events", func(t *testing.T) {
		tx, err := engine.Begin()
		require.NoError(t, err)

		a, err := tx.Get("a")
		require.NoError(t, err)
		b, err := tx.Get("b")
		require.NoError(t, err)
		a.AddLink("b")
		b.AddLink("a")
		require.NoError(t, tx.Put(a))
		require.NoError(t, tx.Put(b))
		require.NoError(t, tx.Commit())

		stored, err := engine.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []EventID{"b"}, stored.LinkedEvents)
	})

	t.Run("rollback leaves no trace", func(t *testing.T) {
		tx, err := engine.Begin()
		require.NoError(t, err)

		a, err := tx.Get("a")
		require.NoError(t, err)
		a.Sentiment = 42
		require.NoError(t, tx.Put(a))
		require.NoError(t, tx.Rollback())

		stored, err := engine.Get("a")
		require.NoError(t, err)
		assert.Equal(t, 0, stored.Sentiment)
	})
}

func TestBadgerEngine_FilterAndCount(t *testing.T) {
	engine := setupBadger(t)

	require.NoError(t, engine.BulkAdd([]*Event{
		testEvent("e1", "m1", KindGoal, 10_000),
		testEvent("e2", "m1", KindFoul, 20_000),
	}))

	fouls, err := engine.Filter(func(ev *Event) bool { return ev.Kind == KindFoul })
	require.NoError(t, err)
	require.Len(t, fouls, 1)
	assert.Equal(t, EventID("e2"), fouls[0].ID)

	count, err := engine.EventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestBadgerEngine_Matches(t *testing.T) {
	engine := setupBadger(t)

	require.NoError(t, engine.PutMatch(&Match{ID: "m1", HomeTeamID: "h", AwayTeamID: "a"}))
	m, err := engine.GetMatch("m1")
	require.NoError(t, err)
	assert.Equal(t, "h", m.HomeTeamID)

	_, err = engine.GetMatch("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerEngine_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	engine, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	_, err = engine.Add(testEvent("e1", "m1", KindGoal, 10_000))
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	reopened, err := NewBadgerEngine(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, KindGoal, got.Kind)
}
