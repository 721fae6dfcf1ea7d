package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id EventID, matchID MatchID, kind EventKind, clockMS int64) *Event {
	return &Event{
		ID:        id,
		MatchID:   matchID,
		Kind:      kind,
		TeamID:    "team-home",
		ClockMS:   clockMS,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestMemoryEngine_AddGet(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	ev := testEvent("e1", "m1", KindGoal, 10_000)
	id, err := engine.Add(ev)
	require.NoError(t, err)
	assert.Equal(t, EventID("e1"), id)

	got, err := engine.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, KindGoal, got.Kind)
	assert.Equal(t, int64(10_000), got.ClockMS)

	// Returned events are copies; mutation must not leak into the store.
	got.Sentiment = 99
	again, err := engine.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Sentiment)
}

func TestMemoryEngine_AddValidation(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	t.Run("missing id", func(t *testing.T) {
		_, err := engine.Add(&Event{MatchID: "m1", Kind: KindGoal})
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("missing match", func(t *testing.T) {
		_, err := engine.Add(&Event{ID: "e1", Kind: KindGoal})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := engine.Add(&Event{ID: "e1", MatchID: "m1", Kind: "throw_in"})
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := engine.Add(testEvent("e1", "m1", KindGoal, 0))
		require.NoError(t, err)
		_, err = engine.Add(testEvent("e1", "m1", KindGoal, 0))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestMemoryEngine_Get_NotFound(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	_, err := engine.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEngine_Update(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	ev := testEvent("e1", "m1", KindShotOnTarget, 5_000)
	ev.UpdatedAt = time.Now().Add(-time.Hour)
	_, err := engine.Add(ev)
	require.NoError(t, err)

	sentiment := 2
	notes := "great strike"
	err = engine.Update("e1", Patch{Sentiment: &sentiment, Notes: &notes})
	require.NoError(t, err)

	got, err := engine.Get("e1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Sentiment)
	assert.Equal(t, "great strike", got.Notes)
	assert.Equal(t, KindShotOnTarget, got.Kind, "unset patch fields stay untouched")
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute, "UpdatedAt is stamped")

	err = engine.Update("missing", Patch{Sentiment: &sentiment})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEngine_MatchEvents_SortedByClock(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	// Insert out of clock order.
	for _, ev := range []*Event{
		testEvent("e3", "m1", KindSave, 30_000),
		testEvent("e1", "m1", KindGoal, 10_000),
		testEvent("e2", "m1", KindAssist, 20_000),
		testEvent("other", "m2", KindFoul, 5_000),
	} {
		_, err := engine.Add(ev)
		require.NoError(t, err)
	}

	events, err := engine.MatchEvents("m1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventID("e1"), events[0].ID)
	assert.Equal(t, EventID("e2"), events[1].ID)
	assert.Equal(t, EventID("e3"), events[2].ID)
}

func TestMemoryEngine_ClockRange_InclusiveBounds(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	for _, ev := range []*Event{
		testEvent("e1", "m1", KindGoal, 10_000),
		testEvent("e2", "m1", KindAssist, 20_000),
		testEvent("e3", "m1", KindSave, 30_000),
	} {
		_, err := engine.Add(ev)
		require.NoError(t, err)
	}

	events, err := engine.ClockRange("m1", 10_000, 20_000)
	require.NoError(t, err)
	require.Len(t, events, 2, "bounds are inclusive")
	assert.Equal(t, EventID("e1"), events[0].ID)
	assert.Equal(t, EventID("e2"), events[1].ID)

	empty, err := engine.ClockRange("m1", 40_000, 50_000)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryEngine_Filter(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	goal := testEvent("e1", "m1", KindGoal, 10_000)
	goal.PlayerID = "p9"
	foul := testEvent("e2", "m1", KindFoul, 20_000)
	foul.PlayerID = "p4"
	for _, ev := range []*Event{goal, foul} {
		_, err := engine.Add(ev)
		require.NoError(t, err)
	}

	result, err := engine.Filter(func(ev *Event) bool { return ev.PlayerID == "p9" })
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, EventID("e1"), result[0].ID)
}

func TestMemoryEngine_BulkAdd_AllOrNothing(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	_, err := engine.Add(testEvent("dup", "m1", KindGoal, 0))
	require.NoError(t, err)

	err = engine.BulkAdd([]*Event{
		testEvent("e1", "m1", KindGoal, 10_000),
		testEvent("dup", "m1", KindAssist, 20_000), // collides
	})
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = engine.Get("e1")
	assert.ErrorIs(t, err, ErrNotFound, "failed batch must not be partially applied")

	err = engine.BulkAdd([]*Event{
		testEvent("e1", "m1", KindGoal, 10_000),
		testEvent("e2", "m1", KindAssist, 20_000),
	})
	require.NoError(t, err)

	count, err := engine.EventCount()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestMemoryEngine_Matches(t *testing.T) {
	engine := NewMemoryEngine()
	defer engine.Close()

	err := engine.PutMatch(&Match{ID: "m1", HomeTeamID: "home", AwayTeamID: "away"})
	require.NoError(t, err)

	m, err := engine.GetMatch("m1")
	require.NoError(t, err)
	assert.Equal(t, "home", m.HomeTeamID)

	_, err = engine.GetMatch("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryEngine_Closed(t *testing.T) {
	engine := NewMemoryEngine()
	require.NoError(t, engine.Close())

	_, err := engine.Add(testEvent("e1", "m1", KindGoal, 0))
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = engine.Get("e1")
	assert.ErrorIs(t, err, ErrStorageClosed)
	_, err = engine.Begin()
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestEvent_LinkedEventsSerialization(t *testing.T) {
	t.Run("empty linked set is omitted", func(t *testing.T) {
		ev := testEvent("e1", "m1", KindGoal, 0)
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "linkedEvents")
		assert.NotContains(t, string(data), "autoLinkedAt")
	})

	t.Run("populated linked set round-trips", func(t *testing.T) {
		ev := testEvent("e1", "m1", KindGoal, 0)
		ev.AddLink("e2")
		data, err := json.Marshal(ev)
		require.NoError(t, err)
		assert.Contains(t, string(data), "linkedEvents")

		var decoded Event
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, []EventID{"e2"}, decoded.LinkedEvents)
	})
}

func TestEvent_LinkHelpers(t *testing.T) {
	ev := testEvent("e1", "m1", KindGoal, 0)

	ev.AddLink("e2")
	ev.AddLink("e2") // duplicate ignored
	ev.AddLink("e1") // self-link ignored
	assert.Equal(t, []EventID{"e2"}, ev.LinkedEvents)
	assert.True(t, ev.HasLink("e2"))

	ev.RemoveLink("e2")
	assert.Nil(t, ev.LinkedEvents, "emptied set is cleared, not an empty container")
}
