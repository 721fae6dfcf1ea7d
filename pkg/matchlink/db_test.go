package matchlink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/matchlink/pkg/config"
	"github.com/orneryd/matchlink/pkg/query"
	"github.com/orneryd/matchlink/pkg/storage"
)

func inMemoryConfig() *config.Config {
	return &config.Config{Environment: "development", InMemory: true}
}

func TestOpen_InMemory(t *testing.T) {
	db, err := Open(inMemoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NotNil(t, db.Catalog)
	assert.NotNil(t, db.Linker)
	assert.NotNil(t, db.Query)
	assert.NotNil(t, db.Ingest)
	assert.NotNil(t, db.Store())
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.Environment = "staging"

	_, err := Open(cfg, nil)
	assert.Error(t, err)
}

func TestOpen_TunableOverrides(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.LinkWindowMS = 30_000
	cfg.LinkMaxPerEvent = 5

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, int64(30_000), db.Catalog.TimeWindowMS)
	assert.Equal(t, 5, db.Catalog.MaxLinksPerEvent)
}

func TestOpen_InvalidCatalogFileRejected(t *testing.T) {
	// goal lists assist, but assist's entry is missing: asymmetric.
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
related:
  goal: [assist]
`), 0o644))

	cfg := inMemoryConfig()
	cfg.CatalogFile = path

	_, err := Open(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid catalog")
}

func TestRecordEventAndQuery(t *testing.T) {
	db, err := Open(inMemoryConfig(), nil)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	outcome, err := db.RecordEvent(ctx, &storage.Event{
		ID: "assist-1", MatchID: "m1", Kind: storage.KindAssist, ClockMS: 8_000,
	})
	require.NoError(t, err)
	assert.Zero(t, outcome.Linked)

	outcome, err = db.RecordEvent(ctx, &storage.Event{
		ID: "goal-1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 10_000,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Linked, "goal links to the earlier assist")

	linked, err := db.Linker.LinkedEvents(ctx, "goal-1")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, storage.EventID("assist-1"), linked[0].ID)

	m1 := storage.MatchID("m1")
	results := db.Query.Search(query.Criteria{MatchID: &m1})
	assert.Len(t, results, 2)

	stats := db.Query.MatchLinkingStats("m1")
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.TotalLinks)
}

func TestOpen_BadgerReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Environment: "development", DataDir: dir}

	db, err := Open(cfg, nil)
	require.NoError(t, err)

	_, err = db.RecordEvent(context.Background(), &storage.Event{
		ID: "e1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 1_000,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	ev, err := db.Store().Get("e1")
	require.NoError(t, err)
	assert.Equal(t, storage.KindGoal, ev.Kind)
}
