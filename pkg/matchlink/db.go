// Package matchlink provides the main API for embedded matchlink usage.
//
// matchlink is the local data layer of a sports-match annotation
// application: it records discrete timestamped events during a match and
// discovers and maintains semantic relationships between events that occur
// close together in time (a goal and its assist, a shot and the save that
// followed it).
//
// Architecture:
//   - Storage: transactional event store (in-memory or Badger)
//   - Catalog: static kind-compatibility table with linking tunables
//   - Linker: window-based candidate search + bidirectional link creation
//   - Query: filtered search, running score, performance summaries
//   - Ingest: bulk insert/update with partial-failure tracking
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	logger, _ := logging.New(cfg.Environment)
//
//	db, err := matchlink.Open(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Record a single event; linking runs as a best-effort side effect.
//	outcome, err := db.RecordEvent(ctx, &storage.Event{
//		ID:      "evt-1",
//		MatchID: "match-42",
//		Kind:    storage.KindGoal,
//		TeamID:  "home",
//		ClockMS: 63_000,
//	})
//
//	// Query for display.
//	goals := db.Query.Search(query.Criteria{Kind: kindPtr(storage.KindGoal)})
package matchlink

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/orneryd/matchlink/pkg/catalog"
	"github.com/orneryd/matchlink/pkg/config"
	"github.com/orneryd/matchlink/pkg/ingest"
	"github.com/orneryd/matchlink/pkg/linker"
	"github.com/orneryd/matchlink/pkg/query"
	"github.com/orneryd/matchlink/pkg/storage"
)

// DB is an opened matchlink instance. The component services are exported
// so callers use them directly; DB owns their shared store handle and
// lifetime.
type DB struct {
	Catalog *catalog.Catalog
	Linker  *linker.Engine
	Query   *query.Service
	Ingest  *ingest.Coordinator

	store storage.Engine
	log   *zap.Logger
}

// Open builds a DB from configuration: opens the store, loads and
// validates the relationship catalog, and wires the component services
// around the shared store handle. A nil logger disables logging.
func Open(cfg *config.Config, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("open matchlink: %w", err)
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	var store storage.Engine
	if cfg.InMemory {
		store = storage.NewMemoryEngine()
	} else {
		store, err = storage.NewBadgerEngine(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open matchlink: %w", err)
		}
	}

	lk := linker.New(store, cat, log.Named("linker"))
	db := &DB{
		Catalog: cat,
		Linker:  lk,
		Query:   query.New(store, log.Named("query")),
		Ingest:  ingest.New(store, lk, log.Named("ingest")),
		store:   store,
		log:     log,
	}

	log.Info("matchlink opened",
		zap.Bool("inMemory", cfg.InMemory),
		zap.Int64("linkWindowMs", cat.TimeWindowMS),
		zap.Int("maxLinksPerEvent", cat.MaxLinksPerEvent))
	return db, nil
}

// loadCatalog builds the relationship catalog from config: the YAML
// override file when given, the built-in table otherwise, with the tunable
// overrides applied on top. The catalog is validated before use; a
// validation failure reports every diagnostic.
func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogFile != "" {
		cat, err = catalog.Load(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("open matchlink: %w", err)
		}
	} else {
		cat = catalog.Default()
	}

	if cfg.LinkWindowMS > 0 {
		cat.TimeWindowMS = cfg.LinkWindowMS
	}
	if cfg.LinkMaxPerEvent > 0 {
		cat.MaxLinksPerEvent = cfg.LinkMaxPerEvent
	}

	if ok, problems := cat.Validate(); !ok {
		return nil, fmt.Errorf("open matchlink: invalid catalog:\n  %s",
			strings.Join(problems, "\n  "))
	}
	return cat, nil
}

// Store exposes the underlying event store, primarily for collaborators
// that persist events or match metadata themselves.
func (db *DB) Store() storage.Engine {
	return db.store
}

// RecordEvent is the single-event ingestion path: persist then AutoLink.
// The returned Outcome reports enrichment only; the error concerns the
// primary write.
func (db *DB) RecordEvent(ctx context.Context, ev *storage.Event) (linker.Outcome, error) {
	return db.Ingest.InsertOne(ctx, ev)
}

// Close releases the underlying store.
func (db *DB) Close() error {
	return db.store.Close()
}
