// Package ingest orchestrates bulk event ingestion: inserting or updating
// many events in one logical operation with per-item failure tracking.
//
// A failure on one item never aborts the rest of the batch. The aggregate
// result reports how many items were processed, how many failed, and the
// captured error for each failure — "partial success" is the contract, not
// all-or-nothing. Each inserted event triggers the linking engine as a
// best-effort side effect; an enrichment failure is logged but never fails
// the item (missing enrichment, not missing data).
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/matchlink/pkg/linker"
	"github.com/orneryd/matchlink/pkg/metrics"
	"github.com/orneryd/matchlink/pkg/storage"
)

// Coordinator runs bulk inserts and updates against the store, invoking
// the linking engine per inserted item.
type Coordinator struct {
	store  storage.Engine
	linker *linker.Engine
	log    *zap.Logger
}

// New creates a bulk ingest coordinator. A nil logger disables logging.
func New(store storage.Engine, lk *linker.Engine, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: store, linker: lk, log: log}
}

// ItemError captures the failure of one batch item.
type ItemError struct {
	// Index is the item's position in the submitted batch.
	Index int `json:"index"`
	// EventID is the item's id when known.
	EventID storage.EventID `json:"eventId,omitempty"`
	Error   string          `json:"error"`
}

// Result is the aggregate outcome of a batch operation.
type Result struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Update pairs an event id with the partial change-set to apply.
type Update struct {
	ID    storage.EventID
	Patch storage.Patch
}

// BulkInsert inserts the events one at a time: store-insert followed by
// AutoLink. Events without an ID are assigned one; CreatedAt/UpdatedAt are
// stamped when unset. A persist failure is captured per item and the batch
// continues; linking failures degrade the item's enrichment only and are
// not counted as failures.
func (c *Coordinator) BulkInsert(ctx context.Context, events []*storage.Event) Result {
	var res Result

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			res.Failed += len(events) - i
			res.Errors = append(res.Errors, ItemError{Index: i, Error: err.Error()})
			break
		}
		if ev == nil {
			res.Failed++
			res.Errors = append(res.Errors, ItemError{Index: i, Error: "nil event"})
			metrics.BatchItemFailures.WithLabelValues("insert").Inc()
			continue
		}

		if ev.ID == "" {
			ev.ID = storage.EventID(uuid.NewString())
		}
		now := time.Now()
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = now
		}
		if ev.UpdatedAt.IsZero() {
			ev.UpdatedAt = now
		}

		if _, err := c.store.Add(ev); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ItemError{
				Index:   i,
				EventID: ev.ID,
				Error:   fmt.Sprintf("persist: %v", err),
			})
			metrics.BatchItemFailures.WithLabelValues("insert").Inc()
			continue
		}
		res.Processed++

		outcome := c.linker.AutoLink(ctx, ev)
		if !outcome.OK() {
			c.log.Warn("event stored but enrichment degraded",
				zap.String("event", string(ev.ID)),
				zap.Strings("failures", outcome.Failures))
		}
	}

	c.log.Info("bulk insert complete",
		zap.Int("submitted", len(events)),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed))
	return res
}

// BulkUpdate applies the partial change-sets one at a time, stamping
// UpdatedAt on each, with the same partial-failure tracking as BulkInsert.
func (c *Coordinator) BulkUpdate(ctx context.Context, updates []Update) Result {
	var res Result

	for i, u := range updates {
		if err := ctx.Err(); err != nil {
			res.Failed += len(updates) - i
			res.Errors = append(res.Errors, ItemError{Index: i, EventID: u.ID, Error: err.Error()})
			break
		}

		if err := c.store.Update(u.ID, u.Patch); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ItemError{
				Index:   i,
				EventID: u.ID,
				Error:   err.Error(),
			})
			metrics.BatchItemFailures.WithLabelValues("update").Inc()
			continue
		}
		res.Processed++
	}

	c.log.Info("bulk update complete",
		zap.Int("submitted", len(updates)),
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed))
	return res
}

// InsertOne is the single-event path: persist then AutoLink. The returned
// Outcome reports the enrichment result; the error concerns only the
// primary write.
func (c *Coordinator) InsertOne(ctx context.Context, ev *storage.Event) (linker.Outcome, error) {
	if ev == nil {
		return linker.Outcome{}, storage.ErrInvalidEvent
	}
	if ev.ID == "" {
		ev.ID = storage.EventID(uuid.NewString())
	}
	now := time.Now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = now
	}

	if _, err := c.store.Add(ev); err != nil {
		return linker.Outcome{}, err
	}
	return c.linker.AutoLink(ctx, ev), nil
}
