// Package linker implements automatic relationship detection between match
// events: the linking engine and the retroactive reconciliation job.
//
// When an event is stored, the engine looks up the relationship catalog for
// the event's kind, searches the store for compatible events inside a
// symmetric time window around the event's clock, and creates bidirectional
// links — both events end up referencing each other. Each pair update runs
// in one store transaction, so a link never exists on only one side.
//
// Linking is best-effort enrichment: AutoLink returns an explicit Outcome
// instead of an error, and a linking failure never makes the triggering
// event's own insertion fail. The caller decides whether to log the outcome
// or surface a warning.
//
// Example Usage:
//
//	engine := linker.New(store, catalog.Default(), logger)
//
//	// After persisting a new event
//	outcome := engine.AutoLink(ctx, ev)
//	if !outcome.OK() {
//		log.Printf("enrichment degraded: %v", outcome.Failures)
//	}
//	fmt.Printf("created %d links\n", outcome.Linked)
//
//	// Resolve an event's links for display
//	related, _ := engine.LinkedEvents(ctx, ev.ID)
//	for _, r := range related {
//		fmt.Printf("related: %s at %dms\n", r.Kind, r.ClockMS)
//	}
//
// ELI12:
//
// Imagine annotating a match on a tablet. You tap "GOAL!" and two seconds
// earlier someone had tapped "assist". The linker is the assistant who
// notices "hey, those two belong together" and draws a string between the
// two cards — on both cards, so you can find either one from the other.
// If the assistant is sick (a linking failure), the goal card still gets
// saved; you just don't get the string.
package linker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/matchlink/pkg/catalog"
	"github.com/orneryd/matchlink/pkg/metrics"
	"github.com/orneryd/matchlink/pkg/storage"
)

// ErrLinkCap is returned by LinkPair when either side of the pair is
// already at the catalog's MaxLinksPerEvent. The engine never evicts an
// existing link to make room: refusing the new link keeps the cap and the
// symmetry invariant intact on both sides unconditionally.
var ErrLinkCap = errors.New("link cap reached")

// pairLockCount is the size of the striped lock table for pair mutations.
const pairLockCount = 64

// Outcome reports what AutoLink did. It is a value, not an error: the
// primary event write must never be blocked by enrichment, so the caller
// inspects the outcome and decides whether to log or warn.
type Outcome struct {
	// Linked is the number of bidirectional links created.
	Linked int
	// Skipped is true when the event's kind has no related kinds
	// configured and linking was a no-op.
	Skipped bool
	// Failures holds the reasons for any candidates that could not be
	// linked. Candidates refused by the cap are not failures.
	Failures []string
}

// OK reports whether enrichment completed without errors.
func (o Outcome) OK() bool {
	return len(o.Failures) == 0
}

// Engine finds related events and maintains bidirectional links between
// them. All link mutations, including the reconciliation job's, funnel
// through LinkPair so the symmetry invariant lives in exactly one place.
//
// Pair mutations are serialized through a striped lock keyed by the lower
// of the two event ids. Without it, two concurrent AutoLink calls could
// each observe "room under the cap" and both commit, breaching the cap.
type Engine struct {
	store storage.Engine
	cat   *catalog.Catalog
	log   *zap.Logger

	pairLocks [pairLockCount]sync.Mutex
}

// New creates a linking engine. The store and catalog handles are explicit:
// their lifetime is owned by the caller, never a package global. A nil
// logger disables logging.
func New(store storage.Engine, cat *catalog.Catalog, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, cat: cat, log: log}
}

// AutoLink finds compatible events inside the catalog's time window around
// ev and links them to ev bidirectionally. ev must already be persisted.
//
// Candidates must be in the same match, of a related kind, distinct from
// ev, and below the link cap. Every error is captured in the returned
// Outcome; AutoLink never propagates one.
func (e *Engine) AutoLink(ctx context.Context, ev *storage.Event) Outcome {
	related := e.cat.RelatedSet(ev.Kind)
	if len(related) == 0 {
		return Outcome{Skipped: true}
	}

	startMS := ev.ClockMS - e.cat.TimeWindowMS
	if startMS < 0 {
		startMS = 0
	}
	endMS := ev.ClockMS + e.cat.TimeWindowMS

	candidates, err := e.store.ClockRange(ev.MatchID, startMS, endMS)
	if err != nil {
		e.log.Warn("autolink candidate search failed",
			zap.String("event", string(ev.ID)),
			zap.Error(err))
		return Outcome{Failures: []string{fmt.Sprintf("candidate search: %v", err)}}
	}

	var out Outcome
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			out.Failures = append(out.Failures, err.Error())
			break
		}
		if cand.ID == ev.ID || !related[cand.Kind] {
			continue
		}
		if len(cand.LinkedEvents) >= e.cat.MaxLinksPerEvent {
			continue
		}

		created, err := e.LinkPair(ctx, ev.ID, cand.ID)
		if errors.Is(err, ErrLinkCap) {
			continue
		}
		if err != nil {
			e.log.Warn("autolink pair failed",
				zap.String("event", string(ev.ID)),
				zap.String("candidate", string(cand.ID)),
				zap.Error(err))
			metrics.LinkFailures.Inc()
			out.Failures = append(out.Failures, fmt.Sprintf("link %s: %v", cand.ID, err))
			continue
		}
		if created {
			out.Linked++
			metrics.LinksCreated.WithLabelValues("autolink").Inc()
		}
	}
	return out
}

// LinkPair creates a bidirectional link between a and b inside one store
// transaction. Returns created=false with a nil error when the link is
// already present, and ErrLinkCap when either side is at the cap. Either
// both events are updated or neither is.
func (e *Engine) LinkPair(ctx context.Context, a, b storage.EventID) (created bool, err error) {
	if a == b {
		return false, fmt.Errorf("link pair: %w: event cannot link to itself", storage.ErrInvalidID)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock := e.lockPair(a, b)
	defer unlock()

	tx, err := e.store.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	evA, err := tx.Get(a)
	if err != nil {
		return false, fmt.Errorf("link pair %s-%s: %w", a, b, err)
	}
	evB, err := tx.Get(b)
	if err != nil {
		return false, fmt.Errorf("link pair %s-%s: %w", a, b, err)
	}

	if evA.HasLink(b) {
		// Symmetry invariant says B already holds A too; nothing to do.
		return false, nil
	}
	if len(evA.LinkedEvents) >= e.cat.MaxLinksPerEvent ||
		len(evB.LinkedEvents) >= e.cat.MaxLinksPerEvent {
		return false, ErrLinkCap
	}

	now := time.Now()
	evA.AddLink(b)
	evB.AddLink(a)
	evA.AutoLinkedAt, evB.AutoLinkedAt = &now, &now
	evA.UpdatedAt, evB.UpdatedAt = now, now

	if err := tx.Put(evA); err != nil {
		return false, err
	}
	if err := tx.Put(evB); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("link pair %s-%s: %w", a, b, err)
	}
	return true, nil
}

// Unlink removes the pairing between a and b symmetrically, in one
// transaction. A linked set that becomes empty is cleared, never stored as
// an empty container.
func (e *Engine) Unlink(ctx context.Context, a, b storage.EventID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := e.lockPair(a, b)
	defer unlock()

	tx, err := e.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	evA, err := tx.Get(a)
	if err != nil {
		return fmt.Errorf("unlink %s-%s: %w", a, b, err)
	}
	evB, err := tx.Get(b)
	if err != nil {
		return fmt.Errorf("unlink %s-%s: %w", a, b, err)
	}

	now := time.Now()
	evA.RemoveLink(b)
	evB.RemoveLink(a)
	evA.UpdatedAt, evB.UpdatedAt = now, now

	if err := tx.Put(evA); err != nil {
		return err
	}
	if err := tx.Put(evB); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unlink %s-%s: %w", a, b, err)
	}
	return nil
}

// LinkedEvents resolves the full event records referenced by id's linked
// set, ascending by ClockMS. A missing event or an event with no links
// yields an empty slice, never an error: this is a read path for display.
func (e *Engine) LinkedEvents(ctx context.Context, id storage.EventID) ([]*storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ev, err := e.store.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return []*storage.Event{}, nil
	}
	if err != nil {
		return nil, err
	}

	result := make([]*storage.Event, 0, len(ev.LinkedEvents))
	for _, linkedID := range ev.LinkedEvents {
		linked, err := e.store.Get(linkedID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, linked)
	}
	storage.SortEventsByClock(result)
	return result, nil
}

// EventWithLinks is a match event augmented with its resolved linked
// events when it has any.
type EventWithLinks struct {
	Event  *storage.Event   `json:"event"`
	Linked []*storage.Event `json:"linked,omitempty"`
}

// EventsWithLinks returns every event of the match, ascending by ClockMS,
// each augmented with its resolved linked-event details. It resolves links
// one event at a time; fine for per-match event counts, not meant for very
// large matches.
func (e *Engine) EventsWithLinks(ctx context.Context, matchID storage.MatchID) ([]EventWithLinks, error) {
	events, err := e.store.MatchEvents(matchID)
	if err != nil {
		return nil, err
	}

	result := make([]EventWithLinks, 0, len(events))
	for _, ev := range events {
		item := EventWithLinks{Event: ev}
		if len(ev.LinkedEvents) > 0 {
			linked, err := e.LinkedEvents(ctx, ev.ID)
			if err != nil {
				return nil, err
			}
			item.Linked = linked
		}
		result = append(result, item)
	}
	return result, nil
}

// lockPair acquires the striped locks covering both event ids, always in
// the same order (lower id first) so two overlapping pairs can't deadlock.
func (e *Engine) lockPair(a, b storage.EventID) func() {
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	i, j := stripeFor(lo), stripeFor(hi)
	if i == j {
		e.pairLocks[i].Lock()
		return func() { e.pairLocks[i].Unlock() }
	}
	if j < i {
		i, j = j, i
	}
	e.pairLocks[i].Lock()
	e.pairLocks[j].Lock()
	return func() {
		e.pairLocks[j].Unlock()
		e.pairLocks[i].Unlock()
	}
}

func stripeFor(id storage.EventID) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % pairLockCount)
}
