package linker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/matchlink/pkg/metrics"
	"github.com/orneryd/matchlink/pkg/storage"
)

// RetroactivelyLink re-derives links for an entire match in one pass.
//
// It is the repair path after bulk or out-of-order ingestion, where
// AutoLink's per-event window may have missed pairs (an event inserted
// late never saw the earlier events that arrived after it). The match's
// event set is loaded once, sorted by clock, and each event's candidates
// are computed within that in-memory collection — not a fresh store query
// per event — using the same window and kind-compatibility rule as
// AutoLink. Each new pair goes through the same transactional LinkPair
// primitive.
//
// Returns the number of newly created links. The pass is idempotent: links
// already present are excluded from candidate sets, so a second run on an
// unchanged match creates zero.
//
// A failing pair is logged and skipped; it never aborts the remaining
// events of the pass.
func (e *Engine) RetroactivelyLink(ctx context.Context, matchID storage.MatchID) (int, error) {
	events, err := e.store.MatchEvents(matchID)
	if err != nil {
		return 0, fmt.Errorf("retroactive link %s: %w", matchID, err)
	}
	metrics.ReconcileRuns.Inc()

	// Track link membership and counts locally so the in-memory pass sees
	// the links it creates without re-reading the store.
	linked := make(map[storage.EventID]map[storage.EventID]bool, len(events))
	for _, ev := range events {
		set := make(map[storage.EventID]bool, len(ev.LinkedEvents))
		for _, id := range ev.LinkedEvents {
			set[id] = true
		}
		linked[ev.ID] = set
	}

	created := 0
	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		related := e.cat.RelatedSet(ev.Kind)
		if len(related) == 0 {
			continue
		}

		// Events are clock-sorted: scan forward until the window closes.
		// Earlier partners were handled when the earlier event was the
		// anchor, so each pair is considered once.
		for j := i + 1; j < len(events); j++ {
			cand := events[j]
			if cand.ClockMS-ev.ClockMS > e.cat.TimeWindowMS {
				break
			}
			if !related[cand.Kind] || linked[ev.ID][cand.ID] {
				continue
			}
			if len(linked[ev.ID]) >= e.cat.MaxLinksPerEvent ||
				len(linked[cand.ID]) >= e.cat.MaxLinksPerEvent {
				continue
			}

			ok, err := e.LinkPair(ctx, ev.ID, cand.ID)
			if errors.Is(err, ErrLinkCap) {
				continue
			}
			if err != nil {
				e.log.Warn("retroactive link pair failed",
					zap.String("match", string(matchID)),
					zap.String("event", string(ev.ID)),
					zap.String("candidate", string(cand.ID)),
					zap.Error(err))
				metrics.LinkFailures.Inc()
				continue
			}
			if ok {
				linked[ev.ID][cand.ID] = true
				linked[cand.ID][ev.ID] = true
				created++
				metrics.LinksCreated.WithLabelValues("reconcile").Inc()
			}
		}
	}

	e.log.Info("retroactive linking pass complete",
		zap.String("match", string(matchID)),
		zap.Int("events", len(events)),
		zap.Int("created", created))
	return created, nil
}
