// Package query provides read-only search and aggregation over the event
// store: filtered search, running-score replay for late joiners, and
// per-player / per-team / per-match linking statistics.
//
// The query service never mutates the event graph. Its views are
// best-effort informational reads: a store failure degrades to an empty or
// zero-valued result (logged internally) instead of propagating, so a
// display layer never breaks because an aggregation hiccuped.
package query

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/matchlink/pkg/cache"
	"github.com/orneryd/matchlink/pkg/storage"
)

// Linking-stats cache bounds: one entry per match, refreshed every few
// seconds. During a live match the stats view is polled far more often
// than events arrive, and seconds of staleness is invisible there.
const (
	statsCacheSize = 256
	statsCacheTTL  = 3 * time.Second
)

// Service executes searches and aggregations against an event store.
type Service struct {
	store storage.Engine
	log   *zap.Logger

	stats *cache.Cache[storage.MatchID, LinkingStats]
}

// New creates a query service over the given store. A nil logger disables
// logging.
func New(store storage.Engine, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store: store,
		log:   log,
		stats: cache.New[storage.MatchID, LinkingStats](statsCacheSize, statsCacheTTL),
	}
}

// SentimentRange is an inclusive sentiment filter.
type SentimentRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// TimeRange is an inclusive ClockMS filter.
type TimeRange struct {
	StartMS int64 `json:"start"`
	EndMS   int64 `json:"end"`
}

// Criteria is the search configuration. Every field is optional; each
// present filter narrows the result set. An empty Criteria returns the
// whole store (subject to Limit). No combination is invalid.
type Criteria struct {
	MatchID   *storage.MatchID
	PlayerID  *string
	TeamID    *string
	Kind      *storage.EventKind
	Period    *int
	Sentiment *SentimentRange
	Time      *TimeRange
	HasNotes  *bool
	IsLinked  *bool

	// Limit truncates the result after sorting; 0 means no limit.
	Limit int
}

// matches reports whether ev passes every present filter.
func (c *Criteria) matches(ev *storage.Event) bool {
	if c.MatchID != nil && ev.MatchID != *c.MatchID {
		return false
	}
	if c.PlayerID != nil && ev.PlayerID != *c.PlayerID {
		return false
	}
	if c.TeamID != nil && ev.TeamID != *c.TeamID {
		return false
	}
	if c.Kind != nil && ev.Kind != *c.Kind {
		return false
	}
	if c.Period != nil && ev.PeriodNumber != *c.Period {
		return false
	}
	if c.Sentiment != nil && (ev.Sentiment < c.Sentiment.Min || ev.Sentiment > c.Sentiment.Max) {
		return false
	}
	if c.Time != nil && (ev.ClockMS < c.Time.StartMS || ev.ClockMS > c.Time.EndMS) {
		return false
	}
	if c.HasNotes != nil && (ev.Notes != "") != *c.HasNotes {
		return false
	}
	if c.IsLinked != nil && (len(ev.LinkedEvents) > 0) != *c.IsLinked {
		return false
	}
	return true
}

// Search returns the events matching every present filter, ascending by
// ClockMS. Limit, if positive, truncates after sorting. A store failure
// degrades to an empty result.
func (s *Service) Search(c Criteria) []*storage.Event {
	var (
		events []*storage.Event
		err    error
	)

	// Use the compound-key index when the criteria pin a match.
	switch {
	case c.MatchID != nil && c.Time != nil:
		events, err = s.store.ClockRange(*c.MatchID, c.Time.StartMS, c.Time.EndMS)
	case c.MatchID != nil:
		events, err = s.store.MatchEvents(*c.MatchID)
	default:
		events, err = s.store.Filter(c.matches)
	}
	if err != nil {
		s.log.Warn("search degraded to empty result", zap.Error(err))
		return []*storage.Event{}
	}

	result := events[:0]
	for _, ev := range events {
		if c.matches(ev) {
			result = append(result, ev)
		}
	}

	storage.SortEventsByClock(result)
	if c.Limit > 0 && len(result) > c.Limit {
		result = result[:c.Limit]
	}
	return result
}

// JoinState is the match state a late-joining viewer needs: the full event
// sequence plus the running score derived from it.
type JoinState struct {
	MatchID    storage.MatchID  `json:"matchId"`
	HomeTeamID string           `json:"homeTeamId,omitempty"`
	AwayTeamID string           `json:"awayTeamId,omitempty"`
	HomeScore  int              `json:"homeScore"`
	AwayScore  int              `json:"awayScore"`
	Events     []*storage.Event `json:"events"`
}

// MatchEventsForJoin returns the match's events in clock order plus the
// running score computed by replaying goal and own-goal events against the
// match's team assignment. An own-goal increments the opposing team's
// score. Purely a fold over the event sequence; no mutation.
//
// Missing match metadata degrades to a zero score with unset team ids.
func (s *Service) MatchEventsForJoin(matchID storage.MatchID) JoinState {
	state := JoinState{MatchID: matchID, Events: []*storage.Event{}}

	events, err := s.store.MatchEvents(matchID)
	if err != nil {
		s.log.Warn("join state degraded to empty result",
			zap.String("match", string(matchID)), zap.Error(err))
		return state
	}
	state.Events = events

	match, err := s.store.GetMatch(matchID)
	if err != nil {
		s.log.Warn("join state has no match metadata, score unavailable",
			zap.String("match", string(matchID)), zap.Error(err))
		return state
	}
	state.HomeTeamID = match.HomeTeamID
	state.AwayTeamID = match.AwayTeamID

	for _, ev := range events {
		switch ev.Kind {
		case storage.KindGoal:
			if ev.TeamID == match.HomeTeamID {
				state.HomeScore++
			} else if ev.TeamID == match.AwayTeamID {
				state.AwayScore++
			}
		case storage.KindOwnGoal:
			// Credited to the opposition.
			if ev.TeamID == match.HomeTeamID {
				state.AwayScore++
			} else if ev.TeamID == match.AwayTeamID {
				state.HomeScore++
			}
		}
	}
	return state
}

// KindStats is the per-kind slice of the linking statistics.
type KindStats struct {
	Total  int `json:"total"`
	Linked int `json:"linked"`
}

// LinkingStats summarizes how much of a match's event set is linked.
type LinkingStats struct {
	TotalEvents int `json:"totalEvents"`
	// LinkedEvents counts events with at least one link.
	LinkedEvents int `json:"linkedEvents"`
	// TotalLinks is the number of distinct link pairs: the sum of all
	// linked-set lengths divided by two, since links are symmetric.
	TotalLinks        int                             `json:"totalLinks"`
	LinkingPercentage float64                         `json:"linkingPercentage"`
	ByKind            map[storage.EventKind]KindStats `json:"byKind"`
}

// MatchLinkingStats aggregates linking statistics for one match. The
// result is cached for a few seconds per match. A store failure degrades
// to zero-valued stats (uncached, so recovery is immediate).
func (s *Service) MatchLinkingStats(matchID storage.MatchID) LinkingStats {
	if cached, ok := s.stats.Get(matchID); ok {
		return cached
	}

	stats := LinkingStats{ByKind: make(map[storage.EventKind]KindStats)}

	events, err := s.store.MatchEvents(matchID)
	if err != nil {
		s.log.Warn("linking stats degraded to zero result",
			zap.String("match", string(matchID)), zap.Error(err))
		return stats
	}

	endpoints := 0
	for _, ev := range events {
		stats.TotalEvents++
		ks := stats.ByKind[ev.Kind]
		ks.Total++
		if len(ev.LinkedEvents) > 0 {
			stats.LinkedEvents++
			ks.Linked++
			endpoints += len(ev.LinkedEvents)
		}
		stats.ByKind[ev.Kind] = ks
	}
	stats.TotalLinks = endpoints / 2
	if stats.TotalEvents > 0 {
		stats.LinkingPercentage = float64(stats.LinkedEvents) / float64(stats.TotalEvents) * 100
	}
	s.stats.Put(matchID, stats)
	return stats
}

// sortByCreatedDesc orders events newest-first by CreatedAt, breaking ties
// by ID descending for determinism.
func sortByCreatedDesc(events []*storage.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})
}
