package query

import (
	"go.uber.org/zap"

	"github.com/orneryd/matchlink/pkg/storage"
)

// recentEventCount is how many of a player's latest events the summary
// returns.
const recentEventCount = 10

// SentimentStats aggregates the sentiment scores of a set of events.
type SentimentStats struct {
	Avg float64 `json:"avg"`
	Min int     `json:"min"`
	Max int     `json:"max"`
}

// PlayerSummary aggregates one player's events, optionally scoped to a
// single match.
type PlayerSummary struct {
	PlayerID    string                    `json:"playerId"`
	MatchID     *storage.MatchID          `json:"matchId,omitempty"`
	TotalEvents int                       `json:"totalEvents"`
	CountByKind map[storage.EventKind]int `json:"countByKind"`
	Sentiment   SentimentStats            `json:"sentiment"`
	// RecentEvents holds the player's 10 most recent events ordered by
	// creation time, newest first.
	RecentEvents []*storage.Event `json:"recentEvents"`
}

// TeamSummary aggregates one team's events, optionally scoped to a single
// match, with per-player and per-period breakdowns.
type TeamSummary struct {
	TeamID      string                    `json:"teamId"`
	MatchID     *storage.MatchID          `json:"matchId,omitempty"`
	TotalEvents int                       `json:"totalEvents"`
	CountByKind map[storage.EventKind]int `json:"countByKind"`
	Sentiment   SentimentStats            `json:"sentiment"`
	ByPlayer    map[string]int            `json:"byPlayer"`
	ByPeriod    map[int]int               `json:"byPeriod"`
}

// PlayerPerformance summarizes a player's events. Pass a nil matchID to
// aggregate across all matches. A store failure degrades to a zero-valued
// summary.
func (s *Service) PlayerPerformance(playerID string, matchID *storage.MatchID) PlayerSummary {
	summary := PlayerSummary{
		PlayerID:     playerID,
		MatchID:      matchID,
		CountByKind:  make(map[storage.EventKind]int),
		RecentEvents: []*storage.Event{},
	}

	events, err := s.store.Filter(func(ev *storage.Event) bool {
		if ev.PlayerID != playerID {
			return false
		}
		return matchID == nil || ev.MatchID == *matchID
	})
	if err != nil {
		s.log.Warn("player summary degraded to zero result",
			zap.String("player", playerID), zap.Error(err))
		return summary
	}

	for _, ev := range events {
		summary.TotalEvents++
		summary.CountByKind[ev.Kind]++
	}
	summary.Sentiment = sentimentStats(events)

	sortByCreatedDesc(events)
	if len(events) > recentEventCount {
		events = events[:recentEventCount]
	}
	summary.RecentEvents = events
	return summary
}

// TeamPerformance summarizes a team's events. Pass a nil matchID to
// aggregate across all matches. A store failure degrades to a zero-valued
// summary.
func (s *Service) TeamPerformance(teamID string, matchID *storage.MatchID) TeamSummary {
	summary := TeamSummary{
		TeamID:      teamID,
		MatchID:     matchID,
		CountByKind: make(map[storage.EventKind]int),
		ByPlayer:    make(map[string]int),
		ByPeriod:    make(map[int]int),
	}

	events, err := s.store.Filter(func(ev *storage.Event) bool {
		if ev.TeamID != teamID {
			return false
		}
		return matchID == nil || ev.MatchID == *matchID
	})
	if err != nil {
		s.log.Warn("team summary degraded to zero result",
			zap.String("team", teamID), zap.Error(err))
		return summary
	}

	for _, ev := range events {
		summary.TotalEvents++
		summary.CountByKind[ev.Kind]++
		if ev.PlayerID != "" {
			summary.ByPlayer[ev.PlayerID]++
		}
		summary.ByPeriod[ev.PeriodNumber]++
	}
	summary.Sentiment = sentimentStats(events)
	return summary
}

func sentimentStats(events []*storage.Event) SentimentStats {
	if len(events) == 0 {
		return SentimentStats{}
	}

	stats := SentimentStats{Min: events[0].Sentiment, Max: events[0].Sentiment}
	sum := 0
	for _, ev := range events {
		sum += ev.Sentiment
		if ev.Sentiment < stats.Min {
			stats.Min = ev.Sentiment
		}
		if ev.Sentiment > stats.Max {
			stats.Max = ev.Sentiment
		}
	}
	stats.Avg = float64(sum) / float64(len(events))
	return stats
}
