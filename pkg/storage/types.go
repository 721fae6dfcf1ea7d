// Package storage provides the event store interface and implementations for matchlink.
//
// The store holds the timestamped events recorded during a match (goals, shots,
// saves, fouls, ...) and is the single source of truth the linking engine, the
// reconciliation job and the query service all read and write through.
//
// Design Principles:
//   - Compound ordering key: events are ordered by (matchId, clockMs)
//   - Testability through dependency injection
//   - Thread-safe implementations
//   - Atomic multi-record updates via transactions
//
// Example Usage:
//
//	// Create storage engine
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	// Record an event
//	ev := &storage.Event{
//		ID:        storage.EventID("evt-goal-1"),
//		MatchID:   storage.MatchID("match-42"),
//		Kind:      storage.KindGoal,
//		TeamID:    "team-home",
//		PlayerID:  "player-9",
//		ClockMS:   63_000,
//		Sentiment: 3,
//		CreatedAt: time.Now(),
//	}
//	engine.Add(ev)
//
//	// Range query over the compound key
//	window, _ := engine.ClockRange("match-42", 48_000, 78_000)
//	for _, e := range window {
//		fmt.Printf("%s at %dms\n", e.Kind, e.ClockMS)
//	}
package storage

import (
	"errors"
	"sort"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidID     = errors.New("invalid id")
	ErrInvalidEvent  = errors.New("invalid event: missing match or kind")
	ErrStorageClosed = errors.New("storage closed")
)

// EventID is a strongly-typed unique identifier for match events.
//
// Using a custom type provides:
//   - Type safety (can't accidentally use a MatchID where an EventID is expected)
//   - Clear API semantics
//
// Example:
//
//	id := storage.EventID("evt-123")
//	ev, err := engine.Get(id)
type EventID string

// MatchID is a strongly-typed unique identifier for matches.
type MatchID string

// EventKind enumerates the recognized event kinds. The set is closed:
// the relationship catalog is defined exhaustively over these values and
// validated at startup, so an unknown kind is a configuration error rather
// than a silent lookup miss.
type EventKind string

const (
	KindGoal          EventKind = "goal"
	KindAssist        EventKind = "assist"
	KindShotOnTarget  EventKind = "shot_on_target"
	KindShotOffTarget EventKind = "shot_off_target"
	KindSave          EventKind = "save"
	KindTackle        EventKind = "tackle"
	KindFoul          EventKind = "foul"
	KindCorner        EventKind = "corner"
	KindOwnGoal       EventKind = "own_goal"
	KindYellowCard    EventKind = "yellow_card"
	KindRedCard       EventKind = "red_card"
	KindSubstitution  EventKind = "substitution"
)

// AllKinds lists every recognized event kind. Used by the catalog validator
// to check exhaustiveness.
var AllKinds = []EventKind{
	KindGoal, KindAssist, KindShotOnTarget, KindShotOffTarget,
	KindSave, KindTackle, KindFoul, KindCorner, KindOwnGoal,
	KindYellowCard, KindRedCard, KindSubstitution,
}

// ValidKind reports whether k is one of the closed enumeration.
func ValidKind(k EventKind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is a single timestamped occurrence within a match.
//
// Core fields:
//   - ID: Unique identifier, immutable after creation
//   - MatchID: Owning match; events never move between matches
//   - Kind: One of the closed EventKind enumeration
//   - TeamID/PlayerID: Attribution (PlayerID may be empty)
//   - PeriodNumber: Match phase (1 = first half, 2 = second half, ...)
//   - ClockMS: Elapsed match time in milliseconds; the primary ordering
//     key within a match
//   - Sentiment: Small signed score for the event's quality/impact
//
// Linking fields, owned by the linking engine:
//   - LinkedEvents: Ordered set of related event ids. Never contains
//     duplicates or the event's own id, and its length never exceeds the
//     catalog's MaxLinksPerEvent. A nil slice means "no links"; an empty
//     slice is never stored or serialized — the field is omitted instead.
//   - AutoLinkedAt: Set only by the linking engine when a link is created.
//
// Example:
//
//	ev := &storage.Event{
//		ID:           "evt-assist-7",
//		MatchID:      "match-42",
//		Kind:         storage.KindAssist,
//		TeamID:       "team-home",
//		PlayerID:     "player-10",
//		PeriodNumber: 2,
//		ClockMS:      61_500,
//		Sentiment:    2,
//	}
//
// Thread Safety:
//
//	Event structs are NOT thread-safe. The storage engine returns copies and
//	handles concurrency internally.
type Event struct {
	ID           EventID   `json:"id"`
	MatchID      MatchID   `json:"matchId"`
	Kind         EventKind `json:"kind"`
	TeamID       string    `json:"teamId,omitempty"`
	PlayerID     string    `json:"playerId,omitempty"`
	PeriodNumber int       `json:"periodNumber"`
	ClockMS      int64     `json:"clockMs"`
	Sentiment    int       `json:"sentiment"`
	Notes        string    `json:"notes,omitempty"`

	LinkedEvents []EventID  `json:"linkedEvents,omitempty"`
	AutoLinkedAt *time.Time `json:"autoLinkedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasLink reports whether other is already in the event's linked set.
func (e *Event) HasLink(other EventID) bool {
	for _, id := range e.LinkedEvents {
		if id == other {
			return true
		}
	}
	return false
}

// AddLink appends other to the linked set. The caller is responsible for
// cap enforcement; AddLink only guards against duplicates and self-links.
func (e *Event) AddLink(other EventID) {
	if other == e.ID || e.HasLink(other) {
		return
	}
	e.LinkedEvents = append(e.LinkedEvents, other)
}

// RemoveLink removes other from the linked set. A set that becomes empty
// is cleared to nil so it is omitted on serialization, never stored as an
// empty container.
func (e *Event) RemoveLink(other EventID) {
	out := e.LinkedEvents[:0]
	for _, id := range e.LinkedEvents {
		if id != other {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		e.LinkedEvents = nil
		return
	}
	e.LinkedEvents = out
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cp := *e
	if e.LinkedEvents != nil {
		cp.LinkedEvents = make([]EventID, len(e.LinkedEvents))
		copy(cp.LinkedEvents, e.LinkedEvents)
	}
	if e.AutoLinkedAt != nil {
		t := *e.AutoLinkedAt
		cp.AutoLinkedAt = &t
	}
	return &cp
}

// Match holds the minimal match metadata the engine needs: which teams are
// playing, so the query service can replay goals into a running score.
type Match struct {
	ID         MatchID   `json:"id"`
	HomeTeamID string    `json:"homeTeamId"`
	AwayTeamID string    `json:"awayTeamId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Patch is a partial change-set applied to an existing event. Nil fields are
// left untouched. The linking fields are deliberately absent: LinkedEvents
// and AutoLinkedAt are mutated only through transactions owned by the
// linking engine.
type Patch struct {
	Kind         *EventKind
	TeamID       *string
	PlayerID     *string
	PeriodNumber *int
	ClockMS      *int64
	Sentiment    *int
	Notes        *string
}

// Apply writes the set fields onto ev and stamps UpdatedAt.
func (p Patch) Apply(ev *Event, now time.Time) {
	if p.Kind != nil {
		ev.Kind = *p.Kind
	}
	if p.TeamID != nil {
		ev.TeamID = *p.TeamID
	}
	if p.PlayerID != nil {
		ev.PlayerID = *p.PlayerID
	}
	if p.PeriodNumber != nil {
		ev.PeriodNumber = *p.PeriodNumber
	}
	if p.ClockMS != nil {
		ev.ClockMS = *p.ClockMS
	}
	if p.Sentiment != nil {
		ev.Sentiment = *p.Sentiment
	}
	if p.Notes != nil {
		ev.Notes = *p.Notes
	}
	ev.UpdatedAt = now
}

// Tx is an atomic unit of work over the store. All reads see the
// transaction's own pending writes; nothing becomes visible to other
// readers until Commit. A transaction that is rolled back (or never
// committed) leaves no partial state visible — this is what keeps a
// bidirectional link from ever existing on only one side.
type Tx interface {
	// Get retrieves an event, checking pending writes first
	// (read-your-writes). Returns ErrNotFound if absent.
	Get(id EventID) (*Event, error)

	// Put buffers a full-record write of an existing event.
	Put(ev *Event) error

	// Commit applies all buffered writes atomically.
	Commit() error

	// Rollback discards all buffered writes. Calling it after Commit is a
	// no-op, which makes `defer tx.Rollback()` safe.
	Rollback() error
}

// Engine defines the event store interface.
//
// All Engine implementations MUST be:
//   - Thread-safe: safe for concurrent access from multiple goroutines
//   - Copy-on-read: returned events are copies; mutating them does not
//     affect stored state
//   - Atomic within operations: Add either fully persists or fails
//
// Implementations:
//   - MemoryEngine: in-memory storage for tests and small datasets
//   - BadgerEngine: persistent disk storage
type Engine interface {
	// Event operations
	Add(ev *Event) (EventID, error)
	Get(id EventID) (*Event, error)
	Update(id EventID, p Patch) error

	// Match metadata
	PutMatch(m *Match) error
	GetMatch(id MatchID) (*Match, error)

	// Query operations
	// MatchEvents returns all events of a match, ascending by ClockMS.
	MatchEvents(matchID MatchID) ([]*Event, error)
	// ClockRange returns the match's events with ClockMS in [startMS, endMS]
	// (inclusive bounds), ascending by ClockMS.
	ClockRange(matchID MatchID, startMS, endMS int64) ([]*Event, error)
	// Filter returns every event satisfying the predicate, in no
	// particular order.
	Filter(fn func(*Event) bool) ([]*Event, error)

	// Bulk operations
	BulkAdd(events []*Event) error

	// Transactions
	Begin() (Tx, error)

	// Stats
	EventCount() (int64, error)

	// Lifecycle
	Close() error
}

// SortEventsByClock orders events ascending by ClockMS, breaking ties by
// ID so results are deterministic.
func SortEventsByClock(events []*Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].ClockMS != events[j].ClockMS {
			return events[i].ClockMS < events[j].ClockMS
		}
		return events[i].ID < events[j].ID
	})
}
