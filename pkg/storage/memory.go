package storage

import (
	"fmt"
	"sync"
	"time"
)

// MemoryEngine is a thread-safe in-memory event store implementation.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Demo matches and small datasets that fit entirely in RAM
//   - Development and prototyping
//
// Features:
//   - Thread-safe: all operations use an RWMutex for concurrent access
//   - Indexed: maintains a per-match index for fast compound-key queries
//   - Deep copies: returns copies to prevent external mutation
//
// Performance Characteristics:
//   - Event lookup by ID: O(1)
//   - Match events / clock range: O(k log k) where k = events in the match
//   - Filter: O(n) full scan
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	id, _ := engine.Add(&storage.Event{
//		ID: "evt-1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 10_000,
//	})
//	ev, _ := engine.Get(id)
//	fmt.Println(ev.Kind) // goal
type MemoryEngine struct {
	mu      sync.RWMutex
	events  map[EventID]*Event
	matches map[MatchID]*Match

	// Per-match index for the compound (matchId, clockMs) ordering key.
	byMatch map[MatchID]map[EventID]struct{}

	closed bool
}

// NewMemoryEngine creates an empty in-memory event store.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		events:  make(map[EventID]*Event),
		matches: make(map[MatchID]*Match),
		byMatch: make(map[MatchID]map[EventID]struct{}),
	}
}

// Add persists a new event. The event must carry a non-empty ID, MatchID
// and a valid Kind; adding an existing ID fails with ErrAlreadyExists.
func (m *MemoryEngine) Add(ev *Event) (EventID, error) {
	if ev == nil || ev.ID == "" {
		return "", ErrInvalidID
	}
	if ev.MatchID == "" || !ValidKind(ev.Kind) {
		return "", ErrInvalidEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrStorageClosed
	}
	if _, exists := m.events[ev.ID]; exists {
		return "", fmt.Errorf("add event %s: %w", ev.ID, ErrAlreadyExists)
	}

	m.putUnlocked(ev.Clone())
	return ev.ID, nil
}

// Get retrieves an event by ID. Returns a copy.
func (m *MemoryEngine) Get(id EventID) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	ev, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ev.Clone(), nil
}

// Update applies a partial change-set to an existing event and stamps
// UpdatedAt.
func (m *MemoryEngine) Update(id EventID, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("update event %s: %w", id, ErrNotFound)
	}

	updated := ev.Clone()
	p.Apply(updated, time.Now())
	m.events[id] = updated
	return nil
}

// PutMatch stores match metadata, overwriting any previous record.
func (m *MemoryEngine) PutMatch(match *Match) error {
	if match == nil || match.ID == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	cp := *match
	m.matches[match.ID] = &cp
	return nil
}

// GetMatch retrieves match metadata.
func (m *MemoryEngine) GetMatch(id MatchID) (*Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *match
	return &cp, nil
}

// MatchEvents returns all events of a match, ascending by ClockMS.
func (m *MemoryEngine) MatchEvents(matchID MatchID) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	result := make([]*Event, 0, len(m.byMatch[matchID]))
	for id := range m.byMatch[matchID] {
		result = append(result, m.events[id].Clone())
	}
	SortEventsByClock(result)
	return result, nil
}

// ClockRange returns the match's events with ClockMS in [startMS, endMS],
// inclusive, ascending by ClockMS.
func (m *MemoryEngine) ClockRange(matchID MatchID, startMS, endMS int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var result []*Event
	for id := range m.byMatch[matchID] {
		ev := m.events[id]
		if ev.ClockMS >= startMS && ev.ClockMS <= endMS {
			result = append(result, ev.Clone())
		}
	}
	SortEventsByClock(result)
	return result, nil
}

// Filter returns every event satisfying the predicate.
func (m *MemoryEngine) Filter(fn func(*Event) bool) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	var result []*Event
	for _, ev := range m.events {
		if fn(ev) {
			result = append(result, ev.Clone())
		}
	}
	return result, nil
}

// BulkAdd persists a batch of events. The whole batch is validated first;
// either every event is stored or none is.
func (m *MemoryEngine) BulkAdd(events []*Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	// Pre-validate so a mid-batch failure can't leave a partial import.
	seen := make(map[EventID]struct{}, len(events))
	for _, ev := range events {
		if ev == nil || ev.ID == "" {
			return ErrInvalidID
		}
		if ev.MatchID == "" || !ValidKind(ev.Kind) {
			return fmt.Errorf("bulk add event %s: %w", ev.ID, ErrInvalidEvent)
		}
		if _, exists := m.events[ev.ID]; exists {
			return fmt.Errorf("bulk add event %s: %w", ev.ID, ErrAlreadyExists)
		}
		if _, dup := seen[ev.ID]; dup {
			return fmt.Errorf("bulk add event %s: %w", ev.ID, ErrAlreadyExists)
		}
		seen[ev.ID] = struct{}{}
	}

	for _, ev := range events {
		m.putUnlocked(ev.Clone())
	}
	return nil
}

// Begin starts a buffered transaction over the store.
func (m *MemoryEngine) Begin() (Tx, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrStorageClosed
	}
	return newMemoryTx(m), nil
}

// EventCount returns the number of stored events.
func (m *MemoryEngine) EventCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.events)), nil
}

// Close releases the store. Subsequent operations fail with
// ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.events = nil
	m.matches = nil
	m.byMatch = nil
	return nil
}

// putUnlocked stores ev and maintains the match index.
// Must be called with m.mu held for writing.
func (m *MemoryEngine) putUnlocked(ev *Event) {
	if existing, ok := m.events[ev.ID]; ok && existing.MatchID != ev.MatchID {
		delete(m.byMatch[existing.MatchID], ev.ID)
	}
	m.events[ev.ID] = ev

	idx, ok := m.byMatch[ev.MatchID]
	if !ok {
		idx = make(map[EventID]struct{})
		m.byMatch[ev.MatchID] = idx
	}
	idx[ev.ID] = struct{}{}
}

// getUnlocked reads an event without copying.
// Must be called with m.mu held (read or write).
func (m *MemoryEngine) getUnlocked(id EventID) (*Event, bool) {
	ev, ok := m.events[id]
	return ev, ok
}
