package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerEngine is a persistent event store backed by BadgerDB.
//
// Key layout:
//
//	evt:<eventID>                      -> JSON-encoded Event
//	mat:<matchID>                      -> JSON-encoded Match
//	mc:<matchID>:<clockMS>:<eventID>   -> (empty) compound-key index
//
// The mc: index encodes ClockMS as a fixed-width 12-digit decimal so that
// lexicographic key order equals chronological order, which makes the
// inclusive (matchId, clockMs) range query a single prefix seek.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	engine.Add(&storage.Event{ID: "e1", MatchID: "m1", Kind: storage.KindGoal, ClockMS: 10_000})
//	window, _ := engine.ClockRange("m1", 0, 15_000)
type BadgerEngine struct {
	db *badger.DB
}

// NewBadgerEngine opens (or creates) a persistent event store at dataDir.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil // badger's own logger is noisy; callers log at the component level

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dataDir, err)
	}
	return &BadgerEngine{db: db}, nil
}

// NewBadgerEngineInMemory opens a non-persistent Badger store. Useful for
// tests that want Badger semantics without disk I/O.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return &BadgerEngine{db: db}, nil
}

// Key construction

func eventKey(id EventID) []byte {
	return []byte("evt:" + string(id))
}

func matchKey(id MatchID) []byte {
	return []byte("mat:" + string(id))
}

// clockIndexKey builds the compound-key index entry. ClockMS is encoded
// fixed-width so byte order matches numeric order. ClockMS is never
// negative: it is elapsed time within the match.
func clockIndexKey(matchID MatchID, clockMS int64, id EventID) []byte {
	return []byte(fmt.Sprintf("mc:%s:%012d:%s", matchID, clockMS, id))
}

func clockIndexPrefix(matchID MatchID) []byte {
	return []byte(fmt.Sprintf("mc:%s:", matchID))
}

func clockIndexSeek(matchID MatchID, clockMS int64) []byte {
	return []byte(fmt.Sprintf("mc:%s:%012d:", matchID, clockMS))
}

// extractEventIDFromIndexKey pulls the event ID out of an mc: index key.
func extractEventIDFromIndexKey(key []byte) EventID {
	s := string(key)
	// mc:<matchID>:<clock>:<eventID> — the event ID is everything after
	// the last separator. Event IDs never contain ':'.
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 || idx+1 >= len(s) {
		return ""
	}
	return EventID(s[idx+1:])
}

// Serialization

func encodeEvent(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &ev, nil
}

// Add persists a new event together with its compound-key index entry.
func (b *BadgerEngine) Add(ev *Event) (EventID, error) {
	if ev == nil || ev.ID == "" {
		return "", ErrInvalidID
	}
	if ev.MatchID == "" || !ValidKind(ev.Kind) {
		return "", ErrInvalidEvent
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(eventKey(ev.ID)); err == nil {
			return fmt.Errorf("add event %s: %w", ev.ID, ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putEventInTxn(txn, nil, ev)
	})
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

// Get retrieves an event by ID.
func (b *BadgerEngine) Get(id EventID) (*Event, error) {
	var ev *Event
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			ev, err = decodeEvent(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Update applies a partial change-set to an existing event and stamps
// UpdatedAt. If the patch moves ClockMS, the compound-key index entry is
// rewritten in the same transaction.
func (b *BadgerEngine) Update(id EventID, p Patch) error {
	return b.db.Update(func(txn *badger.Txn) error {
		old, err := getEventInTxn(txn, id)
		if err != nil {
			return fmt.Errorf("update event %s: %w", id, err)
		}
		updated := old.Clone()
		p.Apply(updated, time.Now())
		return putEventInTxn(txn, old, updated)
	})
}

// PutMatch stores match metadata, overwriting any previous record.
func (b *BadgerEngine) PutMatch(m *Match) error {
	if m == nil || m.ID == "" {
		return ErrInvalidID
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(matchKey(m.ID), data)
	})
}

// GetMatch retrieves match metadata.
func (b *BadgerEngine) GetMatch(id MatchID) (*Match, error) {
	var m Match
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(matchKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MatchEvents returns all events of a match, ascending by ClockMS.
func (b *BadgerEngine) MatchEvents(matchID MatchID) ([]*Event, error) {
	return b.scanClockIndex(matchID, clockIndexPrefix(matchID), nil)
}

// ClockRange returns the match's events with ClockMS in [startMS, endMS],
// inclusive, ascending by ClockMS.
func (b *BadgerEngine) ClockRange(matchID MatchID, startMS, endMS int64) ([]*Event, error) {
	if startMS < 0 {
		startMS = 0
	}
	if endMS < startMS {
		return nil, nil
	}
	stop := func(ev *Event) bool { return ev.ClockMS > endMS }
	return b.scanClockIndex(matchID, clockIndexSeek(matchID, startMS), stop)
}

// scanClockIndex walks the mc: index from seek within the match prefix,
// resolving each index entry to its event. Iteration ends at the prefix
// boundary or when stop returns true.
func (b *BadgerEngine) scanClockIndex(matchID MatchID, seek []byte, stop func(*Event) bool) ([]*Event, error) {
	prefix := clockIndexPrefix(matchID)

	var result []*Event
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id := extractEventIDFromIndexKey(it.Item().Key())
			ev, err := getEventInTxn(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue // dangling index entry
			}
			if err != nil {
				return err
			}
			if stop != nil && stop(ev) {
				break
			}
			result = append(result, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortEventsByClock(result)
	return result, nil
}

// Filter returns every event satisfying the predicate. Full scan over the
// evt: keyspace.
func (b *BadgerEngine) Filter(fn func(*Event) bool) ([]*Event, error) {
	prefix := []byte("evt:")

	var result []*Event
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				ev, err := decodeEvent(val)
				if err != nil {
					return err
				}
				if fn(ev) {
					result = append(result, ev)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BulkAdd persists a batch of events in one transaction: either every
// event is stored or none is.
func (b *BadgerEngine) BulkAdd(events []*Event) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, ev := range events {
			if ev == nil || ev.ID == "" {
				return ErrInvalidID
			}
			if ev.MatchID == "" || !ValidKind(ev.Kind) {
				return fmt.Errorf("bulk add event %s: %w", ev.ID, ErrInvalidEvent)
			}
			if _, err := txn.Get(eventKey(ev.ID)); err == nil {
				return fmt.Errorf("bulk add event %s: %w", ev.ID, ErrAlreadyExists)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := putEventInTxn(txn, nil, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Begin starts a read-write transaction backed by a native Badger
// transaction. Badger gives snapshot isolation and conflict detection;
// Commit fails with badger.ErrConflict if a concurrent transaction wrote
// one of the read keys first.
func (b *BadgerEngine) Begin() (Tx, error) {
	return &badgerTx{txn: b.db.NewTransaction(true)}, nil
}

// EventCount returns the number of stored events.
func (b *BadgerEngine) EventCount() (int64, error) {
	prefix := []byte("evt:")

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close flushes and closes the underlying Badger database.
func (b *BadgerEngine) Close() error {
	return b.db.Close()
}

// getEventInTxn reads and decodes an event inside a Badger transaction.
func getEventInTxn(txn *badger.Txn, id EventID) (*Event, error) {
	item, err := txn.Get(eventKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var ev *Event
	err = item.Value(func(val []byte) error {
		ev, err = decodeEvent(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// putEventInTxn writes an event and maintains the compound-key index. old
// is the previous record when updating (nil on create); if the clock or
// match changed, the stale index entry is removed in the same transaction.
func putEventInTxn(txn *badger.Txn, old, ev *Event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := txn.Set(eventKey(ev.ID), data); err != nil {
		return err
	}
	if old != nil && (old.ClockMS != ev.ClockMS || old.MatchID != ev.MatchID) {
		if err := txn.Delete(clockIndexKey(old.MatchID, old.ClockMS, old.ID)); err != nil {
			return err
		}
	}
	return txn.Set(clockIndexKey(ev.MatchID, ev.ClockMS, ev.ID), nil)
}

// badgerTx adapts a native Badger transaction to the Tx interface.
type badgerTx struct {
	txn  *badger.Txn
	done bool
}

func (t *badgerTx) Get(id EventID) (*Event, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	return getEventInTxn(t.txn, id)
}

func (t *badgerTx) Put(ev *Event) error {
	if t.done {
		return ErrTxClosed
	}
	if ev == nil || ev.ID == "" {
		return ErrInvalidID
	}
	old, err := getEventInTxn(t.txn, ev.ID)
	if err != nil {
		return fmt.Errorf("put event %s: %w", ev.ID, err)
	}
	return putEventInTxn(t.txn, old, ev)
}

func (t *badgerTx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	t.done = true
	return t.txn.Commit()
}

func (t *badgerTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}
