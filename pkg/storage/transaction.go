// Package storage - transaction support for atomic multi-event updates.
//
// The linking engine updates both sides of a bidirectional link inside one
// transaction. Writes are buffered and only applied to the engine on commit,
// so a failure mid-way leaves no half-written link visible: either both
// events carry the new link or neither does.
//
// # Implementation Strategy
//
//  1. Begin: snapshot nothing; record the engine handle
//  2. Operations: buffer writes, serve reads from the buffer first
//     (read-your-writes)
//  3. Commit: take the engine write lock once and apply every buffered
//     write
//  4. Rollback: discard the buffer
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Transaction errors
var (
	ErrTxClosed = errors.New("transaction already closed")
)

// txStatus tracks the lifecycle of a transaction.
type txStatus int

const (
	txActive txStatus = iota
	txCommitted
	txRolledBack
)

// memoryTx is the MemoryEngine transaction. It buffers full-record writes
// and applies them atomically under the engine's write lock on commit.
type memoryTx struct {
	mu     sync.Mutex
	engine *MemoryEngine
	status txStatus

	id        string
	startTime time.Time

	// Pending writes, keyed by event ID (read-your-writes).
	pending map[EventID]*Event
	// Commit order; later writes to the same event replace earlier ones
	// in pending but the key order is preserved.
	order []EventID
}

func newMemoryTx(engine *MemoryEngine) *memoryTx {
	return &memoryTx{
		engine:    engine,
		id:        "tx-" + time.Now().Format("20060102150405.000000"),
		startTime: time.Now(),
		pending:   make(map[EventID]*Event),
	}
}

// Get retrieves an event, checking pending writes first.
func (tx *memoryTx) Get(id EventID) (*Event, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != txActive {
		return nil, ErrTxClosed
	}

	if pending, ok := tx.pending[id]; ok {
		return pending.Clone(), nil
	}

	tx.engine.mu.RLock()
	ev, ok := tx.engine.getUnlocked(id)
	tx.engine.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return ev.Clone(), nil
}

// Put buffers a full-record write of an existing event. The event must
// already exist in the store or in this transaction's pending writes.
func (tx *memoryTx) Put(ev *Event) error {
	if ev == nil || ev.ID == "" {
		return ErrInvalidID
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != txActive {
		return ErrTxClosed
	}

	if _, ok := tx.pending[ev.ID]; !ok {
		tx.engine.mu.RLock()
		_, exists := tx.engine.getUnlocked(ev.ID)
		tx.engine.mu.RUnlock()
		if !exists {
			return fmt.Errorf("put event %s: %w", ev.ID, ErrNotFound)
		}
		tx.order = append(tx.order, ev.ID)
	}

	tx.pending[ev.ID] = ev.Clone()
	return nil
}

// Commit applies all buffered writes atomically under the engine write lock.
func (tx *memoryTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != txActive {
		return ErrTxClosed
	}

	tx.engine.mu.Lock()
	defer tx.engine.mu.Unlock()

	if tx.engine.closed {
		return ErrStorageClosed
	}

	for _, id := range tx.order {
		tx.engine.putUnlocked(tx.pending[id].Clone())
	}

	tx.status = txCommitted
	return nil
}

// Rollback discards all buffered writes. Calling Rollback on a committed
// or already rolled back transaction does nothing, so deferring it after
// Begin is always safe.
func (tx *memoryTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.status != txActive {
		return nil
	}

	tx.pending = nil
	tx.order = nil
	tx.status = txRolledBack
	return nil
}
