package journal

import (
	"context"
	"sync"
)

// Memory is an in-process journal used by tests and ephemeral deployments.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
	// FailNext, when set, is returned (and cleared) by the next Append.
	failNext error
}

// NewMemory constructs an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

// FailNext makes the next Append return err without storing the entry.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Append stores entry and assigns the next sequence number.
func (m *Memory) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Entry{}, ErrClosed
	}
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return Entry{}, err
	}
	entry.Seq = uint64(len(m.entries)) + 1
	entry.Payload = append([]byte(nil), entry.Payload...)
	m.entries = append(m.entries, entry)
	return entry, nil
}

// Iterate visits entries after fromSeq in order.
func (m *Memory) Iterate(ctx context.Context, fromSeq uint64, fn func(Entry) bool) error {
	m.mu.RLock()
	snapshot := make([]Entry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()
	for _, entry := range snapshot {
		if entry.Seq <= fromSeq {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Entries returns a copy of all stored entries.
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Close marks the journal closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
