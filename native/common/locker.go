package common

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	coreerrors "tappay/core/errors"
)

type keyedSlot struct {
	sem  *semaphore.Weighted
	refs int
}

// KeyedLocker serialises work per string key. Multi-key acquisitions are taken
// in lexicographic order so two callers locking overlapping sets cannot
// deadlock.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*keyedSlot
}

// NewKeyedLocker constructs an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*keyedSlot)}
}

// Lock acquires every key, waiting until ctx is done. Empty and duplicate keys
// are ignored. On error nothing is held and the returned error is a
// dependency timeout wrapping ctx.Err().
func (l *KeyedLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalizeKeys(keys)
	acquired := make([]string, 0, len(ordered))
	for _, key := range ordered {
		slot := l.ref(key)
		if err := slot.sem.Acquire(ctx, 1); err != nil {
			l.unref(key)
			l.release(acquired)
			return nil, coreerrors.Wrap("lock", coreerrors.ErrDependencyTimeout, ctx.Err())
		}
		acquired = append(acquired, key)
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(acquired) })
	}, nil
}

func (l *KeyedLocker) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		slot := l.slots[keys[i]]
		l.mu.Unlock()
		slot.sem.Release(1)
		l.unref(keys[i])
	}
}

func (l *KeyedLocker) ref(key string) *keyedSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keyedSlot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs <= 0 {
		delete(l.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
