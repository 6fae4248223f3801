package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

const defaultFeedHistory = 1024

// FeedUpdate is a sequenced event delivered to stream subscribers.
type FeedUpdate struct {
	Sequence uint64  `json:"sequence"`
	Cursor   string  `json:"cursor"`
	Event    *Record `json:"event"`
}

// Feed is an Emitter that keeps a bounded history and fans events out to
// subscribers. Slow subscribers miss updates rather than blocking emitters.
type Feed struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	history []FeedUpdate
	subs    map[uint64]chan FeedUpdate
}

// NewFeed constructs a feed retaining up to limit updates for replay.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = defaultFeedHistory
	}
	return &Feed{limit: limit, subs: make(map[uint64]chan FeedUpdate)}
}

// Emit implements the Emitter interface.
func (f *Feed) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	record := Render(evt)
	f.mu.Lock()
	f.seq++
	update := FeedUpdate{Sequence: f.seq, Cursor: strconv.FormatUint(f.seq, 10), Event: record}
	f.history = append(f.history, update)
	if len(f.history) > f.limit {
		excess := len(f.history) - f.limit
		trimmed := make([]FeedUpdate, f.limit)
		copy(trimmed, f.history[excess:])
		f.history = trimmed
	}
	// Sends are non-blocking and happen under the lock so cancel cannot close
	// a channel mid-send.
	for _, ch := range f.subs {
		select {
		case ch <- update:
		default:
		}
	}
	f.mu.Unlock()
}

// Subscribe registers a subscriber and returns the retained updates newer
// than cursor. The returned cancel func must be called to release the
// subscription; it is also invoked when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, cursor string) (<-chan FeedUpdate, func(), []FeedUpdate) {
	updates := make(chan FeedUpdate, 32)
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = updates
	backlog := make([]FeedUpdate, 0, len(f.history))
	for _, entry := range f.history {
		if entry.Sequence > since {
			backlog = append(backlog, entry)
		}
	}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(updates)
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}
