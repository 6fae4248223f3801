// Package journal provides the write-ahead log every settlement component
// appends to before mutating its in-memory state.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/observability"
)

const defaultAppendTimeout = 2 * time.Second

// Entry is a single journaled state change. Seq is assigned by the backend and
// is strictly increasing.
type Entry struct {
	Seq       uint64
	Type      string
	Account   string
	Payload   []byte
	Timestamp uint64
}

// Appender persists entries durably. A returned error means the entry was not
// stored.
type Appender interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
}

// Reader iterates entries in sequence order starting after fromSeq.
type Reader interface {
	Iterate(ctx context.Context, fromSeq uint64, fn func(Entry) bool) error
}

// Store is a journal backend supporting both appends and replay.
type Store interface {
	Appender
	Reader
	Close() error
}

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("journal: closed")

// Writer wraps an Appender with a bounded timeout and maps failures onto the
// dependency error kinds.
type Writer struct {
	appender Appender
	timeout  time.Duration
	clock    func() time.Time
	metrics  *observability.SettlementMetrics
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithTimeout bounds each append.
func WithTimeout(timeout time.Duration) WriterOption {
	return func(w *Writer) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) WriterOption {
	return func(w *Writer) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithMetrics records append latency.
func WithMetrics(metrics *observability.SettlementMetrics) WriterOption {
	return func(w *Writer) { w.metrics = metrics }
}

// NewWriter constructs a writer around appender.
func NewWriter(appender Appender, opts ...WriterOption) *Writer {
	w := &Writer{appender: appender, timeout: defaultAppendTimeout, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Record serialises evt and appends it under account. On any failure no entry
// is considered written and the caller must not mutate state.
func (w *Writer) Record(ctx context.Context, account string, evt events.Event) (Entry, error) {
	const op = "journal"
	if w == nil || w.appender == nil {
		return Entry{}, coreerrors.New(op, coreerrors.ErrPersistence, "no journal configured")
	}
	if evt == nil {
		return Entry{}, coreerrors.New(op, coreerrors.ErrPersistence, "nil event")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Entry{}, coreerrors.Wrap(op, coreerrors.ErrPersistence, fmt.Errorf("encode %s: %w", evt.EventType(), err))
	}
	entry := Entry{
		Type:      evt.EventType(),
		Account:   strings.TrimSpace(account),
		Payload:   payload,
		Timestamp: uint64(w.clock().UTC().Unix()),
	}

	appendCtx := ctx
	if appendCtx == nil {
		appendCtx = context.Background()
	}
	var cancel context.CancelFunc
	appendCtx, cancel = context.WithTimeout(appendCtx, w.timeout)
	defer cancel()

	start := time.Now()
	stored, err := w.appender.Append(appendCtx, entry)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(appendCtx.Err(), context.DeadlineExceeded) {
			w.metrics.ObserveJournal(entry.Type, elapsed, "timeout")
			return Entry{}, coreerrors.Wrap(op, coreerrors.ErrDependencyTimeout, err)
		}
		w.metrics.ObserveJournal(entry.Type, elapsed, "persistence")
		return Entry{}, coreerrors.Wrap(op, coreerrors.ErrPersistence, err)
	}
	w.metrics.ObserveJournal(entry.Type, elapsed, "")
	return stored, nil
}

// Decode unmarshals an entry payload into dst.
func Decode(entry Entry, dst any) error {
	if err := json.Unmarshal(entry.Payload, dst); err != nil {
		return fmt.Errorf("journal: decode entry %d (%s): %w", entry.Seq, entry.Type, err)
	}
	return nil
}
