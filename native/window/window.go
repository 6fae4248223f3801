// Package window implements fixed-length usage windows keyed by account. A
// window starts on first use and rolls forward in whole multiples of its
// length, so consumption resets at stable boundaries rather than sliding.
package window

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

var (
	// ErrCapExceeded reports that an amount does not fit in the current window.
	ErrCapExceeded = errors.New("window: cap exceeded")
	// ErrCounterOverflow reports that consumption would overflow uint64.
	ErrCounterOverflow = errors.New("window: counter overflow")
	// ErrInvalidPolicy is returned for non-positive lengths or caps.
	ErrInvalidPolicy = errors.New("window: invalid policy")
)

// Policy bounds consumption to Cap per Length.
type Policy struct {
	Length time.Duration
	Cap    uint64
}

// Validate ensures the policy is usable.
func (p Policy) Validate() error {
	if p.Length <= 0 {
		return fmt.Errorf("%w: length must be positive", ErrInvalidPolicy)
	}
	if p.Cap == 0 {
		return fmt.Errorf("%w: cap must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Usage is the state of one key's window.
type Usage struct {
	Start    time.Time
	Consumed uint64
}

// Roll returns u advanced to the window containing now. Windows are
// half-open: an instant exactly Length after Start belongs to the next window.
func (p Policy) Roll(u Usage, now time.Time) Usage {
	if u.Start.IsZero() {
		return Usage{Start: now}
	}
	if now.Before(u.Start) {
		return u
	}
	elapsed := now.Sub(u.Start)
	if elapsed < p.Length {
		return u
	}
	periods := elapsed / p.Length
	return Usage{Start: u.Start.Add(periods * p.Length)}
}

// ResetsAt reports when the window holding u closes.
func (p Policy) ResetsAt(u Usage) time.Time {
	return u.Start.Add(p.Length)
}

// ExceededError carries the amount by which a request overshoots the cap.
type ExceededError struct {
	Shortfall uint64
	Usage     Usage
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s by %d", ErrCapExceeded, e.Shortfall)
}

// Unwrap exposes ErrCapExceeded.
func (e *ExceededError) Unwrap() error { return ErrCapExceeded }

// Shortfall extracts the overshoot from an ErrCapExceeded error.
func Shortfall(err error) (uint64, bool) {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return exceeded.Shortfall, true
	}
	return 0, false
}

// Reservation is a planned consumption that becomes visible on Commit.
type Reservation struct {
	Key    string
	Amount uint64
	Next   Usage
}

// Counter tracks one Policy across many keys. Plan and Commit do not
// serialise with each other; callers hold a per-key lock across both.
type Counter struct {
	mu      sync.RWMutex
	policy  Policy
	entries map[string]Usage
}

// NewCounter constructs a counter for policy.
func NewCounter(policy Policy) (*Counter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Counter{policy: policy, entries: make(map[string]Usage)}, nil
}

// Policy returns the counter's policy.
func (c *Counter) Policy() Policy { return c.policy }

// Plan computes the window state after consuming amount at now without
// mutating the counter.
func (c *Counter) Plan(key string, now time.Time, amount uint64) (Reservation, error) {
	current := c.Current(key, now)
	if current.Consumed > math.MaxUint64-amount {
		return Reservation{}, ErrCounterOverflow
	}
	next := current
	next.Consumed += amount
	if next.Consumed > c.policy.Cap {
		return Reservation{}, &ExceededError{Shortfall: next.Consumed - c.policy.Cap, Usage: current}
	}
	return Reservation{Key: key, Amount: amount, Next: next}, nil
}

// Commit applies a reservation produced by Plan.
func (c *Counter) Commit(r Reservation) {
	c.mu.Lock()
	c.entries[r.Key] = r.Next
	c.mu.Unlock()
}

// Restore overwrites the stored usage for key. It is used when rebuilding
// state from the journal.
func (c *Counter) Restore(key string, usage Usage) {
	c.mu.Lock()
	c.entries[key] = usage
	c.mu.Unlock()
}

// Current returns the usage for key rolled to now.
func (c *Counter) Current(key string, now time.Time) Usage {
	c.mu.RLock()
	stored := c.entries[key]
	c.mu.RUnlock()
	return c.policy.Roll(stored, now)
}

// Remaining reports the unconsumed budget for key at now.
func (c *Counter) Remaining(key string, now time.Time) uint64 {
	usage := c.Current(key, now)
	if usage.Consumed >= c.policy.Cap {
		return 0
	}
	return c.policy.Cap - usage.Consumed
}

// Prune drops keys whose windows have fully elapsed and returns how many were
// removed.
func (c *Counter) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, usage := range c.entries {
		if !now.Before(c.policy.ResetsAt(usage)) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
