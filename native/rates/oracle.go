// Package rates holds the exchange rate between the settlement token and the
// deployment's reference currency.
package rates

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/journal"
	nativecommon "tappay/native/common"
	"tappay/observability"
)

const (
	// DefaultQuoteCurrency is used when no quote currency is configured.
	DefaultQuoteCurrency = "USD"

	rateLockKey = "rates/current"
)

// Rate converts reference-currency amounts into token base units as
// floor(amount * Numerator / Denominator).
type Rate struct {
	Numerator   *big.Int
	Denominator *big.Int
	Quote       string
	Version     uint64
	UpdatedAt   time.Time
	Updater     string
}

// Clone returns a deep copy of the rate.
func (r Rate) Clone() Rate {
	clone := r
	if r.Numerator != nil {
		clone.Numerator = new(big.Int).Set(r.Numerator)
	}
	if r.Denominator != nil {
		clone.Denominator = new(big.Int).Set(r.Denominator)
	}
	return clone
}

// Apply converts amount with the rate using integer floor division.
func (r Rate) Apply(amount *big.Int) *big.Int {
	if amount == nil || r.Numerator == nil || r.Denominator == nil || r.Denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, r.Numerator)
	return out.Quo(out, r.Denominator)
}

// Oracle owns the current rate. Writers are serialised; readers receive
// immutable snapshots.
type Oracle struct {
	mu      sync.RWMutex
	current Rate

	quote   string
	maxAge  time.Duration
	locker  *nativecommon.KeyedLocker
	journal *journal.Writer
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
	clock   func() time.Time
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithMaxAge makes snapshots older than maxAge unavailable. Zero disables the
// staleness check.
func WithMaxAge(maxAge time.Duration) Option {
	return func(o *Oracle) { o.maxAge = maxAge }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Oracle) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Oracle) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEmitter sets the event sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(o *Oracle) {
		if emitter != nil {
			o.emitter = emitter
		}
	}
}

// WithMetrics publishes the active version.
func WithMetrics(metrics *observability.SettlementMetrics) Option {
	return func(o *Oracle) { o.metrics = metrics }
}

// NewOracle constructs an oracle for the single configured quote currency.
func NewOracle(w *journal.Writer, quote string, opts ...Option) *Oracle {
	o := &Oracle{
		quote:   normalizeQuote(quote),
		locker:  nativecommon.NewKeyedLocker(),
		journal: w,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		clock:   time.Now,
	}
	if o.quote == "" {
		o.quote = DefaultQuoteCurrency
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.With("component", "rates")
	return o
}

// Quote returns the configured quote currency.
func (o *Oracle) Quote() string { return o.quote }

// SetRate installs a new rate. Only the authorised feed may update it.
func (o *Oracle) SetRate(ctx context.Context, numerator, denominator *big.Int, updater string, callerIsUpdater bool) (Rate, error) {
	const op = "rates.set"
	if !callerIsUpdater {
		return Rate{}, coreerrors.New(op, coreerrors.ErrUnauthorized, "rate updater role required")
	}
	if numerator == nil || denominator == nil || numerator.Sign() <= 0 || denominator.Sign() <= 0 {
		return Rate{}, coreerrors.New(op, coreerrors.ErrInvalidRate, "numerator and denominator must be positive")
	}
	unlock, err := o.locker.Lock(ctx, rateLockKey)
	if err != nil {
		return Rate{}, err
	}
	defer unlock()

	o.mu.RLock()
	version := o.current.Version + 1
	o.mu.RUnlock()
	next := Rate{
		Numerator:   new(big.Int).Set(numerator),
		Denominator: new(big.Int).Set(denominator),
		Quote:       o.quote,
		Version:     version,
		UpdatedAt:   o.clock().UTC(),
		Updater:     strings.TrimSpace(updater),
	}
	evt := events.RateUpdated{
		Numerator:   next.Numerator.String(),
		Denominator: next.Denominator.String(),
		Quote:       next.Quote,
		Version:     next.Version,
		UpdatedAt:   next.UpdatedAt.Unix(),
		Updater:     next.Updater,
	}
	if _, err := o.journal.Record(ctx, next.Updater, evt); err != nil {
		return Rate{}, err
	}
	o.install(next)
	o.emitter.Emit(evt)
	o.logger.Info("exchange rate updated", "version", version, "numerator", evt.Numerator, "denominator", evt.Denominator, "quote", o.quote)
	return next.Clone(), nil
}

// Snapshot returns an immutable copy of the current rate.
func (o *Oracle) Snapshot() (Rate, error) {
	const op = "rates.snapshot"
	o.mu.RLock()
	current := o.current.Clone()
	o.mu.RUnlock()
	if current.Version == 0 {
		return Rate{}, coreerrors.New(op, coreerrors.ErrRateUnavailable, "no rate published")
	}
	if o.maxAge > 0 {
		if age := o.clock().Sub(current.UpdatedAt); age > o.maxAge {
			return Rate{}, coreerrors.Newf(op, coreerrors.ErrRateUnavailable, "rate version %d is stale (%s old)", current.Version, age.Truncate(time.Second))
		}
	}
	return current, nil
}

// Convert turns a reference-currency amount into token base units.
func (o *Oracle) Convert(amount *big.Int, quote string) (*big.Int, error) {
	const op = "rates.convert"
	if normalizeQuote(quote) != o.quote {
		return nil, coreerrors.Newf(op, coreerrors.ErrUnsupportedCurrency, "quote %q (supported %s)", quote, o.quote)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, coreerrors.New(op, coreerrors.ErrInvalidAmount, "amount must be non-negative")
	}
	rate, err := o.Snapshot()
	if err != nil {
		return nil, err
	}
	return rate.Apply(amount), nil
}

// Replay applies a journaled rate update during recovery.
func (o *Oracle) Replay(entry journal.Entry) error {
	var evt events.RateUpdated
	if err := journal.Decode(entry, &evt); err != nil {
		return err
	}
	num, ok := new(big.Int).SetString(evt.Numerator, 10)
	if !ok {
		return fmt.Errorf("rates: replay entry %d: bad numerator %q", entry.Seq, evt.Numerator)
	}
	den, ok := new(big.Int).SetString(evt.Denominator, 10)
	if !ok {
		return fmt.Errorf("rates: replay entry %d: bad denominator %q", entry.Seq, evt.Denominator)
	}
	o.install(Rate{
		Numerator:   num,
		Denominator: den,
		Quote:       evt.Quote,
		Version:     evt.Version,
		UpdatedAt:   time.Unix(evt.UpdatedAt, 0).UTC(),
		Updater:     evt.Updater,
	})
	return nil
}

func (o *Oracle) install(rate Rate) {
	o.mu.Lock()
	o.current = rate
	o.mu.Unlock()
	o.metrics.SetRateVersion(rate.Version)
}

func normalizeQuote(quote string) string {
	return strings.ToUpper(strings.TrimSpace(quote))
}
