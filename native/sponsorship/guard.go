// Package sponsorship decides whether an operation's execution cost may be
// paid from the shared sponsorship pool.
package sponsorship

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/crypto"
	"tappay/journal"
	nativecommon "tappay/native/common"
	"tappay/native/window"
	"tappay/observability"
)

const poolLockKey = "sponsorship/pool"

// Reason explains a denial.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonPerOperationCap    Reason = "per_operation_cap_exceeded"
	ReasonDailyCapExceeded   Reason = "daily_cap_exceeded"
	ReasonMonthlyCapExceeded Reason = "monthly_cap_exceeded"
	ReasonPoolExhausted      Reason = "pool_exhausted"
	ReasonModuleDisabled     Reason = "module_disabled"
	// ReasonUnavailable is reported by callers when Authorize failed and no
	// decision was reached. The guard itself never returns it.
	ReasonUnavailable Reason = "sponsorship_unavailable"
)

var reasonErrors = map[Reason]error{
	ReasonPerOperationCap:    coreerrors.ErrPerOperationCapExceeded,
	ReasonDailyCapExceeded:   coreerrors.ErrDailyCapExceeded,
	ReasonMonthlyCapExceeded: coreerrors.ErrMonthlyCapExceeded,
	ReasonPoolExhausted:      coreerrors.ErrPoolExhausted,
}

// Decision is the admission outcome. A denied decision is not an error: the
// account simply bears the execution cost itself.
type Decision struct {
	Admitted    bool
	Reason      Reason
	Shortfall   uint64
	Cost        uint64
	PoolBalance uint64
	// Replayed marks an admission returned for a reference that was already
	// charged.
	Replayed bool
}

// Err converts a denial into the typed resource error carrying the
// shortfall. Admitted decisions and module-disabled denials return nil.
func (d Decision) Err() error {
	sentinel, ok := reasonErrors[d.Reason]
	if d.Admitted || !ok {
		return nil
	}
	return coreerrors.Exhausted("sponsorship.authorize", sentinel, new(big.Int).SetUint64(d.Shortfall))
}

// Usage summarises an account's windows at a point in time.
type Usage struct {
	DayStart       time.Time
	DayConsumed    uint64
	DayRemaining   uint64
	MonthStart     time.Time
	MonthConsumed  uint64
	MonthRemaining uint64
}

// Guard enforces Policy against a shared pool.
type Guard struct {
	policy Policy
	day    *window.Counter
	month  *window.Counter

	poolMu sync.RWMutex
	pool   uint64

	refMu sync.Mutex
	refs  map[string]admission

	locker  *nativecommon.KeyedLocker
	journal *journal.Writer
	clock   func() time.Time
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
}

type admission struct {
	decision Decision
	at       time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the time source used for pool funding timestamps.
func WithClock(clock func() time.Time) Option {
	return func(g *Guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithEmitter sets the event sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(g *Guard) {
		if emitter != nil {
			g.emitter = emitter
		}
	}
}

// WithMetrics records decisions.
func WithMetrics(metrics *observability.SettlementMetrics) Option {
	return func(g *Guard) { g.metrics = metrics }
}

// WithInitialPool seeds the pool balance without journaling. It is intended
// for tests and fresh deployments.
func WithInitialPool(amount uint64) Option {
	return func(g *Guard) { g.pool = amount }
}

// NewGuard validates policy and constructs a guard.
func NewGuard(policy Policy, w *journal.Writer, opts ...Option) (*Guard, error) {
	policy = policy.Normalize()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	day, err := window.NewCounter(window.Policy{Length: policy.DayLength, Cap: policy.DailyCap})
	if err != nil {
		return nil, err
	}
	month, err := window.NewCounter(window.Policy{Length: policy.MonthLength, Cap: policy.MonthlyCap})
	if err != nil {
		return nil, err
	}
	g := &Guard{
		policy:  policy,
		day:     day,
		month:   month,
		locker:  nativecommon.NewKeyedLocker(),
		refs:    make(map[string]admission),
		journal: w,
		clock:   time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = g.logger.With("component", "sponsorship")
	return g, nil
}

// Policy returns the active policy.
func (g *Guard) Policy() Policy { return g.policy }

// Authorize decides whether cost may be sponsored for account at now. On
// admission both windows and the pool are updated atomically. Errors are
// reserved for cancellation and journal failures.
func (g *Guard) Authorize(ctx context.Context, account common.Address, cost uint64, now time.Time) (Decision, error) {
	return g.AuthorizeReference(ctx, account, "", cost, now)
}

// AuthorizeReference is Authorize for an operation identified by ref. An
// admission already charged for (account, ref) is returned again without
// touching the windows or the pool, so retried operations are charged once.
// Denials are not remembered and are re-evaluated on retry.
func (g *Guard) AuthorizeReference(ctx context.Context, account common.Address, ref string, cost uint64, now time.Time) (Decision, error) {
	ref = strings.TrimSpace(ref)
	if d, ok := g.admitted(account, ref); ok {
		return d, nil
	}
	if !g.policy.Enabled {
		return g.deny(account, cost, ReasonModuleDisabled, 0, now), nil
	}
	if cost == 0 {
		return Decision{Admitted: true, PoolBalance: g.PoolBalance()}, nil
	}
	if cost > g.policy.MaxCostPerOperation {
		return g.deny(account, cost, ReasonPerOperationCap, cost-g.policy.MaxCostPerOperation, now), nil
	}

	key := windowKey(account)
	unlock, err := g.locker.Lock(ctx, crypto.LockKey(account), poolLockKey)
	if err != nil {
		return Decision{}, err
	}
	defer unlock()
	if d, ok := g.admitted(account, ref); ok {
		return d, nil
	}

	dayRes, err := g.day.Plan(key, now, cost)
	if err != nil {
		return g.denyWindow(account, cost, ReasonDailyCapExceeded, err, now)
	}
	monthRes, err := g.month.Plan(key, now, cost)
	if err != nil {
		return g.denyWindow(account, cost, ReasonMonthlyCapExceeded, err, now)
	}
	pool := g.PoolBalance()
	if pool < cost {
		return g.deny(account, cost, ReasonPoolExhausted, cost-pool, now), nil
	}

	remaining := pool - cost
	evt := events.SponsorshipDecided{
		Account:       account.Hex(),
		Reference:     ref,
		Cost:          cost,
		Admitted:      true,
		DayStart:      dayRes.Next.Start.Unix(),
		DayConsumed:   dayRes.Next.Consumed,
		MonthStart:    monthRes.Next.Start.Unix(),
		MonthConsumed: monthRes.Next.Consumed,
		PoolBalance:   remaining,
		Timestamp:     now.Unix(),
	}
	if _, err := g.journal.Record(ctx, account.Hex(), evt); err != nil {
		return Decision{}, err
	}
	g.day.Commit(dayRes)
	g.month.Commit(monthRes)
	g.setPool(remaining)
	decision := Decision{Admitted: true, Cost: cost, PoolBalance: remaining}
	g.remember(account, ref, decision, now)

	g.emitter.Emit(evt)
	g.metrics.RecordSponsorship(true, "", cost, remaining)
	g.logger.Info("sponsorship admitted", "account", account.Hex(), "reference", ref, "cost", cost, "dayConsumed", dayRes.Next.Consumed, "monthConsumed", monthRes.Next.Consumed)
	return decision, nil
}

func (g *Guard) admitted(account common.Address, ref string) (Decision, bool) {
	if ref == "" {
		return Decision{}, false
	}
	g.refMu.Lock()
	entry, ok := g.refs[refKey(account, ref)]
	g.refMu.Unlock()
	if !ok {
		return Decision{}, false
	}
	d := entry.decision
	d.Replayed = true
	d.PoolBalance = g.PoolBalance()
	return d, true
}

func (g *Guard) remember(account common.Address, ref string, d Decision, at time.Time) {
	if ref == "" {
		return
	}
	g.refMu.Lock()
	g.refs[refKey(account, ref)] = admission{decision: d, at: at}
	g.refMu.Unlock()
}

func (g *Guard) denyWindow(account common.Address, cost uint64, reason Reason, err error, now time.Time) (Decision, error) {
	shortfall, ok := window.Shortfall(err)
	if !ok {
		if errors.Is(err, window.ErrCounterOverflow) {
			return g.deny(account, cost, reason, cost, now), nil
		}
		return Decision{}, err
	}
	return g.deny(account, cost, reason, shortfall, now), nil
}

// deny records a denial. Denials change no state and are not journaled.
func (g *Guard) deny(account common.Address, cost uint64, reason Reason, shortfall uint64, now time.Time) Decision {
	pool := g.PoolBalance()
	g.emitter.Emit(events.SponsorshipDecided{
		Account:     account.Hex(),
		Cost:        cost,
		Reason:      string(reason),
		Shortfall:   shortfall,
		PoolBalance: pool,
		Timestamp:   now.Unix(),
	})
	g.metrics.RecordSponsorship(false, string(reason), cost, pool)
	g.logger.Debug("sponsorship denied", "account", account.Hex(), "cost", cost, "reason", string(reason), "shortfall", shortfall)
	return Decision{Reason: reason, Shortfall: shortfall, Cost: cost, PoolBalance: pool}
}

// FundPool adds amount to the pool. Only operators may fund it.
func (g *Guard) FundPool(ctx context.Context, amount uint64, callerIsOperator bool) (uint64, error) {
	const op = "sponsorship.fund"
	if !callerIsOperator {
		return 0, coreerrors.New(op, coreerrors.ErrUnauthorized, "operator role required")
	}
	if amount == 0 {
		return 0, coreerrors.New(op, coreerrors.ErrInvalidAmount, "amount must be positive")
	}
	unlock, err := g.locker.Lock(ctx, poolLockKey)
	if err != nil {
		return 0, err
	}
	defer unlock()

	pool := g.PoolBalance()
	if pool > math.MaxUint64-amount {
		return 0, coreerrors.New(op, coreerrors.ErrBalanceOverflow, "pool balance overflow")
	}
	evt := events.SponsorshipPoolFunded{Amount: amount, Balance: pool + amount, Timestamp: g.clock().Unix()}
	if _, err := g.journal.Record(ctx, "", evt); err != nil {
		return 0, err
	}
	g.setPool(evt.Balance)
	g.metrics.SetPoolBalance(evt.Balance)
	g.emitter.Emit(evt)
	g.logger.Info("sponsorship pool funded", "amount", amount, "balance", evt.Balance)
	return evt.Balance, nil
}

// PoolBalance returns the remaining pool.
func (g *Guard) PoolBalance() uint64 {
	g.poolMu.RLock()
	defer g.poolMu.RUnlock()
	return g.pool
}

// Usage reports the account's windows rolled to now.
func (g *Guard) Usage(account common.Address, now time.Time) Usage {
	key := windowKey(account)
	day := g.day.Current(key, now)
	month := g.month.Current(key, now)
	return Usage{
		DayStart:       day.Start,
		DayConsumed:    day.Consumed,
		DayRemaining:   g.day.Remaining(key, now),
		MonthStart:     month.Start,
		MonthConsumed:  month.Consumed,
		MonthRemaining: g.month.Remaining(key, now),
	}
}

// Prune drops expired windows and admission references older than a month
// window, and returns how many entries were removed.
func (g *Guard) Prune(now time.Time) int {
	removed := g.day.Prune(now) + g.month.Prune(now)
	cutoff := now.Add(-g.policy.MonthLength)
	g.refMu.Lock()
	for key, entry := range g.refs {
		if entry.at.Before(cutoff) {
			delete(g.refs, key)
			removed++
		}
	}
	g.refMu.Unlock()
	return removed
}

// Replay applies a journaled admission or pool funding during recovery.
func (g *Guard) Replay(entry journal.Entry) error {
	switch entry.Type {
	case events.TypeSponsorshipPoolFunded:
		var evt events.SponsorshipPoolFunded
		if err := journal.Decode(entry, &evt); err != nil {
			return err
		}
		g.setPool(evt.Balance)
		return nil
	default:
		var evt events.SponsorshipDecided
		if err := journal.Decode(entry, &evt); err != nil {
			return err
		}
		account, err := crypto.ParseAddress(evt.Account)
		if err != nil {
			return err
		}
		key := windowKey(account)
		g.day.Restore(key, window.Usage{Start: time.Unix(evt.DayStart, 0).UTC(), Consumed: evt.DayConsumed})
		g.month.Restore(key, window.Usage{Start: time.Unix(evt.MonthStart, 0).UTC(), Consumed: evt.MonthConsumed})
		g.setPool(evt.PoolBalance)
		g.remember(account, evt.Reference, Decision{Admitted: true, Cost: evt.Cost, PoolBalance: evt.PoolBalance}, time.Unix(evt.Timestamp, 0).UTC())
		return nil
	}
}

func (g *Guard) setPool(balance uint64) {
	g.poolMu.Lock()
	g.pool = balance
	g.poolMu.Unlock()
}

func windowKey(account common.Address) string {
	return strings.ToLower(account.Hex())
}

func refKey(account common.Address, ref string) string {
	return windowKey(account) + "/" + ref
}
