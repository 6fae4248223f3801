// Package faucet issues test balances gated by a per-account cooldown.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/crypto"
	"tappay/journal"
	"tappay/native/bank"
	nativecommon "tappay/native/common"
	"tappay/native/window"
	"tappay/observability"
)

// DefaultCooldown is the window between claims.
const DefaultCooldown = 24 * time.Hour

// DefaultAmount is granted per claim when none is configured.
var DefaultAmount = big.NewInt(1_000_000)

// Grant reports a claim outcome. SecondsRemaining is set only on denial.
type Grant struct {
	Granted          bool
	Amount           *big.Int
	SecondsRemaining int64
}

// Ledger tracks one claim per account per cooldown window.
type Ledger struct {
	amount   *big.Int
	cooldown time.Duration
	claims   *window.Counter

	bank    *bank.Ledger
	locker  *nativecommon.KeyedLocker
	journal *journal.Writer
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAmount sets the per-claim grant.
func WithAmount(amount *big.Int) Option {
	return func(l *Ledger) {
		if amount != nil {
			l.amount = new(big.Int).Set(amount)
		}
	}
}

// WithCooldown sets the window length between claims.
func WithCooldown(cooldown time.Duration) Option {
	return func(l *Ledger) {
		if cooldown > 0 {
			l.cooldown = cooldown
		}
	}
}

// WithLocker shares the account locker with other bank writers.
func WithLocker(locker *nativecommon.KeyedLocker) Option {
	return func(l *Ledger) {
		if locker != nil {
			l.locker = locker
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEmitter sets the event sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithMetrics records claim outcomes.
func WithMetrics(metrics *observability.SettlementMetrics) Option {
	return func(l *Ledger) { l.metrics = metrics }
}

// NewLedger constructs a faucet crediting balances.
func NewLedger(balances *bank.Ledger, w *journal.Writer, opts ...Option) (*Ledger, error) {
	if balances == nil {
		return nil, fmt.Errorf("faucet: bank ledger required")
	}
	l := &Ledger{
		amount:   new(big.Int).Set(DefaultAmount),
		cooldown: DefaultCooldown,
		bank:     balances,
		locker:   nativecommon.NewKeyedLocker(),
		journal:  w,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.amount.Sign() <= 0 {
		return nil, fmt.Errorf("faucet: amount must be positive")
	}
	claims, err := window.NewCounter(window.Policy{Length: l.cooldown, Cap: 1})
	if err != nil {
		return nil, err
	}
	l.claims = claims
	l.logger = l.logger.With("component", "faucet")
	return l, nil
}

// Amount returns the per-claim grant.
func (l *Ledger) Amount() *big.Int { return new(big.Int).Set(l.amount) }

// Cooldown returns the window length.
func (l *Ledger) Cooldown() time.Duration { return l.cooldown }

// Claim grants the configured amount when account has not claimed in its
// current window. A denial reports the whole seconds left until the window
// closes and is not an error.
func (l *Ledger) Claim(ctx context.Context, account common.Address, now time.Time) (Grant, error) {
	const op = "faucet.claim"
	if account == (common.Address{}) {
		return Grant{}, coreerrors.New(op, coreerrors.ErrInvalidAddress, "account required")
	}
	unlock, err := l.locker.Lock(ctx, crypto.LockKey(account))
	if err != nil {
		return Grant{}, err
	}
	defer unlock()

	key := windowKey(account)
	res, err := l.claims.Plan(key, now, 1)
	if err != nil {
		if !errors.Is(err, window.ErrCapExceeded) {
			return Grant{}, err
		}
		usage := l.claims.Current(key, now)
		remaining := secondsUntil(l.claims.Policy().ResetsAt(usage), now)
		l.metrics.RecordFaucetClaim(false)
		l.logger.Debug("faucet claim denied", "account", account.Hex(), "secondsRemaining", remaining)
		return Grant{SecondsRemaining: remaining}, nil
	}

	credit := bank.Delta{Account: account, Amount: l.Amount()}
	if err := l.bank.Validate(credit); err != nil {
		return Grant{}, err
	}
	evt := events.FaucetClaimed{
		Account:     account.Hex(),
		Amount:      l.amount.String(),
		WindowStart: res.Next.Start.Unix(),
		Timestamp:   now.Unix(),
	}
	if _, err := l.journal.Record(ctx, account.Hex(), evt); err != nil {
		return Grant{}, err
	}
	if err := l.bank.Apply(credit); err != nil {
		return Grant{}, err
	}
	l.claims.Commit(res)

	l.emitter.Emit(evt)
	l.metrics.RecordFaucetClaim(true)
	l.logger.Info("faucet claim granted", "account", account.Hex(), "amount", evt.Amount)
	return Grant{Granted: true, Amount: l.Amount()}, nil
}

// Replay reapplies a journaled grant during recovery.
func (l *Ledger) Replay(entry journal.Entry) error {
	var evt events.FaucetClaimed
	if err := journal.Decode(entry, &evt); err != nil {
		return err
	}
	account, err := crypto.ParseAddress(evt.Account)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(evt.Amount, 10)
	if !ok {
		return fmt.Errorf("faucet: invalid amount %q in journal entry %d", evt.Amount, entry.Seq)
	}
	if err := l.bank.Credit(account, amount); err != nil {
		return err
	}
	l.claims.Restore(windowKey(account), window.Usage{Start: time.Unix(evt.WindowStart, 0).UTC(), Consumed: 1})
	return nil
}

func secondsUntil(deadline, now time.Time) int64 {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

func windowKey(account common.Address) string {
	return strings.ToLower(account.Hex())
}
