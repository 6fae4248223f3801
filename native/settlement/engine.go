// Package settlement executes payments: it resolves the payee, converts and
// fee-adjusts the amount, moves balances and keeps an auditable record.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	coreerrors "tappay/core/errors"
	"tappay/core/events"
	"tappay/crypto"
	"tappay/journal"
	"tappay/native/bank"
	nativecommon "tappay/native/common"
	"tappay/native/fees"
	"tappay/native/rates"
	"tappay/observability"
)

// Engine settles payments against the bank ledger.
type Engine struct {
	mu          sync.RWMutex
	records     map[string]Record
	byPayer     map[common.Address][]string
	payerSeq    map[common.Address]uint64
	idempotency map[idempotencyKey]idempotencyEntry

	ledger       *bank.Ledger
	vendors      VendorStatus
	names        HandleResolver
	rates        RateSource
	feeBps       uint32
	feeRecipient common.Address

	locker  *nativecommon.KeyedLocker
	journal *journal.Writer
	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
	clock   func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlatformFee sets the vendor fee rate and the account that receives it.
func WithPlatformFee(bps uint32, recipient common.Address) Option {
	return func(e *Engine) {
		e.feeBps = bps
		e.feeRecipient = recipient
	}
}

// WithLocker shares account locks with other components that move balances.
func WithLocker(locker *nativecommon.KeyedLocker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter sets the event sink.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithMetrics records settlement outcomes.
func WithMetrics(metrics *observability.SettlementMetrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) {
		if gen != nil {
			e.newID = gen
		}
	}
}

// NewEngine wires the engine to its collaborators.
func NewEngine(ledger *bank.Ledger, vendors VendorStatus, names HandleResolver, rateSource RateSource, w *journal.Writer, opts ...Option) (*Engine, error) {
	if ledger == nil {
		return nil, fmt.Errorf("settlement: bank ledger required")
	}
	e := &Engine{
		records:     make(map[string]Record),
		byPayer:     make(map[common.Address][]string),
		payerSeq:    make(map[common.Address]uint64),
		idempotency: make(map[idempotencyKey]idempotencyEntry),
		ledger:      ledger,
		vendors:     vendors,
		names:       names,
		rates:       rateSource,
		locker:      nativecommon.NewKeyedLocker(),
		journal:     w,
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		clock:       time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if err := fees.ValidateBps(e.feeBps); err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}
	if e.feeBps > 0 && e.feeRecipient == (common.Address{}) {
		return nil, fmt.Errorf("settlement: fee recipient required when platform fee is set")
	}
	e.logger = e.logger.With("component", "settlement")
	return e, nil
}

// Pay settles a vendor payment. The payee must be an active vendor and the
// platform fee is deducted from the gross amount.
func (e *Engine) Pay(ctx context.Context, req PayRequest) (Record, error) {
	return e.execute(ctx, KindVendor, req)
}

// Transfer settles a peer-to-peer payment. No vendor check and no fee apply.
func (e *Engine) Transfer(ctx context.Context, req PayRequest) (Record, error) {
	return e.execute(ctx, KindP2P, req)
}

func (e *Engine) execute(ctx context.Context, kind Kind, req PayRequest) (Record, error) {
	rec, err := e.settle(ctx, kind, req)
	if err != nil && strings.TrimSpace(req.IdempotencyKey) != "" && coreerrors.Retryable(err) && ctx.Err() == nil {
		e.logger.Warn("retrying settlement after dependency failure", "account", req.Payer.Hex(), "error", err)
		rec, err = e.settle(ctx, kind, req)
	}
	if err != nil {
		e.metrics.RecordSettlement(string(kind), string(coreerrors.KindOf(err)), nil, nil)
		return Record{}, err
	}
	return rec, nil
}

func (e *Engine) settle(ctx context.Context, kind Kind, req PayRequest) (Record, error) {
	op := "settlement.pay"
	if kind == KindP2P {
		op = "settlement.transfer"
	}
	if req.Payer == (common.Address{}) {
		return Record{}, coreerrors.New(op, coreerrors.ErrInvalidAddress, "payer required")
	}
	payee, handle, err := e.resolvePayee(op, req.Payee)
	if err != nil {
		return Record{}, err
	}
	if payee == req.Payer {
		return Record{}, coreerrors.New(op, coreerrors.ErrSelfPayment, "")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	denom := req.Denomination
	if denom == "" {
		denom = DenominationNative
	}
	if rec, found, err := e.checkIdempotency(op, req.Payer, key, kind, payee, req.Amount, denom); found || err != nil {
		return rec, err
	}

	lockKeys := []string{crypto.LockKey(req.Payer), crypto.LockKey(payee)}
	if kind == KindVendor && e.feeBps > 0 {
		lockKeys = append(lockKeys, crypto.LockKey(e.feeRecipient))
	}
	unlock, err := e.locker.Lock(ctx, lockKeys...)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	// A concurrent request with the same key may have completed while we
	// waited for the payer lock.
	if rec, found, err := e.checkIdempotency(op, req.Payer, key, kind, payee, req.Amount, denom); found || err != nil {
		return rec, err
	}
	if kind == KindVendor && (e.vendors == nil || !e.vendors.IsActive(payee)) {
		return Record{}, coreerrors.New(op, coreerrors.ErrInactiveVendor, payee.Hex())
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Record{}, coreerrors.New(op, coreerrors.ErrInvalidAmount, "amount must be positive")
	}

	gross := new(big.Int).Set(req.Amount)
	var rateUsed *rates.Rate
	switch denom {
	case DenominationNative:
	case DenominationReference:
		if e.rates == nil {
			return Record{}, coreerrors.New(op, coreerrors.ErrRateUnavailable, "no rate source configured")
		}
		snap, err := e.rates.Snapshot()
		if err != nil {
			return Record{}, err
		}
		gross = snap.Apply(req.Amount)
		if gross.Sign() <= 0 {
			return Record{}, coreerrors.New(op, coreerrors.ErrInvalidAmount, "converted amount rounds to zero")
		}
		rateUsed = &snap
	default:
		return Record{}, coreerrors.Newf(op, coreerrors.ErrInvalidFormat, "unknown denomination %q", denom)
	}

	fee, net := big.NewInt(0), new(big.Int).Set(gross)
	if kind == KindVendor {
		fee, net = fees.Split(gross, e.feeBps)
	}
	if balance := e.ledger.Balance(req.Payer); balance.Cmp(gross) < 0 {
		return Record{}, coreerrors.Exhausted(op, coreerrors.ErrInsufficientBalance, new(big.Int).Sub(gross, balance))
	}
	deltas := []bank.Delta{
		{Account: req.Payer, Amount: new(big.Int).Neg(gross)},
		{Account: payee, Amount: net},
	}
	if fee.Sign() > 0 {
		deltas = append(deltas, bank.Delta{Account: e.feeRecipient, Amount: fee})
	}
	if err := e.ledger.Validate(deltas...); err != nil {
		return Record{}, err
	}

	e.mu.RLock()
	seq := e.payerSeq[req.Payer] + 1
	e.mu.RUnlock()
	rec := Record{
		ID:             e.newID(),
		Kind:           kind,
		Payer:          req.Payer,
		Payee:          payee,
		PayeeHandle:    handle,
		Gross:          gross,
		Fee:            fee,
		Net:            net,
		Requested:      new(big.Int).Set(req.Amount),
		Denomination:   denom,
		IdempotencyKey: key,
		PayerSeq:       seq,
		Timestamp:      e.clock().UTC(),
	}
	if fee.Sign() > 0 {
		rec.FeeRecipient = e.feeRecipient
	}
	if rateUsed != nil {
		rate := rateUsed.Clone()
		rec.RateUsed = &rate
	}
	evt := completedEvent(rec)
	if _, err := e.journal.Record(ctx, req.Payer.Hex(), evt); err != nil {
		return Record{}, err
	}
	if err := e.ledger.Apply(deltas...); err != nil {
		// Validated under the same locks, so this only fires if another
		// writer bypassed the locker.
		e.logger.Error("balance apply failed after journal append", "id", rec.ID, "error", err)
		return Record{}, coreerrors.Wrap(op, coreerrors.ErrPersistence, err)
	}
	e.store(rec)
	e.emitter.Emit(evt)
	e.metrics.RecordSettlement(string(kind), "success", gross, fee)
	e.logger.Info("settlement completed",
		"id", rec.ID,
		"kind", string(kind),
		"account", req.Payer.Hex(),
		"payee", payee.Hex(),
		"gross", gross.String(),
		"fee", fee.String(),
		"payerSeq", seq)
	return rec.Clone(), nil
}

func (e *Engine) resolvePayee(op, raw string) (common.Address, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return common.Address{}, "", coreerrors.New(op, coreerrors.ErrUnresolvedPayee, "payee required")
	}
	if addr, err := crypto.ParseAddress(trimmed); err == nil {
		return addr, "", nil
	}
	if e.names == nil {
		return common.Address{}, "", coreerrors.New(op, coreerrors.ErrUnresolvedPayee, trimmed)
	}
	addr, err := e.names.Resolve(trimmed)
	if err != nil {
		return common.Address{}, "", coreerrors.Wrap(op, coreerrors.ErrUnresolvedPayee, err)
	}
	return addr, trimmed, nil
}

func (e *Engine) checkIdempotency(op string, payer common.Address, key string, kind Kind, payee common.Address, amount *big.Int, denom Denomination) (Record, bool, error) {
	if key == "" {
		return Record{}, false, nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.idempotency[idempotencyKey{payer: payer, key: key}]
	if !ok {
		return Record{}, false, nil
	}
	if !entry.matches(kind, payee, amount, denom) {
		return Record{}, false, coreerrors.New(op, coreerrors.ErrIdempotencyConflict, key)
	}
	return e.records[entry.recordID].Clone(), true, nil
}

// Deposit credits an account outside of a settlement. Only operators may
// deposit.
func (e *Engine) Deposit(ctx context.Context, account common.Address, amount *big.Int, source string, callerIsOperator bool) (*big.Int, error) {
	const op = "settlement.deposit"
	if !callerIsOperator {
		return nil, coreerrors.New(op, coreerrors.ErrUnauthorized, "operator role required")
	}
	if account == (common.Address{}) {
		return nil, coreerrors.New(op, coreerrors.ErrInvalidAddress, "account required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, coreerrors.New(op, coreerrors.ErrInvalidAmount, "amount must be positive")
	}
	unlock, err := e.locker.Lock(ctx, crypto.LockKey(account))
	if err != nil {
		return nil, err
	}
	defer unlock()

	delta := bank.Delta{Account: account, Amount: new(big.Int).Set(amount)}
	if err := e.ledger.Validate(delta); err != nil {
		return nil, err
	}
	evt := events.BalanceDeposited{
		Account:   account.Hex(),
		Amount:    amount.String(),
		Source:    strings.TrimSpace(source),
		Timestamp: e.clock().UTC().Unix(),
	}
	if _, err := e.journal.Record(ctx, account.Hex(), evt); err != nil {
		return nil, err
	}
	if err := e.ledger.Apply(delta); err != nil {
		return nil, coreerrors.Wrap(op, coreerrors.ErrPersistence, err)
	}
	e.emitter.Emit(evt)
	e.logger.Info("balance deposited", "account", account.Hex(), "amount", amount.String(), "source", evt.Source)
	return e.ledger.Balance(account), nil
}

// Balance returns the account balance.
func (e *Engine) Balance(account common.Address) *big.Int {
	return e.ledger.Balance(account)
}

// Record returns a settlement by id.
func (e *Engine) Record(id string) (Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Records returns the payer's settlements ordered by PayerSeq.
func (e *Engine) Records(payer common.Address) []Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := e.byPayer[payer]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.records[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayerSeq < out[j].PayerSeq })
	return out
}

func (e *Engine) store(rec Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records[rec.ID] = rec
	e.byPayer[rec.Payer] = append(e.byPayer[rec.Payer], rec.ID)
	if rec.PayerSeq > e.payerSeq[rec.Payer] {
		e.payerSeq[rec.Payer] = rec.PayerSeq
	}
	if rec.IdempotencyKey != "" {
		e.idempotency[idempotencyKey{payer: rec.Payer, key: rec.IdempotencyKey}] = idempotencyEntry{
			recordID:     rec.ID,
			kind:         rec.Kind,
			payee:        rec.Payee,
			requested:    new(big.Int).Set(rec.Requested),
			denomination: rec.Denomination,
		}
	}
}
