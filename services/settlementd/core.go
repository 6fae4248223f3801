package settlementd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tappay/config"
	"tappay/core/events"
	"tappay/crypto"
	"tappay/journal"
	"tappay/native/bank"
	nativecommon "tappay/native/common"
	"tappay/native/faucet"
	"tappay/native/names"
	"tappay/native/rates"
	"tappay/native/settlement"
	"tappay/native/sponsorship"
	"tappay/native/vendor"
	"tappay/observability"
)

// Core bundles the settlement components behind one journal, locker and
// event feed.
type Core struct {
	Journal     journal.Store
	Writer      *journal.Writer
	Feed        *events.Feed
	Ledger      *bank.Ledger
	Vendors     *vendor.Directory
	Names       *names.Resolver
	Rates       *rates.Oracle
	Settlement  *settlement.Engine
	Sponsorship *sponsorship.Guard
	// Faucet is nil when the faucet is disabled.
	Faucet *faucet.Ledger
}

// CoreOption customises component construction.
type CoreOption func(*coreOptions)

type coreOptions struct {
	clock       func() time.Time
	scoreSource vendor.ScoreSource
	metrics     *observability.SettlementMetrics
}

// WithCoreClock overrides the time source of every component.
func WithCoreClock(clock func() time.Time) CoreOption {
	return func(o *coreOptions) { o.clock = clock }
}

// WithScoreSource attaches the reputation integration.
func WithScoreSource(source vendor.ScoreSource) CoreOption {
	return func(o *coreOptions) { o.scoreSource = source }
}

// WithCoreMetrics overrides the metrics sink. Tests pass nil to disable.
func WithCoreMetrics(metrics *observability.SettlementMetrics) CoreOption {
	return func(o *coreOptions) { o.metrics = metrics }
}

// NewCore builds the components from cfg on top of store. Call Recover
// before serving traffic.
func NewCore(cfg *config.Config, store journal.Store, logger *slog.Logger, opts ...CoreOption) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("settlementd: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	options := coreOptions{clock: time.Now, metrics: observability.Settlement()}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	metrics := options.metrics

	writer := journal.NewWriter(store,
		journal.WithTimeout(cfg.Journal.Timeout.Duration),
		journal.WithClock(options.clock),
		journal.WithMetrics(metrics),
	)
	feed := events.NewFeed(0)
	locker := nativecommon.NewKeyedLocker()
	ledger := bank.NewLedger()

	vendorOpts := []vendor.Option{
		vendor.WithClock(options.clock),
		vendor.WithLogger(logger),
		vendor.WithEmitter(feed),
		vendor.WithMetrics(metrics),
		vendor.WithMinimumScore(cfg.Vendors.MinimumScore),
	}
	if options.scoreSource != nil {
		vendorOpts = append(vendorOpts, vendor.WithScoreSource(options.scoreSource, cfg.Vendors.ReputationTimeout.Duration))
	}
	vendors := vendor.NewDirectory(writer, vendorOpts...)

	resolver := names.NewResolver(writer, vendors,
		names.WithNamespace(cfg.Names.Namespace),
		names.WithClock(options.clock),
		names.WithLogger(logger),
		names.WithEmitter(feed),
		names.WithMetrics(metrics),
	)

	oracle := rates.NewOracle(writer, cfg.Rates.Quote,
		rates.WithMaxAge(cfg.Rates.MaxAge.Duration),
		rates.WithClock(options.clock),
		rates.WithLogger(logger),
		rates.WithEmitter(feed),
		rates.WithMetrics(metrics),
	)

	settlementOpts := []settlement.Option{
		settlement.WithLocker(locker),
		settlement.WithClock(options.clock),
		settlement.WithLogger(logger),
		settlement.WithEmitter(feed),
		settlement.WithMetrics(metrics),
	}
	if cfg.Settlement.FeeBps > 0 {
		recipient, err := crypto.ParseAddress(cfg.Settlement.FeeRecipient)
		if err != nil {
			return nil, fmt.Errorf("settlementd: fee recipient: %w", err)
		}
		settlementOpts = append(settlementOpts, settlement.WithPlatformFee(cfg.Settlement.FeeBps, recipient))
	}
	engine, err := settlement.NewEngine(ledger, vendors, resolver, oracle, writer, settlementOpts...)
	if err != nil {
		return nil, err
	}

	guard, err := sponsorship.NewGuard(sponsorship.Policy{
		Enabled:             cfg.Sponsorship.Enabled,
		MaxCostPerOperation: cfg.Sponsorship.MaxCostPerOperation,
		DailyCap:            cfg.Sponsorship.DailyCap,
		MonthlyCap:          cfg.Sponsorship.MonthlyCap,
		DayLength:           cfg.Sponsorship.DayLength.Duration,
		MonthLength:         cfg.Sponsorship.MonthLength.Duration,
	}, writer,
		sponsorship.WithInitialPool(cfg.Sponsorship.InitialPool),
		sponsorship.WithClock(options.clock),
		sponsorship.WithLogger(logger),
		sponsorship.WithEmitter(feed),
		sponsorship.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	var tap *faucet.Ledger
	if cfg.Faucet.Enabled {
		amount, err := cfg.Faucet.AmountValue()
		if err != nil {
			return nil, err
		}
		tap, err = faucet.NewLedger(ledger, writer,
			faucet.WithAmount(amount),
			faucet.WithCooldown(cfg.Faucet.Cooldown.Duration),
			faucet.WithLocker(locker),
			faucet.WithLogger(logger),
			faucet.WithEmitter(feed),
			faucet.WithMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
	}

	return &Core{
		Journal:     store,
		Writer:      writer,
		Feed:        feed,
		Ledger:      ledger,
		Vendors:     vendors,
		Names:       resolver,
		Rates:       oracle,
		Settlement:  engine,
		Sponsorship: guard,
		Faucet:      tap,
	}, nil
}

// Recover replays the journal into the components and returns the number of
// entries applied.
func (c *Core) Recover(ctx context.Context) (int, error) {
	applied := 0
	var replayErr error
	err := c.Journal.Iterate(ctx, 0, func(entry journal.Entry) bool {
		if replayErr = c.apply(entry); replayErr != nil {
			replayErr = fmt.Errorf("settlementd: replay entry %d (%s): %w", entry.Seq, entry.Type, replayErr)
			return false
		}
		applied++
		return true
	})
	if err != nil {
		return applied, err
	}
	return applied, replayErr
}

func (c *Core) apply(entry journal.Entry) error {
	switch {
	case strings.HasPrefix(entry.Type, "vendor."):
		return c.Vendors.Replay(entry)
	case entry.Type == events.TypeHandleRegistered:
		return c.Names.Replay(entry)
	case entry.Type == events.TypeRateUpdated:
		return c.Rates.Replay(entry)
	case entry.Type == events.TypeSettlementCompleted, entry.Type == events.TypeBalanceDeposited:
		return c.Settlement.Replay(entry)
	case entry.Type == events.TypeSponsorshipAdmitted, entry.Type == events.TypeSponsorshipPoolFunded:
		return c.Sponsorship.Replay(entry)
	case entry.Type == events.TypeFaucetClaimed:
		if c.Faucet == nil {
			return c.replayFaucetCredit(entry)
		}
		return c.Faucet.Replay(entry)
	default:
		return fmt.Errorf("unknown entry type %q", entry.Type)
	}
}

// replayFaucetCredit keeps balances granted while the faucet was enabled.
func (c *Core) replayFaucetCredit(entry journal.Entry) error {
	disabled, err := faucet.NewLedger(c.Ledger, c.Writer)
	if err != nil {
		return err
	}
	return disabled.Replay(entry)
}

// Close releases the journal.
func (c *Core) Close() error {
	return c.Journal.Close()
}
