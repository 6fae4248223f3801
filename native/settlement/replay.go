package settlement

import (
	"fmt"
	"math/big"
	"time"

	"tappay/core/events"
	"tappay/crypto"
	"tappay/journal"
	"tappay/native/bank"
	"tappay/native/rates"
)

func completedEvent(rec Record) events.SettlementCompleted {
	evt := events.SettlementCompleted{
		ID:             rec.ID,
		Kind:           string(rec.Kind),
		Payer:          rec.Payer.Hex(),
		Payee:          rec.Payee.Hex(),
		PayeeHandle:    rec.PayeeHandle,
		Gross:          rec.Gross.String(),
		Fee:            rec.Fee.String(),
		Net:            rec.Net.String(),
		Requested:      rec.Requested.String(),
		Denomination:   string(rec.Denomination),
		IdempotencyKey: rec.IdempotencyKey,
		PayerSeq:       rec.PayerSeq,
		Timestamp:      rec.Timestamp.Unix(),
	}
	if rec.Fee.Sign() > 0 {
		evt.FeeRecipient = rec.FeeRecipient.Hex()
	}
	if rec.RateUsed != nil {
		evt.RateNumerator = rec.RateUsed.Numerator.String()
		evt.RateDenominator = rec.RateUsed.Denominator.String()
		evt.RateQuote = rec.RateUsed.Quote
		evt.RateVersion = rec.RateUsed.Version
	}
	return evt
}

// Replay applies a journaled settlement or deposit during recovery. Entries
// must be replayed in journal order alongside the other balance writers.
func (e *Engine) Replay(entry journal.Entry) error {
	switch entry.Type {
	case events.TypeSettlementCompleted:
		return e.replaySettlement(entry)
	case events.TypeBalanceDeposited:
		return e.replayDeposit(entry)
	default:
		return fmt.Errorf("settlement: cannot replay entry type %q", entry.Type)
	}
}

func (e *Engine) replaySettlement(entry journal.Entry) error {
	var evt events.SettlementCompleted
	if err := journal.Decode(entry, &evt); err != nil {
		return err
	}
	rec := Record{
		ID:             evt.ID,
		Kind:           Kind(evt.Kind),
		PayeeHandle:    evt.PayeeHandle,
		Denomination:   Denomination(evt.Denomination),
		IdempotencyKey: evt.IdempotencyKey,
		PayerSeq:       evt.PayerSeq,
		Timestamp:      time.Unix(evt.Timestamp, 0).UTC(),
	}
	var err error
	if rec.Payer, err = crypto.ParseAddress(evt.Payer); err != nil {
		return err
	}
	if rec.Payee, err = crypto.ParseAddress(evt.Payee); err != nil {
		return err
	}
	if evt.FeeRecipient != "" {
		if rec.FeeRecipient, err = crypto.ParseAddress(evt.FeeRecipient); err != nil {
			return err
		}
	}
	amounts := []struct {
		raw string
		dst **big.Int
	}{
		{evt.Gross, &rec.Gross},
		{evt.Fee, &rec.Fee},
		{evt.Net, &rec.Net},
		{evt.Requested, &rec.Requested},
	}
	for _, amount := range amounts {
		if *amount.dst, err = parseAmount(entry, amount.raw); err != nil {
			return err
		}
	}
	if evt.RateVersion > 0 {
		num, err := parseAmount(entry, evt.RateNumerator)
		if err != nil {
			return err
		}
		den, err := parseAmount(entry, evt.RateDenominator)
		if err != nil {
			return err
		}
		rec.RateUsed = &rates.Rate{Numerator: num, Denominator: den, Quote: evt.RateQuote, Version: evt.RateVersion}
	}
	deltas := []bank.Delta{
		{Account: rec.Payer, Amount: new(big.Int).Neg(rec.Gross)},
		{Account: rec.Payee, Amount: rec.Net},
	}
	if rec.Fee.Sign() > 0 {
		deltas = append(deltas, bank.Delta{Account: rec.FeeRecipient, Amount: rec.Fee})
	}
	if err := e.ledger.Apply(deltas...); err != nil {
		return fmt.Errorf("settlement: replay entry %d: %w", entry.Seq, err)
	}
	e.store(rec)
	return nil
}

func (e *Engine) replayDeposit(entry journal.Entry) error {
	var evt events.BalanceDeposited
	if err := journal.Decode(entry, &evt); err != nil {
		return err
	}
	account, err := crypto.ParseAddress(evt.Account)
	if err != nil {
		return err
	}
	amount, err := parseAmount(entry, evt.Amount)
	if err != nil {
		return err
	}
	return e.ledger.Credit(account, amount)
}

func parseAmount(entry journal.Entry, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("settlement: replay entry %d: bad amount %q", entry.Seq, raw)
	}
	return v, nil
}
