package events

const (
	// TypeSettlementCompleted is emitted once a payment has been journaled and
	// applied to balances.
	TypeSettlementCompleted = "settlement.completed"
	// TypeBalanceDeposited is emitted when an operator or the faucet credits an
	// account outside of a settlement.
	TypeBalanceDeposited = "balance.deposited"
)

// SettlementCompleted is the journaled form of a settlement record.
type SettlementCompleted struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Payer           string `json:"payer"`
	Payee           string `json:"payee"`
	PayeeHandle     string `json:"payeeHandle,omitempty"`
	Gross           string `json:"gross"`
	Fee             string `json:"fee"`
	Net             string `json:"net"`
	FeeRecipient    string `json:"feeRecipient,omitempty"`
	Requested       string `json:"requested"`
	Denomination    string `json:"denomination"`
	RateNumerator   string `json:"rateNumerator,omitempty"`
	RateDenominator string `json:"rateDenominator,omitempty"`
	RateQuote       string `json:"rateQuote,omitempty"`
	RateVersion     uint64 `json:"rateVersion,omitempty"`
	IdempotencyKey  string `json:"idempotencyKey,omitempty"`
	PayerSeq        uint64 `json:"payerSeq"`
	Timestamp       int64  `json:"timestamp"`
}

// EventType satisfies the events.Event interface.
func (SettlementCompleted) EventType() string { return TypeSettlementCompleted }

// Event renders the settlement payload for stream subscribers.
func (e SettlementCompleted) Event() *Record {
	attrs := map[string]string{
		"id":           e.ID,
		"kind":         e.Kind,
		"payer":        e.Payer,
		"payee":        e.Payee,
		"gross":        e.Gross,
		"fee":          e.Fee,
		"net":          e.Net,
		"denomination": e.Denomination,
		"payerSeq":     formatUint(e.PayerSeq),
	}
	setIfPresent(attrs, "payeeHandle", e.PayeeHandle)
	if e.RateVersion > 0 {
		attrs["rateVersion"] = formatUint(e.RateVersion)
	}
	return &Record{Type: TypeSettlementCompleted, Attributes: attrs}
}

// BalanceDeposited captures an out-of-band credit.
type BalanceDeposited struct {
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
}

// EventType satisfies the events.Event interface.
func (BalanceDeposited) EventType() string { return TypeBalanceDeposited }

// Event renders the deposit payload.
func (e BalanceDeposited) Event() *Record {
	attrs := map[string]string{
		"account": e.Account,
		"amount":  e.Amount,
	}
	setIfPresent(attrs, "source", e.Source)
	return &Record{Type: TypeBalanceDeposited, Attributes: attrs}
}
