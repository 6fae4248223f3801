package events

const (
	// TypeSponsorshipAdmitted indicates an operation's execution cost was
	// charged to the sponsorship pool.
	TypeSponsorshipAdmitted = "sponsorship.admitted"
	// TypeSponsorshipDenied indicates the request was rejected and the cost
	// falls back to the account.
	TypeSponsorshipDenied = "sponsorship.denied"
	// TypeSponsorshipPoolFunded is emitted when the pool is topped up.
	TypeSponsorshipPoolFunded = "sponsorship.pool_funded"
)

// SponsorshipDecided captures a sponsorship admission outcome together with
// the post-decision window state.
type SponsorshipDecided struct {
	Account       string `json:"account"`
	Reference     string `json:"reference,omitempty"`
	Cost          uint64 `json:"cost"`
	Admitted      bool   `json:"admitted"`
	Reason        string `json:"reason,omitempty"`
	Shortfall     uint64 `json:"shortfall,omitempty"`
	DayStart      int64  `json:"dayStart,omitempty"`
	DayConsumed   uint64 `json:"dayConsumed,omitempty"`
	MonthStart    int64  `json:"monthStart,omitempty"`
	MonthConsumed uint64 `json:"monthConsumed,omitempty"`
	PoolBalance   uint64 `json:"poolBalance"`
	Timestamp     int64  `json:"timestamp"`
}

// EventType satisfies the events.Event interface.
func (e SponsorshipDecided) EventType() string {
	if e.Admitted {
		return TypeSponsorshipAdmitted
	}
	return TypeSponsorshipDenied
}

// Event renders the decision payload.
func (e SponsorshipDecided) Event() *Record {
	attrs := map[string]string{
		"account": e.Account,
		"cost":    formatUint(e.Cost),
	}
	setIfPresent(attrs, "reference", e.Reference)
	if e.Admitted {
		attrs["dayConsumed"] = formatUint(e.DayConsumed)
		attrs["monthConsumed"] = formatUint(e.MonthConsumed)
	} else {
		setIfPresent(attrs, "reason", e.Reason)
		if e.Shortfall > 0 {
			attrs["shortfall"] = formatUint(e.Shortfall)
		}
	}
	return &Record{Type: e.EventType(), Attributes: attrs}
}

// SponsorshipPoolFunded captures a pool top-up.
type SponsorshipPoolFunded struct {
	Amount    uint64 `json:"amount"`
	Balance   uint64 `json:"balance"`
	Timestamp int64  `json:"timestamp"`
}

// EventType satisfies the events.Event interface.
func (SponsorshipPoolFunded) EventType() string { return TypeSponsorshipPoolFunded }

// Event renders the funding payload.
func (e SponsorshipPoolFunded) Event() *Record {
	return &Record{Type: TypeSponsorshipPoolFunded, Attributes: map[string]string{
		"amount":  formatUint(e.Amount),
		"balance": formatUint(e.Balance),
	}}
}
