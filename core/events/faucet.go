package events

// TypeFaucetClaimed is emitted when the faucet grants test balance.
const TypeFaucetClaimed = "faucet.claimed"

// FaucetClaimed records a faucet grant and the cooldown window it consumed.
type FaucetClaimed struct {
	Account     string `json:"account"`
	Amount      string `json:"amount"`
	WindowStart int64  `json:"windowStart"`
	Timestamp   int64  `json:"timestamp"`
}

// EventType satisfies the events.Event interface.
func (FaucetClaimed) EventType() string { return TypeFaucetClaimed }

// Event renders the faucet payload.
func (e FaucetClaimed) Event() *Record {
	return &Record{Type: TypeFaucetClaimed, Attributes: map[string]string{
		"account": e.Account,
		"amount":  e.Amount,
	}}
}
