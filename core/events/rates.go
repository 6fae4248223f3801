package events

// TypeRateUpdated is emitted whenever the exchange rate is replaced.
const TypeRateUpdated = "rate.updated"

// RateUpdated captures a new exchange rate version. Amounts are decimal
// strings to preserve arbitrary precision in the journal.
type RateUpdated struct {
	Numerator   string `json:"numerator"`
	Denominator string `json:"denominator"`
	Quote       string `json:"quote"`
	Version     uint64 `json:"version"`
	UpdatedAt   int64  `json:"updatedAt"`
	Updater     string `json:"updater,omitempty"`
}

// EventType satisfies the events.Event interface.
func (RateUpdated) EventType() string { return TypeRateUpdated }

// Event renders the rate payload.
func (e RateUpdated) Event() *Record {
	attrs := map[string]string{
		"numerator":   e.Numerator,
		"denominator": e.Denominator,
		"quote":       e.Quote,
		"version":     formatUint(e.Version),
		"updatedAt":   formatInt(e.UpdatedAt),
	}
	setIfPresent(attrs, "updater", e.Updater)
	return &Record{Type: TypeRateUpdated, Attributes: attrs}
}
