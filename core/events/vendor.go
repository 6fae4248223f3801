package events

import "strconv"

const (
	// TypeVendorRegistered is emitted when a new vendor record is created.
	TypeVendorRegistered = "vendor.registered"
	// TypeVendorUpdated is emitted when verification inputs or the derived
	// status of a vendor change.
	TypeVendorUpdated = "vendor.updated"
	// TypeVendorSuspended is emitted when an operator suspends a vendor.
	TypeVendorSuspended = "vendor.suspended"
)

// VendorChanged carries the full vendor record after a mutation so the journal
// entry alone is enough to rebuild the directory.
type VendorChanged struct {
	Action          string `json:"action"`
	Address         string `json:"address"`
	BusinessName    string `json:"businessName"`
	Phone           string `json:"phone"`
	PhoneVerified   bool   `json:"phoneVerified"`
	ReputationScore uint64 `json:"reputationScore"`
	Status          string `json:"status"`
	PreviousStatus  string `json:"previousStatus,omitempty"`
	RegisteredAt    int64  `json:"registeredAt"`
	ActivatedAt     int64  `json:"activatedAt,omitempty"`
}

// EventType satisfies the events.Event interface.
func (e VendorChanged) EventType() string {
	switch e.Action {
	case TypeVendorRegistered, TypeVendorSuspended:
		return e.Action
	default:
		return TypeVendorUpdated
	}
}

// Event renders the vendor payload. The phone number is never streamed.
func (e VendorChanged) Event() *Record {
	attrs := map[string]string{
		"address":         e.Address,
		"status":          e.Status,
		"phoneVerified":   strconv.FormatBool(e.PhoneVerified),
		"reputationScore": formatUint(e.ReputationScore),
	}
	setIfPresent(attrs, "businessName", e.BusinessName)
	setIfPresent(attrs, "previousStatus", e.PreviousStatus)
	return &Record{Type: e.EventType(), Attributes: attrs}
}
