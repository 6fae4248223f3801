package settlementd

import (
	"time"

	"tappay/native/names"
	"tappay/native/rates"
	"tappay/native/settlement"
	"tappay/native/sponsorship"
	"tappay/native/vendor"
)

type settlementView struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Payer          string    `json:"payer"`
	Payee          string    `json:"payee"`
	PayeeHandle    string    `json:"payeeHandle,omitempty"`
	Gross          string    `json:"gross"`
	Fee            string    `json:"fee"`
	Net            string    `json:"net"`
	FeeRecipient   string    `json:"feeRecipient,omitempty"`
	Requested      string    `json:"requested"`
	Denomination   string    `json:"denomination"`
	Rate           *rateView `json:"rate,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	PayerSeq       uint64    `json:"payerSeq"`
	Timestamp      string    `json:"timestamp"`
}

func settlementViewOf(rec settlement.Record) settlementView {
	view := settlementView{
		ID:             rec.ID,
		Kind:           string(rec.Kind),
		Payer:          rec.Payer.Hex(),
		Payee:          rec.Payee.Hex(),
		PayeeHandle:    rec.PayeeHandle,
		Gross:          rec.Gross.String(),
		Fee:            "0",
		Net:            rec.Net.String(),
		Requested:      rec.Requested.String(),
		Denomination:   string(rec.Denomination),
		IdempotencyKey: rec.IdempotencyKey,
		PayerSeq:       rec.PayerSeq,
		Timestamp:      rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if rec.Fee != nil {
		view.Fee = rec.Fee.String()
	}
	if rec.Fee != nil && rec.Fee.Sign() > 0 {
		view.FeeRecipient = rec.FeeRecipient.Hex()
	}
	if rec.RateUsed != nil {
		rate := rateViewOf(*rec.RateUsed)
		view.Rate = &rate
	}
	return view
}

type rateView struct {
	Numerator   string `json:"numerator"`
	Denominator string `json:"denominator"`
	Quote       string `json:"quote"`
	Version     uint64 `json:"version"`
	UpdatedAt   string `json:"updatedAt"`
	Updater     string `json:"updater,omitempty"`
}

func rateViewOf(rate rates.Rate) rateView {
	return rateView{
		Numerator:   rate.Numerator.String(),
		Denominator: rate.Denominator.String(),
		Quote:       rate.Quote,
		Version:     rate.Version,
		UpdatedAt:   rate.UpdatedAt.UTC().Format(time.RFC3339),
		Updater:     rate.Updater,
	}
}

type vendorView struct {
	Address         string `json:"address"`
	BusinessName    string `json:"businessName"`
	PhoneVerified   bool   `json:"phoneVerified"`
	ReputationScore uint64 `json:"reputationScore"`
	Status          string `json:"status"`
	RegisteredAt    string `json:"registeredAt"`
	ActivatedAt     string `json:"activatedAt,omitempty"`
}

func vendorViewOf(rec vendor.Record) vendorView {
	view := vendorView{
		Address:         rec.Address.Hex(),
		BusinessName:    rec.BusinessName,
		PhoneVerified:   rec.PhoneVerified,
		ReputationScore: rec.ReputationScore,
		Status:          string(rec.Status),
		RegisteredAt:    rec.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if !rec.ActivatedAt.IsZero() {
		view.ActivatedAt = rec.ActivatedAt.UTC().Format(time.RFC3339)
	}
	return view
}

type handleView struct {
	Handle       string `json:"handle"`
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	Class        string `json:"class"`
	RegisteredAt string `json:"registeredAt"`
}

func handleViewOf(rec names.Record, fqdn string) handleView {
	return handleView{
		Handle:       rec.Handle,
		Name:         fqdn,
		Owner:        rec.Owner.Hex(),
		Class:        string(rec.Class),
		RegisteredAt: rec.RegisteredAt.UTC().Format(time.RFC3339),
	}
}

type decisionView struct {
	Admitted    bool   `json:"admitted"`
	Reason      string `json:"reason,omitempty"`
	Shortfall   uint64 `json:"shortfall,omitempty"`
	Cost        uint64 `json:"cost"`
	PoolBalance uint64 `json:"poolBalance"`
	Replayed    bool   `json:"replayed,omitempty"`
	Error       string `json:"error,omitempty"`
}

func decisionViewOf(d sponsorship.Decision) decisionView {
	return decisionView{
		Admitted:    d.Admitted,
		Reason:      string(d.Reason),
		Shortfall:   d.Shortfall,
		Cost:        d.Cost,
		PoolBalance: d.PoolBalance,
		Replayed:    d.Replayed,
	}
}

type usageView struct {
	DayStart       string `json:"dayStart,omitempty"`
	DayConsumed    uint64 `json:"dayConsumed"`
	DayRemaining   uint64 `json:"dayRemaining"`
	MonthStart     string `json:"monthStart,omitempty"`
	MonthConsumed  uint64 `json:"monthConsumed"`
	MonthRemaining uint64 `json:"monthRemaining"`
}

func usageViewOf(u sponsorship.Usage) usageView {
	view := usageView{
		DayConsumed:    u.DayConsumed,
		DayRemaining:   u.DayRemaining,
		MonthConsumed:  u.MonthConsumed,
		MonthRemaining: u.MonthRemaining,
	}
	if u.DayConsumed > 0 {
		view.DayStart = u.DayStart.UTC().Format(time.RFC3339)
	}
	if u.MonthConsumed > 0 {
		view.MonthStart = u.MonthStart.UTC().Format(time.RFC3339)
	}
	return view
}
