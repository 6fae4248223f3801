package settlement

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tappay/native/rates"
)

// Kind distinguishes vendor payments from peer-to-peer transfers.
type Kind string

const (
	KindVendor Kind = "vendor"
	KindP2P    Kind = "p2p"
)

// Denomination states which unit PayRequest.Amount is expressed in.
type Denomination string

const (
	DenominationNative    Denomination = "native"
	DenominationReference Denomination = "reference"
)

// PayRequest is a payment instruction. Payee is either an account literal
// (0x hex or tap1 bech32) or a handle, bare or namespaced.
type PayRequest struct {
	Payer          common.Address
	Payee          string
	Amount         *big.Int
	Denomination   Denomination
	IdempotencyKey string
}

// Record is the immutable result of a settlement.
type Record struct {
	ID             string
	Kind           Kind
	Payer          common.Address
	Payee          common.Address
	PayeeHandle    string
	Gross          *big.Int
	Fee            *big.Int
	Net            *big.Int
	FeeRecipient   common.Address
	Requested      *big.Int
	Denomination   Denomination
	RateUsed       *rates.Rate
	IdempotencyKey string
	PayerSeq       uint64
	Timestamp      time.Time
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	clone := r
	clone.Gross = cloneInt(r.Gross)
	clone.Fee = cloneInt(r.Fee)
	clone.Net = cloneInt(r.Net)
	clone.Requested = cloneInt(r.Requested)
	if r.RateUsed != nil {
		rate := r.RateUsed.Clone()
		clone.RateUsed = &rate
	}
	return clone
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// VendorStatus reports whether a payee may receive vendor payments.
type VendorStatus interface {
	IsActive(address common.Address) bool
}

// HandleResolver maps handles to accounts.
type HandleResolver interface {
	Resolve(name string) (common.Address, error)
}

// RateSource supplies the exchange rate snapshot used for reference amounts.
type RateSource interface {
	Snapshot() (rates.Rate, error)
}

// idempotencyKey scopes client keys to the payer that supplied them.
type idempotencyKey struct {
	payer common.Address
	key   string
}

// idempotencyEntry captures the arguments a key was first used with.
type idempotencyEntry struct {
	recordID     string
	kind         Kind
	payee        common.Address
	requested    *big.Int
	denomination Denomination
}

func (e idempotencyEntry) matches(kind Kind, payee common.Address, requested *big.Int, denom Denomination) bool {
	return e.kind == kind && e.payee == payee && e.denomination == denom &&
		requested != nil && e.requested.Cmp(requested) == 0
}
