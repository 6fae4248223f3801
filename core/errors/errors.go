package errors

import (
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
)

// Kind classifies a failure so callers can decide whether to correct input,
// pick a different target, wait for budget, or retry.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindValidation         Kind = "validation"
	KindStateConflict      Kind = "state_conflict"
	KindAuthorization      Kind = "authorization"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindDependency         Kind = "dependency"
)

var (
	ErrInvalidAmount       = stderrors.New("invalid amount")
	ErrInvalidFormat       = stderrors.New("invalid format")
	ErrInvalidRate         = stderrors.New("invalid rate")
	ErrInvalidAddress      = stderrors.New("invalid address")
	ErrUnsupportedCurrency = stderrors.New("unsupported quote currency")
	ErrSelfPayment         = stderrors.New("payer and payee are the same account")

	ErrDuplicate           = stderrors.New("record already exists")
	ErrAlreadyTaken        = stderrors.New("handle already taken")
	ErrNotFound            = stderrors.New("not found")
	ErrUnresolvedPayee     = stderrors.New("payee could not be resolved")
	ErrInactiveVendor      = stderrors.New("payee is not an active vendor")
	ErrIdempotencyConflict = stderrors.New("idempotency key reused with different arguments")
	ErrRateUnavailable     = stderrors.New("exchange rate unavailable")

	ErrUnauthorized = stderrors.New("unauthorized")

	ErrInsufficientBalance     = stderrors.New("insufficient balance")
	ErrDailyCapExceeded        = stderrors.New("daily cap exceeded")
	ErrMonthlyCapExceeded      = stderrors.New("monthly cap exceeded")
	ErrPoolExhausted           = stderrors.New("sponsorship pool exhausted")
	ErrPerOperationCapExceeded = stderrors.New("per-operation cap exceeded")
	ErrCooldownActive          = stderrors.New("cooldown active")
	ErrBalanceOverflow         = stderrors.New("balance overflow")

	ErrDependencyTimeout = stderrors.New("dependency timeout")
	ErrPersistence       = stderrors.New("persistence failure")
)

var sentinelKinds = map[error]Kind{
	ErrInvalidAmount:       KindValidation,
	ErrInvalidFormat:       KindValidation,
	ErrInvalidRate:         KindValidation,
	ErrInvalidAddress:      KindValidation,
	ErrUnsupportedCurrency: KindValidation,
	ErrSelfPayment:         KindValidation,

	ErrDuplicate:           KindStateConflict,
	ErrAlreadyTaken:        KindStateConflict,
	ErrNotFound:            KindStateConflict,
	ErrUnresolvedPayee:     KindStateConflict,
	ErrInactiveVendor:      KindStateConflict,
	ErrIdempotencyConflict: KindStateConflict,
	ErrRateUnavailable:     KindStateConflict,

	ErrUnauthorized: KindAuthorization,

	ErrInsufficientBalance:     KindResourceExhaustion,
	ErrDailyCapExceeded:        KindResourceExhaustion,
	ErrMonthlyCapExceeded:      KindResourceExhaustion,
	ErrPoolExhausted:           KindResourceExhaustion,
	ErrPerOperationCapExceeded: KindResourceExhaustion,
	ErrCooldownActive:          KindResourceExhaustion,
	ErrBalanceOverflow:         KindResourceExhaustion,

	ErrDependencyTimeout: KindDependency,
	ErrPersistence:       KindDependency,
}

// Error is the typed failure returned by every core component. Err is always
// one of the package sentinels so errors.Is keeps working across wrapping.
type Error struct {
	Kind      Kind
	Op        string
	Err       error
	Shortfall *big.Int
	Detail    string
	Cause     error
}

// New builds a typed error for the sentinel with an optional detail message.
func New(op string, sentinel error, detail string) *Error {
	return &Error{Kind: kindOfSentinel(sentinel), Op: op, Err: sentinel, Detail: strings.TrimSpace(detail)}
}

// Newf is New with fmt-style detail formatting.
func Newf(op string, sentinel error, format string, args ...any) *Error {
	return New(op, sentinel, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying cause to a sentinel.
func Wrap(op string, sentinel error, cause error) *Error {
	e := New(op, sentinel, "")
	e.Cause = cause
	return e
}

// Exhausted builds a resource-exhaustion error carrying the numeric shortfall.
func Exhausted(op string, sentinel error, shortfall *big.Int) *Error {
	e := New(op, sentinel, "")
	if shortfall != nil {
		e.Shortfall = new(big.Int).Set(shortfall)
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Shortfall != nil && e.Shortfall.Sign() > 0 {
		fmt.Fprintf(&b, " (shortfall %s)", e.Shortfall.String())
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// KindOf reports the category of err. Untyped errors report KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if stderrors.As(err, &typed) && typed.Kind != "" {
		return typed.Kind
	}
	for sentinel, kind := range sentinelKinds {
		if stderrors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the failure belongs to the dependency class, the
// only class eligible for a bounded automatic retry.
func Retryable(err error) bool {
	return KindOf(err) == KindDependency
}

// ShortfallOf extracts the numeric shortfall attached to a resource error.
func ShortfallOf(err error) *big.Int {
	var typed *Error
	if stderrors.As(err, &typed) && typed.Shortfall != nil {
		return new(big.Int).Set(typed.Shortfall)
	}
	return nil
}

// Is and As re-export the standard helpers so callers importing this package
// under the name errors keep a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func kindOfSentinel(sentinel error) Kind {
	if kind, ok := sentinelKinds[sentinel]; ok {
		return kind
	}
	return KindUnknown
}
