package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfTypedAndWrapped(t *testing.T) {
	err := Exhausted("settlement", ErrInsufficientBalance, big.NewInt(42))
	wrapped := fmt.Errorf("pay: %w", err)

	require.True(t, stderrors.Is(wrapped, ErrInsufficientBalance))
	require.Equal(t, KindResourceExhaustion, KindOf(wrapped))
	require.Equal(t, big.NewInt(42), ShortfallOf(wrapped))
	require.Contains(t, err.Error(), "shortfall 42")
}

func TestKindOfBareSentinel(t *testing.T) {
	require.Equal(t, KindStateConflict, KindOf(fmt.Errorf("names: %w", ErrAlreadyTaken)))
	require.Equal(t, KindUnknown, KindOf(stderrors.New("boom")))
	require.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryableOnlyForDependencies(t *testing.T) {
	require.True(t, Retryable(Wrap("journal", ErrPersistence, stderrors.New("disk full"))))
	require.True(t, Retryable(New("journal", ErrDependencyTimeout, "")))
	require.False(t, Retryable(New("settlement", ErrInvalidAmount, "")))
	require.False(t, Retryable(New("sponsorship", ErrDailyCapExceeded, "")))
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap("journal", ErrDependencyTimeout, context.DeadlineExceeded)
	require.True(t, stderrors.Is(err, context.DeadlineExceeded))
	require.True(t, stderrors.Is(err, ErrDependencyTimeout))
}
