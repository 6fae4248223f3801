package rates

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "tappay/core/errors"
	"tappay/journal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestOracle(opts ...Option) (*Oracle, *fakeClock, *journal.Memory) {
	clock := &fakeClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	mem := journal.NewMemory()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewOracle(journal.NewWriter(mem), "usd", opts...), clock, mem
}

func TestSetRateAuthorizationAndValidation(t *testing.T) {
	o, _, mem := newTestOracle()
	ctx := context.Background()
	_, err := o.SetRate(ctx, big.NewInt(1), big.NewInt(1), "feed", false)
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = o.SetRate(ctx, big.NewInt(0), big.NewInt(1), "feed", true)
	require.ErrorIs(t, err, coreerrors.ErrInvalidRate)
	_, err = o.SetRate(ctx, big.NewInt(3), big.NewInt(-1), "feed", true)
	require.ErrorIs(t, err, coreerrors.ErrInvalidRate)
	require.Equal(t, 0, mem.Len())

	_, err = o.Snapshot()
	require.ErrorIs(t, err, coreerrors.ErrRateUnavailable)
}

func TestConvertFloors(t *testing.T) {
	o, _, _ := newTestOracle()
	ctx := context.Background()
	rate, err := o.SetRate(ctx, big.NewInt(10), big.NewInt(3), "feed", true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rate.Version)
	require.Equal(t, "USD", rate.Quote)

	out, err := o.Convert(big.NewInt(100), "USD")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(333), out)

	_, err = o.Convert(big.NewInt(100), "EUR")
	require.ErrorIs(t, err, coreerrors.ErrUnsupportedCurrency)

	rate, err = o.SetRate(ctx, big.NewInt(1), big.NewInt(2), "feed", true)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rate.Version)
}

func TestSnapshotIsImmutable(t *testing.T) {
	o, _, _ := newTestOracle()
	_, err := o.SetRate(context.Background(), big.NewInt(7), big.NewInt(5), "feed", true)
	require.NoError(t, err)
	snap, err := o.Snapshot()
	require.NoError(t, err)
	snap.Numerator.SetInt64(1000)
	again, err := o.Snapshot()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(7), again.Numerator)
}

func TestSnapshotStaleness(t *testing.T) {
	o, clock, _ := newTestOracle(WithMaxAge(time.Minute))
	_, err := o.SetRate(context.Background(), big.NewInt(1), big.NewInt(1), "feed", true)
	require.NoError(t, err)
	clock.Advance(59 * time.Second)
	_, err = o.Snapshot()
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	_, err = o.Snapshot()
	require.ErrorIs(t, err, coreerrors.ErrRateUnavailable)
}

func TestReplayRestoresRate(t *testing.T) {
	o, _, mem := newTestOracle()
	_, err := o.SetRate(context.Background(), big.NewInt(9), big.NewInt(4), "feed", true)
	require.NoError(t, err)

	restored, _, _ := newTestOracle()
	for _, entry := range mem.Entries() {
		require.NoError(t, restored.Replay(entry))
	}
	snap, err := restored.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(1), snap.Version)
	require.Equal(t, big.NewInt(9), snap.Numerator)
}
