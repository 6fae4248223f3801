package window

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func TestRollStartsOnFirstUse(t *testing.T) {
	p := Policy{Length: 24 * time.Hour, Cap: 100}
	require.Equal(t, Usage{Start: t0}, p.Roll(Usage{}, t0))
}

func TestRollJumpsWholePeriods(t *testing.T) {
	p := Policy{Length: 24 * time.Hour, Cap: 100}
	u := Usage{Start: t0, Consumed: 90}
	require.Equal(t, u, p.Roll(u, t0.Add(23*time.Hour)))
	require.Equal(t, Usage{Start: t0.Add(24 * time.Hour)}, p.Roll(u, t0.Add(24*time.Hour)))
	require.Equal(t, Usage{Start: t0.Add(72 * time.Hour)}, p.Roll(u, t0.Add(73*time.Hour)))
}

func TestPlanCommitRollover(t *testing.T) {
	c, err := NewCounter(Policy{Length: 24 * time.Hour, Cap: 100})
	require.NoError(t, err)

	r, err := c.Plan("acct", t0, 90)
	require.NoError(t, err)
	c.Commit(r)

	_, err = c.Plan("acct", t0.Add(time.Hour), 20)
	require.True(t, errors.Is(err, ErrCapExceeded))
	shortfall, ok := Shortfall(err)
	require.True(t, ok)
	require.Equal(t, uint64(10), shortfall)
	require.Equal(t, uint64(10), c.Remaining("acct", t0.Add(time.Hour)))

	r, err = c.Plan("acct", t0.Add(25*time.Hour), 20)
	require.NoError(t, err)
	require.Equal(t, t0.Add(24*time.Hour), r.Next.Start)
	require.Equal(t, uint64(20), r.Next.Consumed)
}

func TestPlanDoesNotMutate(t *testing.T) {
	c, err := NewCounter(Policy{Length: time.Hour, Cap: 5})
	require.NoError(t, err)
	_, err = c.Plan("acct", t0, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(5), c.Remaining("acct", t0))
}

func TestPlanOverflow(t *testing.T) {
	c, err := NewCounter(Policy{Length: time.Hour, Cap: ^uint64(0)})
	require.NoError(t, err)
	r, err := c.Plan("acct", t0, ^uint64(0))
	require.NoError(t, err)
	c.Commit(r)
	_, err = c.Plan("acct", t0, 1)
	require.ErrorIs(t, err, ErrCounterOverflow)
}

func TestPrune(t *testing.T) {
	c, err := NewCounter(Policy{Length: time.Hour, Cap: 1})
	require.NoError(t, err)
	for _, key := range []string{"a", "b"} {
		r, err := c.Plan(key, t0, 1)
		require.NoError(t, err)
		c.Commit(r)
	}
	r, err := c.Plan("c", t0.Add(30*time.Minute), 1)
	require.NoError(t, err)
	c.Commit(r)
	require.Equal(t, 2, c.Prune(t0.Add(time.Hour)))
	require.Equal(t, uint64(0), c.Remaining("c", t0.Add(time.Hour)))
}

func TestPolicyValidate(t *testing.T) {
	_, err := NewCounter(Policy{Length: 0, Cap: 1})
	require.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = NewCounter(Policy{Length: time.Hour})
	require.ErrorIs(t, err, ErrInvalidPolicy)
}
