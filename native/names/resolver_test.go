package names

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "tappay/core/errors"
	"tappay/crypto"
	"tappay/journal"
)

type vendorSet map[common.Address]bool

func (v vendorSet) Exists(address common.Address) bool { return v[address] }

var (
	cart  = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	t0    = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
)

func newTestResolver(vendors vendorSet) (*Resolver, *journal.Memory) {
	mem := journal.NewMemory()
	return NewResolver(journal.NewWriter(mem), vendors, WithClock(func() time.Time { return t0 })), mem
}

func TestValidateHandle(t *testing.T) {
	for _, ok := range []string{"coffee-cart", "abc", "a1-b2"} {
		_, err := ValidateHandle(ok)
		require.NoError(t, err, ok)
	}
	bech := crypto.FormatAddress(cart)
	for _, bad := range []string{"ab", "Coffee-Cart", "coffee_cart", "coffee.cart", "0x00000000000000000000000000000000000c0ffe", bech} {
		_, err := ValidateHandle(bad)
		require.ErrorIs(t, err, coreerrors.ErrInvalidFormat, bad)
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r, _ := newTestResolver(vendorSet{cart: true})
	ctx := context.Background()
	rec, err := r.RegisterHandle(ctx, RegisterRequest{Handle: "coffee-cart", Owner: cart, Caller: cart, Class: ClassVendor})
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Seq)
	require.Equal(t, DefaultNamespace, rec.Namespace)

	owner, err := r.Resolve("coffee-cart")
	require.NoError(t, err)
	require.Equal(t, cart, owner)
	owner, err = r.Resolve("coffee-cart.tappay.eth")
	require.NoError(t, err)
	require.Equal(t, cart, owner)
	require.Equal(t, "coffee-cart.tappay.eth", r.FQDN("coffee-cart"))

	_, err = r.Resolve("coffee-cart.other.eth")
	require.ErrorIs(t, err, coreerrors.ErrInvalidFormat)
	_, err = r.Resolve("tea-cart")
	require.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestHandleUniqueness(t *testing.T) {
	r, mem := newTestResolver(nil)
	ctx := context.Background()
	_, err := r.RegisterHandle(ctx, RegisterRequest{Handle: "alice", Owner: alice, Caller: alice})
	require.NoError(t, err)
	_, err = r.RegisterHandle(ctx, RegisterRequest{Handle: "alice", Owner: cart, Caller: cart})
	require.ErrorIs(t, err, coreerrors.ErrAlreadyTaken)

	owner, err := r.Resolve("alice")
	require.NoError(t, err)
	require.Equal(t, alice, owner)
	require.Equal(t, 1, mem.Len())
}

func TestConcurrentRegistrationSingleWinner(t *testing.T) {
	r, _ := newTestResolver(nil)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		owner := common.BigToAddress(common.Big1)
		owner[0] = byte(i + 1)
		wg.Add(1)
		go func(owner common.Address) {
			defer wg.Done()
			if _, err := r.RegisterHandle(context.Background(), RegisterRequest{Handle: "popular", Owner: owner, Caller: owner}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(owner)
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestRegisterAuthorization(t *testing.T) {
	r, _ := newTestResolver(vendorSet{cart: true})
	ctx := context.Background()
	_, err := r.RegisterHandle(ctx, RegisterRequest{Handle: "alice", Owner: alice, Caller: cart})
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = r.RegisterHandle(ctx, RegisterRequest{Handle: "alice-shop", Owner: alice, Caller: alice, Class: ClassVendor})
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
	_, err = r.RegisterHandle(ctx, RegisterRequest{Handle: "cart-shop", Owner: cart, Caller: alice, Class: ClassVendor})
	require.ErrorIs(t, err, coreerrors.ErrUnauthorized)
}

func TestReverseLookupFirstWins(t *testing.T) {
	r, mem := newTestResolver(nil)
	ctx := context.Background()
	_, err := r.ReverseLookup(alice)
	require.ErrorIs(t, err, coreerrors.ErrNotFound)
	for _, h := range []string{"alice", "alice-two"} {
		_, err := r.RegisterHandle(ctx, RegisterRequest{Handle: h, Owner: alice, Caller: alice})
		require.NoError(t, err)
	}
	handle, err := r.ReverseLookup(alice)
	require.NoError(t, err)
	require.Equal(t, "alice", handle)

	restored, _ := newTestResolver(nil)
	entries := mem.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		require.NoError(t, restored.Replay(entries[i]))
	}
	handle, err = restored.ReverseLookup(alice)
	require.NoError(t, err)
	require.Equal(t, "alice", handle)
	require.True(t, restored.IsHandle("alice-two.tappay.eth"))
}
