package fees

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitCoffeeCart(t *testing.T) {
	fee, net := Split(big.NewInt(1000), 250)
	require.Equal(t, big.NewInt(25), fee)
	require.Equal(t, big.NewInt(975), net)
}

func TestSplitFloorsFee(t *testing.T) {
	fee, net := Split(big.NewInt(39), 250)
	require.Equal(t, int64(0), fee.Int64())
	require.Equal(t, int64(39), net.Int64())
}

func TestSplitConservesGross(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		gross := new(big.Int).Rand(rng, new(big.Int).Lsh(big.NewInt(1), 200))
		gross.Add(gross, big.NewInt(1))
		bps := uint32(rng.Intn(BasisPointsDenominator))
		fee, net := Split(gross, bps)
		require.GreaterOrEqual(t, fee.Sign(), 0)
		require.GreaterOrEqual(t, net.Sign(), 0)
		require.Zero(t, new(big.Int).Add(fee, net).Cmp(gross))
	}
}

func TestValidateBps(t *testing.T) {
	require.NoError(t, ValidateBps(0))
	require.NoError(t, ValidateBps(9999))
	require.Error(t, ValidateBps(10000))
}
