package fees

import (
	"fmt"
	"math/big"
)

// BasisPointsDenominator is the fixed denominator for basis point rates.
const BasisPointsDenominator = 10_000

// ValidateBps rejects rates that would consume the whole gross amount.
func ValidateBps(bps uint32) error {
	if bps >= BasisPointsDenominator {
		return fmt.Errorf("fees: rate %d bps must be below %d", bps, BasisPointsDenominator)
	}
	return nil
}

// Split divides gross into the platform fee floor(gross*bps/10000) and the
// remainder. Non-positive gross yields a zero fee and net equal to gross.
func Split(gross *big.Int, bps uint32) (fee, net *big.Int) {
	fee = big.NewInt(0)
	if gross == nil {
		return fee, big.NewInt(0)
	}
	net = new(big.Int).Set(gross)
	if net.Sign() <= 0 || bps == 0 {
		return fee, net
	}
	fee.Mul(net, big.NewInt(int64(bps)))
	fee.Quo(fee, big.NewInt(BasisPointsDenominator))
	if fee.Cmp(net) >= 0 {
		return new(big.Int).Set(net), big.NewInt(0)
	}
	net.Sub(net, fee)
	return fee, net
}
