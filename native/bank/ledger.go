// Package bank holds the materialised account balances moved by settlements,
// deposits and faucet grants.
package bank

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	coreerrors "tappay/core/errors"
)

// Delta is a signed balance change for one account.
type Delta struct {
	Account common.Address
	Amount  *big.Int
}

// Ledger stores balances in memory. Apply is all-or-nothing: every delta is
// validated before any balance changes.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]*big.Int)}
}

// Balance returns a copy of the account balance.
func (l *Ledger) Balance(account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Validate checks that the deltas could be applied without driving a balance
// negative or past the 256-bit ceiling.
func (l *Ledger) Validate(deltas ...Delta) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, err := l.plan(deltas)
	return err
}

// Apply validates and applies deltas atomically.
func (l *Ledger) Apply(deltas ...Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, err := l.plan(deltas)
	if err != nil {
		return err
	}
	for account, bal := range next {
		l.balances[account] = bal
	}
	return nil
}

// Credit adds a positive amount to account.
func (l *Ledger) Credit(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.New("bank", coreerrors.ErrInvalidAmount, "credit must be positive")
	}
	return l.Apply(Delta{Account: account, Amount: amount})
}

// Accounts lists accounts with a non-zero balance in address order.
func (l *Ledger) Accounts() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]common.Address, 0, len(l.balances))
	for account, bal := range l.balances {
		if bal.Sign() > 0 {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (l *Ledger) plan(deltas []Delta) (map[common.Address]*big.Int, error) {
	next := make(map[common.Address]*big.Int, len(deltas))
	for _, d := range deltas {
		if d.Amount == nil || d.Amount.Sign() == 0 {
			continue
		}
		bal, ok := next[d.Account]
		if !ok {
			if current, exists := l.balances[d.Account]; exists {
				bal = new(big.Int).Set(current)
			} else {
				bal = big.NewInt(0)
			}
		}
		bal.Add(bal, d.Amount)
		next[d.Account] = bal
	}
	for _, bal := range next {
		if bal.Sign() < 0 {
			return nil, coreerrors.Exhausted("bank", coreerrors.ErrInsufficientBalance, new(big.Int).Neg(bal))
		}
		if _, overflow := uint256.FromBig(bal); overflow {
			return nil, coreerrors.New("bank", coreerrors.ErrBalanceOverflow, "balance exceeds 256 bits")
		}
	}
	return next, nil
}
