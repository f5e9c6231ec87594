package types

import "math/big"

// Account tracks the settlement-token balance held for an address in the
// custody substrate. Balances are integer base units of the settlement token.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// EnsureAccount returns a usable account with a non-nil balance, allocating a
// fresh zero-balance account when the input is nil.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
