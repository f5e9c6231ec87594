package staking

import "math/big"

// Stake records a provider's bonded collateral. UnstakeRequestedAt is zero
// until the provider requests an unbond; it marks the start of the cooldown
// window.
type Stake struct {
	Provider           [20]byte
	Amount             *big.Int
	Active             bool
	UnstakeRequestedAt int64
}

// Clone returns a deep copy of the stake record.
func (s *Stake) Clone() *Stake {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Amount != nil {
		clone.Amount = new(big.Int).Set(s.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}
