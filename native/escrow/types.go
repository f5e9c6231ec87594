package escrow

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states of a custody escrow.
type Status uint8

const (
	StatusActive Status = iota
	StatusReleased
	StatusRefunded
	StatusDisputed
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusReleased, StatusRefunded, StatusDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the escrow can no longer move funds.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// String returns the canonical status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Escrow captures the immutable deposit metadata and runtime status of a
// single custody hold. The identifier is the keccak256 hash of buyer,
// provider and the off-ledger order reference, so any third party holding
// the deposit inputs can reconstruct it without observing the deposit event.
type Escrow struct {
	ID          [32]byte
	Buyer       [20]byte
	Provider    [20]byte
	OrderRef    string
	Amount      *big.Int
	PlatformFee *big.Int
	Deadline    int64
	CreatedAt   int64
	Status      Status
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if e.PlatformFee != nil {
		clone.PlatformFee = new(big.Int).Set(e.PlatformFee)
	} else {
		clone.PlatformFee = big.NewInt(0)
	}
	return &clone
}

// Sanitize validates and normalises the supplied escrow record, returning a
// cloned instance with non-nil amount fields. The original is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	clone.OrderRef = strings.TrimSpace(clone.OrderRef)
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: amount must be non-negative")
	}
	if clone.PlatformFee.Sign() < 0 {
		return nil, fmt.Errorf("escrow: platform fee must be non-negative")
	}
	if clone.PlatformFee.Cmp(clone.Amount) > 0 {
		return nil, fmt.Errorf("escrow: platform fee exceeds amount")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	return clone, nil
}

// DeriveID computes the deterministic escrow identifier for a deposit. The
// derivation is part of the external interface: the off-ledger reconciler
// recomputes it from the deposit inputs when the created event was missed.
func DeriveID(buyer, provider [20]byte, orderRef string) [32]byte {
	return ethcrypto.Keccak256Hash(buyer[:], provider[:], []byte(strings.TrimSpace(orderRef)))
}
