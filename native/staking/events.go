package staking

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"worklayer/core/types"
)

const (
	EventTypeStakeBonded          = "stake.bonded"
	EventTypeStakeUnbondRequested = "stake.unbond_requested"
	EventTypeStakeWithdrawn       = "stake.withdrawn"
	EventTypeStakeSlashed         = "stake.slashed"
)

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// NewBondedEvent records a bond or top-up of delta tokens.
func NewBondedEvent(s *Stake, delta *big.Int) *types.Event {
	return newStakeEvent(EventTypeStakeBonded, s, delta)
}

// NewUnbondRequestedEvent records the start of the cooldown window.
func NewUnbondRequestedEvent(s *Stake) *types.Event {
	return newStakeEvent(EventTypeStakeUnbondRequested, s, nil)
}

// NewWithdrawnEvent records the return of the full bond to the provider.
func NewWithdrawnEvent(s *Stake, amount *big.Int) *types.Event {
	return newStakeEvent(EventTypeStakeWithdrawn, s, amount)
}

// NewSlashedEvent records an operator confiscation of part of the bond.
func NewSlashedEvent(s *Stake, amount *big.Int) *types.Event {
	return newStakeEvent(EventTypeStakeSlashed, s, amount)
}

func newStakeEvent(eventType string, s *Stake, delta *big.Int) *types.Event {
	attrs := make(map[string]string)
	if s != nil {
		attrs["provider"] = hex.EncodeToString(s.Provider[:])
		if s.Amount != nil {
			attrs["amount"] = s.Amount.String()
		} else {
			attrs["amount"] = "0"
		}
		attrs["active"] = strconv.FormatBool(s.Active)
		if s.UnstakeRequestedAt != 0 {
			attrs["unstakeRequestedAt"] = strconv.FormatInt(s.UnstakeRequestedAt, 10)
		}
	}
	if delta != nil {
		attrs["delta"] = delta.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
