package staking

import (
	"errors"
	"math/big"
	"time"

	"worklayer/core/events"
	"worklayer/core/types"
)

var (
	ErrNotConfigured           = errors.New("staking engine: state not configured")
	ErrNotAuthorized           = errors.New("staking engine: caller not authorized")
	ErrInvalidAmount           = errors.New("staking engine: amount must be positive")
	ErrBelowMinimumStake       = errors.New("staking engine: stake below minimum")
	ErrNoActiveStake           = errors.New("staking engine: no active stake")
	ErrUnstakeAlreadyRequested = errors.New("staking engine: unstake already requested")
	ErrUnstakeNotRequested     = errors.New("staking engine: unstake not requested")
	ErrCooldownNotElapsed      = errors.New("staking engine: cooldown not elapsed")
	ErrSlashExceedsStake       = errors.New("staking engine: slash exceeds stake")
	ErrInsufficientBalance     = errors.New("staking engine: insufficient balance")
)

// StakingState is the view of the custody substrate one engine call operates
// on.
type StakingState interface {
	StakePut(*Stake) error
	StakeGet(provider [20]byte) (*Stake, bool)
	StakingVaultAddress() [20]byte
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// engineState adds the atomic session every mutation runs in: writes made
// inside fn commit only when fn returns nil and are all discarded when it
// errors.
type engineState interface {
	StakingState
	UpdateStakes(fn func(StakingState) error) error
}

// Config carries the deployment parameters for the staking engine. Slashed
// collateral accrues to FeeRecipient.
type Config struct {
	Operator        [20]byte
	FeeRecipient    [20]byte
	MinimumStake    *big.Int
	CooldownSeconds int64
}

// Engine manages provider collateral: bonding, the unbond request and
// cooldown window, withdrawal, and operator slashing. Like the escrow
// engine it is single-writer per provider under the custody substrate.
type Engine struct {
	state           engineState
	emitter         events.Emitter
	operator        [20]byte
	feeRecipient    [20]byte
	minimumStake    *big.Int
	cooldownSeconds int64
	nowFn           func() int64
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Operator == ([20]byte{}) {
		return nil, errors.New("staking engine: operator not configured")
	}
	if cfg.FeeRecipient == ([20]byte{}) {
		return nil, errors.New("staking engine: fee recipient not configured")
	}
	min := cfg.MinimumStake
	if min == nil || min.Sign() <= 0 {
		return nil, errors.New("staking engine: minimum stake must be positive")
	}
	if cfg.CooldownSeconds < 0 {
		return nil, errors.New("staking engine: cooldown must be non-negative")
	}
	return &Engine{
		emitter:         events.NoopEmitter{},
		operator:        cfg.Operator,
		feeRecipient:    cfg.FeeRecipient,
		minimumStake:    new(big.Int).Set(min),
		cooldownSeconds: cfg.CooldownSeconds,
		nowFn:           func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// MinimumStake returns the current bonding floor.
func (e *Engine) MinimumStake() *big.Int { return new(big.Int).Set(e.minimumStake) }

// CooldownSeconds returns the current unbond cooldown window.
func (e *Engine) CooldownSeconds() int64 { return e.cooldownSeconds }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(ledgerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func transfer(state StakingState, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromAcc, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return state.PutAccount(to, toAcc)
}

func loadStake(state StakingState, provider [20]byte) *Stake {
	stake, ok := state.StakeGet(provider)
	if !ok || stake == nil {
		return &Stake{Provider: provider, Amount: big.NewInt(0)}
	}
	return stake.Clone()
}

// Stake bonds amount from the provider's custody balance into the staking
// vault. Top-ups accumulate onto the existing bond; the resulting total must
// reach the minimum in force at call time.
func (e *Engine) Stake(provider [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	var bonded *Stake
	err := e.state.UpdateStakes(func(s StakingState) error {
		stake := loadStake(s, provider)
		total := new(big.Int).Add(stake.Amount, amount)
		if total.Cmp(e.minimumStake) < 0 {
			return ErrBelowMinimumStake
		}
		if err := transfer(s, provider, s.StakingVaultAddress(), amount); err != nil {
			return err
		}
		stake.Amount = total
		stake.Active = true
		stake.UnstakeRequestedAt = 0
		if err := s.StakePut(stake); err != nil {
			return err
		}
		bonded = stake
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewBondedEvent(bonded, amount))
	return nil
}

// RequestUnstake starts the cooldown window for a full withdrawal. At most
// one request may be outstanding per provider.
func (e *Engine) RequestUnstake(provider [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	var requested *Stake
	err := e.state.UpdateStakes(func(s StakingState) error {
		stake := loadStake(s, provider)
		if !stake.Active || stake.Amount.Sign() == 0 {
			return ErrNoActiveStake
		}
		if stake.UnstakeRequestedAt != 0 {
			return ErrUnstakeAlreadyRequested
		}
		stake.UnstakeRequestedAt = e.now()
		if err := s.StakePut(stake); err != nil {
			return err
		}
		requested = stake
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewUnbondRequestedEvent(requested))
	return nil
}

// Withdraw returns the full bonded amount to the provider once the cooldown
// in force at call time has elapsed, deactivates the stake and clears the
// request.
func (e *Engine) Withdraw(provider [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	var withdrawn *Stake
	var amount *big.Int
	err := e.state.UpdateStakes(func(s StakingState) error {
		stake := loadStake(s, provider)
		if !stake.Active || stake.Amount.Sign() == 0 {
			return ErrNoActiveStake
		}
		if stake.UnstakeRequestedAt == 0 {
			return ErrUnstakeNotRequested
		}
		if e.now() < stake.UnstakeRequestedAt+e.cooldownSeconds {
			return ErrCooldownNotElapsed
		}
		amount = new(big.Int).Set(stake.Amount)
		if err := transfer(s, s.StakingVaultAddress(), provider, amount); err != nil {
			return err
		}
		stake.Amount = big.NewInt(0)
		stake.Active = false
		stake.UnstakeRequestedAt = 0
		if err := s.StakePut(stake); err != nil {
			return err
		}
		withdrawn = stake
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewWithdrawnEvent(withdrawn, amount))
	return nil
}

// Slash confiscates amount of the provider's bond and moves it to the fee
// recipient. Operator only; bounded by the current bond. A full slash
// deactivates the provider and clears any pending unbond request.
func (e *Engine) Slash(caller, provider [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	var slashed *Stake
	err := e.state.UpdateStakes(func(s StakingState) error {
		stake := loadStake(s, provider)
		if caller != e.operator {
			return ErrNotAuthorized
		}
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if stake.Amount.Sign() == 0 {
			return ErrNoActiveStake
		}
		if amount.Cmp(stake.Amount) > 0 {
			return ErrSlashExceedsStake
		}
		if err := transfer(s, s.StakingVaultAddress(), e.feeRecipient, amount); err != nil {
			return err
		}
		stake.Amount = new(big.Int).Sub(stake.Amount, amount)
		if stake.Amount.Sign() == 0 {
			stake.Active = false
			stake.UnstakeRequestedAt = 0
		}
		if err := s.StakePut(stake); err != nil {
			return err
		}
		slashed = stake
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewSlashedEvent(slashed, amount))
	return nil
}

// GetStake returns a copy of the provider's stake record. Providers that
// never bonded report a zero, inactive stake.
func (e *Engine) GetStake(provider [20]byte) (*Stake, error) {
	if e == nil || e.state == nil {
		return nil, ErrNotConfigured
	}
	return loadStake(e.state, provider), nil
}

// IsActiveProvider reports whether the provider currently holds an active
// bond.
func (e *Engine) IsActiveProvider(provider [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNotConfigured
	}
	return loadStake(e.state, provider).Active, nil
}

// SetMinimumStake updates the bonding floor for future Stake calls. Existing
// bonds below the new floor stay active. Operator only.
func (e *Engine) SetMinimumStake(caller [20]byte, minimum *big.Int) error {
	if caller != e.operator {
		return ErrNotAuthorized
	}
	if minimum == nil || minimum.Sign() <= 0 {
		return ErrInvalidAmount
	}
	e.minimumStake = new(big.Int).Set(minimum)
	return nil
}

// SetCooldownPeriod updates the unbond window for future Withdraw checks.
// Operator only.
func (e *Engine) SetCooldownPeriod(caller [20]byte, seconds int64) error {
	if caller != e.operator {
		return ErrNotAuthorized
	}
	if seconds < 0 {
		return ErrInvalidAmount
	}
	e.cooldownSeconds = seconds
	return nil
}
