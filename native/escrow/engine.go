package escrow

import (
	"errors"
	"math/big"
	"time"

	"worklayer/core/events"
	"worklayer/core/roles"
	"worklayer/core/types"
)

// MaxFeeBps caps the platform fee at 10%.
const MaxFeeBps uint32 = 1000

var (
	ErrNotConfigured       = errors.New("escrow engine: state not configured")
	ErrNotFound            = errors.New("escrow engine: escrow not found")
	ErrEscrowExists        = errors.New("escrow engine: escrow already exists")
	ErrInvalidAmount       = errors.New("escrow engine: amount must be positive")
	ErrInvalidProvider     = errors.New("escrow engine: provider address required")
	ErrInvalidDeadline     = errors.New("escrow engine: deadline must be in the future")
	ErrPaused              = errors.New("escrow engine: deposits paused")
	ErrNotActive           = errors.New("escrow engine: escrow not active")
	ErrNotAuthorized       = errors.New("escrow engine: caller not authorized")
	ErrFeeTooHigh          = errors.New("escrow engine: fee exceeds cap")
	ErrInsufficientBalance = errors.New("escrow engine: insufficient balance")
)

// EscrowState is the view of the custody substrate one engine call operates
// on.
type EscrowState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	EscrowVaultAddress() [20]byte
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// engineState adds the atomic session every mutation runs in: writes made
// inside fn commit only when fn returns nil and are all discarded when it
// errors, so a failed call leaves the substrate exactly as it was.
type engineState interface {
	EscrowState
	UpdateEscrows(fn func(EscrowState) error) error
}

// Config carries the deployment-specific identities and fee rate for the
// escrow engine. Everything is injected explicitly so tests run with
// deterministic, isolated values.
type Config struct {
	Operator     [20]byte
	FeeRecipient [20]byte
	FeeBps       uint32
}

// Engine is the custody primitive: it accepts deposits against an order
// reference and resolves each one to exactly one of released or refunded,
// optionally passing through a disputed state. Every mutation on a given
// escrow id is single-writer under the custody substrate, so the engine
// holds no locks of its own.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	operator     [20]byte
	feeRecipient [20]byte
	feeBps       uint32
	paused       bool
	nowFn        func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.FeeBps > MaxFeeBps {
		return nil, ErrFeeTooHigh
	}
	if cfg.FeeRecipient == ([20]byte{}) {
		return nil, errors.New("escrow engine: fee recipient not configured")
	}
	if cfg.Operator == ([20]byte{}) {
		return nil, errors.New("escrow engine: operator not configured")
	}
	return &Engine{
		emitter:      events.NoopEmitter{},
		operator:     cfg.Operator,
		feeRecipient: cfg.FeeRecipient,
		feeBps:       cfg.FeeBps,
		nowFn:        func() int64 { return time.Now().Unix() },
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

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// FeeBps returns the current platform fee rate in basis points.
func (e *Engine) FeeBps() uint32 { return e.feeBps }

// Paused reports whether deposits are currently rejected.
func (e *Engine) Paused() bool { return e.paused }

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

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func transfer(state EscrowState, from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
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
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return state.PutAccount(to, toAcc)
}

// Deposit moves amount from the buyer's custody balance into the escrow vault
// and records a new active escrow. The platform fee is computed once here, at
// the rate in force at deposit time; later fee changes never apply to
// escrows already open.
func (e *Engine) Deposit(buyer, provider [20]byte, orderRef string, amount *big.Int, deadline int64) ([32]byte, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, ErrNotConfigured
	}
	if e.paused {
		return [32]byte{}, ErrPaused
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return [32]byte{}, ErrInvalidAmount
	}
	if provider == ([20]byte{}) {
		return [32]byte{}, ErrInvalidProvider
	}
	now := e.now()
	if deadline <= now {
		return [32]byte{}, ErrInvalidDeadline
	}
	id := DeriveID(buyer, provider, orderRef)
	fee := new(big.Int).Mul(amt, new(big.Int).SetUint64(uint64(e.feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	esc := &Escrow{
		ID:          id,
		Buyer:       buyer,
		Provider:    provider,
		OrderRef:    orderRef,
		Amount:      amt,
		PlatformFee: fee,
		Deadline:    deadline,
		CreatedAt:   now,
		Status:      StatusActive,
	}
	err := e.state.UpdateEscrows(func(s EscrowState) error {
		if _, ok := s.EscrowGet(id); ok {
			return ErrEscrowExists
		}
		if err := transfer(s, buyer, s.EscrowVaultAddress(), amt); err != nil {
			return err
		}
		return s.EscrowPut(esc)
	})
	if err != nil {
		return [32]byte{}, err
	}
	e.emit(NewCreatedEvent(esc))
	return id, nil
}

// Release settles the escrow in favour of the provider: amount minus the
// recorded platform fee to the provider, the fee to the fee recipient. The
// buyer may release at any time; once the deadline has passed anyone may
// trigger the release as a backstop against an unresponsive buyer. A disputed
// escrow settles through this same authorization path after the off-ledger
// dispute record resolves; the operator holds no direct release capability.
func (e *Engine) Release(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	var released *Escrow
	err := e.state.UpdateEscrows(func(s EscrowState) error {
		esc, ok := s.EscrowGet(id)
		if !ok {
			return ErrNotFound
		}
		if esc.Status != StatusActive && esc.Status != StatusDisputed {
			return ErrNotActive
		}
		party := roles.Classify(caller, esc.Buyer, esc.Provider, e.operator)
		if party != roles.PartyBuyer && e.now() < esc.Deadline {
			return ErrNotAuthorized
		}
		total := cloneBigInt(esc.Amount)
		fee := cloneBigInt(esc.PlatformFee)
		payout := new(big.Int).Sub(total, fee)
		vault := s.EscrowVaultAddress()
		if payout.Sign() > 0 {
			if err := transfer(s, vault, esc.Provider, payout); err != nil {
				return err
			}
		}
		if fee.Sign() > 0 {
			if err := transfer(s, vault, e.feeRecipient, fee); err != nil {
				return err
			}
		}
		esc.Status = StatusReleased
		if err := s.EscrowPut(esc); err != nil {
			return err
		}
		released = esc
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewReleasedEvent(released))
	return nil
}

// Refund returns the full amount to the buyer with no fee charged. Operator
// only, allowed from both the active and the disputed state.
func (e *Engine) Refund(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	var refunded *Escrow
	err := e.state.UpdateEscrows(func(s EscrowState) error {
		esc, ok := s.EscrowGet(id)
		if !ok {
			return ErrNotFound
		}
		if roles.Classify(caller, esc.Buyer, esc.Provider, e.operator) != roles.PartyOperator {
			return ErrNotAuthorized
		}
		if esc.Status != StatusActive && esc.Status != StatusDisputed {
			return ErrNotActive
		}
		if err := transfer(s, s.EscrowVaultAddress(), esc.Buyer, esc.Amount); err != nil {
			return err
		}
		esc.Status = StatusRefunded
		if err := s.EscrowPut(esc); err != nil {
			return err
		}
		refunded = esc
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewRefundedEvent(refunded))
	return nil
}

// Dispute freezes an active escrow. Buyer only.
func (e *Engine) Dispute(id [32]byte, caller [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNotConfigured
	}
	var disputed *Escrow
	err := e.state.UpdateEscrows(func(s EscrowState) error {
		esc, ok := s.EscrowGet(id)
		if !ok {
			return ErrNotFound
		}
		if esc.Status != StatusActive {
			return ErrNotActive
		}
		if roles.Classify(caller, esc.Buyer, esc.Provider, e.operator) != roles.PartyBuyer {
			return ErrNotAuthorized
		}
		esc.Status = StatusDisputed
		if err := s.EscrowPut(esc); err != nil {
			return err
		}
		disputed = esc
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(NewDisputedEvent(disputed))
	return nil
}

// Get returns a copy of the stored escrow record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, ErrNotConfigured
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, ErrNotFound
	}
	return esc.Clone(), nil
}

// SetPlatformFee updates the fee rate for future deposits. Operator only;
// the rate is capped at MaxFeeBps. Fees recorded on open escrows are
// unaffected.
func (e *Engine) SetPlatformFee(caller [20]byte, bps uint32) error {
	if caller != e.operator {
		return ErrNotAuthorized
	}
	if bps > MaxFeeBps {
		return ErrFeeTooHigh
	}
	e.feeBps = bps
	return nil
}

// Pause rejects new deposits. Operations on in-flight escrows remain
// available so open holds can still resolve. Operator only.
func (e *Engine) Pause(caller [20]byte) error {
	if caller != e.operator {
		return ErrNotAuthorized
	}
	e.paused = true
	return nil
}

// Unpause re-enables deposits. Operator only.
func (e *Engine) Unpause(caller [20]byte) error {
	if caller != e.operator {
		return ErrNotAuthorized
	}
	e.paused = false
	return nil
}
