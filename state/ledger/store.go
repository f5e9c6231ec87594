package ledger

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	bolt "go.etcd.io/bbolt"

	"worklayer/core/types"
	"worklayer/native/escrow"
	"worklayer/native/staking"
)

var (
	bucketAccounts = []byte("accounts")
	bucketEscrows  = []byte("escrows")
	bucketStakes   = []byte("stakes")

	// ErrInvalidAmount is returned by Mint for non-positive amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Vault addresses are derived from fixed labels so every deployment that
// shares the module version agrees on them without configuration.
var (
	escrowVault  = deriveVault("worklayer/escrow-vault")
	stakingVault = deriveVault("worklayer/staking-vault")
)

func deriveVault(label string) [20]byte {
	hash := ethcrypto.Keccak256([]byte(label))
	var addr [20]byte
	copy(addr[:], hash[:20])
	return addr
}

// Store is the Bolt-backed custody substrate. It persists token accounts,
// escrow records and stake records, and satisfies the state interfaces of
// both native engines. Bolt serialises writers, which gives the engines the
// single-writer-per-record guarantee they assume; UpdateEscrows and
// UpdateStakes run an engine call's reads and writes inside a single Bolt
// transaction so a failed call commits nothing.
type Store struct {
	db *bolt.DB
}

// Open initialises (and migrates) the ledger database at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketEscrows, bucketStakes} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EscrowVaultAddress returns the address holding escrowed deposits.
func (s *Store) EscrowVaultAddress() [20]byte { return escrowVault }

// StakingVaultAddress returns the address holding bonded collateral.
func (s *Store) StakingVaultAddress() [20]byte { return stakingVault }

// UpdateEscrows runs fn against a view bound to one writable Bolt
// transaction. Every read and write inside fn shares that transaction;
// returning an error rolls the whole session back.
func (s *Store) UpdateEscrows(fn func(escrow.EscrowState) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(view{tx: tx})
	})
}

// UpdateStakes is the staking counterpart of UpdateEscrows.
func (s *Store) UpdateStakes(fn func(staking.StakingState) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(view{tx: tx})
	})
}

// view binds the record accessors to a single Bolt transaction.
type view struct {
	tx *bolt.Tx
}

func (v view) EscrowVaultAddress() [20]byte  { return escrowVault }
func (v view) StakingVaultAddress() [20]byte { return stakingVault }

type accountRecord struct {
	Balance string `json:"balance"`
}

func (v view) GetAccount(addr [20]byte) (*types.Account, error) {
	account := types.EnsureAccount(nil)
	raw := v.tx.Bucket(bucketAccounts).Get(addr[:])
	if raw == nil {
		return account, nil
	}
	var rec accountRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(rec.Balance, 10)
	if !ok {
		return nil, errors.New("ledger: corrupt account balance")
	}
	account.Balance = balance
	return account, nil
}

func (v view) PutAccount(addr [20]byte, account *types.Account) error {
	account = types.EnsureAccount(account)
	if account.Balance.Sign() < 0 {
		return errors.New("ledger: negative balance")
	}
	payload, err := json.Marshal(accountRecord{Balance: account.Balance.String()})
	if err != nil {
		return err
	}
	return v.tx.Bucket(bucketAccounts).Put(addr[:], payload)
}

type escrowRecord struct {
	ID          []byte `json:"id"`
	Buyer       []byte `json:"buyer"`
	Provider    []byte `json:"provider"`
	OrderRef    string `json:"orderRef"`
	Amount      string `json:"amount"`
	PlatformFee string `json:"platformFee"`
	Deadline    int64  `json:"deadline"`
	CreatedAt   int64  `json:"createdAt"`
	Status      uint8  `json:"status"`
}

func (v view) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	rec := escrowRecord{
		ID:          sanitized.ID[:],
		Buyer:       sanitized.Buyer[:],
		Provider:    sanitized.Provider[:],
		OrderRef:    sanitized.OrderRef,
		Amount:      sanitized.Amount.String(),
		PlatformFee: sanitized.PlatformFee.String(),
		Deadline:    sanitized.Deadline,
		CreatedAt:   sanitized.CreatedAt,
		Status:      uint8(sanitized.Status),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return v.tx.Bucket(bucketEscrows).Put(sanitized.ID[:], payload)
}

func (v view) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	raw := v.tx.Bucket(bucketEscrows).Get(id[:])
	if raw == nil {
		return nil, false
	}
	var rec escrowRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(rec.Amount, 10)
	if !ok {
		return nil, false
	}
	fee, ok := new(big.Int).SetString(rec.PlatformFee, 10)
	if !ok {
		return nil, false
	}
	esc := &escrow.Escrow{
		OrderRef:    rec.OrderRef,
		Amount:      amount,
		PlatformFee: fee,
		Deadline:    rec.Deadline,
		CreatedAt:   rec.CreatedAt,
		Status:      escrow.Status(rec.Status),
	}
	copy(esc.ID[:], rec.ID)
	copy(esc.Buyer[:], rec.Buyer)
	copy(esc.Provider[:], rec.Provider)
	return esc, true
}

type stakeRecord struct {
	Provider           []byte `json:"provider"`
	Amount             string `json:"amount"`
	Active             bool   `json:"active"`
	UnstakeRequestedAt int64  `json:"unstakeRequestedAt,omitempty"`
}

func (v view) StakePut(st *staking.Stake) error {
	if st == nil {
		return errors.New("ledger: nil stake")
	}
	clone := st.Clone()
	payload, err := json.Marshal(stakeRecord{
		Provider:           clone.Provider[:],
		Amount:             clone.Amount.String(),
		Active:             clone.Active,
		UnstakeRequestedAt: clone.UnstakeRequestedAt,
	})
	if err != nil {
		return err
	}
	return v.tx.Bucket(bucketStakes).Put(clone.Provider[:], payload)
}

func (v view) StakeGet(provider [20]byte) (*staking.Stake, bool) {
	raw := v.tx.Bucket(bucketStakes).Get(provider[:])
	if raw == nil {
		return nil, false
	}
	var rec stakeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	amount, ok := new(big.Int).SetString(rec.Amount, 10)
	if !ok {
		return nil, false
	}
	stake := &staking.Stake{
		Amount:             amount,
		Active:             rec.Active,
		UnstakeRequestedAt: rec.UnstakeRequestedAt,
	}
	copy(stake.Provider[:], rec.Provider)
	return stake, true
}

// GetAccount returns the account stored for addr. Unknown addresses report a
// zero balance rather than an error.
func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	var account *types.Account
	err := s.db.View(func(tx *bolt.Tx) error {
		var innerErr error
		account, innerErr = view{tx: tx}.GetAccount(addr)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount stores the account for addr in its own transaction.
func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return view{tx: tx}.PutAccount(addr, account)
	})
}

// Mint credits amount to addr. Used to seed balances in tests and by
// operational tooling when onboarding custody deposits.
func (s *Store) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		v := view{tx: tx}
		account, err := v.GetAccount(addr)
		if err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, amount)
		return v.PutAccount(addr, account)
	})
}

// EscrowPut stores the escrow record keyed by its identifier.
func (s *Store) EscrowPut(e *escrow.Escrow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return view{tx: tx}.EscrowPut(e)
	})
}

// EscrowGet loads the escrow record for id.
func (s *Store) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	var result *escrow.Escrow
	var ok bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		result, ok = view{tx: tx}.EscrowGet(id)
		return nil
	}); err != nil {
		return nil, false
	}
	return result, ok
}

// StakePut stores the stake record keyed by provider address.
func (s *Store) StakePut(st *staking.Stake) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return view{tx: tx}.StakePut(st)
	})
}

// StakeGet loads the stake record for provider.
func (s *Store) StakeGet(provider [20]byte) (*staking.Stake, bool) {
	var result *staking.Stake
	var ok bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		result, ok = view{tx: tx}.StakeGet(provider)
		return nil
	}); err != nil {
		return nil, false
	}
	return result, ok
}
