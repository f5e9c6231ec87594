package ledger

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"worklayer/core/types"
	"worklayer/native/escrow"
	"worklayer/native/staking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	addr := [20]byte{0x01}

	account, err := store.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, account.Balance.Sign())

	require.NoError(t, store.PutAccount(addr, &types.Account{Balance: big.NewInt(1_234)}))
	account, err = store.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(1_234), account.Balance.Int64())

	require.Error(t, store.PutAccount(addr, &types.Account{Balance: big.NewInt(-1)}))
}

func TestMintAccumulates(t *testing.T) {
	store := newTestStore(t)
	addr := [20]byte{0x02}

	require.ErrorIs(t, store.Mint(addr, big.NewInt(0)), ErrInvalidAmount)
	require.NoError(t, store.Mint(addr, big.NewInt(100)))
	require.NoError(t, store.Mint(addr, big.NewInt(50)))

	account, err := store.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(150), account.Balance.Int64())
}

func TestEscrowRoundTrip(t *testing.T) {
	store := newTestStore(t)
	buyer := [20]byte{0x01}
	provider := [20]byte{0x02}

	esc := &escrow.Escrow{
		ID:          escrow.DeriveID(buyer, provider, "order-1"),
		Buyer:       buyer,
		Provider:    provider,
		OrderRef:    "order-1",
		Amount:      big.NewInt(1_000),
		PlatformFee: big.NewInt(25),
		Deadline:    2_000,
		CreatedAt:   1_000,
		Status:      escrow.StatusActive,
	}
	require.NoError(t, store.EscrowPut(esc))

	got, ok := store.EscrowGet(esc.ID)
	require.True(t, ok)
	require.Equal(t, buyer, got.Buyer)
	require.Equal(t, provider, got.Provider)
	require.Equal(t, "order-1", got.OrderRef)
	require.Equal(t, int64(1_000), got.Amount.Int64())
	require.Equal(t, int64(25), got.PlatformFee.Int64())
	require.Equal(t, escrow.StatusActive, got.Status)
	require.Equal(t, int64(2_000), got.Deadline)
	require.Equal(t, int64(1_000), got.CreatedAt)

	_, ok = store.EscrowGet([32]byte{0xFF})
	require.False(t, ok)
}

func TestStakeRoundTrip(t *testing.T) {
	store := newTestStore(t)
	provider := [20]byte{0x03}

	_, ok := store.StakeGet(provider)
	require.False(t, ok)

	stake := &staking.Stake{
		Provider:           provider,
		Amount:             big.NewInt(500),
		Active:             true,
		UnstakeRequestedAt: 1_234,
	}
	require.NoError(t, store.StakePut(stake))

	got, ok := store.StakeGet(provider)
	require.True(t, ok)
	require.Equal(t, provider, got.Provider)
	require.Equal(t, int64(500), got.Amount.Int64())
	require.True(t, got.Active)
	require.Equal(t, int64(1_234), got.UnstakeRequestedAt)
}

func TestVaultAddressesStableAndDistinct(t *testing.T) {
	store := newTestStore(t)
	require.NotEqual(t, [20]byte{}, store.EscrowVaultAddress())
	require.NotEqual(t, [20]byte{}, store.StakingVaultAddress())
	require.NotEqual(t, store.EscrowVaultAddress(), store.StakingVaultAddress())

	other := newTestStore(t)
	require.Equal(t, store.EscrowVaultAddress(), other.EscrowVaultAddress())
}

func TestUpdateSessionRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	addr := [20]byte{0x05}
	buyer := [20]byte{0x01}
	provider := [20]byte{0x02}
	require.NoError(t, store.Mint(addr, big.NewInt(100)))

	boom := errors.New("boom")
	err := store.UpdateEscrows(func(s escrow.EscrowState) error {
		require.NoError(t, s.PutAccount(addr, &types.Account{Balance: big.NewInt(999)}))
		require.NoError(t, s.EscrowPut(&escrow.Escrow{
			ID:          escrow.DeriveID(buyer, provider, "order-rollback"),
			Buyer:       buyer,
			Provider:    provider,
			OrderRef:    "order-rollback",
			Amount:      big.NewInt(10),
			PlatformFee: big.NewInt(0),
			Deadline:    2_000,
			CreatedAt:   1_000,
			Status:      escrow.StatusActive,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	account, err := store.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, int64(100), account.Balance.Int64())
	_, ok := store.EscrowGet(escrow.DeriveID(buyer, provider, "order-rollback"))
	require.False(t, ok)
}

func TestEnginesRunAgainstStore(t *testing.T) {
	store := newTestStore(t)
	buyer := [20]byte{0x01}
	provider := [20]byte{0x02}
	operator := [20]byte{0x03}
	treasury := [20]byte{0x04}

	require.NoError(t, store.Mint(buyer, big.NewInt(10_000)))

	engine, err := escrow.NewEngine(escrow.Config{Operator: operator, FeeRecipient: treasury, FeeBps: 250})
	require.NoError(t, err)
	engine.SetState(store)
	engine.SetNowFunc(func() int64 { return 1_000 })

	id, err := engine.Deposit(buyer, provider, "order-1", big.NewInt(1_000), 2_000)
	require.NoError(t, err)
	require.NoError(t, engine.Release(id, buyer))

	account, err := store.GetAccount(provider)
	require.NoError(t, err)
	require.Equal(t, int64(975), account.Balance.Int64())

	account, err = store.GetAccount(treasury)
	require.NoError(t, err)
	require.Equal(t, int64(25), account.Balance.Int64())

	// A reopened store still serves the settled escrow.
	esc, ok := store.EscrowGet(id)
	require.True(t, ok)
	require.Equal(t, escrow.StatusReleased, esc.Status)
}
