package staking

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakewave/storage"
)

func samplePool() *Pool {
	pool := NewPool("default", makeAddr(0x01), 86400, testEpoch)
	pool.InitialBaseTime = testEpoch - 100
	pool.TotalStaked = uint256.NewInt(1_000_000)
	pool.SumStakeExp = mulWad(1_000_000)
	pool.AccRewardPerShare = uint256.MustFromDecimal("10000000000000000000000")
	pool.LastUpdateTime = testEpoch + 50
	pool.LastSyncedBalance = 10_000_000_000
	pool.TotalRewardDebt = uint256.MustFromDecimal("123456789000000000000000000")
	pool.TotalResidualUnpaid = 42
	pool.MinStakeAmount = 100
	pool.LockDurationSeconds = 3600
	pool.UnstakeCooldownSeconds = 7200
	return pool
}

func TestStoreRoundTripPool(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	missing, err := store.GetPool("default")
	require.NoError(t, err)
	require.Nil(t, missing)

	want := samplePool()
	require.NoError(t, store.PutPool(want))

	got, err := store.GetPool("default")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStoreRoundTripStake(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	owner := makeAddr(0x02)

	missing, err := store.GetStake("default", owner)
	require.NoError(t, err)
	require.Nil(t, missing)

	want := &UserStake{
		Owner:                owner,
		PoolID:               "default",
		Amount:               1_000_000,
		StakeTime:            testEpoch,
		LastStakeTime:        testEpoch + 10,
		MaturityFactor:       uint256.NewInt(WAD),
		BaseTimeSnapshot:     testEpoch,
		RewardDebt:           uint256.MustFromDecimal("99000000000000000000"),
		UnstakeRequestAmount: 500,
		UnstakeRequestTime:   testEpoch + 20,
		TotalRewardsClaimed:  777,
	}
	require.NoError(t, store.PutStake(want))

	got, err := store.GetStake("default", owner)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, store.DeleteStake("default", owner))
	gone, err := store.GetStake("default", owner)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestStoreMetadataRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	want := &PoolMetadata{
		PoolID:      "default",
		Name:        "Default Pool",
		Tags:        []string{"core", "v1"},
		MemberCount: 3,
		UpdatedAt:   testEpoch,
	}
	require.NoError(t, store.PutMetadata(want))

	got, err := store.GetMetadata("default")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStorePoolIndex(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	ids, err := store.ListPools()
	require.NoError(t, err)
	require.Empty(t, ids)

	for _, id := range []string{"gamma", "alpha", "beta"} {
		pool := samplePool()
		pool.PoolID = id
		require.NoError(t, store.PutPool(pool))
		// A second write must not duplicate the index entry.
		require.NoError(t, store.PutPool(pool))
	}

	ids, err = store.ListPools()
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "gamma"}, ids)
}

func TestStoreLevelDBBackend(t *testing.T) {
	db, err := storage.NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	want := samplePool()
	require.NoError(t, store.PutPool(want))

	got, err := store.GetPool("default")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestStoreDrainEvents(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	store.AppendEvent(&Event{Type: EventStaked, Attributes: map[string]string{"pool": "default"}})
	store.AppendEvent(&Event{Type: EventRewardsClaimed, Attributes: map[string]string{"pool": "default"}})

	events := store.DrainEvents()
	require.Len(t, events, 2)
	require.Equal(t, EventStaked, events[0].Type)
	require.Empty(t, store.DrainEvents())
}

func TestLedgerVaults(t *testing.T) {
	vaults := NewLedgerVaults(storage.NewMemDB())
	owner := makeAddr(0x02)

	require.NoError(t, vaults.Assets().Deposit("default", owner, 1_000))
	balance, err := vaults.AssetBalance("default")
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), balance)

	require.ErrorIs(t, vaults.Assets().Withdraw("default", owner, 2_000), ErrVaultInsufficient)
	require.NoError(t, vaults.Assets().Withdraw("default", owner, 400))

	require.NoError(t, vaults.CreditRewards("default", 500))
	require.NoError(t, vaults.Rewards().Deposit("default", owner, 250))
	rewardBalance, err := vaults.Rewards().Balance("default")
	require.NoError(t, err)
	require.Equal(t, uint64(750), rewardBalance)

	require.NoError(t, vaults.Rewards().Payout("default", owner, 750))
	require.ErrorIs(t, vaults.Rewards().Payout("default", owner, 1), ErrVaultInsufficient)
}
