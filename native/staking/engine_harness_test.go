package staking

import (
	"testing"

	"github.com/holiman/uint256"
)

// testEpoch is an arbitrary nonzero wall clock origin for deterministic tests.
const testEpoch = int64(1_700_000_000)

type mockEngineState struct {
	pools  map[string]*Pool
	stakes map[string]*UserStake
	metas  map[string]*PoolMetadata
	events []*Event
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		pools:  make(map[string]*Pool),
		stakes: make(map[string]*UserStake),
		metas:  make(map[string]*PoolMetadata),
	}
}

func (m *mockEngineState) stakeKey(poolID string, owner Address) string {
	return poolID + "/" + owner.Hex()
}

func (m *mockEngineState) GetPool(poolID string) (*Pool, error) {
	return m.pools[poolID].Clone(), nil
}

func (m *mockEngineState) PutPool(pool *Pool) error {
	m.pools[pool.PoolID] = pool.Clone()
	return nil
}

func (m *mockEngineState) GetStake(poolID string, owner Address) (*UserStake, error) {
	return m.stakes[m.stakeKey(poolID, owner)].Clone(), nil
}

func (m *mockEngineState) PutStake(stake *UserStake) error {
	m.stakes[m.stakeKey(stake.PoolID, stake.Owner)] = stake.Clone()
	return nil
}

func (m *mockEngineState) DeleteStake(poolID string, owner Address) error {
	delete(m.stakes, m.stakeKey(poolID, owner))
	return nil
}

func (m *mockEngineState) GetMetadata(poolID string) (*PoolMetadata, error) {
	return m.metas[poolID].Clone(), nil
}

func (m *mockEngineState) PutMetadata(meta *PoolMetadata) error {
	m.metas[meta.PoolID] = meta.Clone()
	return nil
}

func (m *mockEngineState) AppendEvent(evt *Event) {
	m.events = append(m.events, evt)
}

func (m *mockEngineState) lastEvent() *Event {
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

type fakeAssetVault struct {
	balance map[string]uint64
}

func newFakeAssetVault() *fakeAssetVault {
	return &fakeAssetVault{balance: make(map[string]uint64)}
}

func (v *fakeAssetVault) Deposit(poolID string, _ Address, amount uint64) error {
	v.balance[poolID] += amount
	return nil
}

func (v *fakeAssetVault) Withdraw(poolID string, _ Address, amount uint64) error {
	if v.balance[poolID] < amount {
		return ErrVaultInsufficient
	}
	v.balance[poolID] -= amount
	return nil
}

type fakeRewardVault struct {
	balance map[string]uint64
	paid    map[string]uint64
}

func newFakeRewardVault() *fakeRewardVault {
	return &fakeRewardVault{balance: make(map[string]uint64), paid: make(map[string]uint64)}
}

func (v *fakeRewardVault) Balance(poolID string) (uint64, error) {
	return v.balance[poolID], nil
}

func (v *fakeRewardVault) Deposit(poolID string, _ Address, amount uint64) error {
	v.balance[poolID] += amount
	return nil
}

func (v *fakeRewardVault) Payout(poolID string, to Address, amount uint64) error {
	if v.balance[poolID] < amount {
		return ErrVaultInsufficient
	}
	v.balance[poolID] -= amount
	v.paid[to.Hex()] += amount
	return nil
}

// credit models reward currency landing in the vault without the engine
// seeing a deposit, the situation SyncRewards reconciles.
func (v *fakeRewardVault) credit(poolID string, amount uint64) {
	v.balance[poolID] += amount
}

type testEnv struct {
	engine  *Engine
	state   *mockEngineState
	assets  *fakeAssetVault
	rewards *fakeRewardVault
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockEngineState(),
		assets:  newFakeAssetVault(),
		rewards: newFakeRewardVault(),
		now:     testEpoch,
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetVaults(env.assets, env.rewards)
	env.engine.SetClock(func() int64 { return env.now })
	return env
}

func (env *testEnv) advance(seconds int64) {
	env.now += seconds
}

func makeAddr(suffix byte) Address {
	var addr Address
	addr[len(addr)-1] = suffix
	return addr
}

func mustInitPool(t *testing.T, env *testEnv, poolID string, authority Address, tau uint64) *Pool {
	t.Helper()
	pool, err := env.engine.InitializePool(poolID, authority, tau)
	if err != nil {
		t.Fatalf("initialize pool: %v", err)
	}
	return pool
}

func mustStake(t *testing.T, env *testEnv, poolID string, owner Address, amount uint64) {
	t.Helper()
	if err := env.engine.Stake(poolID, owner, amount); err != nil {
		t.Fatalf("stake %d for %s: %v", amount, owner.Hex(), err)
	}
}

func mustDepositRewards(t *testing.T, env *testEnv, poolID string, from Address, amount uint64) {
	t.Helper()
	if err := env.engine.DepositRewards(poolID, from, amount); err != nil {
		t.Fatalf("deposit rewards %d: %v", amount, err)
	}
}

func mustClaim(t *testing.T, env *testEnv, poolID string, owner Address) uint64 {
	t.Helper()
	paid, err := env.engine.ClaimRewards(poolID, owner)
	if err != nil {
		t.Fatalf("claim for %s: %v", owner.Hex(), err)
	}
	return paid
}

// wantNear asserts |got-want| <= tolerance for WAD-scaled values.
func wantNear(t *testing.T, got, want *uint256.Int, tolerance uint64) {
	t.Helper()
	diff := new(uint256.Int)
	if got.Gt(want) {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	if diff.Gt(uint256.NewInt(tolerance)) {
		t.Fatalf("got %s, want %s within %d", got.Dec(), want.Dec(), tolerance)
	}
}

func wantNearU64(t *testing.T, got, want, tolerance uint64) {
	t.Helper()
	diff := got - want
	if want > got {
		diff = want - got
	}
	if diff > tolerance {
		t.Fatalf("got %d, want %d within %d", got, want, tolerance)
	}
}
