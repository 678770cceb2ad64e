package staking

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestRebasePreservesWeights(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", owner, 1_000_000)

	env.advance(int64(2 * dayTau))
	before, err := env.engine.PoolInfo("default")
	if err != nil {
		t.Fatalf("pool info before: %v", err)
	}
	if err := env.engine.SyncPool("default"); err != nil {
		t.Fatalf("rebase: %v", err)
	}
	after, err := env.engine.PoolInfo("default")
	if err != nil {
		t.Fatalf("pool info after: %v", err)
	}

	wantNear(t, after.TotalWeightedStake, before.TotalWeightedStake, 1_000_000*expTolerance)

	pool := env.state.pools["default"]
	if pool.BaseTime != env.now {
		t.Fatalf("base time = %d, want %d", pool.BaseTime, env.now)
	}
	if pool.InitialBaseTime != testEpoch {
		t.Fatalf("initial base time = %d, want %d", pool.InitialBaseTime, testEpoch)
	}
}

func TestRebaseIsIdempotentAtSameInstant(t *testing.T) {
	env := newTestEnv(t)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", makeAddr(0x02), 1_000)

	env.advance(int64(dayTau))
	if err := env.engine.SyncPool("default"); err != nil {
		t.Fatalf("rebase: %v", err)
	}
	sumAfterFirst := env.state.pools["default"].SumStakeExp.Clone()
	if err := env.engine.SyncPool("default"); err != nil {
		t.Fatalf("second rebase: %v", err)
	}
	if !env.state.pools["default"].SumStakeExp.Eq(sumAfterFirst) {
		t.Fatal("no-op rebase mutated the aggregate")
	}
}

func TestPositionResyncsLazilyAfterRebase(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", owner, 1_000_000)

	env.advance(int64(2 * dayTau))
	if err := env.engine.SyncPool("default"); err != nil {
		t.Fatalf("rebase: %v", err)
	}

	// The stored record still carries the stale snapshot until touched.
	stale := env.state.stakes[env.state.stakeKey("default", owner)]
	if stale.BaseTimeSnapshot != testEpoch {
		t.Fatalf("snapshot = %d, want stale %d", stale.BaseTimeSnapshot, testEpoch)
	}

	// The view rescales a copy without persisting; the weight must match a
	// stake opened at the original base time.
	info, err := env.engine.StakeInfo("default", owner)
	if err != nil {
		t.Fatalf("stake info: %v", err)
	}
	direct, err := calculateWeight(stale.Amount, int64(2*dayTau), dayTau)
	if err != nil {
		t.Fatalf("direct weight: %v", err)
	}
	wantNear(t, info.WeightedStake, direct, 2_000_000*expTolerance)

	// A mutating touch persists the re-anchored snapshot.
	mustStake(t, env, "default", owner, 1_000)
	synced := env.state.stakes[env.state.stakeKey("default", owner)]
	if synced.BaseTimeSnapshot != env.now {
		t.Fatalf("snapshot = %d, want %d after touch", synced.BaseTimeSnapshot, env.now)
	}
}

func TestRewardsSurviveRebase(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", owner, 1_000_000)

	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)
	if err := env.engine.SyncPool("default"); err != nil {
		t.Fatalf("rebase: %v", err)
	}

	paid := mustClaim(t, env, "default", owner)
	wantNearU64(t, paid, 10_000_000_000, 2)
}

func TestOperationsGateOnOverflowingAggregate(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", owner, 1_000)

	// Force the aggregate past the rebase threshold.
	pool := env.state.pools["default"]
	pool.SumStakeExp = new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	pool.SumStakeExp.Add(pool.SumStakeExp, uint256.NewInt(1))
	env.state.pools["default"] = pool

	if err := env.engine.Stake("default", makeAddr(0x03), 1_000); !errors.Is(err, ErrPoolRequiresRebase) {
		t.Fatalf("stake err = %v, want ErrPoolRequiresRebase", err)
	}
	if _, err := env.engine.ClaimRewards("default", owner); !errors.Is(err, ErrPoolRequiresRebase) {
		t.Fatalf("claim err = %v, want ErrPoolRequiresRebase", err)
	}
}
