package staking

import (
	"errors"
	"testing"
)

func setPoolPolicy(t *testing.T, env *testEnv, poolID string, authority Address, lock, cooldown uint64) {
	t.Helper()
	update := SettingsUpdate{LockDurationSeconds: &lock, UnstakeCooldownSeconds: &cooldown}
	if err := env.engine.UpdatePoolSettings(poolID, authority, update); err != nil {
		t.Fatalf("update settings: %v", err)
	}
}

func TestDirectUnstakeReturnsPrincipal(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", owner, 1_000_000)

	env.advance(int64(dayTau))
	if err := env.engine.Unstake("default", owner, 400_000); err != nil {
		t.Fatalf("unstake: %v", err)
	}

	stake := env.state.stakes[env.state.stakeKey("default", owner)]
	if stake.Amount != 600_000 {
		t.Fatalf("amount = %d, want 600000", stake.Amount)
	}
	if env.assets.balance["default"] != 600_000 {
		t.Fatalf("asset vault = %d, want 600000", env.assets.balance["default"])
	}
	pool := env.state.pools["default"]
	if pool.TotalStaked.Uint64() != 600_000 {
		t.Fatalf("total staked = %s, want 600000", pool.TotalStaked.Dec())
	}

	if err := env.engine.Unstake("default", owner, 700_000); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("overdraw err = %v, want ErrInsufficientStake", err)
	}
}

func TestDirectUnstakeRejectedWhenCooldownConfigured(t *testing.T) {
	env := newTestEnv(t)
	authority := makeAddr(0x01)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", authority, dayTau)
	setPoolPolicy(t, env, "default", authority, 0, 3600)
	mustStake(t, env, "default", owner, 1_000)

	if err := env.engine.Unstake("default", owner, 1_000); !errors.Is(err, ErrCooldownRequired) {
		t.Fatalf("direct unstake err = %v, want ErrCooldownRequired", err)
	}
}

func TestUnstakeRespectsLock(t *testing.T) {
	env := newTestEnv(t)
	authority := makeAddr(0x01)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", authority, dayTau)
	setPoolPolicy(t, env, "default", authority, 7200, 0)
	mustStake(t, env, "default", owner, 1_000)

	env.advance(3600)
	if err := env.engine.Unstake("default", owner, 1_000); !errors.Is(err, ErrStakeLocked) {
		t.Fatalf("locked unstake err = %v, want ErrStakeLocked", err)
	}
	env.advance(3600)
	if err := env.engine.Unstake("default", owner, 1_000); err != nil {
		t.Fatalf("unstake after lock: %v", err)
	}
}

func TestLockMeasuredFromLastTopUp(t *testing.T) {
	env := newTestEnv(t)
	authority := makeAddr(0x01)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", authority, dayTau)
	setPoolPolicy(t, env, "default", authority, 7200, 0)

	mustStake(t, env, "default", owner, 1_000)
	env.advance(7000)
	mustStake(t, env, "default", owner, 1_000)
	env.advance(3600)

	// 10600s since the first stake but only 3600s since the top-up.
	if err := env.engine.Unstake("default", owner, 500); !errors.Is(err, ErrStakeLocked) {
		t.Fatalf("unstake err = %v, want ErrStakeLocked", err)
	}
}

func TestCooldownLifecycle(t *testing.T) {
	env := newTestEnv(t)
	authority := makeAddr(0x01)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", authority, dayTau)
	setPoolPolicy(t, env, "default", authority, 0, 3600)
	mustStake(t, env, "default", owner, 1_000)

	if err := env.engine.CompleteUnstake("default", owner); !errors.Is(err, ErrNoPendingUnstake) {
		t.Fatalf("complete without request err = %v, want ErrNoPendingUnstake", err)
	}
	if err := env.engine.RequestUnstake("default", owner, 600); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := env.engine.RequestUnstake("default", owner, 100); !errors.Is(err, ErrPendingUnstake) {
		t.Fatalf("second request err = %v, want ErrPendingUnstake", err)
	}
	if err := env.engine.CompleteUnstake("default", owner); !errors.Is(err, ErrCooldownNotElapsed) {
		t.Fatalf("early complete err = %v, want ErrCooldownNotElapsed", err)
	}

	env.advance(3600)
	if err := env.engine.CompleteUnstake("default", owner); err != nil {
		t.Fatalf("complete: %v", err)
	}
	stake := env.state.stakes[env.state.stakeKey("default", owner)]
	if stake.Amount != 400 {
		t.Fatalf("amount = %d, want 400", stake.Amount)
	}
	if stake.HasPendingUnstakeRequest() {
		t.Fatal("request not cleared after completion")
	}
}

func TestRequestUnstakeWithoutCooldownRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	mustStake(t, env, "default", owner, 1_000)

	if err := env.engine.RequestUnstake("default", owner, 500); !errors.Is(err, ErrCooldownNotConfigured) {
		t.Fatalf("request err = %v, want ErrCooldownNotConfigured", err)
	}
}

func TestCancelUnstakeRequest(t *testing.T) {
	env := newTestEnv(t)
	authority := makeAddr(0x01)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", authority, dayTau)
	setPoolPolicy(t, env, "default", authority, 0, 3600)
	mustStake(t, env, "default", owner, 1_000)

	if err := env.engine.CancelUnstakeRequest("default", owner); !errors.Is(err, ErrNoPendingUnstake) {
		t.Fatalf("cancel without request err = %v, want ErrNoPendingUnstake", err)
	}
	if err := env.engine.RequestUnstake("default", owner, 600); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := env.engine.CancelUnstakeRequest("default", owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stake := env.state.stakes[env.state.stakeKey("default", owner)]
	if stake.HasPendingUnstakeRequest() {
		t.Fatal("request not cleared after cancel")
	}
	if stake.Amount != 1_000 {
		t.Fatalf("amount = %d, want 1000", stake.Amount)
	}
}

func TestPartialUnstakeCarriesUnpaidRewardsForward(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", owner, 1_000_000)
	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)

	// The vault can only cover 9e9 of the ~1e10 settlement.
	env.rewards.balance["default"] = 9_000_000_000
	if err := env.engine.Unstake("default", owner, 500_000); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	firstPaid := env.rewards.paid[owner.Hex()]
	if firstPaid != 9_000_000_000 {
		t.Fatalf("settlement paid %d, want 9000000000", firstPaid)
	}

	// Refill; the ~1e9 shortfall must still be claimable by the remaining
	// position.
	env.rewards.credit("default", 2_000_000_000)
	paid := mustClaim(t, env, "default", owner)
	wantNearU64(t, paid, 1_000_000_000, 2)
}

func TestFullExitRecordsResidualAndPaysItLater(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", owner, 1_000_000)
	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)

	env.rewards.balance["default"] = 6_000_000_000
	if err := env.engine.Unstake("default", owner, 1_000_000); err != nil {
		t.Fatalf("unstake: %v", err)
	}

	stake := env.state.stakes[env.state.stakeKey("default", owner)]
	if stake.Amount != 0 {
		t.Fatalf("amount = %d, want 0", stake.Amount)
	}
	pool := env.state.pools["default"]
	wantNearU64(t, pool.TotalResidualUnpaid, 4_000_000_000, 2)
	if !pool.TotalRewardDebt.IsZero() {
		t.Fatalf("total reward debt = %s, want 0 after the only position exits", pool.TotalRewardDebt.Dec())
	}

	// The account cannot be closed while the residual is outstanding.
	if err := env.engine.CloseStakeAccount("default", owner); !errors.Is(err, ErrAccountNotEmpty) {
		t.Fatalf("close err = %v, want ErrAccountNotEmpty", err)
	}

	env.rewards.credit("default", 5_000_000_000)
	paid := mustClaim(t, env, "default", owner)
	wantNearU64(t, paid, 4_000_000_000, 2)

	// Sub-unit dust is forgiven on close.
	if err := env.engine.CloseStakeAccount("default", owner); err != nil {
		t.Fatalf("close after residual claim: %v", err)
	}
}
