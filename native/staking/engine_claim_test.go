package staking

import (
	"errors"
	"testing"
)

func TestSingleMaturedStakerClaimsFullDeposit(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", owner, 1_000_000)
	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)

	paid := mustClaim(t, env, "default", owner)
	wantNearU64(t, paid, 10_000_000_000, 2)

	// Claiming again immediately yields nothing.
	if paid := mustClaim(t, env, "default", owner); paid != 0 {
		t.Fatalf("second claim paid %d, want 0", paid)
	}
}

func TestTwoEqualStakersSplitRewards(t *testing.T) {
	env := newTestEnv(t)
	a := makeAddr(0x02)
	b := makeAddr(0x03)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", a, 1_000_000)
	mustStake(t, env, "default", b, 1_000_000)
	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)

	paidA := mustClaim(t, env, "default", a)
	paidB := mustClaim(t, env, "default", b)
	wantNearU64(t, paidA, 5_000_000_000, 2)
	wantNearU64(t, paidB, 5_000_000_000, 2)
	if paidA+paidB > 10_000_000_000 {
		t.Fatalf("paid %d + %d exceeds the deposit", paidA, paidB)
	}
}

func TestClaimFrequencyDoesNotChangeTotals(t *testing.T) {
	env := newTestEnv(t)
	eager := makeAddr(0x02)
	patient := makeAddr(0x03)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", eager, 1_000_000)
	mustStake(t, env, "default", patient, 1_000_000)
	env.advance(int64(20 * dayTau))

	var eagerTotal uint64
	for i := 0; i < 4; i++ {
		mustDepositRewards(t, env, "default", makeAddr(0x0a), 1_000_000_000)
		eagerTotal += mustClaim(t, env, "default", eager)
	}
	patientTotal := mustClaim(t, env, "default", patient)

	wantNearU64(t, eagerTotal, 2_000_000_000, 8)
	wantNearU64(t, patientTotal, 2_000_000_000, 8)
}

func TestClaimPaysWhatVaultAffords(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", owner, 1_000_000)
	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)

	// Simulate the vault being drained outside the engine's view.
	env.rewards.balance["default"] = 3_000_000_000

	paid := mustClaim(t, env, "default", owner)
	if paid != 3_000_000_000 {
		t.Fatalf("paid %d, want the vault's entire 3000000000", paid)
	}

	// Refill; the shortfall is still claimable.
	env.rewards.credit("default", 10_000_000_000)
	paid = mustClaim(t, env, "default", owner)
	wantNearU64(t, paid, 7_000_000_000, 2)
}

func TestClaimWithEmptyVaultIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)

	mustStake(t, env, "default", owner, 1_000_000)
	env.advance(int64(20 * dayTau))
	mustDepositRewards(t, env, "default", makeAddr(0x0a), 10_000_000_000)
	env.rewards.balance["default"] = 0

	if paid := mustClaim(t, env, "default", owner); paid != 0 {
		t.Fatalf("paid %d from an empty vault", paid)
	}
}

func TestCloseStakeAccount(t *testing.T) {
	env := newTestEnv(t)
	owner := makeAddr(0x02)
	mustInitPool(t, env, "default", makeAddr(0x01), dayTau)
	if err := env.engine.SetPoolMetadata("default", "Default", nil); err != nil {
		t.Fatalf("set metadata: %v", err)
	}

	mustStake(t, env, "default", owner, 1_000)

	if err := env.engine.CloseStakeAccount("default", owner); !errors.Is(err, ErrAccountNotEmpty) {
		t.Fatalf("close with stake err = %v, want ErrAccountNotEmpty", err)
	}

	if err := env.engine.Unstake("default", owner, 1_000); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if err := env.engine.CloseStakeAccount("default", owner); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := env.state.stakes[env.state.stakeKey("default", owner)]; ok {
		t.Fatal("stake record still present after close")
	}
	if env.state.metas["default"].MemberCount != 0 {
		t.Fatalf("member count = %d, want 0", env.state.metas["default"].MemberCount)
	}

	if err := env.engine.CloseStakeAccount("default", owner); !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("double close err = %v, want ErrStakeNotFound", err)
	}
}
