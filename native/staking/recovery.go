package staking

import "github.com/holiman/uint256"

// RecoverStrandedRewards reclaims reward balance that the accounting can no
// longer owe to anyone. The upper bound on outstanding obligations is
// totalStaked*accRPS minus the total reward debt, plus recorded residuals;
// any synced balance above that bound is unreachable through claims.
// Recovery lowers the synced balance so the next sync redistributes the
// excess as fresh rewards. Permissionless; returns the units recovered.
func (e *Engine) RecoverStrandedRewards(poolID string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return 0, err
	}
	if pool.NeedsRebase() {
		return 0, ErrPoolRequiresRebase
	}
	recovered, err := e.recoverStranded(pool)
	if err != nil {
		return 0, err
	}
	if recovered == 0 {
		return 0, nil
	}
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	e.emit(EventRewardsRecovered, poolID, map[string]string{
		"amount": amountAttr(recovered),
	})
	return recovered, nil
}

// FixTotalRewardDebt lets the authority correct drift in the pool-level debt
// aggregate, then immediately recovers whatever the correction strands. The
// new value may not exceed the theoretical maximum totalStaked*accRPS; going
// above it would understate obligations and strand claimable rewards.
func (e *Engine) FixTotalRewardDebt(poolID string, authority Address, newValue *uint256.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return 0, err
	}
	if err := e.requireAuthority(pool, authority); err != nil {
		return 0, err
	}
	if newValue == nil {
		newValue = new(uint256.Int)
	}
	bound, err := maxAccumulatedWad(pool)
	if err != nil {
		return 0, err
	}
	if newValue.Gt(bound) {
		return 0, ErrDebtExceedsBound
	}
	pool.TotalRewardDebt = new(uint256.Int).Set(newValue)

	recovered, err := e.recoverStranded(pool)
	if err != nil {
		return 0, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	attrs := map[string]string{"totalRewardDebt": newValue.Dec()}
	if recovered > 0 {
		attrs["recovered"] = amountAttr(recovered)
	}
	e.emit(EventRewardsRecovered, poolID, attrs)
	return recovered, nil
}

// recoverStranded lowers LastSyncedBalance to the maximum the pool can still
// owe. Mutates the pool in place without persisting.
func (e *Engine) recoverStranded(pool *Pool) (uint64, error) {
	bound, err := maxAccumulatedWad(pool)
	if err != nil {
		return 0, err
	}
	maxPending := saturatingSub(bound, pool.TotalRewardDebt)
	owed := wadToUnits(maxPending)
	owed, overflow := addU64(owed, pool.TotalResidualUnpaid)
	if overflow {
		return 0, ErrMathOverflow
	}
	stranded := saturatingSubU64(pool.LastSyncedBalance, owed)
	if stranded == 0 {
		return 0, nil
	}
	pool.LastSyncedBalance -= stranded
	return stranded, nil
}

// maxAccumulatedWad is the WAD-scaled ceiling on rewards the accumulator can
// have allocated across the current total stake.
func maxAccumulatedWad(pool *Pool) (*uint256.Int, error) {
	if pool.AccRewardPerShare.IsZero() || pool.TotalStaked.IsZero() {
		return new(uint256.Int), nil
	}
	totalStakedWad, overflow := new(uint256.Int).MulOverflow(pool.TotalStaked, wad)
	if overflow {
		return nil, ErrMathOverflow
	}
	return wadMul(totalStakedWad, pool.AccRewardPerShare)
}

func addU64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}
