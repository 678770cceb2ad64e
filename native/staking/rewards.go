package staking

import "github.com/holiman/uint256"

// minDistributableWeight is the total weight floor below which distribution
// is deferred. Dividing a deposit across less than one whole weighted unit
// would produce a per-share rate large enough to overflow later products.
var minDistributableWeight = uint256.NewInt(WAD)

// DepositRewards adds amount of the reward currency to the pool and folds it,
// together with any balance that arrived outside this call, into the
// per-share accumulator. If the pool's total weight is still below the
// distribution floor the deposit is accepted but distribution is deferred
// until the next sync that finds enough weight.
func (e *Engine) DepositRewards(poolID string, from Address, amount uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if pool.NeedsRebase() {
		return ErrPoolRequiresRebase
	}

	balance, err := e.availableRewards(poolID)
	if err != nil {
		return err
	}
	undistributed := saturatingSubU64(balance, pool.LastSyncedBalance)
	total := amount + undistributed
	if total < amount {
		return ErrMathOverflow
	}

	now := e.now()
	distributed, err := e.distribute(pool, total, now)
	if err != nil {
		return err
	}
	if distributed {
		// The deposit lands in the vault after this call, so the synced
		// balance accounts for it up front.
		pool.LastSyncedBalance = balance + amount
	}
	pool.LastUpdateTime = now
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.rewards.Deposit(poolID, from, amount); err != nil {
		return err
	}
	e.emit(EventRewardsDeposited, poolID, map[string]string{
		"from":        from.Hex(),
		"amount":      amountAttr(amount),
		"distributed": amountAttr(boolAmount(distributed, total)),
	})
	return nil
}

// SyncRewards folds reward currency that reached the vault without going
// through DepositRewards into the accumulator. Returns the units distributed;
// zero with no error when there is nothing new or the pool's weight is below
// the distribution floor. A deferred balance stays untracked so a later sync
// picks it up in full.
func (e *Engine) SyncRewards(poolID string) (uint64, error) {
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

	balance, err := e.availableRewards(poolID)
	if err != nil {
		return 0, err
	}
	newRewards := saturatingSubU64(balance, pool.LastSyncedBalance)
	if newRewards == 0 {
		return 0, nil
	}

	now := e.now()
	distributed, err := e.distribute(pool, newRewards, now)
	if err != nil {
		return 0, err
	}
	if !distributed {
		return 0, nil
	}
	pool.LastSyncedBalance = balance
	pool.LastUpdateTime = now
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	e.emit(EventRewardsSynced, poolID, map[string]string{
		"amount": amountAttr(newRewards),
	})
	return newRewards, nil
}

// distribute spreads amount across the pool's current total weight by raising
// the per-share accumulator. Reports false, without touching the pool, when
// the weight is below the distribution floor.
func (e *Engine) distribute(pool *Pool, amount uint64, now int64) (bool, error) {
	if amount == 0 {
		return false, nil
	}
	totalWeight, err := totalWeightedStake(pool.TotalStaked, pool.SumStakeExp, now, pool.BaseTime, pool.TauSeconds)
	if err != nil {
		return false, err
	}
	if totalWeight.Lt(minDistributableWeight) {
		return false, nil
	}
	delta, err := wadDiv(mulWad(amount), totalWeight)
	if err != nil {
		return false, err
	}
	newAcc, overflow := new(uint256.Int).AddOverflow(pool.AccRewardPerShare, delta)
	if overflow {
		return false, ErrMathOverflow
	}
	pool.AccRewardPerShare = newAcc
	return true, nil
}

func boolAmount(ok bool, amount uint64) uint64 {
	if ok {
		return amount
	}
	return 0
}
