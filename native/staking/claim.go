package staking

import "github.com/holiman/uint256"

// ClaimRewards settles and pays out the caller's pending rewards, returning
// the whole units transferred. A vault that cannot cover the full pending
// amount pays what it holds; the shortfall stays claimable. Nothing payable
// is not an error.
func (e *Engine) ClaimRewards(poolID string, owner Address) (uint64, error) {
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
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return 0, err
	}
	if stake.Amount == 0 {
		return e.claimResidual(pool, stake)
	}
	if err := stake.syncToPool(pool); err != nil {
		return 0, err
	}

	now := e.now()
	weighted, err := userWeightedStake(stake.Amount, stake.MaturityFactor, now, pool.BaseTime, pool.TauSeconds)
	if err != nil {
		return 0, err
	}
	pending, err := pendingRewardWad(pool, stake, weighted)
	if err != nil {
		return 0, err
	}
	if pending.IsZero() {
		return 0, nil
	}
	available, err := e.availableRewards(poolID)
	if err != nil {
		return 0, err
	}
	payout := wadToUnits(pending)
	if available < payout {
		payout = available
	}
	if payout == 0 {
		return 0, nil
	}

	// Advance the snapshot by exactly what was paid. Anything short of the
	// full pending amount remains encoded in the debt and surfaces on the
	// next claim.
	paidWad := mulWad(payout)
	newDebt, overflow := new(uint256.Int).AddOverflow(stake.RewardDebt, paidWad)
	if overflow {
		return 0, ErrMathOverflow
	}
	stake.RewardDebt = newDebt
	newTotal, overflow := new(uint256.Int).AddOverflow(pool.TotalRewardDebt, paidWad)
	if overflow {
		return 0, ErrMathOverflow
	}
	pool.TotalRewardDebt = newTotal
	pool.LastSyncedBalance = saturatingSubU64(pool.LastSyncedBalance, payout)
	pool.LastUpdateTime = now
	stake.TotalRewardsClaimed += payout

	if err := e.state.PutStake(stake); err != nil {
		return 0, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	if err := e.rewards.Payout(poolID, owner, payout); err != nil {
		return 0, err
	}
	e.emit(EventRewardsClaimed, poolID, map[string]string{
		"owner":  owner.Hex(),
		"amount": amountAttr(payout),
	})
	return payout, nil
}

// claimResidual pays down the unpaid remainder left behind by a full exit.
// With Amount at zero the reward debt holds the WAD-scaled amount still owed.
func (e *Engine) claimResidual(pool *Pool, stake *UserStake) (uint64, error) {
	owed := residualUnits(stake.RewardDebt)
	if owed == 0 {
		return 0, nil
	}
	available, err := e.availableRewards(pool.PoolID)
	if err != nil {
		return 0, err
	}
	payout := owed
	if available < payout {
		payout = available
	}
	if payout == 0 {
		return 0, nil
	}

	stake.RewardDebt = saturatingSub(stake.RewardDebt, mulWad(payout))
	stake.TotalRewardsClaimed += payout
	pool.TotalResidualUnpaid = saturatingSubU64(pool.TotalResidualUnpaid, payout)
	pool.LastSyncedBalance = saturatingSubU64(pool.LastSyncedBalance, payout)

	if err := e.state.PutStake(stake); err != nil {
		return 0, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	if err := e.rewards.Payout(pool.PoolID, stake.Owner, payout); err != nil {
		return 0, err
	}
	e.emit(EventRewardsClaimed, pool.PoolID, map[string]string{
		"owner":  stake.Owner.Hex(),
		"amount": amountAttr(payout),
		"reason": "residual",
	})
	return payout, nil
}

// CloseStakeAccount removes an emptied position record. The position must be
// fully unstaked with no pending request; residual dust below one whole unit
// is forgiven with the record.
func (e *Engine) CloseStakeAccount(poolID string, owner Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.loadPool(poolID); err != nil {
		return err
	}
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return err
	}
	if stake.Amount != 0 {
		return ErrAccountNotEmpty
	}
	if stake.HasPendingUnstakeRequest() {
		return ErrPendingUnstake
	}
	if residualUnits(stake.RewardDebt) != 0 {
		return ErrAccountNotEmpty
	}
	if err := e.state.DeleteStake(poolID, owner); err != nil {
		return err
	}
	if err := e.adjustMemberCount(poolID, -1); err != nil {
		return err
	}
	e.emit(EventStakeAccountClose, poolID, map[string]string{"owner": owner.Hex()})
	return nil
}
