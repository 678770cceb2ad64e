package staking

import "github.com/holiman/uint256"

// Unstake withdraws amount directly. Only valid for pools without an unstake
// cooldown; cooldown pools must go through RequestUnstake/CompleteUnstake.
func (e *Engine) Unstake(poolID string, owner Address, amount uint64) error {
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
	if pool.UnstakeCooldownSeconds > 0 {
		return ErrCooldownRequired
	}
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return err
	}
	if stake.Amount < amount {
		return ErrInsufficientStake
	}
	if stake.HasPendingUnstakeRequest() {
		return ErrPendingUnstake
	}
	if err := stake.syncToPool(pool); err != nil {
		return err
	}
	now := e.now()
	if err := checkLockElapsed(pool, stake, now); err != nil {
		return err
	}
	return e.executeUnstake(pool, stake, amount, now)
}

// RequestUnstake starts the cooldown for amount. The tokens remain staked
// and keep earning rewards until CompleteUnstake.
func (e *Engine) RequestUnstake(poolID string, owner Address, amount uint64) error {
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
	if pool.UnstakeCooldownSeconds == 0 {
		return ErrCooldownNotConfigured
	}
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return err
	}
	if stake.HasPendingUnstakeRequest() {
		return ErrPendingUnstake
	}
	if err := stake.syncToPool(pool); err != nil {
		return err
	}
	if stake.Amount < amount {
		return ErrInsufficientStake
	}
	now := e.now()
	if err := checkLockElapsed(pool, stake, now); err != nil {
		return err
	}
	stake.UnstakeRequestAmount = amount
	stake.UnstakeRequestTime = now
	if err := e.state.PutStake(stake); err != nil {
		return err
	}
	e.emit(EventUnstakeRequested, poolID, map[string]string{
		"owner":           owner.Hex(),
		"amount":          amountAttr(amount),
		"cooldownSeconds": amountAttr(pool.UnstakeCooldownSeconds),
	})
	return nil
}

// CompleteUnstake finishes a pending request once the cooldown has elapsed.
func (e *Engine) CompleteUnstake(poolID string, owner Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if pool.NeedsRebase() {
		return ErrPoolRequiresRebase
	}
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return err
	}
	if !stake.HasPendingUnstakeRequest() {
		return ErrNoPendingUnstake
	}
	now := e.now()
	elapsed := now - stake.UnstakeRequestTime
	if elapsed < 0 {
		elapsed = 0
	}
	if uint64(elapsed) < pool.UnstakeCooldownSeconds {
		return ErrCooldownNotElapsed
	}
	if err := stake.syncToPool(pool); err != nil {
		return err
	}
	amount := stake.UnstakeRequestAmount
	stake.UnstakeRequestAmount = 0
	stake.UnstakeRequestTime = 0
	return e.executeUnstake(pool, stake, amount, now)
}

// CancelUnstakeRequest clears a pending request with no other side effects.
func (e *Engine) CancelUnstakeRequest(poolID string, owner Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return err
	}
	if err := stake.syncToPool(pool); err != nil {
		return err
	}
	if !stake.HasPendingUnstakeRequest() {
		return ErrNoPendingUnstake
	}
	cancelled := stake.UnstakeRequestAmount
	stake.UnstakeRequestAmount = 0
	stake.UnstakeRequestTime = 0
	if err := e.state.PutStake(stake); err != nil {
		return err
	}
	e.emit(EventUnstakeCancelled, poolID, map[string]string{
		"owner":  owner.Hex(),
		"amount": amountAttr(cancelled),
	})
	return nil
}

func checkLockElapsed(pool *Pool, stake *UserStake, now int64) error {
	if pool.LockDurationSeconds == 0 {
		return nil
	}
	elapsed := now - stake.effectiveLastStakeTime()
	if elapsed < 0 {
		elapsed = 0
	}
	if uint64(elapsed) < pool.LockDurationSeconds {
		return ErrStakeLocked
	}
	return nil
}

// executeUnstake settles pending rewards for the position, removes amount's
// contribution from the pool aggregate and pays out. Shared by Unstake and
// CompleteUnstake; the caller has already validated the request.
func (e *Engine) executeUnstake(pool *Pool, stake *UserStake, amount uint64, now int64) error {
	if stake.Amount < amount {
		return ErrInsufficientStake
	}
	owner := stake.Owner
	oldRewardDebt := stake.RewardDebt

	weighted, err := userWeightedStake(stake.Amount, stake.MaturityFactor, now, pool.BaseTime, pool.TauSeconds)
	if err != nil {
		return err
	}
	pending, err := pendingRewardWad(pool, stake, weighted)
	if err != nil {
		return err
	}

	var rewardPayout uint64
	unpaidWad := new(uint256.Int)
	if !pending.IsZero() {
		available, err := e.availableRewards(pool.PoolID)
		if err != nil {
			return err
		}
		rewardPayout = wadToUnits(pending)
		if available < rewardPayout {
			rewardPayout = available
		}
		pool.LastSyncedBalance = saturatingSubU64(pool.LastSyncedBalance, rewardPayout)
		unpaidWad = saturatingSub(pending, mulWad(rewardPayout))
	}

	// Remove the withdrawn portion's contribution; saturating to absorb
	// rounding drift accumulated by the averaged maturity factor.
	contribution, err := wadMul(mulWad(amount), stake.MaturityFactor)
	if err != nil {
		return err
	}
	pool.SumStakeExp = saturatingSub(pool.SumStakeExp, contribution)

	if pool.TotalStaked.Lt(uint256.NewInt(amount)) {
		return ErrMathUnderflow
	}
	pool.TotalStaked = new(uint256.Int).Sub(pool.TotalStaked, uint256.NewInt(amount))
	stake.Amount -= amount
	pool.LastUpdateTime = now

	if stake.Amount > 0 {
		// Reset the snapshot to the current accumulator for the remaining
		// position, carrying the unpaid settlement forward so it stays
		// claimable.
		baseDebt, err := wadMul(mulWad(stake.Amount), pool.AccRewardPerShare)
		if err != nil {
			return err
		}
		stake.RewardDebt = saturatingSub(baseDebt, unpaidWad)

		adjusted := saturatingSub(pool.TotalRewardDebt, oldRewardDebt)
		newTotal, overflow := adjusted.AddOverflow(adjusted, stake.RewardDebt)
		if overflow {
			return ErrMathOverflow
		}
		pool.TotalRewardDebt = newTotal
	} else {
		// Full exit: the reward debt now stores the unpaid remainder so the
		// owner can still claim it through the residual path. Residuals are
		// excluded from TotalRewardDebt (the position no longer backs an
		// allocation in totalStaked * accRPS) and tracked separately.
		stake.RewardDebt = unpaidWad
		pool.TotalRewardDebt = saturatingSub(pool.TotalRewardDebt, oldRewardDebt)
		pool.TotalResidualUnpaid += wadToUnits(unpaidWad)
	}

	if rewardPayout > 0 {
		stake.TotalRewardsClaimed += rewardPayout
	}

	if err := e.state.PutStake(stake); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}

	if err := e.assets.Withdraw(pool.PoolID, owner, amount); err != nil {
		return err
	}
	if rewardPayout > 0 {
		if err := e.rewards.Payout(pool.PoolID, owner, rewardPayout); err != nil {
			return err
		}
		e.emit(EventRewardsClaimed, pool.PoolID, map[string]string{
			"owner":  owner.Hex(),
			"amount": amountAttr(rewardPayout),
			"reason": "unstake",
		})
	}
	e.emit(EventUnstaked, pool.PoolID, map[string]string{
		"owner":  owner.Hex(),
		"amount": amountAttr(amount),
	})
	return nil
}
