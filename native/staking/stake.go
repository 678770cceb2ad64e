package staking

import "github.com/holiman/uint256"

// Stake deposits amount into the pool for owner, pulling the asset from the
// owner's own balance.
func (e *Engine) Stake(poolID string, owner Address, amount uint64) error {
	return e.stakeFor(poolID, owner, owner, amount)
}

// StakeOnBehalf deposits amount credited to owner while the asset is pulled
// from payer. The accounting is identical to Stake.
func (e *Engine) StakeOnBehalf(poolID string, payer, owner Address, amount uint64) error {
	return e.stakeFor(poolID, payer, owner, amount)
}

func (e *Engine) stakeFor(poolID string, payer, owner Address, amount uint64) error {
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

	now := e.now()
	timeSinceBase := now - pool.BaseTime
	if timeSinceBase < 0 {
		timeSinceBase = 0
	}

	// The maturity factor for a stake placed this far from base_time is
	// e^(timeSinceBase/tau). If that ratio is already past the exp ceiling
	// the pool must rebase before accepting new positions.
	ratio, err := timeRatioWad(timeSinceBase, pool.TauSeconds)
	if err != nil {
		return err
	}
	if ratio.Gt(maxExpInput) {
		return ErrPoolRequiresRebase
	}
	maturity, err := expTimeRatio(timeSinceBase, pool.TauSeconds)
	if err != nil {
		return err
	}

	stake, err := e.state.GetStake(poolID, owner)
	if err != nil {
		return err
	}

	var autoClaim uint64
	isNew := stake == nil
	if isNew {
		if pool.MinStakeAmount > 0 && amount < pool.MinStakeAmount {
			return ErrBelowMinimumStake
		}
		stake, err = e.openStake(pool, owner, amount, maturity, now)
		if err != nil {
			return err
		}
	} else {
		autoClaim, err = e.topUpStake(pool, stake, amount, maturity, now)
		if err != nil {
			return err
		}
	}

	newTotal, overflow := new(uint256.Int).AddOverflow(pool.TotalStaked, uint256.NewInt(amount))
	if overflow {
		return ErrMathOverflow
	}
	pool.TotalStaked = newTotal
	pool.LastUpdateTime = now

	if err := e.state.PutStake(stake); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if isNew {
		if err := e.adjustMemberCount(poolID, 1); err != nil {
			return err
		}
	}

	// Final state is persisted; transfers run last in whatever order the
	// host requires.
	if err := e.assets.Deposit(poolID, payer, amount); err != nil {
		return err
	}
	if autoClaim > 0 {
		if err := e.rewards.Payout(poolID, owner, autoClaim); err != nil {
			return err
		}
		e.emit(EventRewardsClaimed, poolID, map[string]string{
			"owner":  owner.Hex(),
			"amount": amountAttr(autoClaim),
			"reason": "stake",
		})
	}
	e.emit(EventStaked, poolID, map[string]string{
		"owner":  owner.Hex(),
		"amount": amountAttr(amount),
	})
	return nil
}

// openStake creates the first position for owner. The reward debt starts at
// the maximum possible entitlement (amount*WAD*accRPS) so a newcomer cannot
// retroactively claim rewards distributed before they joined.
func (e *Engine) openStake(pool *Pool, owner Address, amount uint64, maturity *uint256.Int, now int64) (*UserStake, error) {
	rewardDebt, err := wadMul(mulWad(amount), pool.AccRewardPerShare)
	if err != nil {
		return nil, err
	}
	stake := &UserStake{
		Owner:            owner,
		PoolID:           pool.PoolID,
		Amount:           amount,
		StakeTime:        now,
		LastStakeTime:    now,
		MaturityFactor:   maturity,
		BaseTimeSnapshot: pool.BaseTime,
		RewardDebt:       rewardDebt,
	}

	newDebt, overflow := new(uint256.Int).AddOverflow(pool.TotalRewardDebt, rewardDebt)
	if overflow {
		return nil, ErrMathOverflow
	}
	pool.TotalRewardDebt = newDebt

	contribution, err := wadMul(mulWad(amount), maturity)
	if err != nil {
		return nil, err
	}
	newSum, overflow := new(uint256.Int).AddOverflow(pool.SumStakeExp, contribution)
	if overflow {
		return nil, ErrMathOverflow
	}
	pool.SumStakeExp = newSum
	return stake, nil
}

// topUpStake adds amount to an existing position. Pending rewards are settled
// first (paying what the vault affords, carrying any shortfall forward), the
// stranded fraction that was reserved at maximum weight but never earned at
// actual weight is returned to the distributable balance, and the maturity
// factor becomes the stake-weighted average of the old and new deposits.
// Returns the reward units to pay out once state is persisted.
func (e *Engine) topUpStake(pool *Pool, stake *UserStake, amount uint64, maturity *uint256.Int, now int64) (uint64, error) {
	if stake.HasPendingUnstakeRequest() {
		return 0, ErrPendingUnstake
	}
	newTotal := stake.Amount + amount
	if newTotal < stake.Amount {
		return 0, ErrMathOverflow
	}
	if pool.MinStakeAmount > 0 && newTotal < pool.MinStakeAmount {
		return 0, ErrBelowMinimumStake
	}
	if err := stake.syncToPool(pool); err != nil {
		return 0, err
	}

	oldRewardDebt := stake.RewardDebt

	weighted, err := userWeightedStake(stake.Amount, stake.MaturityFactor, now, pool.BaseTime, pool.TauSeconds)
	if err != nil {
		return 0, err
	}
	pending, err := pendingRewardWad(pool, stake, weighted)
	if err != nil {
		return 0, err
	}

	var payout uint64
	unpaidWad := new(uint256.Int)
	if !pending.IsZero() {
		available, err := e.availableRewards(pool.PoolID)
		if err != nil {
			return 0, err
		}
		pendingUnits := wadToUnits(pending)
		payout = pendingUnits
		if available < payout {
			payout = available
		}
		pool.LastSyncedBalance = saturatingSubU64(pool.LastSyncedBalance, payout)
		paidWad := mulWad(payout)
		unpaidWad = saturatingSub(pending, paidWad)
	}

	// The accumulator reserved rewards for this position at maximum weight;
	// only the matured fraction was actually owed. Return the difference to
	// the distributable balance so the next sync redistributes it.
	if !pool.AccRewardPerShare.IsZero() {
		maxAccumulated, err := wadMul(mulWad(stake.Amount), pool.AccRewardPerShare)
		if err != nil {
			return 0, err
		}
		maxPending := saturatingSub(maxAccumulated, oldRewardDebt)
		stranded := saturatingSub(maxPending, pending)
		if strandedUnits := wadToUnits(stranded); strandedUnits > 0 {
			pool.LastSyncedBalance = saturatingSubU64(pool.LastSyncedBalance, strandedUnits)
		}
	}

	oldContribution, err := wadMul(mulWad(stake.Amount), stake.MaturityFactor)
	if err != nil {
		return 0, err
	}
	newContribution, err := wadMul(mulWad(amount), maturity)
	if err != nil {
		return 0, err
	}
	newSum, overflow := new(uint256.Int).AddOverflow(pool.SumStakeExp, newContribution)
	if overflow {
		return 0, ErrMathOverflow
	}
	pool.SumStakeExp = newSum

	// totalContribution is WAD-scaled (sum of amount_i * factor_i), so the
	// raw-unit division yields the WAD-scaled averaged factor directly.
	totalContribution, overflow := new(uint256.Int).AddOverflow(oldContribution, newContribution)
	if overflow {
		return 0, ErrMathOverflow
	}
	averagedFactor := new(uint256.Int).Div(totalContribution, uint256.NewInt(newTotal))

	stake.Amount = newTotal
	stake.MaturityFactor = averagedFactor
	stake.LastStakeTime = now

	// Reset the debt to the new maximum entitlement, minus the unpaid
	// settlement so it stays claimable.
	baseDebt, err := wadMul(mulWad(newTotal), pool.AccRewardPerShare)
	if err != nil {
		return 0, err
	}
	stake.RewardDebt = saturatingSub(baseDebt, unpaidWad)

	adjusted := saturatingSub(pool.TotalRewardDebt, oldRewardDebt)
	newDebtTotal, overflow := adjusted.AddOverflow(adjusted, stake.RewardDebt)
	if overflow {
		return 0, ErrMathOverflow
	}
	pool.TotalRewardDebt = newDebtTotal

	if payout > 0 {
		stake.TotalRewardsClaimed += payout
	}
	return payout, nil
}
