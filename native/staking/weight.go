package staking

import "github.com/holiman/uint256"

// Weight model: a position's weight grows from near zero toward its full
// principal as it matures, following amount * (1 - e^(-age/tau)). Per-user
// weights are derived from a WAD-scaled maturity factor recorded relative to
// the pool's base time, so the pool can also compute the total weight of all
// positions from a single aggregate.

// calculateWeight returns the WAD-scaled weight of a position of the given
// age: amount * (1 - e^(-age/tau)). Zero for empty or brand-new positions.
func calculateWeight(amount uint64, ageSeconds int64, tauSeconds uint64) (*uint256.Int, error) {
	if amount == 0 || ageSeconds <= 0 {
		return new(uint256.Int), nil
	}
	expNeg, err := expNegTimeRatio(ageSeconds, tauSeconds)
	if err != nil {
		return nil, err
	}
	factor := new(uint256.Int).Sub(wad, expNeg)
	return wadMul(mulWad(amount), factor)
}

// userWeightedStake returns the WAD-scaled weight of a stake whose maturity
// factor e^((start-base)/tau) was recorded against baseTime:
//
//	weight = amount*WAD - e^(-(now-base)/tau) * maturityFactor * amount
//
// which algebraically equals amount * (1 - e^(-age/tau)). A decay product at
// or above WAD (stake effectively newer than now, possible through rounding)
// clamps the weight to zero.
func userWeightedStake(amount uint64, maturityFactor *uint256.Int, currentTime, baseTime int64, tauSeconds uint64) (*uint256.Int, error) {
	if amount == 0 {
		return new(uint256.Int), nil
	}
	age := currentTime - baseTime
	expNeg, err := expNegTimeRatio(age, tauSeconds)
	if err != nil {
		return nil, err
	}
	decay, err := wadMul(expNeg, maturityFactor)
	if err != nil {
		return nil, err
	}
	if !decay.Lt(wad) {
		return new(uint256.Int), nil
	}
	factor := new(uint256.Int).Sub(wad, decay)
	return wadMul(mulWad(amount), factor)
}

// totalWeightedStake returns the WAD-scaled total weight of every position in
// the pool in O(1):
//
//	total = totalStaked*WAD - e^(-(now-base)/tau) * sumStakeExp
//
// Rounding drift that would push the result negative clamps to zero.
func totalWeightedStake(totalStaked, sumStakeExp *uint256.Int, currentTime, baseTime int64, tauSeconds uint64) (*uint256.Int, error) {
	if totalStaked.IsZero() {
		return new(uint256.Int), nil
	}
	age := currentTime - baseTime
	expNeg, err := expNegTimeRatio(age, tauSeconds)
	if err != nil {
		return nil, err
	}
	decayTerm, err := wadMul(sumStakeExp, expNeg)
	if err != nil {
		return nil, err
	}
	totalStakedWad, overflow := new(uint256.Int).MulOverflow(totalStaked, wad)
	if overflow {
		return nil, ErrMathOverflow
	}
	if decayTerm.Gt(totalStakedWad) {
		return new(uint256.Int), nil
	}
	return totalStakedWad.Sub(totalStakedWad, decayTerm), nil
}
