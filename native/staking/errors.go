package staking

import "errors"

var (
	ErrNilState              = errors.New("staking: state not configured")
	ErrNilVault              = errors.New("staking: vaults not configured")
	ErrMathOverflow          = errors.New("staking: math overflow")
	ErrMathUnderflow         = errors.New("staking: math underflow")
	ErrInvalidTau            = errors.New("staking: tau must be positive")
	ErrZeroAmount            = errors.New("staking: amount must be positive")
	ErrPoolExists            = errors.New("staking: pool already initialised")
	ErrPoolNotFound          = errors.New("staking: pool not initialised")
	ErrStakeNotFound         = errors.New("staking: stake record not initialised")
	ErrPoolRequiresRebase    = errors.New("staking: pool aggregate requires rebase")
	ErrBelowMinimumStake     = errors.New("staking: stake below pool minimum")
	ErrInsufficientStake     = errors.New("staking: insufficient staked balance")
	ErrStakeLocked           = errors.New("staking: lock duration not elapsed")
	ErrCooldownRequired      = errors.New("staking: pool requires cooldown unstake")
	ErrCooldownNotConfigured = errors.New("staking: pool has no unstake cooldown")
	ErrCooldownNotElapsed    = errors.New("staking: unstake cooldown not elapsed")
	ErrPendingUnstake        = errors.New("staking: unstake request already pending")
	ErrNoPendingUnstake      = errors.New("staking: no pending unstake request")
	ErrAccountNotEmpty       = errors.New("staking: stake account not empty")
	ErrInvalidAuthority      = errors.New("staking: invalid pool authority")
	ErrAuthorityRenounced    = errors.New("staking: pool authority renounced")
	ErrSettingExceedsCap     = errors.New("staking: setting exceeds maximum")
	ErrDebtExceedsBound      = errors.New("staking: reward debt exceeds theoretical maximum")
)
