package staking

import (
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// engineState is the persistence surface the engine needs from its host. A
// lookup for an absent record returns (nil, nil); the engine decides whether
// absence is an error. Reads and writes within one operation are assumed to
// happen inside the same logical transaction.
type engineState interface {
	GetPool(poolID string) (*Pool, error)
	PutPool(pool *Pool) error
	GetStake(poolID string, owner Address) (*UserStake, error)
	PutStake(stake *UserStake) error
	DeleteStake(poolID string, owner Address) error
	GetMetadata(poolID string) (*PoolMetadata, error)
	PutMetadata(meta *PoolMetadata) error
	AppendEvent(evt *Event)
}

// AssetVault moves the staked asset between participants and the pool vault.
// Transfers are assumed atomic and may execute after the engine has already
// persisted the operation's final state.
type AssetVault interface {
	Deposit(poolID string, from Address, amount uint64) error
	Withdraw(poolID string, to Address, amount uint64) error
}

// RewardVault holds the reward currency for a pool. Balance is the externally
// tracked total the engine reconciles LastSyncedBalance against.
type RewardVault interface {
	Balance(poolID string) (uint64, error)
	Deposit(poolID string, from Address, amount uint64) error
	Payout(poolID string, to Address, amount uint64) error
}

// Engine implements the staking state machine. It is single-threaded per
// pool by construction: every operation reads the pool and participant
// records, mutates both in memory and writes them back before returning.
// Serialising concurrent calls against the same pool is the caller's job.
type Engine struct {
	state   engineState
	assets  AssetVault
	rewards RewardVault
	now     func() int64
}

// NewEngine constructs an engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: func() int64 { return time.Now().Unix() }}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetVaults wires the asset and reward transfer collaborators.
func (e *Engine) SetVaults(assets AssetVault, rewards RewardVault) {
	e.assets = assets
	e.rewards = rewards
}

// SetClock overrides the time source. The clock must be monotonically
// non-decreasing; the engine clamps negative elapsed times to zero rather
// than treating them as valid decay.
func (e *Engine) SetClock(now func() int64) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) ready() error {
	if e.state == nil {
		return ErrNilState
	}
	if e.assets == nil || e.rewards == nil {
		return ErrNilVault
	}
	return nil
}

func (e *Engine) loadPool(poolID string) (*Pool, error) {
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (e *Engine) loadStake(poolID string, owner Address) (*UserStake, error) {
	stake, err := e.state.GetStake(poolID, owner)
	if err != nil {
		return nil, err
	}
	if stake == nil {
		return nil, ErrStakeNotFound
	}
	return stake, nil
}

// availableRewards reports how much reward currency the vault can pay out
// right now.
func (e *Engine) availableRewards(poolID string) (uint64, error) {
	return e.rewards.Balance(poolID)
}

// InitializePool creates the pool record. The aggregate starts empty and the
// time origin is anchored at the current clock.
func (e *Engine) InitializePool(poolID string, authority Address, tauSeconds uint64) (*Pool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	poolID = strings.TrimSpace(poolID)
	if poolID == "" {
		return nil, ErrPoolNotFound
	}
	if tauSeconds == 0 {
		return nil, ErrInvalidTau
	}
	existing, err := e.state.GetPool(poolID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPoolExists
	}
	pool := NewPool(poolID, authority, tauSeconds, e.now())
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emit(EventPoolInitialized, poolID, map[string]string{
		"tauSeconds": strconv.FormatUint(tauSeconds, 10),
		"authority":  authority.Hex(),
	})
	return pool.Clone(), nil
}

// UpdatePoolSettings applies policy changes, authority only. Caps guard
// against an authority trapping stakers.
func (e *Engine) UpdatePoolSettings(poolID string, authority Address, update SettingsUpdate) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if err := e.requireAuthority(pool, authority); err != nil {
		return err
	}
	if err := update.validate(); err != nil {
		return err
	}
	attrs := map[string]string{}
	if update.MinStakeAmount != nil {
		pool.MinStakeAmount = *update.MinStakeAmount
		attrs["minStakeAmount"] = amountAttr(*update.MinStakeAmount)
	}
	if update.LockDurationSeconds != nil {
		pool.LockDurationSeconds = *update.LockDurationSeconds
		attrs["lockDurationSeconds"] = amountAttr(*update.LockDurationSeconds)
	}
	if update.UnstakeCooldownSeconds != nil {
		pool.UnstakeCooldownSeconds = *update.UnstakeCooldownSeconds
		attrs["unstakeCooldownSeconds"] = amountAttr(*update.UnstakeCooldownSeconds)
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(EventPoolSettings, poolID, attrs)
	return nil
}

// TransferAuthority hands the pool authority to newAuthority. Transferring to
// the zero address renounces it irreversibly.
func (e *Engine) TransferAuthority(poolID string, authority, newAuthority Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}
	if err := e.requireAuthority(pool, authority); err != nil {
		return err
	}
	pool.Authority = newAuthority
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(EventPoolAuthority, poolID, map[string]string{
		"newAuthority": newAuthority.Hex(),
	})
	return nil
}

// SetPoolMetadata creates or updates the display metadata for a pool. The
// member count is maintained by the stake lifecycle, not by callers.
func (e *Engine) SetPoolMetadata(poolID, name string, tags []string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.loadPool(poolID); err != nil {
		return err
	}
	meta, err := e.state.GetMetadata(poolID)
	if err != nil {
		return err
	}
	if meta == nil {
		meta = &PoolMetadata{PoolID: poolID}
	}
	meta.Name = strings.TrimSpace(name)
	meta.Tags = append([]string(nil), tags...)
	meta.UpdatedAt = e.now()
	if err := e.state.PutMetadata(meta); err != nil {
		return err
	}
	e.emit(EventPoolMetadata, poolID, map[string]string{"name": meta.Name})
	return nil
}

func (e *Engine) requireAuthority(pool *Pool, authority Address) error {
	if pool.AuthorityRenounced() {
		return ErrAuthorityRenounced
	}
	if pool.Authority != authority {
		return ErrInvalidAuthority
	}
	return nil
}

func (e *Engine) adjustMemberCount(poolID string, delta int64) error {
	meta, err := e.state.GetMetadata(poolID)
	if err != nil || meta == nil {
		return err
	}
	if delta > 0 {
		meta.MemberCount += uint64(delta)
	} else if decrement := uint64(-delta); meta.MemberCount >= decrement {
		meta.MemberCount -= decrement
	} else {
		meta.MemberCount = 0
	}
	return e.state.PutMetadata(meta)
}

// PoolInfo is the read-model view of a pool.
type PoolInfo struct {
	Pool               *Pool
	TotalWeightedStake *uint256.Int
	NeedsRebase        bool
	ComputedAt         int64
}

// PoolInfo returns a snapshot of the pool with its current total weight.
func (e *Engine) PoolInfo(poolID string) (*PoolInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	totalWeight, err := totalWeightedStake(pool.TotalStaked, pool.SumStakeExp, now, pool.BaseTime, pool.TauSeconds)
	if err != nil {
		return nil, err
	}
	return &PoolInfo{
		Pool:               pool,
		TotalWeightedStake: totalWeight,
		NeedsRebase:        pool.NeedsRebase(),
		ComputedAt:         now,
	}, nil
}

// StakeInfo is the read-model view of a participant position.
type StakeInfo struct {
	Stake          *UserStake
	WeightedStake  *uint256.Int
	PendingRewards uint64
	ComputedAt     int64
}

// StakeInfo returns a snapshot of a position including its currently
// claimable reward units.
func (e *Engine) StakeInfo(poolID string, owner Address) (*StakeInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return nil, err
	}
	stake, err := e.loadStake(poolID, owner)
	if err != nil {
		return nil, err
	}
	now := e.now()
	info := &StakeInfo{Stake: stake, WeightedStake: new(uint256.Int), ComputedAt: now}
	if stake.Amount == 0 {
		info.PendingRewards = residualUnits(stake.RewardDebt)
		return info, nil
	}
	if err := stake.syncToPool(pool); err != nil {
		return nil, err
	}
	weighted, err := userWeightedStake(stake.Amount, stake.MaturityFactor, now, pool.BaseTime, pool.TauSeconds)
	if err != nil {
		return nil, err
	}
	info.WeightedStake = weighted
	pending, err := pendingRewardWad(pool, stake, weighted)
	if err != nil {
		return nil, err
	}
	info.PendingRewards = wadToUnits(pending)
	return info, nil
}

// pendingRewardWad applies the snapshot-delta formula: the reward debt
// encodes amount*WAD*snapshotRPS, so pending = weight * (accRPS - snapshot).
func pendingRewardWad(pool *Pool, stake *UserStake, weighted *uint256.Int) (*uint256.Int, error) {
	if weighted.IsZero() || pool.AccRewardPerShare.IsZero() {
		return new(uint256.Int), nil
	}
	amountWad := mulWad(stake.Amount)
	snapshot, err := wadDiv(stake.RewardDebt, amountWad)
	if err != nil {
		return nil, err
	}
	if !snapshot.Lt(pool.AccRewardPerShare) {
		return new(uint256.Int), nil
	}
	deltaRPS := new(uint256.Int).Sub(pool.AccRewardPerShare, snapshot)
	return wadMul(weighted, deltaRPS)
}

// wadToUnits floors a WAD-scaled reward to whole currency units.
func wadToUnits(v *uint256.Int) uint64 {
	units := new(uint256.Int).Div(v, wad)
	if !units.IsUint64() {
		return ^uint64(0)
	}
	return units.Uint64()
}

// residualUnits reads the whole-unit residual encoded in a departed
// participant's reward debt.
func residualUnits(rewardDebt *uint256.Int) uint64 {
	if rewardDebt == nil {
		return 0
	}
	return wadToUnits(rewardDebt)
}

func saturatingSub(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

func saturatingSubU64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
