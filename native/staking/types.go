package staking

import (
	"encoding/hex"

	"github.com/holiman/uint256"
)

// Address identifies a pool authority or stake owner.
type Address [20]byte

// Hex returns the lowercase hex encoding of the address.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeroes. A zero authority means
// the pool authority has been renounced.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress decodes a 40-character hex string into an Address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, err
	}
	if len(raw) != len(addr) {
		return Address{}, hex.ErrLength
	}
	copy(addr[:], raw)
	return addr, nil
}

// Pool is the per-pool accounting record. Every field that feeds the O(1)
// total-weight identity (TotalStaked, SumStakeExp, BaseTime) is mutated only
// together with the participant record it concerns, so the invariant
// SumStakeExp == sum(amount_i * maturityFactor_i) holds after every
// operation.
type Pool struct {
	PoolID    string
	Authority Address

	// TauSeconds is the immutable time constant of the weight curve.
	TauSeconds uint64

	// BaseTime is the current time origin; every maturity factor in the pool
	// is expressed relative to it. InitialBaseTime preserves the origin the
	// pool was created with so records written before the first rebase can
	// be re-anchored lazily.
	BaseTime        int64
	InitialBaseTime int64

	// TotalStaked counts raw staked units.
	TotalStaked *uint256.Int

	// SumStakeExp is the WAD-scaled aggregate sum(amount_i * maturityFactor_i).
	SumStakeExp *uint256.Int

	// AccRewardPerShare is the WAD-scaled reward-per-weighted-share
	// accumulator. It only ever increases.
	AccRewardPerShare *uint256.Int

	LastUpdateTime int64

	// LastSyncedBalance is the portion of the externally held reward balance
	// already folded into the accumulator. Balance above it is treated as a
	// fresh deposit by the next sync.
	LastSyncedBalance uint64

	// TotalRewardDebt is the running sum of every active participant's
	// reward debt; it makes stranded-reward recovery an O(1) computation.
	TotalRewardDebt *uint256.Int

	// TotalResidualUnpaid sums reward units owed to participants who fully
	// exited while the pool could not pay them in full.
	TotalResidualUnpaid uint64

	MinStakeAmount         uint64
	LockDurationSeconds    uint64
	UnstakeCooldownSeconds uint64
}

// NewPool initialises an empty pool anchored at baseTime.
func NewPool(poolID string, authority Address, tauSeconds uint64, baseTime int64) *Pool {
	return &Pool{
		PoolID:            poolID,
		Authority:         authority,
		TauSeconds:        tauSeconds,
		BaseTime:          baseTime,
		TotalStaked:       new(uint256.Int),
		SumStakeExp:       new(uint256.Int),
		AccRewardPerShare: new(uint256.Int),
		TotalRewardDebt:   new(uint256.Int),
		LastUpdateTime:    baseTime,
	}
}

// Clone returns a deep copy so callers cannot mutate persisted state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalStaked = cloneWide(p.TotalStaked)
	clone.SumStakeExp = cloneWide(p.SumStakeExp)
	clone.AccRewardPerShare = cloneWide(p.AccRewardPerShare)
	clone.TotalRewardDebt = cloneWide(p.TotalRewardDebt)
	return &clone
}

// NeedsRebase reports whether the aggregate has grown past the safe margin
// and must be re-anchored before any further stake-side mutation.
func (p *Pool) NeedsRebase() bool {
	return p.SumStakeExp != nil && p.SumStakeExp.Gt(rebaseThreshold)
}

// AuthorityRenounced reports whether the pool authority has been transferred
// to the zero address, permanently disabling privileged operations.
func (p *Pool) AuthorityRenounced() bool {
	return p.Authority.IsZero()
}

// UserStake is the per-participant record for one pool.
type UserStake struct {
	Owner  Address
	PoolID string

	// Amount holds raw staked units.
	Amount uint64

	StakeTime     int64
	LastStakeTime int64

	// MaturityFactor is e^((start-base)/tau), WAD-scaled, recorded against
	// BaseTimeSnapshot. Whenever the pool rebases, the factor is stale until
	// syncToPool rescales it.
	MaturityFactor   *uint256.Int
	BaseTimeSnapshot int64

	// RewardDebt is the WAD-scaled settlement snapshot
	// amount*WAD*accRewardPerShare at the last settlement. Once Amount drops
	// to zero it is reinterpreted as the unclaimed WAD-scaled reward still
	// owed to the departed participant.
	RewardDebt *uint256.Int

	UnstakeRequestAmount uint64
	UnstakeRequestTime   int64

	// TotalRewardsClaimed is informational only.
	TotalRewardsClaimed uint64
}

// Clone returns a deep copy so callers cannot mutate persisted state.
func (s *UserStake) Clone() *UserStake {
	if s == nil {
		return nil
	}
	clone := *s
	clone.MaturityFactor = cloneWide(s.MaturityFactor)
	clone.RewardDebt = cloneWide(s.RewardDebt)
	return &clone
}

// HasPendingUnstakeRequest reports whether a cooldown-gated withdrawal is in
// flight.
func (s *UserStake) HasPendingUnstakeRequest() bool {
	return s.UnstakeRequestAmount > 0
}

// effectiveLastStakeTime is the timestamp lock durations are measured from.
// Records created before top-up tracking existed carry a zero LastStakeTime
// and fall back to the original stake time.
func (s *UserStake) effectiveLastStakeTime() int64 {
	if s.LastStakeTime > 0 {
		return s.LastStakeTime
	}
	return s.StakeTime
}

// syncToPool re-anchors the maturity factor after pool rebases. The factor is
// e^((start-base)/tau); when base moves forward by delta the factor shrinks
// by e^(-delta/tau). Records that predate snapshot tracking are treated as
// anchored at the pool's initial base time.
func (s *UserStake) syncToPool(pool *Pool) error {
	snapshot := s.BaseTimeSnapshot
	if snapshot == 0 {
		if pool.InitialBaseTime == 0 {
			s.BaseTimeSnapshot = pool.BaseTime
			return nil
		}
		snapshot = pool.InitialBaseTime
	}
	if snapshot == pool.BaseTime {
		return nil
	}
	delta := pool.BaseTime - snapshot
	decay, err := expNegTimeRatio(delta, pool.TauSeconds)
	if err != nil {
		return err
	}
	rescaled, err := wadMul(s.MaturityFactor, decay)
	if err != nil {
		return err
	}
	s.MaturityFactor = rescaled
	s.BaseTimeSnapshot = pool.BaseTime
	return nil
}

// PoolMetadata carries display information for explorers and dashboards.
type PoolMetadata struct {
	PoolID      string
	Name        string
	Tags        []string
	MemberCount uint64
	UpdatedAt   int64
}

// Clone returns a deep copy of the metadata.
func (m *PoolMetadata) Clone() *PoolMetadata {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Tags = append([]string(nil), m.Tags...)
	return &clone
}

func cloneWide(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
