package staking

import (
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stakewave/storage"
)

var (
	poolPrefix  = "staking/pool/"
	stakePrefix = "staking/stake/"
	metaPrefix  = "staking/meta/"
	poolIndex   = []byte("staking/pools")
)

// Store persists engine records in a key-value database using RLP encoding.
// It also buffers engine events in memory until the host drains them.
type Store struct {
	db storage.Database

	mu     sync.Mutex
	events []*Event
}

// NewStore wraps db for use as the engine's state backend.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// storedPool is the RLP wire form of Pool. Timestamps are clamped to uint64
// and wide integers serialised big-endian via Bytes.
type storedPool struct {
	PoolID                 string
	Authority              Address
	TauSeconds             uint64
	BaseTime               uint64
	InitialBaseTime        uint64
	TotalStaked            []byte
	SumStakeExp            []byte
	AccRewardPerShare      []byte
	LastUpdateTime         uint64
	LastSyncedBalance      uint64
	TotalRewardDebt        []byte
	TotalResidualUnpaid    uint64
	MinStakeAmount         uint64
	LockDurationSeconds    uint64
	UnstakeCooldownSeconds uint64
}

type storedStake struct {
	Owner                Address
	PoolID               string
	Amount               uint64
	StakeTime            uint64
	LastStakeTime        uint64
	MaturityFactor       []byte
	BaseTimeSnapshot     uint64
	RewardDebt           []byte
	UnstakeRequestAmount uint64
	UnstakeRequestTime   uint64
	TotalRewardsClaimed  uint64
}

type storedMetadata struct {
	PoolID      string
	Name        string
	Tags        []string
	MemberCount uint64
	UpdatedAt   uint64
}

func poolKey(poolID string) []byte {
	return []byte(poolPrefix + poolID)
}

func stakeKey(poolID string, owner Address) []byte {
	return []byte(stakePrefix + poolID + "/" + owner.Hex())
}

func metaKey(poolID string) []byte {
	return []byte(metaPrefix + poolID)
}

func (s *Store) getRecord(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) putRecord(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// GetPool loads a pool record; absent pools return (nil, nil).
func (s *Store) GetPool(poolID string) (*Pool, error) {
	var stored storedPool
	ok, err := s.getRecord(poolKey(poolID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return poolFromStored(&stored), nil
}

// PutPool writes a pool record and keeps the pool index current.
func (s *Store) PutPool(pool *Pool) error {
	if pool == nil {
		return ErrPoolNotFound
	}
	key := poolKey(pool.PoolID)
	known, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if err := s.putRecord(key, poolToStored(pool)); err != nil {
		return err
	}
	if !known {
		return s.indexPool(pool.PoolID)
	}
	return nil
}

// GetStake loads a participant record; absent records return (nil, nil).
func (s *Store) GetStake(poolID string, owner Address) (*UserStake, error) {
	var stored storedStake
	ok, err := s.getRecord(stakeKey(poolID, owner), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stakeFromStored(&stored), nil
}

func (s *Store) PutStake(stake *UserStake) error {
	if stake == nil {
		return ErrStakeNotFound
	}
	return s.putRecord(stakeKey(stake.PoolID, stake.Owner), stakeToStored(stake))
}

func (s *Store) DeleteStake(poolID string, owner Address) error {
	return s.db.Delete(stakeKey(poolID, owner))
}

func (s *Store) GetMetadata(poolID string) (*PoolMetadata, error) {
	var stored storedMetadata
	ok, err := s.getRecord(metaKey(poolID), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &PoolMetadata{
		PoolID:      stored.PoolID,
		Name:        stored.Name,
		Tags:        append([]string(nil), stored.Tags...),
		MemberCount: stored.MemberCount,
		UpdatedAt:   int64(stored.UpdatedAt),
	}, nil
}

func (s *Store) PutMetadata(meta *PoolMetadata) error {
	if meta == nil {
		return ErrPoolNotFound
	}
	return s.putRecord(metaKey(meta.PoolID), &storedMetadata{
		PoolID:      meta.PoolID,
		Name:        meta.Name,
		Tags:        meta.Tags,
		MemberCount: meta.MemberCount,
		UpdatedAt:   clampTime(meta.UpdatedAt),
	})
}

// ListPools returns the IDs of every pool ever created, sorted.
func (s *Store) ListPools() ([]string, error) {
	var ids []string
	ok, err := s.getRecord(poolIndex, &ids)
	if err != nil || !ok {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) indexPool(poolID string) error {
	ids, err := s.ListPools()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == poolID {
			return nil
		}
	}
	return s.putRecord(poolIndex, append(ids, poolID))
}

// AppendEvent buffers an engine event for the host to drain.
func (s *Store) AppendEvent(evt *Event) {
	if evt == nil {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

// DrainEvents returns the buffered events and clears the buffer.
func (s *Store) DrainEvents() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.events
	s.events = nil
	return drained
}

func poolToStored(pool *Pool) *storedPool {
	return &storedPool{
		PoolID:                 pool.PoolID,
		Authority:              pool.Authority,
		TauSeconds:             pool.TauSeconds,
		BaseTime:               clampTime(pool.BaseTime),
		InitialBaseTime:        clampTime(pool.InitialBaseTime),
		TotalStaked:            pool.TotalStaked.Bytes(),
		SumStakeExp:            pool.SumStakeExp.Bytes(),
		AccRewardPerShare:      pool.AccRewardPerShare.Bytes(),
		LastUpdateTime:         clampTime(pool.LastUpdateTime),
		LastSyncedBalance:      pool.LastSyncedBalance,
		TotalRewardDebt:        pool.TotalRewardDebt.Bytes(),
		TotalResidualUnpaid:    pool.TotalResidualUnpaid,
		MinStakeAmount:         pool.MinStakeAmount,
		LockDurationSeconds:    pool.LockDurationSeconds,
		UnstakeCooldownSeconds: pool.UnstakeCooldownSeconds,
	}
}

func poolFromStored(stored *storedPool) *Pool {
	return &Pool{
		PoolID:                 stored.PoolID,
		Authority:              stored.Authority,
		TauSeconds:             stored.TauSeconds,
		BaseTime:               int64(stored.BaseTime),
		InitialBaseTime:        int64(stored.InitialBaseTime),
		TotalStaked:            new(uint256.Int).SetBytes(stored.TotalStaked),
		SumStakeExp:            new(uint256.Int).SetBytes(stored.SumStakeExp),
		AccRewardPerShare:      new(uint256.Int).SetBytes(stored.AccRewardPerShare),
		LastUpdateTime:         int64(stored.LastUpdateTime),
		LastSyncedBalance:      stored.LastSyncedBalance,
		TotalRewardDebt:        new(uint256.Int).SetBytes(stored.TotalRewardDebt),
		TotalResidualUnpaid:    stored.TotalResidualUnpaid,
		MinStakeAmount:         stored.MinStakeAmount,
		LockDurationSeconds:    stored.LockDurationSeconds,
		UnstakeCooldownSeconds: stored.UnstakeCooldownSeconds,
	}
}

func stakeToStored(stake *UserStake) *storedStake {
	return &storedStake{
		Owner:                stake.Owner,
		PoolID:               stake.PoolID,
		Amount:               stake.Amount,
		StakeTime:            clampTime(stake.StakeTime),
		LastStakeTime:        clampTime(stake.LastStakeTime),
		MaturityFactor:       stake.MaturityFactor.Bytes(),
		BaseTimeSnapshot:     clampTime(stake.BaseTimeSnapshot),
		RewardDebt:           stake.RewardDebt.Bytes(),
		UnstakeRequestAmount: stake.UnstakeRequestAmount,
		UnstakeRequestTime:   clampTime(stake.UnstakeRequestTime),
		TotalRewardsClaimed:  stake.TotalRewardsClaimed,
	}
}

func stakeFromStored(stored *storedStake) *UserStake {
	return &UserStake{
		Owner:                stored.Owner,
		PoolID:               stored.PoolID,
		Amount:               stored.Amount,
		StakeTime:            int64(stored.StakeTime),
		LastStakeTime:        int64(stored.LastStakeTime),
		MaturityFactor:       new(uint256.Int).SetBytes(stored.MaturityFactor),
		BaseTimeSnapshot:     int64(stored.BaseTimeSnapshot),
		RewardDebt:           new(uint256.Int).SetBytes(stored.RewardDebt),
		UnstakeRequestAmount: stored.UnstakeRequestAmount,
		UnstakeRequestTime:   int64(stored.UnstakeRequestTime),
		TotalRewardsClaimed:  stored.TotalRewardsClaimed,
	}
}

func clampTime(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
