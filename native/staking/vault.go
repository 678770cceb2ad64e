package staking

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"

	"stakewave/storage"
)

var (
	assetVaultPrefix  = "staking/vault/asset/"
	rewardVaultPrefix = "staking/vault/reward/"

	// ErrVaultInsufficient signals a withdrawal larger than the tracked
	// balance. The engine caps payouts at the reported balance, so hitting
	// this means the ledger was mutated outside the engine.
	ErrVaultInsufficient = errors.New("staking: vault balance insufficient")
)

// LedgerVaults tracks per-pool asset and reward balances in the key-value
// store. It stands in for an external token bridge: deposits and payouts move
// numbers in the ledger rather than real custody, which keeps the engine's
// persist-then-transfer ordering exercisable end to end.
type LedgerVaults struct {
	db storage.Database
}

// NewLedgerVaults wraps db as the engine's transfer backend.
func NewLedgerVaults(db storage.Database) *LedgerVaults {
	return &LedgerVaults{db: db}
}

// Assets returns the staked-asset side of the ledger.
func (v *LedgerVaults) Assets() AssetVault { return assetLedger{v} }

// Rewards returns the reward-currency side of the ledger.
func (v *LedgerVaults) Rewards() RewardVault { return rewardLedger{v} }

// CreditRewards adds amount to a pool's reward balance without going through
// the engine. This models reward currency arriving directly in the vault, the
// case SyncRewards exists to reconcile.
func (v *LedgerVaults) CreditRewards(poolID string, amount uint64) error {
	return v.credit(rewardVaultKey(poolID), amount)
}

// AssetBalance reports the staked-asset balance held for a pool.
func (v *LedgerVaults) AssetBalance(poolID string) (uint64, error) {
	return v.balance(assetVaultKey(poolID))
}

// RewardBalance reports the reward-currency balance held for a pool.
func (v *LedgerVaults) RewardBalance(poolID string) (uint64, error) {
	return v.balance(rewardVaultKey(poolID))
}

func assetVaultKey(poolID string) []byte {
	return []byte(assetVaultPrefix + poolID)
}

func rewardVaultKey(poolID string) []byte {
	return []byte(rewardVaultPrefix + poolID)
}

func (v *LedgerVaults) balance(key []byte) (uint64, error) {
	raw, err := v.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var balance uint64
	if err := rlp.DecodeBytes(raw, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (v *LedgerVaults) credit(key []byte, amount uint64) error {
	balance, err := v.balance(key)
	if err != nil {
		return err
	}
	next := balance + amount
	if next < balance {
		return ErrMathOverflow
	}
	return v.writeBalance(key, next)
}

func (v *LedgerVaults) debit(key []byte, amount uint64) error {
	balance, err := v.balance(key)
	if err != nil {
		return err
	}
	if amount > balance {
		return ErrVaultInsufficient
	}
	return v.writeBalance(key, balance-amount)
}

func (v *LedgerVaults) writeBalance(key []byte, balance uint64) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return v.db.Put(key, encoded)
}

type assetLedger struct{ v *LedgerVaults }

func (l assetLedger) Deposit(poolID string, _ Address, amount uint64) error {
	return l.v.credit(assetVaultKey(poolID), amount)
}

func (l assetLedger) Withdraw(poolID string, _ Address, amount uint64) error {
	return l.v.debit(assetVaultKey(poolID), amount)
}

type rewardLedger struct{ v *LedgerVaults }

func (l rewardLedger) Balance(poolID string) (uint64, error) {
	return l.v.balance(rewardVaultKey(poolID))
}

func (l rewardLedger) Deposit(poolID string, _ Address, amount uint64) error {
	return l.v.credit(rewardVaultKey(poolID), amount)
}

func (l rewardLedger) Payout(poolID string, _ Address, amount uint64) error {
	return l.v.debit(rewardVaultKey(poolID), amount)
}
