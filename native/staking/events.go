package staking

import "strconv"

// Event types appended by the engine. Attribute maps use decimal strings for
// amounts so downstream consumers never lose precision to float encoding.
const (
	EventPoolInitialized   = "staking.pool.initialized"
	EventPoolRebased       = "staking.pool.rebased"
	EventPoolSettings      = "staking.pool.settings_updated"
	EventPoolAuthority     = "staking.pool.authority_transferred"
	EventPoolMetadata      = "staking.pool.metadata_updated"
	EventStaked            = "staking.staked"
	EventUnstaked          = "staking.unstaked"
	EventUnstakeRequested  = "staking.unstake.requested"
	EventUnstakeCancelled  = "staking.unstake.cancelled"
	EventRewardsClaimed    = "staking.rewards.claimed"
	EventRewardsDeposited  = "staking.rewards.deposited"
	EventRewardsSynced     = "staking.rewards.synced"
	EventRewardsRecovered  = "staking.rewards.recovered"
	EventStakeAccountClose = "staking.stake.closed"
)

// Event is an engine-emitted notification collected through the state
// interface; the engine itself never logs.
type Event struct {
	Type       string
	Attributes map[string]string
}

func (e *Engine) emit(eventType, poolID string, attrs map[string]string) {
	if e.state == nil {
		return
	}
	if attrs == nil {
		attrs = make(map[string]string)
	}
	attrs["pool"] = poolID
	e.state.AppendEvent(&Event{Type: eventType, Attributes: attrs})
}

func amountAttr(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}
