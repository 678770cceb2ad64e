package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics exposes the pool engine's operational counters.
type StakingMetrics struct {
	operations         *prometheus.CounterVec
	operationFailures  *prometheus.CounterVec
	rewardsDistributed *prometheus.CounterVec
	rewardsDeferred    *prometheus.CounterVec
	rewardsRecovered   *prometheus.CounterVec
	rebases            *prometheus.CounterVec
	totalStaked        *prometheus.GaugeVec
	syncedBalance      *prometheus.GaugeVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the process-wide staking metrics, registering the collectors
// on first use.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operations_total",
				Help: "Count of engine operations by type.",
			}, []string{"op"}),
			operationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_operation_failures_total",
				Help: "Count of engine operations rejected with an error, by type.",
			}, []string{"op"}),
			rewardsDistributed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rewards_distributed_total",
				Help: "Reward units folded into the per-share accumulator per pool.",
			}, []string{"pool"}),
			rewardsDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rewards_deferred_total",
				Help: "Reward deposits deferred because pool weight was below the distribution floor.",
			}, []string{"pool"}),
			rewardsRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rewards_recovered_total",
				Help: "Stranded reward units returned to distribution per pool.",
			}, []string{"pool"}),
			rebases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "staking_rebases_total",
				Help: "Pool base-time rebases performed per pool.",
			}, []string{"pool"}),
			totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_pool_total_staked",
				Help: "Raw staked units currently held per pool.",
			}, []string{"pool"}),
			syncedBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "staking_pool_synced_balance",
				Help: "Reward balance already folded into the accumulator per pool.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.operationFailures,
			stakingRegistry.rewardsDistributed,
			stakingRegistry.rewardsDeferred,
			stakingRegistry.rewardsRecovered,
			stakingRegistry.rebases,
			stakingRegistry.totalStaked,
			stakingRegistry.syncedBalance,
		)
	})
	return stakingRegistry
}

// ObserveOperation records one engine call and whether it failed.
func (m *StakingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
	if err != nil {
		m.operationFailures.WithLabelValues(op).Inc()
	}
}

// AddRewardsDistributed records units folded into a pool's accumulator.
func (m *StakingMetrics) AddRewardsDistributed(pool string, units uint64) {
	if m == nil {
		return
	}
	m.rewardsDistributed.WithLabelValues(pool).Add(float64(units))
}

// AddRewardsDeferred records a deposit left undistributed for lack of weight.
func (m *StakingMetrics) AddRewardsDeferred(pool string, units uint64) {
	if m == nil {
		return
	}
	m.rewardsDeferred.WithLabelValues(pool).Add(float64(units))
}

// AddRewardsRecovered records stranded units returned to distribution.
func (m *StakingMetrics) AddRewardsRecovered(pool string, units uint64) {
	if m == nil {
		return
	}
	m.rewardsRecovered.WithLabelValues(pool).Add(float64(units))
}

// IncRebase records one base-time rebase.
func (m *StakingMetrics) IncRebase(pool string) {
	if m == nil {
		return
	}
	m.rebases.WithLabelValues(pool).Inc()
}

// SetPoolGauges refreshes the per-pool gauges after an operation.
func (m *StakingMetrics) SetPoolGauges(pool string, totalStaked, syncedBalance uint64) {
	if m == nil {
		return
	}
	m.totalStaked.WithLabelValues(pool).Set(float64(totalStaked))
	m.syncedBalance.WithLabelValues(pool).Set(float64(syncedBalance))
}
