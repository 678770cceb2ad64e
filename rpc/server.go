package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakewave/native/staking"
	"stakewave/observability/metrics"
)

const requestIDHeader = "X-Request-ID"

// Server exposes the staking engine over HTTP. Engine operations are
// serialised behind a single mutex; the engine itself assumes callers do not
// run concurrent mutations against the same pool.
type Server struct {
	engine  *staking.Engine
	store   *staking.Store
	logger  *slog.Logger
	metrics *metrics.StakingMetrics
	limiter *RateLimiter

	mu sync.Mutex
}

// Config carries the server's collaborators.
type Config struct {
	Engine             *staking.Engine
	Store              *staking.Store
	Logger             *slog.Logger
	RateLimitPerMinute int
}

// NewServer wires the HTTP surface to an engine.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  cfg.Engine,
		store:   cfg.Store,
		logger:  logger,
		metrics: metrics.Staking(),
		limiter: NewRateLimiter(cfg.RateLimitPerMinute),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/pools", func(pools chi.Router) {
		pools.Get("/", s.handleListPools)
		pools.Post("/", s.handleCreatePool)
		pools.Route("/{poolID}", func(pool chi.Router) {
			pool.Get("/", s.handleGetPool)
			pool.Put("/settings", s.handleUpdateSettings)
			pool.Post("/authority", s.handleTransferAuthority)
			pool.Put("/metadata", s.handleSetMetadata)
			pool.Post("/rebase", s.handleRebase)
			pool.Post("/stake", s.handleStake)
			pool.Post("/unstake", s.handleUnstake)
			pool.Post("/unstake/request", s.handleRequestUnstake)
			pool.Post("/unstake/complete", s.handleCompleteUnstake)
			pool.Post("/unstake/cancel", s.handleCancelUnstake)
			pool.Post("/claim", s.handleClaim)
			pool.Post("/close", s.handleClose)
			pool.Post("/rewards/deposit", s.handleDepositRewards)
			pool.Post("/rewards/sync", s.handleSyncRewards)
			pool.Post("/rewards/recover", s.handleRecover)
			pool.Post("/rewards/fix-debt", s.handleFixDebt)
			pool.Get("/stakes/{owner}", s.handleGetStake)
		})
	})
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// run serialises an engine mutation, records metrics and flushes events to
// the log.
func (s *Server) run(op, poolID string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn()
	s.metrics.ObserveOperation(op, err)
	if s.store != nil {
		for _, evt := range s.store.DrainEvents() {
			attrs := make([]any, 0, 2*len(evt.Attributes))
			for k, v := range evt.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
			s.logger.Info(evt.Type, attrs...)
			s.recordEventMetrics(evt)
		}
		if poolID != "" {
			s.refreshGauges(poolID)
		}
	}
	return err
}

// recordEventMetrics turns engine events into reward counters.
func (s *Server) recordEventMetrics(evt *staking.Event) {
	pool := evt.Attributes["pool"]
	amount := eventAmount(evt, "amount")
	switch evt.Type {
	case staking.EventRewardsDeposited:
		if distributed := eventAmount(evt, "distributed"); distributed > 0 {
			s.metrics.AddRewardsDistributed(pool, distributed)
		} else {
			s.metrics.AddRewardsDeferred(pool, amount)
		}
	case staking.EventRewardsSynced:
		s.metrics.AddRewardsDistributed(pool, amount)
	case staking.EventRewardsRecovered:
		s.metrics.AddRewardsRecovered(pool, amount)
	case staking.EventPoolRebased:
		s.metrics.IncRebase(pool)
	}
}

func eventAmount(evt *staking.Event, key string) uint64 {
	value, err := strconv.ParseUint(evt.Attributes[key], 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func (s *Server) refreshGauges(poolID string) {
	pool, err := s.store.GetPool(poolID)
	if err != nil || pool == nil {
		return
	}
	totalStaked := uint64(0)
	if pool.TotalStaked.IsUint64() {
		totalStaked = pool.TotalStaked.Uint64()
	}
	s.metrics.SetPoolGauges(poolID, totalStaked, pool.LastSyncedBalance)
}

type createPoolRequest struct {
	PoolID     string `json:"poolId"`
	Authority  string `json:"authority"`
	TauSeconds uint64 `json:"tauSeconds"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if !s.decode(w, r, &req) {
		return
	}
	authority, err := staking.ParseAddress(req.Authority)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var pool *staking.Pool
	err = s.run("initialize_pool", req.PoolID, func() error {
		var opErr error
		pool, opErr = s.engine.InitializePool(req.PoolID, authority, req.TauSeconds)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, poolView(pool, nil))
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListPools()
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pools": ids})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	info, err := s.engine.PoolInfo(poolID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	meta, err := s.store.GetMetadata(poolID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	view := poolView(info.Pool, meta)
	view["totalWeightedStake"] = info.TotalWeightedStake.Dec()
	view["needsRebase"] = info.NeedsRebase
	s.writeJSON(w, http.StatusOK, view)
}

type settingsRequest struct {
	Authority              string  `json:"authority"`
	MinStakeAmount         *string `json:"minStakeAmount,omitempty"`
	LockDurationSeconds    *uint64 `json:"lockDurationSeconds,omitempty"`
	UnstakeCooldownSeconds *uint64 `json:"unstakeCooldownSeconds,omitempty"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !s.decode(w, r, &req) {
		return
	}
	authority, err := staking.ParseAddress(req.Authority)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	update := staking.SettingsUpdate{
		LockDurationSeconds:    req.LockDurationSeconds,
		UnstakeCooldownSeconds: req.UnstakeCooldownSeconds,
	}
	if req.MinStakeAmount != nil {
		minStake, err := parseAmount(*req.MinStakeAmount)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		update.MinStakeAmount = &minStake
	}
	poolID := chi.URLParam(r, "poolID")
	err = s.run("update_settings", poolID, func() error {
		return s.engine.UpdatePoolSettings(poolID, authority, update)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type authorityRequest struct {
	Authority    string `json:"authority"`
	NewAuthority string `json:"newAuthority"`
}

func (s *Server) handleTransferAuthority(w http.ResponseWriter, r *http.Request) {
	var req authorityRequest
	if !s.decode(w, r, &req) {
		return
	}
	authority, err := staking.ParseAddress(req.Authority)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	// The zero address renounces; accept it explicitly.
	var successor staking.Address
	if strings.TrimSpace(req.NewAuthority) != "" {
		successor, err = staking.ParseAddress(req.NewAuthority)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	poolID := chi.URLParam(r, "poolID")
	err = s.run("transfer_authority", poolID, func() error {
		return s.engine.TransferAuthority(poolID, authority, successor)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type metadataRequest struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadataRequest
	if !s.decode(w, r, &req) {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err := s.run("set_metadata", poolID, func() error {
		return s.engine.SetPoolMetadata(poolID, req.Name, req.Tags)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRebase(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	err := s.run("rebase", poolID, func() error {
		return s.engine.SyncPool(poolID)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type stakeRequest struct {
	Owner  string `json:"owner"`
	Payer  string `json:"payer,omitempty"`
	Amount string `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner, err := staking.ParseAddress(req.Owner)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err = s.run("stake", poolID, func() error {
		if strings.TrimSpace(req.Payer) != "" {
			payer, parseErr := staking.ParseAddress(req.Payer)
			if parseErr != nil {
				return parseErr
			}
			return s.engine.StakeOnBehalf(poolID, payer, owner, amount)
		}
		return s.engine.Stake(poolID, owner, amount)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type unstakeRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount,omitempty"`
}

func (s *Server) ownerAmount(w http.ResponseWriter, r *http.Request) (staking.Address, uint64, bool) {
	var req unstakeRequest
	if !s.decode(w, r, &req) {
		return staking.Address{}, 0, false
	}
	owner, err := staking.ParseAddress(req.Owner)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return staking.Address{}, 0, false
	}
	var amount uint64
	if strings.TrimSpace(req.Amount) != "" {
		amount, err = parseAmount(req.Amount)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return staking.Address{}, 0, false
		}
	}
	return owner, amount, true
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	owner, amount, ok := s.ownerAmount(w, r)
	if !ok {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err := s.run("unstake", poolID, func() error {
		return s.engine.Unstake(poolID, owner, amount)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRequestUnstake(w http.ResponseWriter, r *http.Request) {
	owner, amount, ok := s.ownerAmount(w, r)
	if !ok {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err := s.run("request_unstake", poolID, func() error {
		return s.engine.RequestUnstake(poolID, owner, amount)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCompleteUnstake(w http.ResponseWriter, r *http.Request) {
	owner, _, ok := s.ownerAmount(w, r)
	if !ok {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err := s.run("complete_unstake", poolID, func() error {
		return s.engine.CompleteUnstake(poolID, owner)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCancelUnstake(w http.ResponseWriter, r *http.Request) {
	owner, _, ok := s.ownerAmount(w, r)
	if !ok {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err := s.run("cancel_unstake", poolID, func() error {
		return s.engine.CancelUnstakeRequest(poolID, owner)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	owner, _, ok := s.ownerAmount(w, r)
	if !ok {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	var paid uint64
	err := s.run("claim", poolID, func() error {
		var opErr error
		paid, opErr = s.engine.ClaimRewards(poolID, owner)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"paid": strconv.FormatUint(paid, 10)})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	owner, _, ok := s.ownerAmount(w, r)
	if !ok {
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err := s.run("close_account", poolID, func() error {
		return s.engine.CloseStakeAccount(poolID, owner)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type depositRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) handleDepositRewards(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	from, err := staking.ParseAddress(req.From)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	poolID := chi.URLParam(r, "poolID")
	err = s.run("deposit_rewards", poolID, func() error {
		return s.engine.DepositRewards(poolID, from, amount)
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleSyncRewards(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	var distributed uint64
	err := s.run("sync_rewards", poolID, func() error {
		var opErr error
		distributed, opErr = s.engine.SyncRewards(poolID)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"distributed": strconv.FormatUint(distributed, 10)})
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	var recovered uint64
	err := s.run("recover_stranded", poolID, func() error {
		var opErr error
		recovered, opErr = s.engine.RecoverStrandedRewards(poolID)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recovered": strconv.FormatUint(recovered, 10)})
}

type fixDebtRequest struct {
	Authority       string `json:"authority"`
	TotalRewardDebt string `json:"totalRewardDebt"`
}

func (s *Server) handleFixDebt(w http.ResponseWriter, r *http.Request) {
	var req fixDebtRequest
	if !s.decode(w, r, &req) {
		return
	}
	authority, err := staking.ParseAddress(req.Authority)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	newValue, err := uint256.FromDecimal(strings.TrimSpace(req.TotalRewardDebt))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	poolID := chi.URLParam(r, "poolID")
	var recovered uint64
	err = s.run("fix_total_reward_debt", poolID, func() error {
		var opErr error
		recovered, opErr = s.engine.FixTotalRewardDebt(poolID, authority, newValue)
		return opErr
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"recovered": strconv.FormatUint(recovered, 10)})
}

func (s *Server) handleGetStake(w http.ResponseWriter, r *http.Request) {
	owner, err := staking.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	info, err := s.engine.StakeInfo(chi.URLParam(r, "poolID"), owner)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"owner":                info.Stake.Owner.Hex(),
		"amount":               strconv.FormatUint(info.Stake.Amount, 10),
		"weightedStake":        info.WeightedStake.Dec(),
		"pendingRewards":       strconv.FormatUint(info.PendingRewards, 10),
		"totalRewardsClaimed":  strconv.FormatUint(info.Stake.TotalRewardsClaimed, 10),
		"unstakeRequestAmount": strconv.FormatUint(info.Stake.UnstakeRequestAmount, 10),
		"stakeTime":            info.Stake.StakeTime,
		"lastStakeTime":        info.Stake.LastStakeTime,
	})
}

func poolView(pool *staking.Pool, meta *staking.PoolMetadata) map[string]any {
	view := map[string]any{
		"poolId":                 pool.PoolID,
		"authority":              pool.Authority.Hex(),
		"tauSeconds":             pool.TauSeconds,
		"baseTime":               pool.BaseTime,
		"totalStaked":            pool.TotalStaked.Dec(),
		"accRewardPerShare":      pool.AccRewardPerShare.Dec(),
		"lastSyncedBalance":      strconv.FormatUint(pool.LastSyncedBalance, 10),
		"totalResidualUnpaid":    strconv.FormatUint(pool.TotalResidualUnpaid, 10),
		"minStakeAmount":         strconv.FormatUint(pool.MinStakeAmount, 10),
		"lockDurationSeconds":    pool.LockDurationSeconds,
		"unstakeCooldownSeconds": pool.UnstakeCooldownSeconds,
	}
	if meta != nil {
		view["name"] = meta.Name
		view["tags"] = meta.Tags
		view["memberCount"] = meta.MemberCount
	}
	return view
}

func parseAmount(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("requestId", w.Header().Get(requestIDHeader)),
			slog.String("error", err.Error()),
		)
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeError(w, r, statusForError(err), err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, staking.ErrPoolNotFound), errors.Is(err, staking.ErrStakeNotFound):
		return http.StatusNotFound
	case errors.Is(err, staking.ErrPoolExists),
		errors.Is(err, staking.ErrPoolRequiresRebase),
		errors.Is(err, staking.ErrStakeLocked),
		errors.Is(err, staking.ErrCooldownRequired),
		errors.Is(err, staking.ErrCooldownNotConfigured),
		errors.Is(err, staking.ErrCooldownNotElapsed),
		errors.Is(err, staking.ErrPendingUnstake),
		errors.Is(err, staking.ErrNoPendingUnstake),
		errors.Is(err, staking.ErrAccountNotEmpty):
		return http.StatusConflict
	case errors.Is(err, staking.ErrInvalidAuthority), errors.Is(err, staking.ErrAuthorityRenounced):
		return http.StatusForbidden
	case errors.Is(err, staking.ErrZeroAmount),
		errors.Is(err, staking.ErrInvalidTau),
		errors.Is(err, staking.ErrBelowMinimumStake),
		errors.Is(err, staking.ErrInsufficientStake),
		errors.Is(err, staking.ErrSettingExceedsCap),
		errors.Is(err, staking.ErrDebtExceedsBound):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
