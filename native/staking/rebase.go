package staking

// SyncPool rebases the pool's time origin to the current clock. The aggregate
// tracks sum(amount_i * e^(t_i/tau)) against base_time; moving base_time
// forward by dt multiplies every term by e^(-dt/tau), so the whole aggregate
// is rescaled by one factor and no per-position walk is needed. Positions
// rescale their own maturity factor lazily on next touch.
//
// Permissionless: anyone may rebase, and pools whose aggregate has grown past
// the safety threshold refuse all other operations until someone does.
func (e *Engine) SyncPool(poolID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	pool, err := e.loadPool(poolID)
	if err != nil {
		return err
	}

	now := e.now()
	dt := now - pool.BaseTime
	if dt <= 0 {
		return nil
	}

	if pool.InitialBaseTime == 0 {
		// First rebase; keep the origin so positions created before any
		// rebase can resolve their zero snapshot.
		pool.InitialBaseTime = pool.BaseTime
	}

	decay, err := expNegTimeRatio(dt, pool.TauSeconds)
	if err != nil {
		return err
	}
	rescaled, err := wadMul(pool.SumStakeExp, decay)
	if err != nil {
		return err
	}
	pool.SumStakeExp = rescaled
	pool.BaseTime = now
	pool.LastUpdateTime = now

	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(EventPoolRebased, poolID, map[string]string{
		"baseTime": amountAttr(uint64(now)),
	})
	return nil
}
