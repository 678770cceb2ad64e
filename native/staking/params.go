package staking

const (
	// MaxLockDurationSeconds caps the configurable lock at 365 days so an
	// authority cannot trap stakers indefinitely.
	MaxLockDurationSeconds = uint64(365 * 24 * 60 * 60)

	// MaxUnstakeCooldownSeconds caps the withdrawal cooldown at 30 days.
	MaxUnstakeCooldownSeconds = uint64(30 * 24 * 60 * 60)
)

// SettingsUpdate carries the optional pool policy changes applied by
// UpdatePoolSettings; nil fields are left untouched.
type SettingsUpdate struct {
	MinStakeAmount         *uint64
	LockDurationSeconds    *uint64
	UnstakeCooldownSeconds *uint64
}

func (u SettingsUpdate) validate() error {
	if u.LockDurationSeconds != nil && *u.LockDurationSeconds > MaxLockDurationSeconds {
		return ErrSettingExceedsCap
	}
	if u.UnstakeCooldownSeconds != nil && *u.UnstakeCooldownSeconds > MaxUnstakeCooldownSeconds {
		return ErrSettingExceedsCap
	}
	return nil
}
