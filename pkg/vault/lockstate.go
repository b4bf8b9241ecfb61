package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forest6511/animectl/pkg/store"
)

// Unlock attempt limits: 5 failures -> 30s, 10 -> 5min, 20 -> 30min.
const (
	CooldownThreshold1 = 5
	CooldownThreshold2 = 10
	CooldownThreshold3 = 20
	CooldownDuration1  = 30 * time.Second
	CooldownDuration2  = 5 * time.Minute
	CooldownDuration3  = 30 * time.Minute
)

// LockState tracks failed unlock attempts for cooldown enforcement
type LockState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LastAttempt    time.Time `json:"last_attempt"`
	CooldownUntil  time.Time `json:"cooldown_until"`
	LockoutCount   int       `json:"lockout_count"` // Number of times cooldown was triggered
}

// loadLockState reads the lock state through the store
func (v *Vault) loadLockState() (*LockState, error) {
	data, err := v.store.ReadAll(LockStateName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &LockState{}, nil
		}
		return nil, fmt.Errorf("%w: failed to read lock state: %w", ErrIOFailure, err)
	}

	var state LockState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupted lock state - reset
		return &LockState{}, nil
	}
	return &state, nil
}

func (v *Vault) saveLockState(state *LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal lock state: %w", err)
	}
	if err := v.store.AtomicWriteAll(LockStateName, data); err != nil {
		return fmt.Errorf("%w: failed to write lock state: %w", ErrIOFailure, err)
	}
	return nil
}

// clearLockState removes the lock state (called on successful unlock)
func (v *Vault) clearLockState() error {
	if err := v.store.Remove(LockStateName); err != nil {
		return fmt.Errorf("%w: failed to clear lock state: %w", ErrIOFailure, err)
	}
	return nil
}

// checkCooldown verifies if unlock is allowed or if cooldown is active
func (v *Vault) checkCooldown() (time.Duration, error) {
	state, err := v.loadLockState()
	if err != nil {
		return 0, err
	}

	now := v.now()
	if !state.CooldownUntil.IsZero() && now.Before(state.CooldownUntil) {
		remaining := state.CooldownUntil.Sub(now)
		return remaining, fmt.Errorf("%w: retry in %v", ErrCooldownActive, remaining.Round(time.Second))
	}
	return 0, nil
}

// recordFailedAttempt records a failed unlock attempt and returns the
// cooldown it triggered, if any.
func (v *Vault) recordFailedAttempt() (time.Duration, error) {
	state, err := v.loadLockState()
	if err != nil {
		return 0, err
	}

	now := v.now()
	state.FailedAttempts++
	state.LastAttempt = now

	var cooldown time.Duration
	switch {
	case state.FailedAttempts >= CooldownThreshold3:
		cooldown = CooldownDuration3
	case state.FailedAttempts >= CooldownThreshold2:
		cooldown = CooldownDuration2
	case state.FailedAttempts >= CooldownThreshold1:
		cooldown = CooldownDuration1
	}
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
		state.LockoutCount++
	}

	if err := v.saveLockState(state); err != nil {
		return cooldown, err
	}
	return cooldown, nil
}

// GetLockState returns the current lock state for display purposes
func (v *Vault) GetLockState() (*LockState, error) {
	return v.loadLockState()
}

// RemainingCooldown returns the remaining cooldown time, or 0 if not in cooldown
func (v *Vault) RemainingCooldown() time.Duration {
	remaining, err := v.checkCooldown()
	if err != nil && !errors.Is(err, ErrCooldownActive) {
		return 0
	}
	return remaining
}
