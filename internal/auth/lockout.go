// lockout.go

// Account lockout state machine.
package auth

import (
	"time"

	"github.com/CharterXO/CXO-App-Directory/internal/store"
)

// LockState is where an account sits in the lockout state machine.
type LockState int

const (
	Unlocked LockState = iota
	Locked
	// LockExpired: lockedUntil has passed but the counters have not been reset yet.
	LockExpired
)

func (s LockState) String() string {
	switch s {
	case Locked:
		return "locked"
	case LockExpired:
		return "lock_expired"
	}
	return "unlocked"
}

// LockoutPolicy locks an account for Duration after Threshold consecutive failures.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy is 5 failures, 15 minutes.
var DefaultLockoutPolicy = LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}

// State classifies acct at now. A lock is in force while now < LockedUntil.
func (p LockoutPolicy) State(acct *store.Account, now time.Time) LockState {
	if acct.LockedUntil == nil {
		return Unlocked
	}
	if now.Before(*acct.LockedUntil) {
		return Locked
	}
	return LockExpired
}

// Deadline is when a lock triggered at now ends.
func (p LockoutPolicy) Deadline(now time.Time) time.Time {
	return now.Add(p.Duration)
}

func (p LockoutPolicy) orDefault() LockoutPolicy {
	if p.Threshold <= 0 || p.Duration <= 0 {
		return DefaultLockoutPolicy
	}
	return p
}
