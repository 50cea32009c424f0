// Package wakeup triggers the Codex CLI probe for an account and composes
// the end-to-end wakeup operation.
package wakeup

import (
	"sync"
	"time"
)

// DefaultCooldown is the window within which a second wakeup for the same
// account is treated as a duplicate.
const DefaultCooldown = 8 * time.Second

// Debouncer grants or denies reservations for triggered wakeups within a
// cooldown window. It is a cooperative best-effort debounce local to this
// process, not a distributed lock. Construct one per process and share it
// across orchestrators.
type Debouncer struct {
	mu       sync.Mutex
	lastExec map[string]time.Time
	cooldown time.Duration
}

// NewDebouncer creates a debouncer with the given cooldown window.
func NewDebouncer(cooldown time.Duration) *Debouncer {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Debouncer{
		lastExec: make(map[string]time.Time),
		cooldown: cooldown,
	}
}

// Reserve grants a reservation for the account unless one was granted within
// the cooldown window. The check and the write happen under one lock
// acquisition.
func (d *Debouncer) Reserve(accountID string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastExec[accountID]; ok {
		if now.Sub(last) < d.cooldown {
			return false
		}
	}
	d.lastExec[accountID] = now
	return true
}

// Release gives back a reservation after a failed downstream step so the
// next legitimate call is not starved.
func (d *Debouncer) Release(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastExec, accountID)
}
