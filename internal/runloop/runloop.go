// SPDX-License-Identifier: AGPL-3.0-or-later
// bsc-core - BACnet Secure Connect datalink core
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/bacnet-community/bsc-core>

// Package runloop implements the single dedicated-thread tick scheduler
// that drives every BACnet/SC timer (spec §2 component 9, §5). Each
// Socket-Context group (Hub-Connector, Hub-Function, Node-Switch) and the
// Node itself register a Tick callback; the Runloop wakes at most once per
// period (≤1s) and invokes every registered callback in registration order.
//
// This mirrors the "single cooperative worker, dispatch lock, ≤1s wakeup"
// contract called out as platform-independent in spec §9 Design Notes —
// the bsd/linux/zephyr ports differ only in mutex/condvar binding, so here
// there is exactly one implementation, built on time.Ticker plus a
// sync.Mutex guarding the callback slice (the "bws-dispatch" lock is
// provided by the caller, not by this package, since this package has no
// protocol state of its own to protect).
package runloop

import (
	"sync"
	"time"
)

// DefaultPeriod is the tick interval spec §5 bounds at "≤1 s".
const DefaultPeriod = 500 * time.Millisecond

// Runloop periodically invokes a set of registered callbacks from a single
// goroutine, until stopped.
type Runloop struct {
	period time.Duration

	mu        sync.Mutex
	callbacks []func(now time.Time)

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New creates a Runloop with the given tick period. A period of 0 selects
// DefaultPeriod.
func New(period time.Duration) *Runloop {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Runloop{
		period: period,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Register adds a callback invoked on every tick. It is safe at any time,
// including from within another callback: each tick copies the callback
// slice under the lock and runs the copy unlocked, so a callback added
// during a tick first runs on the next one.
func (r *Runloop) Register(fn func(now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start launches the tick goroutine. It is not safe to call Start twice on
// the same Runloop.
func (r *Runloop) Start() {
	go r.loop()
}

func (r *Runloop) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *Runloop) tick(now time.Time) {
	r.mu.Lock()
	cbs := make([]func(now time.Time), len(r.callbacks))
	copy(cbs, r.callbacks)
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(now)
	}
}

// Stop signals the tick goroutine to exit and blocks until it has. Stop is
// idempotent.
func (r *Runloop) Stop() {
	r.once.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}

// Timer is a one-shot millisecond deadline checked by the runloop each
// tick, matching the "every long-lived wait has an explicit millisecond
// timer that the runloop checks each tick" contract of spec §5.
type Timer struct {
	mu       sync.Mutex
	deadline time.Time
	armed    bool
}

// Arm sets the timer to expire after d from now.
func (t *Timer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deadline = time.Now().Add(d)
	t.armed = true
}

// Disarm cancels the timer so Expired never reports true until re-armed.
func (t *Timer) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.armed = false
}

// Expired reports whether the timer is armed and its deadline has passed.
func (t *Timer) Expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed && !now.Before(t.deadline)
}

// Armed reports whether the timer is currently armed.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}
