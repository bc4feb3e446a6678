/*
 *
 * Copyright 2025 shmipc authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shm

import (
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	mutexUnlocked        uint32 = 0
	mutexLockedNoWaiters  uint32 = 1
	mutexLockedWithWaiter uint32 = 2
)

// spinIterations is the number of CAS attempts the fast path makes before
// falling back to parking.
const spinIterations = 40

type mutexState struct {
	state  uint32
	holder uint32
	_      [56]byte // pad to 64 bytes; holder is read across processes on recovery
}

const mutexStateSize = 64

func init() {
	if sz := unsafe.Sizeof(mutexState{}); sz != mutexStateSize {
		panic(fmt.Sprintf("shm: mutexState size %d, want %d", sz, mutexStateSize))
	}
}

// Mutex is a cross-process mutual-exclusion lock with dead-owner recovery:
// if the process holding it dies, the next timed-out waiter detects the
// dead PID and resets the lock rather than waiting forever.
type Mutex struct {
	seg *Segment
	st  *mutexState
}

// AcquireMutex attaches to (or creates) the named mutex segment.
func AcquireMutex(name string, mode Mode) (*Mutex, error) {
	seg, err := Acquire(name, mutexStateSize, mode)
	if err != nil {
		return nil, err
	}
	payload := seg.Payload()
	st := (*mutexState)(ptrOf(&payload[0]))
	return &Mutex{seg: seg, st: st}, nil
}

// Release detaches from the backing segment.
func (m *Mutex) Release() error { return m.seg.Release() }

// TryLock makes a single non-blocking acquire attempt.
func (m *Mutex) TryLock() bool {
	if atomic.CompareAndSwapUint32(&m.st.state, mutexUnlocked, mutexLockedNoWaiters) {
		atomic.StoreUint32(&m.st.holder, uint32(os.Getpid()))
		return true
	}
	return false
}

// Lock acquires the mutex, blocking up to timeout (<=0 blocks forever). It
// reports ok=false only on timeout; "infinite" (timeout<=0) never returns
// false.
//
// The parking phase always marks the lock contended (state=2) via an
// unconditional swap rather than a conditional CAS from 1: a concurrent
// fast-path locker can set state to 1 behind our back, and only an
// unconditional swap is guaranteed to both detect that (the swap's return
// value is non-zero) and restore the waiters-present flag so the eventual
// unlocker still wakes us.
func (m *Mutex) Lock(timeout time.Duration) (ok bool, err error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if m.TryLock() {
		return true, nil
	}
	for i := 0; i < spinIterations; i++ {
		if m.TryLock() {
			return true, nil
		}
		runtime.Gosched()
	}

	recovered := false
	c := atomic.SwapUint32(&m.st.state, mutexLockedWithWaiter)
	for c != mutexUnlocked {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				if !recovered && m.tryRecoverDeadOwner() {
					recovered = true
					c = atomic.SwapUint32(&m.st.state, mutexLockedWithWaiter)
					continue
				}
				return false, nil
			}
		}

		perr := park(&m.st.state, mutexLockedWithWaiter, remaining)
		if perr != nil && perr != ErrFutexTimeout {
			return false, perr
		}
		c = atomic.SwapUint32(&m.st.state, mutexLockedWithWaiter)
	}

	atomic.StoreUint32(&m.st.holder, uint32(os.Getpid()))
	return true, nil
}

// Unlock releases ownership. The caller must hold the lock; calling it
// from any other process returns ErrNotHeld and leaves the mutex locked.
func (m *Mutex) Unlock() error {
	if atomic.LoadUint32(&m.st.holder) != uint32(os.Getpid()) {
		return ErrNotHeld
	}
	atomic.StoreUint32(&m.st.holder, 0)
	prev := atomic.SwapUint32(&m.st.state, mutexUnlocked)
	if prev == mutexLockedWithWaiter {
		unparkOne(&m.st.state)
	}
	return nil
}

// tryRecoverDeadOwner implements dead-owner recovery: if the recorded
// holder PID no longer exists, the mutex is force-reset to unlocked and
// every waiter is woken to re-race for it. At most one recovery attempt is
// made per Lock call (the caller tracks that).
func (m *Mutex) tryRecoverDeadOwner() bool {
	holder := atomic.LoadUint32(&m.st.holder)
	if holder == 0 {
		return false
	}
	if pidAlive(int(holder)) {
		return false
	}
	atomic.StoreUint32(&m.st.state, mutexUnlocked)
	atomic.StoreUint32(&m.st.holder, 0)
	unparkAll(&m.st.state)
	return true
}
