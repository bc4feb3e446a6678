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
	"sync/atomic"
	"time"
	"unsafe"
)

type condState struct {
	seq     uint32
	waiters uint32
	_       [56]byte
}

const condStateSize = 64

func init() {
	if sz := unsafe.Sizeof(condState{}); sz != condStateSize {
		panic(fmt.Sprintf("shm: condState size %d, want %d", sz, condStateSize))
	}
}

// Cond is a sequence-counter condition variable that pairs with a Mutex.
// It is lost-wakeup-free: notify/broadcast bump a sequence counter before
// unparking, so a waiter that reads the new sequence before parking simply
// falls through instead of sleeping past its wakeup.
type Cond struct {
	seg *Segment
	st  *condState
}

// AcquireCond attaches to (or creates) the named condition variable
// segment, independent of its paired mutex's own segment.
func AcquireCond(name string, mode Mode) (*Cond, error) {
	seg, err := Acquire(name, condStateSize, mode)
	if err != nil {
		return nil, err
	}
	payload := seg.Payload()
	return &Cond{seg: seg, st: (*condState)(ptrOf(&payload[0]))}, nil
}

// Release detaches from the backing segment.
func (c *Cond) Release() error { return c.seg.Release() }

// Wait releases mtx, sleeps until Notify/Broadcast or timeout (<=0 blocks
// forever), then reacquires mtx before returning. It reports ok=false only
// on timeout. The caller must hold mtx.
func (c *Cond) Wait(mtx *Mutex, timeout time.Duration) (ok bool, err error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	snapshot := atomic.LoadUint32(&c.st.seq)
	atomic.AddUint32(&c.st.waiters, 1)
	if err := mtx.Unlock(); err != nil {
		atomic.AddUint32(&c.st.waiters, ^uint32(0))
		return false, err
	}

	timedOut := false
	for {
		if atomic.LoadUint32(&c.st.seq) != snapshot {
			break
		}
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				timedOut = true
				break
			}
		}
		perr := park(&c.st.seq, snapshot, remaining)
		if perr == ErrFutexTimeout {
			if !deadline.IsZero() && time.Now().After(deadline) {
				timedOut = true
				break
			}
			continue
		}
		if perr != nil {
			atomic.AddUint32(&c.st.waiters, ^uint32(0))
			return false, perr
		}
		// Loop back to re-check seq; spurious wakeups fall through and
		// park again.
	}

	atomic.AddUint32(&c.st.waiters, ^uint32(0))

	if _, err := mtx.Lock(0); err != nil {
		return false, err
	}
	return !timedOut, nil
}

// Notify wakes at most one waiter.
func (c *Cond) Notify() {
	atomic.AddUint32(&c.st.seq, 1)
	if atomic.LoadUint32(&c.st.waiters) > 0 {
		unparkOne(&c.st.seq)
	}
}

// Broadcast wakes every waiter.
func (c *Cond) Broadcast() {
	atomic.AddUint32(&c.st.seq, 1)
	if atomic.LoadUint32(&c.st.waiters) > 0 {
		unparkAll(&c.st.seq)
	}
}
