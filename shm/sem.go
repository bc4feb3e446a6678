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

type semState struct {
	count uint32
	_     [60]byte
}

const semStateSize = 64

func init() {
	if sz := unsafe.Sizeof(semState{}); sz != semStateSize {
		panic(fmt.Sprintf("shm: semState size %d, want %d", sz, semStateSize))
	}
}

// Semaphore is a cross-process counting semaphore with kernel-assisted
// wait.
type Semaphore struct {
	seg *Segment
	st  *semState
}

// AcquireSemaphore attaches to (or creates) the named semaphore segment.
// A freshly created semaphore starts at count 0; call Post to raise it.
func AcquireSemaphore(name string, mode Mode) (*Semaphore, error) {
	seg, err := Acquire(name, semStateSize, mode)
	if err != nil {
		return nil, err
	}
	payload := seg.Payload()
	return &Semaphore{seg: seg, st: (*semState)(ptrOf(&payload[0]))}, nil
}

// Release detaches from the backing segment.
func (s *Semaphore) Release() error { return s.seg.Release() }

// Count returns the current count.
func (s *Semaphore) Count() uint32 { return atomic.LoadUint32(&s.st.count) }

// Wait decrements the count, blocking up to timeout (<=0 blocks forever)
// while it is zero. It reports ok=false only on timeout.
func (s *Semaphore) Wait(timeout time.Duration) (ok bool, err error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		cur := atomic.LoadUint32(&s.st.count)
		if cur > 0 {
			if atomic.CompareAndSwapUint32(&s.st.count, cur, cur-1) {
				return true, nil
			}
			continue
		}

		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false, nil
			}
		}
		perr := park(&s.st.count, 0, remaining)
		if perr == ErrFutexTimeout {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return false, nil
			}
			continue
		}
		if perr != nil {
			return false, perr
		}
	}
}

// Post adds n to the count and wakes up to n waiters.
func (s *Semaphore) Post(n uint32) {
	for i := uint32(0); i < n; i++ {
		atomic.AddUint32(&s.st.count, 1)
		unparkOne(&s.st.count)
	}
}
