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

package registry

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/haldor-labs/shmipc/shm"
)

// preambleSize accounts for the table header: spinlock (i32) and count
// (u32).
const preambleSize = 8

const tableSize = preambleSize + MaxServices*entrySize

// Registry is a shared-memory table of live service advertisements,
// partitioned by domain. All mutating and scanning operations hold the
// in-band spinlock for their duration; the spinlock is test-and-set and
// must never be held across a blocking call.
type Registry struct {
	seg      *shm.Segment
	spinlock *uint32
	count    *uint32
	table    []byte
}

// segmentName builds the registry's shared-segment name.
func segmentName(domain string) string {
	return fmt.Sprintf("__ipc_registry__%s", domain)
}

// Open attaches to (or creates) the registry segment for domain.
func Open(domain string, mode shm.Mode) (*Registry, error) {
	seg, err := shm.Acquire(segmentName(domain), tableSize, mode)
	if err != nil {
		return nil, err
	}
	payload := seg.Payload()
	r := &Registry{
		seg:      seg,
		spinlock: (*uint32)(unsafe.Pointer(&payload[0])),
		count:    (*uint32)(unsafe.Pointer(&payload[4])),
		table:    payload[preambleSize:],
	}
	return r, nil
}

// Close detaches from the backing segment.
func (r *Registry) Close() error { return r.seg.Release() }

// lock spins on the test-and-set word until it is acquired or ctx is
// done. A wedged holder (one that crashed mid-critical-section) is not
// detected or recovered; ctx is the caller's only way out of that
// situation.
func (r *Registry) lock(ctx context.Context) error {
	for {
		if atomic.CompareAndSwapUint32(r.spinlock, 0, 1) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		runtime.Gosched()
	}
}

func (r *Registry) unlock() {
	atomic.StoreUint32(r.spinlock, 0)
}

func (r *Registry) entryAt(i int) []byte {
	return r.table[i*entrySize : (i+1)*entrySize]
}

// gcSlot zeroes slot i if it is active but its PID is dead, returning
// true if it did so. Every scanning operation applies this opportunistic
// collection as it walks the table.
func (r *Registry) gcSlot(i int) (ServiceEntry, bool) {
	b := r.entryAt(i)
	e := decodeEntry(b)
	if !e.Active() {
		return e, false
	}
	if shm.ProcessAlive(int(e.PID)) {
		return e, false
	}
	clearEntry(b)
	atomic.AddUint32(r.count, ^uint32(0)) // -1
	return ServiceEntry{}, true
}

// Register advertises name at (controlChannel, replyChannel) for pid. It
// fails with a KindAlreadyExists error if an entry for name already
// exists and its PID is alive; if that entry's PID is dead the slot is
// reused. Otherwise the first empty or dead slot is used. Fails with
// KindFull if no slot is available.
func (r *Registry) Register(ctx context.Context, name, controlChannel, replyChannel string, pid int32) error {
	const op = "register"
	if name == "" || len(name) >= nameFieldLen {
		return shm.NewError(op, name, shm.KindInvalidArgument, fmt.Errorf("name must be 1..%d bytes", nameFieldLen-1))
	}
	if len(controlChannel) >= channelFieldLen || len(replyChannel) >= channelFieldLen {
		return shm.NewError(op, name, shm.KindInvalidArgument, fmt.Errorf("channel name too long"))
	}

	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()

	reuseSlot := -1
	freeSlot := -1
	for i := 0; i < MaxServices; i++ {
		if _, collected := r.gcSlot(i); collected {
			if freeSlot < 0 {
				freeSlot = i
			}
			continue
		}
		e := decodeEntry(r.entryAt(i))
		if !e.Active() {
			if freeSlot < 0 {
				freeSlot = i
			}
			continue
		}
		if e.Name == name {
			if e.IsAlive() {
				return shm.NewError(op, name, shm.KindAlreadyExists, fmt.Errorf("service %q already registered (pid %d)", name, e.PID))
			}
			reuseSlot = i
		}
	}

	slot := reuseSlot
	if slot < 0 {
		slot = freeSlot
	}
	if slot < 0 {
		return shm.NewError(op, name, shm.KindFull, fmt.Errorf("registry table full (%d slots)", MaxServices))
	}

	wasActive := decodeEntry(r.entryAt(slot)).Active()
	encodeEntry(r.entryAt(slot), ServiceEntry{
		Name:           name,
		ControlChannel: controlChannel,
		ReplyChannel:   replyChannel,
		PID:            pid,
		RegisteredAt:   time.Now().Unix(),
	})
	if !wasActive {
		atomic.AddUint32(r.count, 1)
	}
	return nil
}

// Unregister zeroes name's entry, but only if its recorded PID matches
// pid. A mismatch or missing entry is a silent no-op.
func (r *Registry) Unregister(ctx context.Context, name string, pid int32) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()

	for i := 0; i < MaxServices; i++ {
		b := r.entryAt(i)
		e := decodeEntry(b)
		if e.Active() && e.Name == name && e.PID == pid {
			clearEntry(b)
			atomic.AddUint32(r.count, ^uint32(0))
			return nil
		}
	}
	return nil
}

// Find returns a copy of name's entry, or ok=false if no live entry
// exists. Dead entries encountered during the scan are garbage collected.
func (r *Registry) Find(ctx context.Context, name string) (entry ServiceEntry, ok bool, err error) {
	if err := r.lock(ctx); err != nil {
		return ServiceEntry{}, false, err
	}
	defer r.unlock()

	for i := 0; i < MaxServices; i++ {
		if _, collected := r.gcSlot(i); collected {
			continue
		}
		e := decodeEntry(r.entryAt(i))
		if e.Active() && e.Name == name {
			return e, true, nil
		}
	}
	return ServiceEntry{}, false, nil
}

// FindAll returns copies of every live entry whose name begins with
// prefix, applying the same opportunistic GC as Find.
func (r *Registry) FindAll(ctx context.Context, prefix string) ([]ServiceEntry, error) {
	if err := r.lock(ctx); err != nil {
		return nil, err
	}
	defer r.unlock()

	var out []ServiceEntry
	for i := 0; i < MaxServices; i++ {
		if _, collected := r.gcSlot(i); collected {
			continue
		}
		e := decodeEntry(r.entryAt(i))
		if e.Active() && hasPrefix(e.Name, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns copies of every live entry.
func (r *Registry) List(ctx context.Context) ([]ServiceEntry, error) {
	return r.FindAll(ctx, "")
}

func hasPrefix(name, prefix string) bool {
	if len(prefix) > len(name) {
		return false
	}
	return name[:len(prefix)] == prefix
}

// GC sweeps the entire table, zeroing every entry whose PID is dead, and
// returns the number collected.
func (r *Registry) GC(ctx context.Context) (int, error) {
	if err := r.lock(ctx); err != nil {
		return 0, err
	}
	defer r.unlock()

	collected := 0
	for i := 0; i < MaxServices; i++ {
		if _, ok := r.gcSlot(i); ok {
			collected++
		}
	}
	return collected, nil
}

// Clear zeroes the entire table.
func (r *Registry) Clear(ctx context.Context) error {
	if err := r.lock(ctx); err != nil {
		return err
	}
	defer r.unlock()

	for i := 0; i < MaxServices; i++ {
		clearEntry(r.entryAt(i))
	}
	atomic.StoreUint32(r.count, 0)
	return nil
}

// Count returns the registry's cached occupancy count. It is maintained
// incrementally by Register/Unregister/GC/Clear rather than recomputed by
// scanning, so it can run without the spinlock.
func (r *Registry) Count() int {
	return int(atomic.LoadUint32(r.count))
}
