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
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"
)

// ringHeaderSize is the 64-byte-aligned header reserved ahead of the slot
// array, keeping the producer's write_idx and the consumer's read_idx on
// their own cache line split. Ring operations never suspend: write_slot and
// read_slot return immediately on full/empty, matching a lock-free queue
// rather than a blocking channel. Callers that need to block (the typed
// channel wrapper) layer a semaphore or condition variable on top.
const ringHeaderSize = 64

type ringHeader struct {
	writeIdx    uint64
	readIdx     uint64
	constructed uint32
	_           [44]byte
}

func init() {
	if unsafe.Sizeof(ringHeader{}) != ringHeaderSize {
		panic(fmt.Sprintf("shm: ringHeader size %d, want %d", unsafe.Sizeof(ringHeader{}), ringHeaderSize))
	}
}

// Ring is a lock-free single-producer/single-consumer fixed-record queue
// over shared memory. Capacity must be a power of two.
type Ring struct {
	seg        *Segment
	hdr        *ringHeader
	data       unsafe.Pointer
	capacity   uint64
	capMask    uint64
	recordSize uint64
}

// ringPayloadSize computes the segment payload size for a ring of the
// given capacity and record size: the header plus capacity records.
func ringPayloadSize(capacity, recordSize uint64) (uint64, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return 0, fmt.Errorf("ring capacity %d is not a power of two", capacity)
	}
	if recordSize == 0 {
		return 0, fmt.Errorf("ring record size must be > 0")
	}
	return ringHeaderSize + capacity*recordSize, nil
}

// AcquireRing acquires (creating, opening, or either) the named segment
// backing a ring buffer of the given capacity and record size and attaches
// a Ring view to it.
func AcquireRing(name string, capacity, recordSize uint64, mode Mode) (*Ring, error) {
	payload, err := ringPayloadSize(capacity, recordSize)
	if err != nil {
		return nil, newErr("ring-acquire", name, KindInvalidArgument, err)
	}

	var seg *Segment
	created := false
	switch mode {
	case ModeOpen:
		seg, err = Acquire(name, payload, ModeOpen)
	case ModeCreate:
		seg, err = Acquire(name, payload, ModeCreate)
		created = err == nil
	case ModeCreateOrOpen:
		seg, err = Acquire(name, payload, ModeCreateOrOpen)
		created = err == nil && seg.Ref() == 1
	default:
		return nil, newErr("ring-acquire", name, KindInvalidArgument, fmt.Errorf("unknown mode %d", mode))
	}
	if err != nil {
		return nil, err
	}

	r, err := newRingView(seg, capacity, recordSize, created)
	if err != nil {
		seg.Release()
		return nil, err
	}
	return r, nil
}

func newRingView(seg *Segment, capacity, recordSize uint64, created bool) (*Ring, error) {
	payload := seg.Payload()
	hdr := (*ringHeader)(unsafe.Pointer(&payload[0]))
	data := unsafe.Pointer(uintptr(unsafe.Pointer(&payload[0])) + ringHeaderSize)

	if created {
		atomic.StoreUint64(&hdr.writeIdx, 0)
		atomic.StoreUint64(&hdr.readIdx, 0)
		atomic.StoreUint32(&hdr.constructed, 1)
	} else {
		deadline := time.Now().Add(2 * time.Second)
		for atomic.LoadUint32(&hdr.constructed) == 0 {
			if time.Now().After(deadline) {
				return nil, newErr("ring-attach", seg.Name(), KindUnavailable, fmt.Errorf("creator never finished constructing the ring"))
			}
			runtime.Gosched()
		}
	}

	return &Ring{
		seg:        seg,
		hdr:        hdr,
		data:       data,
		capacity:   capacity,
		capMask:    capacity - 1,
		recordSize: recordSize,
	}, nil
}

// Ref returns the backing segment's attach counter, letting a caller that
// just acquired the ring with ModeCreateOrOpen tell whether it was the one
// that created it (Ref()==1 immediately after a successful acquire).
func (r *Ring) Ref() int32 { return r.seg.Ref() }

// Capacity returns the ring's fixed slot count.
func (r *Ring) Capacity() uint64 { return r.capacity }

// RecordSize returns the fixed byte size of each record.
func (r *Ring) RecordSize() uint64 { return r.recordSize }

// Available returns write_idx - read_idx: the number of records currently
// queued.
func (r *Ring) Available() uint64 {
	return atomic.LoadUint64(&r.hdr.writeIdx) - atomic.LoadUint64(&r.hdr.readIdx)
}

func (r *Ring) slotBytes(idx uint64) []byte {
	pos := idx & r.capMask
	ptr := unsafe.Pointer(uintptr(r.data) + uintptr(pos*r.recordSize))
	return unsafe.Slice((*byte)(ptr), r.recordSize)
}

// WriteSlot returns a writable view of the next slot, or ok=false if the
// ring is full. The caller must follow with WriteCommit to publish it.
func (r *Ring) WriteSlot() (slot []byte, ok bool) {
	w := atomic.LoadUint64(&r.hdr.writeIdx)
	rd := atomic.LoadUint64(&r.hdr.readIdx)
	if w-rd >= r.capacity {
		return nil, false
	}
	return r.slotBytes(w), true
}

// WriteCommit publishes the slot most recently returned by WriteSlot,
// advancing write_idx with release ordering.
func (r *Ring) WriteCommit() {
	w := atomic.LoadUint64(&r.hdr.writeIdx)
	atomic.StoreUint64(&r.hdr.writeIdx, w+1)
}

// Write copies item into the next slot and commits it. It returns false
// without copying if the ring is full.
func (r *Ring) Write(item []byte) (bool, error) {
	if uint64(len(item)) != r.recordSize {
		return false, newErr("ring-write", r.seg.Name(), KindInvalidArgument, ErrRecordTooLarge)
	}
	slot, ok := r.WriteSlot()
	if !ok {
		return false, nil
	}
	copy(slot, item)
	r.WriteCommit()
	return true, nil
}

// WriteOverwrite always writes item, advancing read_idx past the oldest
// record first if the ring is full. Used where a producer must never
// block or fail (e.g. a real-time audio source).
func (r *Ring) WriteOverwrite(item []byte) error {
	if uint64(len(item)) != r.recordSize {
		return newErr("ring-write", r.seg.Name(), KindInvalidArgument, ErrRecordTooLarge)
	}
	w := atomic.LoadUint64(&r.hdr.writeIdx)
	rd := atomic.LoadUint64(&r.hdr.readIdx)
	if w-rd >= r.capacity {
		atomic.StoreUint64(&r.hdr.readIdx, rd+1)
	}
	copy(r.slotBytes(w), item)
	atomic.StoreUint64(&r.hdr.writeIdx, w+1)
	return nil
}

// ReadSlot returns a readable view of the oldest unread slot, or ok=false
// if the ring is empty. The caller must follow with ReadCommit once it has
// copied out what it needs.
func (r *Ring) ReadSlot() (slot []byte, ok bool) {
	w := atomic.LoadUint64(&r.hdr.writeIdx)
	rd := atomic.LoadUint64(&r.hdr.readIdx)
	if rd >= w {
		return nil, false
	}
	return r.slotBytes(rd), true
}

// ReadCommit retires the slot most recently returned by ReadSlot,
// advancing read_idx.
func (r *Ring) ReadCommit() {
	rd := atomic.LoadUint64(&r.hdr.readIdx)
	atomic.StoreUint64(&r.hdr.readIdx, rd+1)
}

// Read copies the oldest unread record into out and commits it. It
// returns false without copying if the ring is empty.
func (r *Ring) Read(out []byte) (bool, error) {
	if uint64(len(out)) != r.recordSize {
		return false, newErr("ring-read", r.seg.Name(), KindInvalidArgument, ErrRecordTooLarge)
	}
	slot, ok := r.ReadSlot()
	if !ok {
		return false, nil
	}
	copy(out, slot)
	r.ReadCommit()
	return true, nil
}

// Release detaches from the backing segment.
func (r *Ring) Release() error { return r.seg.Release() }
