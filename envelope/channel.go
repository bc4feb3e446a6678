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

// Package envelope implements a typed message channel over the toolkit's
// shared-memory primitives: a single-direction byte channel built from a
// non-blocking shm.Ring plus a pair of shm.Semaphores for blocking
// send/recv, with a typed builder/message wrapper on top.
package envelope

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/haldor-labs/shmipc/shm"
)

// Role restricts a ByteChannel to one direction: a channel configured as
// sender may only send, and one configured as receiver may only recv.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// frameHeaderSize is the length prefix placed before each message's bytes
// within a ring record.
const frameHeaderSize = 4

// ByteChannel is a bounded, single-producer/single-consumer byte pipe.
// Suspension only happens in Send/Recv; the ring buffer beneath it never
// blocks.
type ByteChannel struct {
	ring  *shm.Ring
	items *shm.Semaphore // posted once per committed message
	space *shm.Semaphore // posted once per message the reader has drained
	role  Role
	maxMsg uint64
}

// ChannelNames are the three shared-segment names a ByteChannel needs.
// Both the sender and receiver peer must derive the same names, typically
// by formatting a shared base name consistently (see DerivedNames).
type ChannelNames struct {
	Ring  string
	Items string
	Space string
}

// DerivedNames builds the three segment names for a channel from one base
// name, so callers do not have to hand-manage three separate names.
func DerivedNames(base string) ChannelNames {
	return ChannelNames{
		Ring:  base + "__ring",
		Items: base + "__items",
		Space: base + "__space",
	}
}

// Open attaches to (or creates) a byte channel. capacity must be a power
// of two (ring buffer constraint); maxMessageSize bounds any single
// message's payload.
func Open(names ChannelNames, capacity, maxMessageSize uint64, role Role, mode shm.Mode) (*ByteChannel, error) {
	recordSize := maxMessageSize + frameHeaderSize
	ring, err := shm.AcquireRing(names.Ring, capacity, recordSize, mode)
	if err != nil {
		return nil, err
	}
	items, err := shm.AcquireSemaphore(names.Items, mode)
	if err != nil {
		ring.Release()
		return nil, err
	}
	space, err := shm.AcquireSemaphore(names.Space, mode)
	if err != nil {
		items.Release()
		ring.Release()
		return nil, err
	}

	c := &ByteChannel{ring: ring, items: items, space: space, role: role, maxMsg: maxMessageSize}

	// A freshly created space semaphore must start at `capacity` free
	// slots; AcquireSemaphore always starts a new segment at 0. Ref()==1
	// right after acquire is the same "did I just create this" signal
	// shm.AcquireRing uses internally for ModeCreateOrOpen, so exactly one
	// racing caller performs the top-up.
	if ring.Ref() == 1 {
		space.Post(uint32(capacity))
	}

	return c, nil
}

// Close detaches from the channel's backing segments.
func (c *ByteChannel) Close() error {
	var firstErr error
	if err := c.ring.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.items.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.space.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Send transmits data, blocking up to timeout (<=0 blocks forever) while
// the channel is full. It reports ok=false only on timeout.
func (c *ByteChannel) Send(data []byte, timeout time.Duration) (ok bool, err error) {
	if c.role != RoleSender {
		return false, fmt.Errorf("envelope: channel not configured as sender")
	}
	if uint64(len(data)) > c.maxMsg {
		return false, shm.NewError("send", "", shm.KindInvalidArgument, fmt.Errorf("message of %d bytes exceeds max %d", len(data), c.maxMsg))
	}

	ok, err = c.space.Wait(timeout)
	if err != nil || !ok {
		return false, err
	}

	slot, gotSlot := c.ring.WriteSlot()
	if !gotSlot {
		// space.Wait succeeded, so a slot must be free; this would only
		// happen if a second concurrent sender raced this one, which a
		// single-producer channel forbids.
		return false, shm.NewError("send", "", shm.KindUnavailable, fmt.Errorf("ring reported full despite available space token"))
	}
	binary.BigEndian.PutUint32(slot[:frameHeaderSize], uint32(len(data)))
	copy(slot[frameHeaderSize:], data)
	c.ring.WriteCommit()

	c.items.Post(1)
	return true, nil
}

// Recv waits up to timeout (<=0 blocks forever) for a message and returns
// an owned copy of its payload.
func (c *ByteChannel) Recv(timeout time.Duration) (data []byte, ok bool, err error) {
	if c.role != RoleReceiver {
		return nil, false, fmt.Errorf("envelope: channel not configured as receiver")
	}

	ok, err = c.items.Wait(timeout)
	if err != nil || !ok {
		return nil, false, err
	}

	slot, gotSlot := c.ring.ReadSlot()
	if !gotSlot {
		return nil, false, shm.NewError("recv", "", shm.KindUnavailable, fmt.Errorf("ring reported empty despite available item token"))
	}
	n := binary.BigEndian.Uint32(slot[:frameHeaderSize])
	out := make([]byte, n)
	copy(out, slot[frameHeaderSize:frameHeaderSize+uint64(n)])
	c.ring.ReadCommit()

	c.space.Post(1)
	return out, true, nil
}
