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

// Package registry implements the shared-memory service discovery table:
// a fixed-size, spinlock-guarded table of live service advertisements,
// keyed by name within a domain.
package registry

import (
	"encoding/binary"

	"github.com/haldor-labs/shmipc/shm"
)

// Field widths and offsets are fixed exactly as laid out below, so any
// process attaching to a registry segment — regardless of which binary
// wrote it — agrees on the layout:
//
//	offset  size  field
//	0       64    name (NUL-padded)
//	64      64    control_channel
//	128     64    reply_channel
//	192     4     pid (i32, native byte order)
//	196     8     registered_at (i64 seconds since epoch)
//	204     4     flags (reserved, 0)
//
// A native Go struct cannot express this directly: registeredAt sits at
// offset 196, which is not 8-byte aligned, so the compiler would insert
// padding before it and shift every following field. Entries are instead
// encoded/decoded as raw byte windows using encoding/binary, matching the
// declared offsets bit for bit.
const (
	nameFieldLen    = 64
	channelFieldLen = 64

	offName         = 0
	offControl      = offName + nameFieldLen
	offReply        = offControl + channelFieldLen
	offPID          = offReply + channelFieldLen
	offRegisteredAt = offPID + 4
	offFlags        = offRegisteredAt + 8
	entrySize       = offFlags + 4 // 208
)

// MaxServices is the fixed number of slots in a registry table.
const MaxServices = 32

// ServiceEntry is an owned copy of one registry slot. Find/FindAll/List
// all return copies, never a pointer into the shared table, since GC can
// reap the underlying slot at any time.
type ServiceEntry struct {
	Name           string
	ControlChannel string
	ReplyChannel   string
	PID            int32
	RegisteredAt   int64
}

// Active reports whether the entry is occupied at all.
func (e ServiceEntry) Active() bool { return e.Name != "" }

// IsAlive reports whether the entry's PID still names a running process.
// An inactive entry is never alive.
func (e ServiceEntry) IsAlive() bool {
	return e.Active() && shm.ProcessAlive(int(e.PID))
}

func decodeCString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func encodeCString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

func decodeEntry(b []byte) ServiceEntry {
	return ServiceEntry{
		Name:           decodeCString(b[offName : offName+nameFieldLen]),
		ControlChannel: decodeCString(b[offControl : offControl+channelFieldLen]),
		ReplyChannel:   decodeCString(b[offReply : offReply+channelFieldLen]),
		PID:            int32(binary.NativeEndian.Uint32(b[offPID:])),
		RegisteredAt:   int64(binary.NativeEndian.Uint64(b[offRegisteredAt:])),
	}
}

func encodeEntry(b []byte, e ServiceEntry) {
	for i := range b {
		b[i] = 0
	}
	encodeCString(b[offName:offName+nameFieldLen], e.Name)
	encodeCString(b[offControl:offControl+channelFieldLen], e.ControlChannel)
	encodeCString(b[offReply:offReply+channelFieldLen], e.ReplyChannel)
	binary.NativeEndian.PutUint32(b[offPID:], uint32(e.PID))
	binary.NativeEndian.PutUint64(b[offRegisteredAt:], uint64(e.RegisteredAt))
	// flags (offFlags) is reserved and left zero.
}

func clearEntry(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
