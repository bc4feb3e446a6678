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
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Logger receives diagnostics for failures that are swallowed rather than
// propagated (background unmap/unlink errors). The default is a no-op; a
// host application can replace it to observe these without this package
// forcing a particular logging library on its dependents.
var Logger = func(format string, args ...interface{}) {}

// Mode selects how Acquire treats an existing (or missing) segment.
type Mode int

const (
	// ModeOpen attaches to an existing segment; fails with KindNotFound if
	// none exists.
	ModeOpen Mode = iota
	// ModeCreate creates a new segment; fails with KindAlreadyExists if one
	// already exists.
	ModeCreate
	// ModeCreateOrOpen creates the segment if absent, or attaches to it if
	// present. Creation is atomic: exactly one caller across all racing
	// processes performs the initialization.
	ModeCreateOrOpen
)

// segAlign is the alignment boundary requested sizes are rounded up to
// before the attach counter is appended. 8 bytes keeps any 64-bit atomic
// a caller places at the start of the payload naturally aligned.
const segAlign = 8

// counterSlotSize is the space reserved for the attach counter. Only the
// first 4 bytes are used (a uint32), but 8 bytes keeps the slot 8-byte
// aligned regardless of payload size, matching segAlign.
const counterSlotSize = 8

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// Segment is a mapped, reference-counted named shared-memory region. The
// attach counter lives inside the mapped bytes, immediately after the
// (rounded) user payload.
type Segment struct {
	name       string
	path       string
	file       *os.File
	mem        []byte
	userSize   uint64 // declared, alignment-rounded payload size
	counterOff uint64 // offset of the attach counter within mem
	released   atomic.Bool
}

// Acquire acquires a named segment of at least size user-visible bytes.
// size must match across every caller that attaches to the same segment;
// ModeOpen in particular has no way to discover the declared size from the
// OS alone (a page-rounded file size is not the same as the declared
// payload size), so callers of ModeOpen must pass the size the creator
// used.
func Acquire(name string, size uint64, mode Mode) (*Segment, error) {
	const op = "acquire"
	if err := validateName(op, name); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, newErr(op, name, KindInvalidArgument, fmt.Errorf("size must be > 0"))
	}

	payload := alignUp(size, segAlign)
	total := payload + counterSlotSize
	path := segmentPath(name)

	switch mode {
	case ModeOpen:
		return openSegment(op, name, path, payload, total, false)
	case ModeCreate:
		return createSegment(op, name, path, payload, total)
	case ModeCreateOrOpen:
		return acquireCreateOrOpen(op, name, path, payload, total)
	default:
		return nil, newErr(op, name, KindInvalidArgument, fmt.Errorf("unknown mode %d", mode))
	}
}

// acquireCreateOrOpen implements the atomic create-or-open contract,
// including recovery from a crash-leftover segment whose on-disk size
// disagrees with what this caller declared: such a segment is unlinked
// and recreated rather than treated as a hard failure.
func acquireCreateOrOpen(op, name, path string, payload, total uint64) (*Segment, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		seg, err := createSegment(op, name, path, payload, total)
		if err == nil {
			return seg, nil
		}
		var serr *Error
		if !errors.As(err, &serr) || serr.Kind != KindAlreadyExists {
			return nil, err
		}

		seg, err = openSegment(op, name, path, payload, total, true)
		if err == nil {
			return seg, nil
		}
		if errors.As(err, &serr) && (serr.Kind == KindNotFound || serr.Kind == KindAlreadyExists) {
			// Either the creator unlinked between our EEXIST and our open
			// (NotFound), or we detected and removed a wrong-size
			// crash-leftover and must retry from the top (AlreadyExists is
			// reused here as "retry me"). Either way, loop.
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, newErr(op, name, KindIoError, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr))
}

func createSegment(op, name, path string, payload, total uint64) (*Segment, error) {
	file, mem, err := platformCreate(path, total)
	if err != nil {
		if os.IsExist(err) {
			return nil, newErr(op, name, KindAlreadyExists, err)
		}
		return nil, newErr(op, name, KindIoError, err)
	}
	seg := &Segment{name: name, path: path, file: file, mem: mem, userSize: payload, counterOff: payload}
	atomic.StoreUint32(seg.counterPtr(), 1)
	return seg, nil
}

// openSegment attaches to an existing segment. When allowRecovery is true
// (only set from the create-or-open path) a size mismatch triggers
// unlink-and-retry instead of a hard failure, covering a crash-leftover
// segment of the wrong size.
func openSegment(op, name, path string, payload, total uint64, allowRecovery bool) (*Segment, error) {
	file, mem, err := platformOpen(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newErr(op, name, KindNotFound, err)
		}
		return nil, newErr(op, name, KindIoError, err)
	}

	if uint64(len(mem)) != total {
		_ = platformUnmap(mem)
		_ = file.Close()
		if allowRecovery {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				Logger("shm: unlink stale segment %q: %v", name, rmErr)
			}
			return nil, newErr(op, name, KindAlreadyExists, fmt.Errorf("stale segment of wrong size removed, retry"))
		}
		return nil, newErr(op, name, KindIoError, fmt.Errorf("declared size %d does not match existing segment size %d", total, len(mem)))
	}

	seg := &Segment{name: name, path: path, file: file, mem: mem, userSize: payload, counterOff: payload}
	atomic.AddUint32(seg.counterPtr(), 1)
	return seg, nil
}

func (s *Segment) counterPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[s.counterOff]))
}

// Name returns the (unshortened) name this segment was acquired with.
func (s *Segment) Name() string { return s.name }

// Payload returns the user-visible mapped bytes, excluding the trailing
// attach counter.
func (s *Segment) Payload() []byte { return s.mem[:s.userSize] }

// Mem returns the full mapped region, including the trailing attach
// counter slot, along with its total size.
func (s *Segment) Mem() ([]byte, uint64) { return s.mem, uint64(len(s.mem)) }

// Ref returns the current attach counter value.
func (s *Segment) Ref() int32 {
	return int32(atomic.LoadUint32(s.counterPtr()))
}

// Release decrements the attach counter. On transition to zero the segment
// is unmapped and unlinked from the namespace. Release is idempotent: a
// second call is a no-op.
func (s *Segment) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	remaining := atomic.AddUint32(s.counterPtr(), ^uint32(0)) // -1
	if err := platformUnmap(s.mem); err != nil {
		Logger("shm: unmap %q: %v", s.name, err)
	}
	if err := s.file.Close(); err != nil {
		Logger("shm: close %q: %v", s.name, err)
	}
	if remaining == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			Logger("shm: unlink %q: %v", s.name, err)
		}
	}
	return nil
}

// Sync flushes the mapped region to its backing file with MS_SYNC. This is
// not needed for cross-process visibility (every attacher already sees the
// same physical pages); it exists for callers that want a durability
// guarantee stronger than "visible to other processes" before, say,
// reporting a write as committed.
func (s *Segment) Sync() error {
	if platformSync == nil {
		return newErr("sync", s.name, KindUnavailable, fmt.Errorf("not supported on this platform"))
	}
	if err := platformSync(s.mem); err != nil {
		return newErr("sync", s.name, KindIoError, err)
	}
	return nil
}

// Remove force-unlinks the namespace entry for name. Existing mappings are
// unaffected (POSIX semantics: the inode lives until the last mapping is
// released).
func Remove(name string) error {
	path := segmentPath(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return newErr("remove", name, KindIoError, err)
	}
	return nil
}

// ClearStorage is a synonym for Remove.
func ClearStorage(name string) error { return Remove(name) }
