package shm

import (
	"os"
	"time"
)

// The platform-specific files (segment_unix.go / segment_stub.go) wire
// these up in their init(). Keeping them as indirection points lets
// segment.go stay free of build tags.
var (
	platformCreate    func(path string, total uint64) (*os.File, []byte, error)
	platformOpen      func(path string) (*os.File, []byte, error)
	platformUnmap     func(mem []byte) error
	platformSync      func(mem []byte) error
	defaultSegmentDir func() string
)

// parkFn/unparkOneFn/unparkAllFn are wired by futex_linux.go or
// futex_stub.go. Park blocks while *addr == expected; Unpark wakes parked
// waiters so they re-check their condition. These are the sole primitive
// this package needs from the OS scheduler: the mutex, condition variable
// and semaphore are built from compare-and-swap loops over park and
// unpark. The ring buffer never parks.
var (
	parkFn      func(addr *uint32, expected uint32, timeout time.Duration) error
	unparkOneFn func(addr *uint32)
	unparkAllFn func(addr *uint32)
)

// park blocks while *addr == expected. timeout <= 0 blocks indefinitely.
func park(addr *uint32, expected uint32, timeout time.Duration) error {
	return parkFn(addr, expected, timeout)
}

// unparkOne wakes at most one waiter parked on addr.
func unparkOne(addr *uint32) { unparkOneFn(addr) }

// unparkAll wakes every waiter parked on addr.
func unparkAll(addr *uint32) { unparkAllFn(addr) }

// pidAliveFn probes whether pid names a live process, wired by
// segment_unix.go (unix.Kill(pid, 0)) or segment_stub.go.
var pidAliveFn func(pid int) bool

// pidAlive reports whether pid names a currently running process. This
// check is inherently racy (the process can die immediately after the
// check returns true); every caller treats a false negative as merely an
// extra timeout and a false positive as merely an extra spin iteration.
func pidAlive(pid int) bool { return pidAliveFn(pid) }

// ProcessAlive is the exported form of pidAlive, used by packages outside
// shm that need the same liveness probe (the registry's dead-entry GC, in
// particular) without duplicating the platform dispatch.
func ProcessAlive(pid int) bool { return pidAliveFn(pid) }
