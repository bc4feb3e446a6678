//go:build !linux || !(amd64 || arm64)

package shm

import "time"

func init() {
	parkFn = func(addr *uint32, expected uint32, timeout time.Duration) error {
		return ErrUnsupported
	}
	unparkOneFn = func(addr *uint32) {}
	unparkAllFn = func(addr *uint32) {}
}
