//go:build linux && (amd64 || arm64)

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

	"golang.org/x/sys/unix"
)

func init() {
	platformCreate = createUnix
	platformOpen = openUnix
	platformUnmap = unmapUnix
	platformSync = syncUnix
	defaultSegmentDir = devShmOrTempDir
	pidAliveFn = pidAliveUnix
}

// pidAliveUnix sends signal 0, which performs permission/existence checks
// without actually signaling the process.
func pidAliveUnix(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// createUnix creates path exclusively, sizes it to total bytes and maps it
// MAP_SHARED so every attacher sees the same physical pages.
func createUnix(path string, total uint64) (*os.File, []byte, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, nil, err
	}
	if err := file.Truncate(int64(total)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, nil, fmt.Errorf("truncate: %w", err)
	}
	mem, err := mmapUnix(file, int(total))
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, nil, err
	}
	return file, mem, nil
}

// openUnix attaches to an existing segment at whatever size it already is;
// the caller compares that size against its own declaration.
func openUnix(path string) (*os.File, []byte, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("stat: %w", err)
	}
	mem, err := mmapUnix(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, mem, nil
}

func mmapUnix(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return mem, nil
}

func unmapUnix(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}

// syncUnix flushes mem to its backing file, for Segment.Sync.
func syncUnix(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Msync(mem, unix.MS_SYNC)
}

// devShmOrTempDir prefers tmpfs-backed /dev/shm (no disk I/O, the
// conventional POSIX shared-memory mount point) and falls back to the OS
// temp directory when it is absent, e.g. inside some containers.
func devShmOrTempDir() string {
	info, err := os.Stat("/dev/shm")
	if err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
