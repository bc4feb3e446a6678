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

// Package procmgr is the toolkit's minimal cross-platform subprocess
// control surface: spawn, liveness probing, graceful/forceful termination,
// and bounded wait-for-exit.
package procmgr

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/haldor-labs/shmipc/shm"
)

// Handle is a spawned child process. It is not copyable in a way that
// duplicates ownership: the zero value is invalid, and callers pass
// *Handle, never a value copy, to keep exactly one owner of the
// underlying *os.Process.
type Handle struct {
	// Name is the logical label stored for the registry.
	Name string
	// Executable is the path to the spawned binary.
	Executable string
	// PID is the child's process id. Zero means invalid/never spawned.
	PID int

	cmd      *exec.Cmd
	waitOnce sync.Once
	waitDone chan struct{}
	waitErr  error
}

// Valid reports whether the handle names a process that was actually
// spawned.
func (h *Handle) Valid() bool { return h != nil && h.PID > 0 }

// IsAlive reports whether the process is still running. The child is
// reaped in the background, so one that has exited is reported dead rather
// than lingering as a zombie; until then this uses the same PID-liveness
// probe the mutex's dead-owner recovery and the registry's opportunistic
// GC use (shm.ProcessAlive).
func (h *Handle) IsAlive() bool {
	if !h.Valid() {
		return false
	}
	h.startWait()
	select {
	case <-h.waitDone:
		return false
	default:
	}
	return shm.ProcessAlive(h.PID)
}

// Spawn forks/execs executable with args, storing name as the handle's
// logical label. Callers that implement a supervised worker are expected
// to pass exactly one argument: the instance id as a decimal string.
func Spawn(name, executable string, args []string) (*Handle, error) {
	cmd := exec.Command(executable, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procmgr: spawn %q (%s): %w", name, executable, err)
	}
	return &Handle{
		Name:       name,
		Executable: executable,
		PID:        cmd.Process.Pid,
		cmd:        cmd,
		waitDone:   make(chan struct{}),
	}, nil
}

// startWait reaps the child exactly once, regardless of how many
// WaitForExit calls race to trigger it; every call shares the same
// waitDone signal and waitErr result.
func (h *Handle) startWait() {
	h.waitOnce.Do(func() {
		go func() {
			h.waitErr = h.cmd.Wait()
			close(h.waitDone)
		}()
	})
}

// RequestShutdown sends a polite termination signal (SIGTERM).
func (h *Handle) RequestShutdown() bool {
	if !h.Valid() {
		return false
	}
	return h.cmd.Process.Signal(syscall.SIGTERM) == nil
}

// ForceKill terminates the process immediately (SIGKILL).
func (h *Handle) ForceKill() bool {
	if !h.Valid() {
		return false
	}
	return h.cmd.Process.Kill() == nil
}

// ExitStatus is the outcome of WaitForExit.
type ExitStatus struct {
	// Exited is true if the process ran to completion (possibly with a
	// non-zero exit code).
	Exited bool
	// ExitCode is valid only when Exited is true.
	ExitCode int
	// Signaled is true if the process was terminated by a signal.
	Signaled bool
	// Signal is valid only when Signaled is true.
	Signal int
	// StillRunning is true if the timeout elapsed with the process still
	// alive; in that case Exited and Signaled are both false.
	StillRunning bool
}

// WaitForExit blocks up to timeout for the process to exit. A timeout
// <= 0 waits indefinitely. The underlying wait is reaped exactly once;
// calling WaitForExit again after a successful reap returns the same
// terminal ExitStatus rather than erroring.
func (h *Handle) WaitForExit(timeout time.Duration) ExitStatus {
	if !h.Valid() {
		return ExitStatus{}
	}

	h.startWait()

	if timeout <= 0 {
		<-h.waitDone
		return exitStatusFromWaitError(h.waitErr)
	}

	select {
	case <-h.waitDone:
		return exitStatusFromWaitError(h.waitErr)
	case <-time.After(timeout):
		return ExitStatus{StillRunning: true}
	}
}

func exitStatusFromWaitError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{Exited: true, ExitCode: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return ExitStatus{Signaled: true, Signal: int(ws.Signal())}
			}
			return ExitStatus{Exited: true, ExitCode: ws.ExitStatus()}
		}
		return ExitStatus{Exited: true, ExitCode: exitErr.ExitCode()}
	}
	return ExitStatus{}
}

// Shutdown implements a graceful-then-forceful termination sequence:
// request → wait up to grace → force_kill if still alive → short final
// wait.
func (h *Handle) Shutdown(grace time.Duration) ExitStatus {
	if !h.Valid() {
		return ExitStatus{}
	}
	h.RequestShutdown()
	status := h.WaitForExit(grace)
	if status.StillRunning && h.IsAlive() {
		h.ForceKill()
		return h.WaitForExit(time.Second)
	}
	return status
}
