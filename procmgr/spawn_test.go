package procmgr

import (
	"os"
	"testing"
	"time"
)

func firstExisting(candidates ...string) string {
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return candidates[0]
}

func trueBinary() string  { return firstExisting("/bin/true", "/usr/bin/true") }
func sleepBinary() string { return firstExisting("/bin/sleep", "/usr/bin/sleep") }

func TestSpawnAndWaitForExit(t *testing.T) {
	h, err := Spawn("t", trueBinary(), nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !h.Valid() {
		t.Fatal("handle invalid after spawn")
	}

	status := h.WaitForExit(2 * time.Second)
	if !status.Exited {
		t.Fatalf("status = %+v, want exited", status)
	}
	if status.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", status.ExitCode)
	}
}

func TestWaitForExitTimesOutOnLongRunningProcess(t *testing.T) {
	h, err := Spawn("sleeper", sleepBinary(), []string{"5"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer h.ForceKill()

	status := h.WaitForExit(100 * time.Millisecond)
	if !status.StillRunning {
		t.Fatalf("status = %+v, want still running", status)
	}
	if !h.IsAlive() {
		t.Fatal("process should still be alive")
	}
}

func TestShutdownGracefulThenForceful(t *testing.T) {
	h, err := Spawn("sleeper", sleepBinary(), []string{"30"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	start := time.Now()
	status := h.Shutdown(100 * time.Millisecond)
	elapsed := time.Since(start)

	if !status.Signaled && !status.Exited {
		t.Fatalf("status = %+v, want the process reaped one way or another", status)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("shutdown took %v, want well under the sleep's own duration", elapsed)
	}
}

func TestRequestShutdownSendsSIGTERM(t *testing.T) {
	h, err := Spawn("sleeper", sleepBinary(), []string{"30"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer h.ForceKill()

	if !h.RequestShutdown() {
		t.Fatal("request shutdown failed")
	}
	status := h.WaitForExit(2 * time.Second)
	if !status.Signaled {
		t.Fatalf("status = %+v, want signaled (SIGTERM)", status)
	}
}
