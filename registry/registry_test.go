package registry_test

import (
	"context"
	"fmt"
	"os"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/haldor-labs/shmipc/registry"
	"github.com/haldor-labs/shmipc/shm"
)

func testDomain(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), os.Getpid())
}

func openTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	domain := testDomain(t)
	r, err := registry.Open(domain, shm.ModeCreate)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
		require.NoError(t, shm.Remove(fmt.Sprintf("__ipc_registry__%s", domain)))
	})
	return r
}

func TestRegisterThenFind(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "svc.alpha", "ctl.alpha", "reply.alpha", int32(os.Getpid())))

	got, ok, err := r.Find(ctx, "svc.alpha")
	require.NoError(t, err)
	require.True(t, ok)
	require.Greater(t, got.RegisteredAt, int64(0))

	want := registry.ServiceEntry{
		Name:           "svc.alpha",
		ControlChannel: "ctl.alpha",
		ReplyChannel:   "reply.alpha",
		PID:            int32(os.Getpid()),
		RegisteredAt:   got.RegisteredAt, // wall-clock, not part of the comparison
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterDuplicateAliveFails(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "svc.dup", "c", "r", int32(os.Getpid())))
	err := r.Register(ctx, "svc.dup", "c2", "r2", int32(os.Getpid()))
	require.Error(t, err)
	require.True(t, shmErrorIs(err, shm.KindAlreadyExists))
}

func TestFindMissingReturnsFalse(t *testing.T) {
	r := openTestRegistry(t)
	_, ok, err := r.Find(context.Background(), "svc.nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnregisterRequiresMatchingPID(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "svc.owned", "c", "r", int32(os.Getpid())))

	require.NoError(t, r.Unregister(ctx, "svc.owned", 999999))
	_, ok, err := r.Find(ctx, "svc.owned")
	require.NoError(t, err)
	require.True(t, ok, "unregister with wrong pid must not remove the entry")

	require.NoError(t, r.Unregister(ctx, "svc.owned", int32(os.Getpid())))
	_, ok, err = r.Find(ctx, "svc.owned")
	require.NoError(t, err)
	require.False(t, ok, "unregister with matching pid must remove the entry")
}

func TestFindAllPrefix(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	names := []string{"audio.in", "audio.out", "control.main"}
	for _, n := range names {
		require.NoError(t, r.Register(ctx, n, "c", "r", int32(os.Getpid())))
	}

	got, err := r.FindAll(ctx, "audio.")
	require.NoError(t, err)
	require.Len(t, got, 2)

	var gotNames []string
	for _, e := range got {
		gotNames = append(gotNames, e.Name)
	}
	sort.Strings(gotNames)
	require.Equal(t, []string{"audio.in", "audio.out"}, gotNames)
}

func TestListReturnsEveryEntry(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Register(ctx, fmt.Sprintf("svc.%d", i), "c", "r", int32(os.Getpid())))
	}

	got, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 5)
}

func TestGCCollectsDeadEntries(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	// A PID essentially guaranteed to be dead: forked-and-reaped, not the
	// caller's own PID, not pid 1.
	deadPID := spawnAndReap(t)

	// The live entry goes in first: Register reuses the first empty or dead
	// slot, so registering it after the dead one would overwrite it.
	require.NoError(t, r.Register(ctx, "svc.alive", "c", "r", int32(os.Getpid())))
	require.NoError(t, r.Register(ctx, "svc.dead", "c", "r", deadPID))

	n, err := r.GC(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := r.Find(ctx, "svc.dead")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = r.Find(ctx, "svc.alive")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRegisterReusesSlotOfDeadEntryWithSameName(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	deadPID := spawnAndReap(t)
	require.NoError(t, r.Register(ctx, "svc.A", "c-old", "r-old", deadPID))

	require.NoError(t, r.Register(ctx, "svc.A", "c-new", "r-new", int32(os.Getpid())))

	got, ok, err := r.Find(ctx, "svc.A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c-new", got.ControlChannel)
	require.Equal(t, int32(os.Getpid()), got.PID)
}

func TestClearZeroesTable(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "svc.x", "c", "r", int32(os.Getpid())))
	require.NoError(t, r.Clear(ctx))

	got, err := r.List(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 0, r.Count())
}

func TestRegisterFullTableFails(t *testing.T) {
	r := openTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < registry.MaxServices; i++ {
		require.NoError(t, r.Register(ctx, fmt.Sprintf("svc.%d", i), "c", "r", int32(os.Getpid())))
	}

	err := r.Register(ctx, "svc.overflow", "c", "r", int32(os.Getpid()))
	require.Error(t, err)
	require.True(t, shmErrorIs(err, shm.KindFull))
}

func shmErrorIs(err error, kind shm.ErrorKind) bool {
	var serr *shm.Error
	if e, ok := err.(*shm.Error); ok {
		serr = e
		return serr.Kind == kind
	}
	return false
}

// spawnAndReap forks a child that exits immediately and waits for it,
// returning its now-dead PID for dead-entry tests.
func spawnAndReap(t *testing.T) int32 {
	t.Helper()
	proc, err := os.StartProcess(trueBinary(), []string{trueBinary()}, &os.ProcAttr{})
	require.NoError(t, err)
	pid := proc.Pid
	_, err = proc.Wait()
	require.NoError(t, err)
	return int32(pid)
}

func trueBinary() string {
	for _, p := range []string{"/bin/true", "/usr/bin/true"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return "/bin/true"
}
