package envelope_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/haldor-labs/shmipc/envelope"
	"github.com/haldor-labs/shmipc/shm"
)

type controlMessage struct {
	Instance int32
	Command  string
	Args     []string
}

func TestTypedChannelRoundTrip(t *testing.T) {
	names := envelope.DerivedNames(fmt.Sprintf("typedtest-%s-%d", t.Name(), os.Getpid()))

	txCh, err := envelope.Open(names, 4, 256, envelope.RoleSender, shm.ModeCreateOrOpen)
	require.NoError(t, err)
	rxCh, err := envelope.Open(names, 4, 256, envelope.RoleReceiver, shm.ModeCreateOrOpen)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, txCh.Close())
		require.NoError(t, rxCh.Close())
	})

	tx := envelope.NewTypedChannel[controlMessage](txCh)
	rx := envelope.NewTypedChannel[controlMessage](rxCh)

	want := controlMessage{Instance: 3, Command: "start", Args: []string{"--id", "3"}}
	ok, err := tx.Send(want, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	msg, ok, err := rx.Recv(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, msg.Verify())

	got, err := msg.Root()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded message mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderFinishIsIdempotent(t *testing.T) {
	b := envelope.NewBuilder(controlMessage{Instance: 1, Command: "ping"})
	first, err := b.Finish()
	require.NoError(t, err)
	second, err := b.Finish()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestMessageVerifyRejectsGarbage(t *testing.T) {
	names := envelope.DerivedNames(fmt.Sprintf("typedverify-%s-%d", t.Name(), os.Getpid()))

	txCh, err := envelope.Open(names, 4, 256, envelope.RoleSender, shm.ModeCreateOrOpen)
	require.NoError(t, err)
	rxCh, err := envelope.Open(names, 4, 256, envelope.RoleReceiver, shm.ModeCreateOrOpen)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, txCh.Close())
		require.NoError(t, rxCh.Close())
	})

	// A raw, non-msgpack payload sent on the untyped channel must fail
	// Verify on the typed receiving end rather than panicking or silently
	// decoding to a zero value.
	ok, err := txCh.Send([]byte{0xff, 0xff, 0xff, 0xff}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	rx := envelope.NewTypedChannel[controlMessage](rxCh)
	msg, ok, err := rx.Recv(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Error(t, msg.Verify())
}
