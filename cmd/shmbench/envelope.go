package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/haldor-labs/shmipc/envelope"
	"github.com/haldor-labs/shmipc/shm"
)

// pingMessage is the demo payload, serialized over the typed channel with
// msgpack the same way a real control-plane message would be.
type pingMessage struct {
	Seq       int    `msgpack:"seq"`
	Text      string `msgpack:"text"`
	SentAtUTC int64  `msgpack:"sent_at_utc"`
}

func runEnvelopeDemo(args []string) error {
	fs := flag.NewFlagSet("envelope", flag.ContinueOnError)
	base := fs.String("name", "shmbench-envelope", "base channel name")
	capacity := fs.Uint64("capacity", 16, "ring capacity, in records")
	count := fs.Int("count", 5, "number of messages to send")
	if err := fs.Parse(args); err != nil {
		return err
	}

	names := envelope.DerivedNames(*base)
	defer func() {
		shm.Remove(names.Ring)
		shm.Remove(names.Items)
		shm.Remove(names.Space)
	}()

	txChan, err := envelope.Open(names, *capacity, 256, envelope.RoleSender, shm.ModeCreateOrOpen)
	if err != nil {
		return fmt.Errorf("open sender: %w", err)
	}
	defer txChan.Close()
	rxChan, err := envelope.Open(names, *capacity, 256, envelope.RoleReceiver, shm.ModeCreateOrOpen)
	if err != nil {
		return fmt.Errorf("open receiver: %w", err)
	}
	defer rxChan.Close()

	tx := envelope.NewTypedChannel[pingMessage](txChan)
	rx := envelope.NewTypedChannel[pingMessage](rxChan)

	done := make(chan error, 1)
	go func() {
		for i := 0; i < *count; i++ {
			msg, ok, err := rx.Recv(2 * time.Second)
			if err != nil {
				done <- fmt.Errorf("recv: %w", err)
				return
			}
			if !ok {
				done <- fmt.Errorf("recv timed out waiting for message %d", i)
				return
			}
			root, err := msg.Root()
			if err != nil {
				done <- fmt.Errorf("decode message %d: %w", i, err)
				return
			}
			fmt.Fprintf(os.Stdout, "received seq=%d text=%q\n", root.Seq, root.Text)
		}
		done <- nil
	}()

	for i := 0; i < *count; i++ {
		m := pingMessage{Seq: i, Text: fmt.Sprintf("hello #%d", i), SentAtUTC: time.Now().Unix()}
		ok, err := tx.Send(m, 2*time.Second)
		if err != nil {
			return fmt.Errorf("send %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("send %d timed out", i)
		}
	}

	if err := <-done; err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "exchanged %d messages\n", *count)
	return nil
}
