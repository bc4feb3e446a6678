package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/haldor-labs/shmipc/registry"
	"github.com/haldor-labs/shmipc/shm"
)

func runRegistryDemo(args []string) error {
	fs := flag.NewFlagSet("registry", flag.ContinueOnError)
	domain := fs.String("domain", "shmbench-demo", "registry domain")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := registry.Open(*domain, shm.ModeCreateOrOpen)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() {
		r.Close()
		shm.Remove(fmt.Sprintf("__ipc_registry__%s", *domain))
	}()

	ctx := context.Background()
	pid := int32(os.Getpid())

	services := []struct{ name, control, reply string }{
		{"audio.0", "audio.0.ctl", "audio.0.reply"},
		{"audio.1", "audio.1.ctl", "audio.1.reply"},
		{"video.0", "video.0.ctl", "video.0.reply"},
	}
	for _, s := range services {
		if err := r.Register(ctx, s.name, s.control, s.reply, pid); err != nil {
			return fmt.Errorf("register %s: %w", s.name, err)
		}
	}

	entries, err := r.List(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	fmt.Fprintf(os.Stdout, "registered %d services:\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(os.Stdout, "  %-12s pid=%-8d control=%-14s reply=%-14s registered_at=%d\n",
			e.Name, e.PID, e.ControlChannel, e.ReplyChannel, e.RegisteredAt)
	}

	audioServices, err := r.FindAll(ctx, "audio.")
	if err != nil {
		return fmt.Errorf("find all audio.*: %w", err)
	}
	fmt.Fprintf(os.Stdout, "audio.* services: %d\n", len(audioServices))

	for _, s := range services {
		if err := r.Unregister(ctx, s.name, pid); err != nil {
			return fmt.Errorf("unregister %s: %w", s.name, err)
		}
	}
	fmt.Fprintf(os.Stdout, "unregistered all demo services; final count=%d\n", r.Count())
	return nil
}
