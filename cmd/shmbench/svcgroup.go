package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/haldor-labs/shmipc/registry"
	"github.com/haldor-labs/shmipc/shm"
	"github.com/haldor-labs/shmipc/svcgroup"
)

func runSvcgroupDemo(args []string) error {
	fs := flag.NewFlagSet("svcgroup", flag.ContinueOnError)
	domain := fs.String("domain", "shmbench-svcgroup", "registry domain")
	serviceName := fs.String("service-name", "demo-worker", "logical service name")
	executable := fs.String("executable", "", "worker executable (must register itself under <service-name>.<index>)")
	replicas := fs.Int("replicas", 2, "number of replica instances")
	autoRespawn := fs.Bool("auto-respawn", true, "respawn dead instances")
	spawnTimeout := fs.Duration("spawn-timeout", 5*time.Second, "per-instance registration deadline")
	watch := fs.Duration("watch", 10*time.Second, "how long to health-check before stopping")
	forceFailover := fs.Bool("force-failover", false, "kill the primary partway through the watch window, to show election pick a standby")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *executable == "" {
		return fmt.Errorf("--executable is required")
	}

	reg, err := registry.Open(*domain, shm.ModeCreateOrOpen)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer func() {
		reg.Close()
		shm.Remove(fmt.Sprintf("__ipc_registry__%s", *domain))
	}()

	cfg := svcgroup.Config{
		ServiceName:  *serviceName,
		Executable:   *executable,
		Replicas:     *replicas,
		AutoRespawn:  *autoRespawn,
		SpawnTimeout: *spawnTimeout,
	}
	group := svcgroup.New(reg, cfg)
	ctx := context.Background()

	if !group.Start(ctx) {
		return fmt.Errorf("no instance of %s came alive within %v", *serviceName, *spawnTimeout)
	}
	printPrimary(group)

	deadline := time.Now().Add(*watch)
	didFailover := false
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)

		if *forceFailover && !didFailover && time.Now().After(deadline.Add(-*watch/2)) {
			fmt.Fprintln(os.Stdout, "forcing failover...")
			group.ForceFailover(ctx)
			didFailover = true
			printPrimary(group)
			continue
		}

		if group.HealthCheck(ctx) {
			fmt.Fprintln(os.Stdout, "health check detected a failover")
			printPrimary(group)
		}
	}

	fmt.Fprintf(os.Stdout, "stopping; %d/%d instances were alive\n", group.AliveCount(), *replicas)
	group.Stop(2 * time.Second)
	return nil
}

func printPrimary(group *svcgroup.Group) {
	p, ok := group.Primary()
	if !ok {
		fmt.Fprintln(os.Stdout, "no primary elected")
		return
	}
	fmt.Fprintf(os.Stdout, "primary: %s (pid=%d)\n", p.InstanceName, p.Entry.PID)
}
