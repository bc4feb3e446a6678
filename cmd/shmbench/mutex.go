package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/haldor-labs/shmipc/shm"
)

func runMutexBench(args []string) error {
	fs := flag.NewFlagSet("mutex", flag.ContinueOnError)
	name := fs.String("name", "shmbench-mutex", "segment name")
	goroutines := fs.Int("goroutines", 8, "number of goroutines contending for the lock")
	iterations := fs.Int("iterations", 50_000, "lock/unlock iterations per goroutine")
	lockTimeout := fs.Duration("lock-timeout", time.Second, "per-acquire timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := shm.AcquireMutex(*name, shm.ModeCreateOrOpen)
	if err != nil {
		return fmt.Errorf("acquire mutex: %w", err)
	}
	defer func() {
		m.Release()
		shm.Remove(*name)
	}()

	var counter int
	var wg sync.WaitGroup
	errs := make(chan error, *goroutines)

	start := time.Now()
	for g := 0; g < *goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < *iterations; i++ {
				ok, err := m.Lock(*lockTimeout)
				if err != nil {
					errs <- fmt.Errorf("lock: %w", err)
					return
				}
				if !ok {
					errs <- fmt.Errorf("lock timed out after %v", *lockTimeout)
					return
				}
				counter++
				if err := m.Unlock(); err != nil {
					errs <- fmt.Errorf("unlock: %w", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	want := *goroutines * *iterations
	if counter != want {
		return fmt.Errorf("counter = %d after contention, want %d (mutex let a critical section overlap)", counter, want)
	}

	fmt.Fprintf(os.Stdout, "%d goroutines x %d iterations = %d acquisitions in %v (%.0f acquisitions/s)\n",
		*goroutines, *iterations, want, elapsed, float64(want)/elapsed.Seconds())
	return nil
}
