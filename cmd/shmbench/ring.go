package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/haldor-labs/shmipc/shm"
)

func runRingBench(args []string) error {
	fs := flag.NewFlagSet("ring", flag.ContinueOnError)
	name := fs.String("name", "shmbench-ring", "segment name")
	capacity := fs.Uint64("capacity", 4096, "ring capacity, in records")
	recordSize := fs.Uint64("record-size", 256, "record size, in bytes")
	count := fs.Uint64("count", 1_000_000, "number of records to push through the ring")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r, err := shm.AcquireRing(*name, *capacity, *recordSize, shm.ModeCreateOrOpen)
	if err != nil {
		return fmt.Errorf("acquire ring: %w", err)
	}
	defer func() {
		r.Release()
		shm.Remove(*name)
	}()

	item := make([]byte, *recordSize)
	out := make([]byte, *recordSize)

	done := make(chan error, 1)
	go func() {
		var read uint64
		for read < *count {
			ok, err := r.Read(out)
			if err != nil {
				done <- fmt.Errorf("read: %w", err)
				return
			}
			if !ok {
				continue
			}
			read++
		}
		done <- nil
	}()

	start := time.Now()
	var written uint64
	for written < *count {
		ok, err := r.Write(item)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if !ok {
			continue
		}
		written++
	}

	if err := <-done; err != nil {
		return err
	}
	elapsed := time.Since(start)

	recordsPerSec := float64(*count) / elapsed.Seconds()
	bytesPerSec := recordsPerSec * float64(*recordSize)
	fmt.Fprintf(os.Stdout, "pushed %d records of %d bytes through a %d-record ring in %v (%.0f records/s, %.1f MB/s)\n",
		*count, *recordSize, *capacity, elapsed, recordsPerSec, bytesPerSec/1e6)
	return nil
}
