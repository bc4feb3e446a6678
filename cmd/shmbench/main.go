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

// Command shmbench is a demo/benchmark CLI exercising the shmipc
// primitives end to end: a raw ring-buffer throughput test, a mutex
// contention test, and small registry/envelope/svcgroup demos.
package main

import (
	"fmt"
	"log"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "ring":
		err = runRingBench(os.Args[2:])
	case "mutex":
		err = runMutexBench(os.Args[2:])
	case "registry":
		err = runRegistryDemo(os.Args[2:])
	case "envelope":
		err = runEnvelopeDemo(os.Args[2:])
	case "svcgroup":
		err = runSvcgroupDemo(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "shmbench: unknown subcommand %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("shmbench %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: shmbench <subcommand> [flags]

subcommands:
  ring       throughput benchmark for the SPSC ring buffer
  mutex      contention benchmark for the cross-process mutex
  registry   register/list/unregister demo against a live registry segment
  envelope   typed-channel send/recv echo demo
  svcgroup   spawn a service group and watch it fail over

run "shmbench <subcommand> -h" for subcommand-specific flags.`)
}
