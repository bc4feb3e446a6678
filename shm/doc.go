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

// Package shm provides the cross-process synchronization substrate for
// shmipc: a named shared-memory object manager, an address-based
// park/unpark primitive, a lock-free single-producer/single-consumer ring
// buffer, and the mutex/condition-variable/semaphore trio built on top of
// them.
//
// Everything in this package is designed to survive the abrupt death of a
// participating process: the mutex detects and recovers from a dead
// holder, the ring buffer's invariants never depend on the peer's
// liveness, and named segments are reference-counted so a crash simply
// leaves the segment file behind for the next opener (or an explicit
// Remove) to reclaim.
package shm
