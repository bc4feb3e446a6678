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

package envelope

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Builder owns a growable byte buffer into which a root record is
// serialized before transmission, using msgpack.Marshal as the wire
// encoder.
type Builder[T any] struct {
	value T
	built bool
	bytes []byte
}

// NewBuilder starts a builder around a root value.
func NewBuilder[T any](root T) *Builder[T] {
	return &Builder[T]{value: root}
}

// Finish serializes the root value into a contiguous byte span. Calling
// Finish more than once returns the same bytes without re-encoding.
func (b *Builder[T]) Finish() ([]byte, error) {
	if b.built {
		return b.bytes, nil
	}
	buf, err := msgpack.Marshal(b.value)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal root: %w", err)
	}
	b.bytes = buf
	b.built = true
	return b.bytes, nil
}

// Message is an owned, received buffer paired with the type it decodes
// to. Root performs a full msgpack decode; Verify re-validates the bytes
// without requiring a prior successful Root call, for callers that only
// need a structural sanity check on untrusted input.
type Message[T any] struct {
	raw []byte
}

// Raw returns the message's owned, undecoded bytes.
func (m *Message[T]) Raw() []byte { return m.raw }

// Root decodes the message into T.
func (m *Message[T]) Root() (T, error) {
	var out T
	if err := msgpack.Unmarshal(m.raw, &out); err != nil {
		return out, fmt.Errorf("envelope: decode root: %w", err)
	}
	return out, nil
}

// Verify re-validates that the message's bytes decode to a well-formed T
// without returning the decoded value, for callers that only need a
// structural sanity check on untrusted input before acting on Root.
func (m *Message[T]) Verify() error {
	var out T
	if err := msgpack.Unmarshal(m.raw, &out); err != nil {
		return fmt.Errorf("envelope: verify: %w", err)
	}
	return nil
}

// TypedChannel is a strongly-typed wrapper over a ByteChannel. It adds no
// concurrency of its own: the wrapper is a thin typing convention over
// the same single-producer/single-consumer byte pipe.
type TypedChannel[T any] struct {
	ch *ByteChannel
}

// NewTypedChannel wraps an already-open ByteChannel.
func NewTypedChannel[T any](ch *ByteChannel) *TypedChannel[T] {
	return &TypedChannel[T]{ch: ch}
}

// Close closes the underlying byte channel.
func (t *TypedChannel[T]) Close() error { return t.ch.Close() }

// Send builds and transmits root.
func (t *TypedChannel[T]) Send(root T, timeout time.Duration) (ok bool, err error) {
	b := NewBuilder(root)
	buf, err := b.Finish()
	if err != nil {
		return false, err
	}
	return t.ch.Send(buf, timeout)
}

// Recv waits for a message and returns it still wrapped, so callers can
// choose between Root (decode) and Verify (check only).
func (t *TypedChannel[T]) Recv(timeout time.Duration) (msg *Message[T], ok bool, err error) {
	raw, ok, err := t.ch.Recv(timeout)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Message[T]{raw: raw}, true, nil
}
