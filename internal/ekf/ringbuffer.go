// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import "unsafe"

// timestamped is implemented by every sample type stored in a RingBuffer
// so the generic buffer can apply read_first_older_than without knowing
// the concrete sample shape.
type timestamped interface {
	timeUs() int64
}

func (s IMUSample) timeUs() int64        { return s.TimeUs }
func (s MagSample) timeUs() int64        { return s.TimeUs }
func (s GPSSample) timeUs() int64        { return s.TimeUs }
func (s BaroSample) timeUs() int64       { return s.TimeUs }
func (s AirspeedSample) timeUs() int64   { return s.TimeUs }
func (s RangeSample) timeUs() int64      { return s.TimeUs }
func (s FlowSample) timeUs() int64       { return s.TimeUs }
func (s ExtVisionSample) timeUs() int64  { return s.TimeUs }
func (s AuxVelSample) timeUs() int64     { return s.TimeUs }
func (s DragSample) timeUs() int64       { return s.TimeUs }

// RingBuffer is a fixed-capacity, allocate-once, single-writer/single-reader
// container of T. Once allocated it never grows; Push overwrites the
// oldest slot once the buffer is full. No operation allocates on the
// push path once the backing array has been sized, and none block.
//
// A RingBuffer is not safe for concurrent use: the front-end owns one
// writer (the corresponding ingester) and the fusion loop is the sole
// reader, matching the single-producer/single-consumer discipline
// described for this subsystem.
type RingBuffer[T timestamped] struct {
	buf    []T
	head   int // index of the oldest element
	length int
}

// Allocate reserves capacity for n elements. It is idempotent only after
// Unallocate; calling it again on an already-allocated buffer is a no-op
// that reports the buffer as still allocated. It never panics on
// allocation failure for the sizes this subsystem uses (n is small and
// bounded by delay parameters), but the boolean return lets callers
// treat failure as a non-fatal, stream-disabling event per spec.
func (r *RingBuffer[T]) Allocate(n int) bool {
	if n <= 0 {
		return false
	}
	if r.buf != nil {
		return true
	}
	r.buf = make([]T, n)
	r.head = 0
	r.length = 0
	return true
}

// Unallocate releases the backing array. Safe to call on an unallocated
// buffer.
func (r *RingBuffer[T]) Unallocate() {
	r.buf = nil
	r.head = 0
	r.length = 0
}

// Push appends sample, overwriting the oldest slot once the buffer is
// full. Never blocks.
func (r *RingBuffer[T]) Push(sample T) {
	if len(r.buf) == 0 {
		return
	}
	if r.length < len(r.buf) {
		idx := (r.head + r.length) % len(r.buf)
		r.buf[idx] = sample
		r.length++
		return
	}
	r.buf[r.head] = sample
	r.head = (r.head + 1) % len(r.buf)
}

// GetOldest returns the oldest logical element without removing it.
// It returns the zero value if the buffer is empty.
func (r *RingBuffer[T]) GetOldest() T {
	var zero T
	if r.length == 0 {
		return zero
	}
	return r.buf[r.head]
}

// GetNewest returns the most recently pushed element without removing
// it. It returns the zero value if the buffer is empty.
func (r *RingBuffer[T]) GetNewest() T {
	var zero T
	if r.length == 0 {
		return zero
	}
	idx := (r.head + r.length - 1) % len(r.buf)
	return r.buf[idx]
}

// GetLength reports how many elements are currently stored.
func (r *RingBuffer[T]) GetLength() int {
	return r.length
}

// GetCapacity reports the buffer's fixed capacity, or 0 if unallocated.
func (r *RingBuffer[T]) GetCapacity() int {
	return len(r.buf)
}

// GetTotalSize reports the byte footprint of the backing array.
func (r *RingBuffer[T]) GetTotalSize() int {
	var zero T
	return len(r.buf) * int(unsafe.Sizeof(zero))
}

// ReadFirstOlderThan returns the most recent sample whose timestamp is
// <= tQuery, walking back from the newest element. It reports false if
// no such sample exists (including on an empty buffer).
func (r *RingBuffer[T]) ReadFirstOlderThan(tQuery int64) (T, bool) {
	var zero T
	for i := r.length - 1; i >= 0; i-- {
		idx := (r.head + i) % len(r.buf)
		if r.buf[idx].timeUs() <= tQuery {
			return r.buf[idx], true
		}
	}
	return zero, false
}
