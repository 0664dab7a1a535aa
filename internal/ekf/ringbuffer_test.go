// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ekf

import "testing"

func TestRingBufferOverwritesOldestWhenFull(t *testing.T) {
	var rb RingBuffer[BaroSample]
	if !rb.Allocate(3) {
		t.Fatal("allocate failed")
	}

	rb.Push(BaroSample{TimeUs: 1})
	rb.Push(BaroSample{TimeUs: 2})
	rb.Push(BaroSample{TimeUs: 3})
	if got := rb.GetLength(); got != 3 {
		t.Fatalf("length = %d, want 3", got)
	}
	if got := rb.GetOldest().TimeUs; got != 1 {
		t.Fatalf("oldest = %d, want 1", got)
	}

	rb.Push(BaroSample{TimeUs: 4})
	if got := rb.GetLength(); got != 3 {
		t.Fatalf("length after overwrite = %d, want 3", got)
	}
	if got := rb.GetOldest().TimeUs; got != 2 {
		t.Fatalf("oldest after overwrite = %d, want 2", got)
	}
	if got := rb.GetNewest().TimeUs; got != 4 {
		t.Fatalf("newest after overwrite = %d, want 4", got)
	}
}

func TestRingBufferEmptyReturnsZeroValue(t *testing.T) {
	var rb RingBuffer[BaroSample]
	rb.Allocate(2)
	if got := rb.GetOldest(); got != (BaroSample{}) {
		t.Fatalf("oldest of empty buffer = %+v, want zero value", got)
	}
	if got := rb.GetNewest(); got != (BaroSample{}) {
		t.Fatalf("newest of empty buffer = %+v, want zero value", got)
	}
}

func TestRingBufferReadFirstOlderThan(t *testing.T) {
	var rb RingBuffer[BaroSample]
	rb.Allocate(4)
	rb.Push(BaroSample{TimeUs: 10})
	rb.Push(BaroSample{TimeUs: 20})
	rb.Push(BaroSample{TimeUs: 30})

	got, ok := rb.ReadFirstOlderThan(25)
	if !ok || got.TimeUs != 20 {
		t.Fatalf("ReadFirstOlderThan(25) = (%+v, %v), want (TimeUs:20, true)", got, ok)
	}

	got, ok = rb.ReadFirstOlderThan(5)
	if ok {
		t.Fatalf("ReadFirstOlderThan(5) = (%+v, %v), want not ok", got, ok)
	}

	got, ok = rb.ReadFirstOlderThan(30)
	if !ok || got.TimeUs != 30 {
		t.Fatalf("ReadFirstOlderThan(30) = (%+v, %v), want (TimeUs:30, true)", got, ok)
	}
}

func TestRingBufferAllocateIsIdempotentUntilUnallocate(t *testing.T) {
	var rb RingBuffer[BaroSample]
	rb.Allocate(2)
	rb.Push(BaroSample{TimeUs: 1})
	if !rb.Allocate(5) {
		t.Fatal("re-allocate on already-allocated buffer should report true")
	}
	if got := rb.GetCapacity(); got != 2 {
		t.Fatalf("capacity after no-op re-allocate = %d, want unchanged 2", got)
	}

	rb.Unallocate()
	if got := rb.GetLength(); got != 0 {
		t.Fatalf("length after unallocate = %d, want 0", got)
	}
	rb.Allocate(5)
	if got := rb.GetCapacity(); got != 5 {
		t.Fatalf("capacity after unallocate+reallocate = %d, want 5", got)
	}
}

func TestRingBufferAllocateRejectsNonPositive(t *testing.T) {
	var rb RingBuffer[BaroSample]
	if rb.Allocate(0) {
		t.Fatal("Allocate(0) should fail")
	}
	if rb.Allocate(-1) {
		t.Fatal("Allocate(-1) should fail")
	}
}
