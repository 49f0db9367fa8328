package ratelimit

import "testing"

func TestIPQuota_CeilingPerIP(t *testing.T) {
	q := NewIPQuota(3)

	for i := 0; i < 3; i++ {
		if !q.Acquire("10.0.0.1") {
			t.Fatalf("connection %d should fit under the ceiling", i+1)
		}
	}
	if q.Acquire("10.0.0.1") {
		t.Fatalf("fourth connection from the same IP should be rejected")
	}
	if !q.Acquire("10.0.0.2") {
		t.Fatalf("a different IP should have its own budget")
	}
}

func TestIPQuota_ReleaseFreesSlot(t *testing.T) {
	q := NewIPQuota(1)

	if !q.Acquire("10.0.0.1") {
		t.Fatalf("first acquire should succeed")
	}
	if q.Acquire("10.0.0.1") {
		t.Fatalf("second acquire should be rejected")
	}

	q.Release("10.0.0.1")
	if !q.Acquire("10.0.0.1") {
		t.Fatalf("slot should be reusable after release")
	}
}

func TestIPQuota_ReleaseFloorsAtZeroAndEvictsEntry(t *testing.T) {
	q := NewIPQuota(5)

	if !q.Acquire("10.0.0.1") {
		t.Fatalf("acquire should succeed")
	}
	q.Release("10.0.0.1")
	if got := q.Open("10.0.0.1"); got != 0 {
		t.Fatalf("expected 0 open connections after release, got %d", got)
	}

	// Extra releases must not drive the counter negative.
	q.Release("10.0.0.1")
	q.Release("10.0.0.1")
	if got := q.Open("10.0.0.1"); got != 0 {
		t.Fatalf("expected counter to floor at zero, got %d", got)
	}
	if len(q.open) != 0 {
		t.Fatalf("expected map entry to be evicted at zero, have %d entries", len(q.open))
	}
}

func TestIPQuota_Disabled(t *testing.T) {
	q := NewIPQuota(0)

	for i := 0; i < 100; i++ {
		if !q.Acquire("10.0.0.1") {
			t.Fatalf("disabled quota should always admit")
		}
	}
}
