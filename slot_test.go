package exfile

import "testing"

func newSlot(off, maxlen int64) *slot {
	return &slot{off: off, maxlen: maxlen}
}

func TestSlotListInsertAscendingOrder(t *testing.T) {
	l := &slotList{}
	a := newSlot(400, 100)
	b := newSlot(0, 100)
	c := newSlot(200, 100)

	if err := l.insert(a); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := l.insert(b); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if err := l.insert(c); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	got := l.all()
	want := []*slot{b, c, a}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected off %d, got %d", i, want[i].off, got[i].off)
		}
	}
	if l.tail() != a {
		t.Fatalf("tail pointer should be the highest-offset slot")
	}
	if l.head.prev != a {
		t.Fatalf("head.prev must point at the tail")
	}
	if a.next != nil {
		t.Fatalf("tail.next must be nil")
	}
}

func TestSlotListInsertRejectsOverlap(t *testing.T) {
	l := &slotList{}
	if err := l.insert(newSlot(0, 100)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := l.insert(newSlot(50, 100)); err != ErrMmapOverlap {
		t.Fatalf("expected ErrMmapOverlap, got %v", err)
	}
}

func TestSlotListRemoveEveryPosition(t *testing.T) {
	l := &slotList{}
	s0 := newSlot(0, 10)
	s1 := newSlot(20, 10)
	s2 := newSlot(40, 10)
	for _, s := range []*slot{s0, s1, s2} {
		if err := l.insert(s); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	// Remove the middle node; head and tail pointers must stay intact.
	l.remove(s1)
	if got := l.all(); len(got) != 2 || got[0] != s0 || got[1] != s2 {
		t.Fatalf("unexpected list after removing middle: %v", got)
	}
	if l.tail() != s2 {
		t.Fatalf("tail pointer broken after middle removal")
	}

	// Remove the head; the new head must inherit the tail pointer.
	l.remove(s0)
	if got := l.all(); len(got) != 1 || got[0] != s2 {
		t.Fatalf("unexpected list after removing head: %v", got)
	}
	if l.head != s2 || l.head.prev != s2 {
		t.Fatalf("single-element list must be its own head and tail")
	}

	// Remove the last node; list must become empty.
	l.remove(s2)
	if !l.empty() {
		t.Fatalf("list should be empty")
	}
}

func TestSlotTargetLen(t *testing.T) {
	s := newSlot(100, 50)
	if got := s.targetLen(0); got != 0 {
		t.Fatalf("targetLen(0) = %d, want 0", got)
	}
	if got := s.targetLen(120); got != 20 {
		t.Fatalf("targetLen(120) = %d, want 20", got)
	}
	if got := s.targetLen(1000); got != 50 {
		t.Fatalf("targetLen(1000) = %d, want 50 (capped at maxlen)", got)
	}
}
