package exfile

// slot is one mapped window over the backing file. off and maxlen are fixed
// at insertion time; len and addr are recomputed whenever fsize changes.
type slot struct {
	off    int64
	maxlen int64
	len    int64
	addr   []byte

	next, prev *slot
}

// overlaps reports whether the reserved ranges [off, off+maxlen) of s and o
// intersect.
func (s *slot) overlaps(off, maxlen int64) bool {
	aEnd := s.off + s.maxlen
	bEnd := off + maxlen
	return s.off < bEnd && off < aEnd
}

// targetLen computes the slot invariant len == min(maxlen, max(0, fsize-off)).
func (s *slot) targetLen(fsize int64) int64 {
	avail := fsize - s.off
	if avail < 0 {
		avail = 0
	}
	if avail > s.maxlen {
		avail = s.maxlen
	}
	return avail
}

// slotList is an ordered doubly-linked list of slots, strictly ascending by
// off. next pointers are nil-terminated forward; head.prev is used as an
// O(1) tail pointer (a circular back-pointer) and is never followed forward
// from the tail.
type slotList struct {
	head *slot
}

func (l *slotList) empty() bool { return l.head == nil }

func (l *slotList) tail() *slot {
	if l.head == nil {
		return nil
	}
	return l.head.prev
}

// find returns the slot with exact offset off, or nil.
func (l *slotList) find(off int64) *slot {
	for s := l.head; s != nil; s = s.next {
		if s.off == off {
			return s
		}
		if s.off > off {
			return nil
		}
	}
	return nil
}

// insert links s into the list preserving ascending order, failing with
// ErrMmapOverlap if s's reserved range intersects an existing slot.
//
// Invariant maintained throughout: head.prev is the tail (a circular
// back-pointer used for O(1) tail insertion); every other node's prev is its
// actual predecessor; next is nil-terminated at the tail.
func (l *slotList) insert(s *slot) error {
	if l.head == nil {
		s.next, s.prev = nil, s
		l.head = s
		return nil
	}

	var before *slot
	for cur := l.head; cur != nil; cur = cur.next {
		if cur.overlaps(s.off, s.maxlen) {
			return ErrMmapOverlap
		}
		if before == nil && cur.off > s.off {
			before = cur
		}
	}

	switch {
	case before == nil:
		// Append at tail.
		oldTail := l.head.prev
		oldTail.next = s
		s.prev = oldTail
		s.next = nil
		l.head.prev = s

	case before == l.head:
		// Insert as new head.
		s.next = before
		s.prev = l.head.prev // inherit the tail pointer
		before.prev = s
		l.head = s

	default:
		// Insert in the middle, immediately before `before`.
		prevNode := before.prev
		s.next = before
		s.prev = prevNode
		prevNode.next = s
		before.prev = s
	}
	return nil
}

// remove unlinks s from the list. s must currently be a member.
func (l *slotList) remove(s *slot) {
	isHead := s == l.head
	isTail := s.next == nil

	switch {
	case isHead && isTail:
		l.head = nil

	case isHead:
		newHead := s.next
		newHead.prev = s.prev // s.prev was the tail pointer
		l.head = newHead

	case isTail:
		prevNode := s.prev
		prevNode.next = nil
		l.head.prev = prevNode // update the tail pointer

	default:
		prevNode, nextNode := s.prev, s.next
		prevNode.next = nextNode
		nextNode.prev = prevNode
	}

	s.next, s.prev = nil, nil
}

// all returns every slot in ascending order.
func (l *slotList) all() []*slot {
	var out []*slot
	for s := l.head; s != nil; s = s.next {
		out = append(out, s)
	}
	return out
}
