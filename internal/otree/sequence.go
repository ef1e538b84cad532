// Package otree implements the two order-statistic containers the piece
// tree and range-tag tree are built on: Sequence[V], an ordered list with
// a monoidal positional summary, and OrderedSet[V], a sorted set whose
// comparator is supplied per call rather than fixed at construction.
//
// Both containers hand out element pointers (*Elem[V], *SetElem[V]) that
// stay valid for the life of the element regardless of what else is
// inserted or removed around it — callers across the piece tree and
// range-tag tree hold onto these pointers as stable identity, the same
// guarantee original_source/src/gb+tree.hpp gives via PinnedCell.
//
// The reference implementation backs this with a B+-tree for O(log n)
// positional lookup. This port uses a plain doubly-linked list instead:
// element identity is then a pointer, trivially stable, and the
// correctness-critical part of this system is the undo/redo range-tag
// walk, not container big-O. See DESIGN.md for the tradeoff (O(n) find
// instead of O(log n)).
package otree

// PieceInfo is the additive summary Sequence accumulates over its
// elements: total codepoints ever inserted versus currently visible
// ones. Deletion shrinks Visible but never Total.
type PieceInfo struct {
	Total   int
	Visible int
}

// Add combines two summaries in sequence order.
func (a PieceInfo) Add(b PieceInfo) PieceInfo {
	return PieceInfo{Total: a.Total + b.Total, Visible: a.Visible + b.Visible}
}

// Elem is one node of a Sequence. The zero value is not usable; Elems are
// only produced by a Sequence's Insert methods.
type Elem[V any] struct {
	seq        *Sequence[V]
	prev, next *Elem[V]
	end        bool // true only for the sentinel returned by End()
	Value      V
}

// Next returns the following element, or the End sentinel.
func (e *Elem[V]) Next() *Elem[V] { return e.next }

// Prev returns the preceding element, or nil if e is Begin.
func (e *Elem[V]) Prev() *Elem[V] { return e.prev }

// IsEnd reports whether e is the one-past-the-last sentinel.
func (e *Elem[V]) IsEnd() bool { return e.end }

// IsBegin reports whether e has no predecessor.
func (e *Elem[V]) IsBegin() bool { return e.prev == nil }

// Sequence is a doubly-linked list of V carrying a per-element sizeOf
// function used to answer positional queries (FindByTotal/FindByVisible).
type Sequence[V any] struct {
	head, tail *Elem[V] // tail is the End() sentinel, holds no Value
	sizeOf     func(*V) PieceInfo
	length     int
}

// NewSequence creates an empty Sequence. sizeOf must return the
// (Total, Visible) contribution of a single element; it is re-evaluated
// on every positional query, so it must stay cheap.
func NewSequence[V any](sizeOf func(*V) PieceInfo) *Sequence[V] {
	s := &Sequence[V]{sizeOf: sizeOf}
	s.tail = &Elem[V]{seq: s, end: true}
	s.head = s.tail
	return s
}

// Begin returns the first element, or End() if the sequence is empty.
func (s *Sequence[V]) Begin() *Elem[V] { return s.head }

// End returns the one-past-the-last sentinel.
func (s *Sequence[V]) End() *Elem[V] { return s.tail }

// Last returns the final real element, or End() if empty.
func (s *Sequence[V]) Last() *Elem[V] {
	if s.tail.prev == nil {
		return s.tail
	}
	return s.tail.prev
}

// Len returns the number of real (non-sentinel) elements.
func (s *Sequence[V]) Len() int { return s.length }

// InsertBefore inserts value immediately before at (at may be End()) and
// returns a stable pointer to the new element.
func (s *Sequence[V]) InsertBefore(at *Elem[V], value V) *Elem[V] {
	e := &Elem[V]{seq: s, Value: value}
	prev := at.prev
	e.prev = prev
	e.next = at
	at.prev = e
	if prev == nil {
		s.head = e
	} else {
		prev.next = e
	}
	s.length++
	return e
}

// InsertAfter inserts value immediately after at and returns a stable
// pointer to the new element. at must not be End().
func (s *Sequence[V]) InsertAfter(at *Elem[V], value V) *Elem[V] {
	return s.InsertBefore(at.next, value)
}

// Find walks from Begin(), accumulating sizeOf over elements in order,
// and returns the first element for which pred(accumulated-through-it)
// holds, or End() if none does. accumulated includes the current
// element's own contribution, matching a prefix-sum "upper bound" query.
func (s *Sequence[V]) Find(pred func(accumulated PieceInfo) bool) *Elem[V] {
	var acc PieceInfo
	for e := s.head; e != s.tail; e = e.next {
		acc = acc.Add(s.sizeOf(&e.Value))
		if pred(acc) {
			return e
		}
	}
	return s.tail
}

// FindByTotal returns the element containing historical offset pos
// (counting tombstoned codepoints), or End() if pos is at or past the
// total length.
func (s *Sequence[V]) FindByTotal(pos int) *Elem[V] {
	var acc PieceInfo
	for e := s.head; e != s.tail; e = e.next {
		sz := s.sizeOf(&e.Value)
		if pos < acc.Total+sz.Total {
			return e
		}
		acc = acc.Add(sz)
	}
	return s.tail
}

// FindByVisible returns the element containing visible offset pos, or
// End() if pos is at or past the visible length.
func (s *Sequence[V]) FindByVisible(pos int) *Elem[V] {
	var acc PieceInfo
	for e := s.head; e != s.tail; e = e.next {
		sz := s.sizeOf(&e.Value)
		if pos < acc.Visible+sz.Visible {
			return e
		}
		acc = acc.Add(sz)
	}
	return s.tail
}

// Position sums sizeOf over every element strictly before e.
func (s *Sequence[V]) Position(e *Elem[V]) PieceInfo {
	var acc PieceInfo
	for n := s.head; n != e; n = n.next {
		acc = acc.Add(s.sizeOf(&n.Value))
	}
	return acc
}
