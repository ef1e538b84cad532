// Package crdt implements the collaborative plain-text CRDT: the piece
// tree (text shape), the range-tag tree (layered undo/redo history for
// overlapping range operations) and the engine that ties them together.
//
// Grounded on original_source/src/{crdt,piecetree}.hpp.
package crdt

import (
	"errors"

	"collabtext/ids"
	"collabtext/internal/otree"
)

// Sentinel errors naming the "silent drop" outcomes of §7. The Engine
// does not return them: its methods report a drop as a false result and
// log it at Debug level.
var (
	ErrUnknownReplica    = errors.New("crdt: operation references an unobserved replica")
	ErrMissingOperation  = errors.New("crdt: anchor or target refers to an unfilled stamp slot")
	ErrInvalidAnchorType = errors.New("crdt: target slot is not the expected operation kind")
	ErrDoubleUndo        = errors.New("crdt: operation already in the requested undo/redo state")
)

// ErrDuplicateStamp is a programmer-contract violation (§7 DuplicateStamp):
// a stamp slot written twice. The store panics with this rather than
// silently dropping, since it can only happen if a caller violates the
// one-writer-per-stamp contract.
var ErrDuplicateStamp = errors.New("crdt: duplicate stamp for replica (contract violation)")

// StoredOperation is implemented by every operation kind the store
// retains: Segment (insert), StoredDeletion, StoredFormat, StoredUndo,
// StoredRedo (§3).
type StoredOperation interface {
	ID() ids.OperationID
	Kind() ids.OperationType
}

// base carries the identity every stored operation shares: its owning
// replica and stamp, ordered (stamp, replica) per §3.
type base struct {
	replica *Replica
	stamp   ids.Stamp
	kind    ids.OperationType
}

func (b *base) ID() ids.OperationID {
	return ids.OperationID{Replica: b.replica.id, Stamp: b.stamp}
}

func (b *base) Kind() ids.OperationType { return b.kind }

// Segment is the immortal record of one Insert: its text and the anchor
// it was inserted at. FirstPiece/LastPiece cache the piece-tree cursors
// at the run's current left and right edges so that undoing the whole
// insertion, and resolving further concurrent siblings anchored to it,
// do not require a tree scan from the root.
type Segment struct {
	base
	Text []rune

	// Parent is the segment this insertion anchored to, and Pos the
	// offset within Parent's own historical text (§3 invariant 4).
	// The root sentinel segment has Parent == nil.
	Parent *Segment
	Pos    int

	// children[pos] holds every segment directly anchored to this one
	// at offset pos, in canonical (stamp, replica) order — this is the
	// sibling total order §4.3 step 2 resolves concurrent inserts with.
	children map[int][]*Segment

	// FirstPiece/LastPiece are stable cursors into the piece tree
	// bounding this segment's (possibly now-fragmented) run.
	FirstPiece *otree.Elem[Piece]
	LastPiece  *otree.Elem[Piece]

	// UndoOp is the synthetic StoredDeletion created the first time
	// this insertion is undone (§4.5); cached so later undo/redo
	// toggles reuse it instead of constructing a fresh one.
	UndoOp *StoredDeletion
}

// RangeOp is implemented by StoredDeletion and StoredFormat: an
// operation carrying a pair of RangeTags and affecting every codepoint
// in [begin, end) (§3 StoredRangeOp, GLOSSARY "Range operation").
type RangeOp interface {
	StoredOperation
	Begin() ids.Anchor
	End() ids.Anchor
	LeftTag() *otree.SetElem[RangeTag]
	RightTag() *otree.SetElem[RangeTag]
	SetLeftTag(*otree.SetElem[RangeTag])
	SetRightTag(*otree.SetElem[RangeTag])
	HasUndo() bool
	SetHasUndo(bool)
}

// rangeBase is embedded by both StoredDeletion and StoredFormat.
type rangeBase struct {
	base
	begin, end ids.Anchor
	left       *otree.SetElem[RangeTag]
	right      *otree.SetElem[RangeTag]
	hasUndo    bool
}

func (r *rangeBase) Begin() ids.Anchor                         { return r.begin }
func (r *rangeBase) End() ids.Anchor                           { return r.end }
func (r *rangeBase) LeftTag() *otree.SetElem[RangeTag]          { return r.left }
func (r *rangeBase) RightTag() *otree.SetElem[RangeTag]         { return r.right }
func (r *rangeBase) SetLeftTag(t *otree.SetElem[RangeTag])      { r.left = t }
func (r *rangeBase) SetRightTag(t *otree.SetElem[RangeTag])     { r.right = t }
func (r *rangeBase) HasUndo() bool                              { return r.hasUndo }
func (r *rangeBase) SetHasUndo(v bool)                           { r.hasUndo = v }

// StoredDeletion is a StoredRangeOp whose effect is to tombstone every
// piece in its range (§3: "StoredDeletion is a StoredRangeOp with
// value=true, the format-style 'hidden' attribute").
type StoredDeletion struct {
	rangeBase
}

// StoredFormat is a StoredRangeOp that sets a named style attribute over
// its range instead of hiding text (§9 open question, resolved as a
// separate attribute field — see DESIGN.md).
type StoredFormat struct {
	rangeBase
	StyleKey string
	Value    any
}

// StoredUndo and StoredRedo carry the operation they toggle. An Undo of
// an Undo, or a Redo of a Redo, must be rewritten before a StoredUndo/
// StoredRedo is ever constructed for it (§3, §4.5) — the store does not
// re-check this itself.
type StoredUndo struct {
	base
	Target StoredOperation
}

type StoredRedo struct {
	base
	Target StoredOperation
}

// Replica is the per-process record of every operation that process has
// issued or that has arrived from it, indexed by stamp (§3).
type Replica struct {
	id  ids.ReplicaID
	ops map[ids.Stamp]StoredOperation
}

// Store is the CRDT's immortal operation log: one Replica record per
// ReplicaID ever observed (§4.2).
type Store struct {
	replicas map[ids.ReplicaID]*Replica
}

// NewStore creates an empty operation store.
func NewStore() *Store {
	return &Store{replicas: make(map[ids.ReplicaID]*Replica)}
}

func (s *Store) replicaFor(id ids.ReplicaID) *Replica {
	r, ok := s.replicas[id]
	if !ok {
		r = &Replica{id: id, ops: make(map[ids.Stamp]StoredOperation)}
		s.replicas[id] = r
	}
	return r
}

// register interns op into its replica's slot. Writing an
// already-occupied slot is a contract violation (§4.2, §7
// DuplicateStamp): it panics rather than silently dropping, since it can
// only be caused by a caller reusing a stamp.
func (s *Store) register(op StoredOperation) {
	id := op.ID()
	r := s.replicaFor(id.Replica)
	if _, occupied := r.ops[id.Stamp]; occupied {
		panic(ErrDuplicateStamp)
	}
	r.ops[id.Stamp] = op
}

// Lookup retrieves a stored operation by identity. A missing slot
// (never arrived, or replica never observed) reports ok=false — callers
// treat this as §7 MissingOperation / UnknownReplica and drop silently.
func (s *Store) Lookup(id ids.OperationID) (StoredOperation, bool) {
	r, ok := s.replicas[id.Replica]
	if !ok {
		return nil, false
	}
	op, ok := r.ops[id.Stamp]
	return op, ok
}

// LookupSegment is Lookup narrowed to the Insert case (§7
// InvalidAnchorType: a resolved slot that isn't a Segment is a drop, not
// a panic).
func (s *Store) LookupSegment(id ids.OperationID) (*Segment, bool) {
	op, ok := s.Lookup(id)
	if !ok {
		return nil, false
	}
	seg, ok := op.(*Segment)
	return seg, ok
}

func newSegment(r *Replica, stamp ids.Stamp, parent *Segment, pos int, text []rune) *Segment {
	return &Segment{
		base:     base{replica: r, stamp: stamp, kind: ids.OpInsert},
		Text:     text,
		Parent:   parent,
		Pos:      pos,
		children: make(map[int][]*Segment),
	}
}

func newDeletion(r *Replica, stamp ids.Stamp, begin, end ids.Anchor) *StoredDeletion {
	return &StoredDeletion{rangeBase{base: base{replica: r, stamp: stamp, kind: ids.OpDelete}, begin: begin, end: end}}
}

func newFormat(r *Replica, stamp ids.Stamp, begin, end ids.Anchor, key string, value any) *StoredFormat {
	return &StoredFormat{
		rangeBase: rangeBase{base: base{replica: r, stamp: stamp, kind: ids.OpFormat}, begin: begin, end: end},
		StyleKey:  key,
		Value:     value,
	}
}
