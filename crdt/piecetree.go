package crdt

import (
	"collabtext/ids"
	"collabtext/internal/otree"
)

// Piece is a contiguous codepoint run inside one Segment (§3). It
// appears exactly once in the piece tree; splitting a piece produces two
// Pieces both pointing at the same Segment.
type Piece struct {
	Seg       *Segment
	SegOffset int // start offset within Seg.Text, in codepoints
	Length    int

	// Tombstone is nil (visible) or the newest Active StoredDeletion
	// whose range currently covers this piece (§3 invariant 6).
	Tombstone RangeOp

	// Attrs holds, per style key, the newest Active StoredFormat
	// covering this piece — the "separate attribute field" branch of
	// the §9 Format open question.
	Attrs map[string]RangeOp
}

func pieceInfo(p *Piece) otree.PieceInfo {
	if p.Tombstone != nil {
		return otree.PieceInfo{Total: p.Length, Visible: 0}
	}
	return otree.PieceInfo{Total: p.Length, Visible: p.Length}
}

// PieceTree is the order-statistic sequence of Pieces backing the
// document (§4.3).
type PieceTree struct {
	seq   *otree.Sequence[Piece]
	store *Store
}

// NewPieceTree creates a piece tree pre-seeded with the sentinel EOF
// segment every document starts with (§6): a single Insert at stamp 0
// on the local replica with text "EOF". Visible size excludes it.
func NewPieceTree(store *Store, local ids.ReplicaID) *PieceTree {
	pt := &PieceTree{seq: otree.NewSequence[Piece](pieceInfo), store: store}
	r := store.replicaFor(local)
	sentinel := newSegment(r, 0, nil, 0, []rune("EOF"))
	store.register(sentinel)
	e := pt.seq.InsertBefore(pt.seq.End(), Piece{Seg: sentinel, SegOffset: 0, Length: len(sentinel.Text)})
	sentinel.FirstPiece = e
	sentinel.LastPiece = e
	return pt
}

// Len reports the visible codepoint count excluding the EOF sentinel
// (§6: "size reported to users excludes the sentinel").
func (pt *PieceTree) Len() int {
	total := 0
	for e := pt.seq.Begin(); !e.IsEnd(); e = e.Next() {
		p := &e.Value
		if p.Tombstone != nil {
			continue
		}
		if isSentinel(p.Seg) {
			continue
		}
		total += p.Length
	}
	return total
}

func isSentinel(seg *Segment) bool {
	return seg.Parent == nil && seg.stamp == 0
}

// ToString concatenates every non-tombstoned piece's text, excluding the
// EOF sentinel, in piece-tree order.
func (pt *PieceTree) ToString() string {
	var out []rune
	for e := pt.seq.Begin(); !e.IsEnd(); e = e.Next() {
		p := &e.Value
		if p.Tombstone != nil {
			continue
		}
		if isSentinel(p.Seg) {
			continue // EOF sentinel
		}
		out = append(out, p.Seg.Text[p.SegOffset:p.SegOffset+p.Length]...)
	}
	return string(out)
}

// FindByVisible returns the piece cursor and intra-piece offset holding
// visible offset pos.
func (pt *PieceTree) FindByVisible(pos int) (*otree.Elem[Piece], int) {
	e := pt.seq.FindByVisible(pos)
	if e.IsEnd() {
		return e, 0
	}
	before := pt.seq.Position(e)
	return e, pos - before.Visible
}

// FindByTotal returns the piece cursor and intra-piece offset holding
// historical offset pos.
func (pt *PieceTree) FindByTotal(pos int) (*otree.Elem[Piece], int) {
	e := pt.seq.FindByTotal(pos)
	if e.IsEnd() {
		return e, 0
	}
	before := pt.seq.Position(e)
	return e, pos - before.Total
}

// findInSegment walks the pieces belonging to seg, in piece-tree order,
// summing their lengths until pos falls inside one, and returns that
// piece cursor plus the offset within it. This is the anchor-resolution
// primitive: it tolerates seg's run having been fragmented by any
// number of prior splits (§4.3 find(anchor)).
func (pt *PieceTree) findInSegment(seg *Segment, pos int) (*otree.Elem[Piece], int, bool) {
	if seg.FirstPiece == nil {
		return nil, 0, false
	}
	acc := 0
	for e := seg.FirstPiece; ; e = e.Next() {
		p := &e.Value
		if p.Seg == seg {
			if pos < acc+p.Length || (pos == acc+p.Length && e == seg.LastPiece) {
				return e, pos - acc, true
			}
			acc += p.Length
			if e == seg.LastPiece {
				break
			}
		}
		if e.IsEnd() {
			break
		}
	}
	return nil, 0, false
}

// HistoryOffset returns the prefix "total" sum at anchor: the position
// the anchor would occupy on the historical (tombstone-included) axis.
// Used by the range-tag tree to compare anchors across segments.
func (pt *PieceTree) HistoryOffset(a ids.Anchor) (int, bool) {
	seg, ok := pt.store.LookupSegment(ids.OperationID{Replica: a.Replica, Stamp: a.Stamp})
	if !ok {
		return 0, false
	}
	e, offset, ok := pt.findInSegment(seg, a.Pos)
	if !ok {
		return 0, false
	}
	before := pt.seq.Position(e)
	return before.Total + offset, true
}

// AnchorAt derives the anchor for the piece holding visible position
// pos (§4.3 anchor(visible_pos)).
func (pt *PieceTree) AnchorAt(pos int) (ids.Anchor, bool) {
	e, offset := pt.FindByVisible(pos)
	if e.IsEnd() {
		return ids.Anchor{}, false
	}
	p := &e.Value
	return ids.Anchor{Replica: p.Seg.base.replica.id, Stamp: p.Seg.stamp, Pos: p.SegOffset + offset}, true
}

// HistoryAnchorAt derives the anchor for the piece holding historical
// position pos (§4.3 history_anchor(total_pos)).
func (pt *PieceTree) HistoryAnchorAt(pos int) (ids.Anchor, bool) {
	e, offset := pt.FindByTotal(pos)
	if e.IsEnd() {
		return ids.Anchor{}, false
	}
	p := &e.Value
	return ids.Anchor{Replica: p.Seg.base.replica.id, Stamp: p.Seg.stamp, Pos: p.SegOffset + offset}, true
}

// split cuts the piece at e into two at codepoint offset within it,
// leaving the left part in place at e and inserting a new piece after it
// carrying the right remainder. Returns the cursor to the right part; e
// itself keeps referring to the (now shorter) left part, matching
// §4.3's "invalidates no external references to the right half" by
// instead preserving references to the left half and minting a new
// element for the right.
func (pt *PieceTree) split(e *otree.Elem[Piece], offset int) *otree.Elem[Piece] {
	p := &e.Value
	right := Piece{
		Seg:       p.Seg,
		SegOffset: p.SegOffset + offset,
		Length:    p.Length - offset,
		Tombstone: p.Tombstone,
		Attrs:     cloneAttrs(p.Attrs),
	}
	p.Length = offset
	re := pt.seq.InsertAfter(e, right)
	if p.Seg.LastPiece == e {
		p.Seg.LastPiece = re
	}
	return re
}

func cloneAttrs(m map[string]RangeOp) map[string]RangeOp {
	if m == nil {
		return nil
	}
	out := make(map[string]RangeOp, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// coveringLookup reports the range op(s) active at a historical offset
// in the piece tree — used by Insert to satisfy the §9 "insert into a
// covered region inherits the covering op" fix. The engine supplies this
// by scanning the delete and per-key format trees for an Active tag
// interval bracketing the offset.
type coveringLookup func(totalOffset int) (del RangeOp, formats map[string]RangeOp)

// insertSibling returns, for a new segment being anchored at
// (parent, pos), its sorted slot among existing siblings at that exact
// position (§4.3 step 2) via the (stamp, replica) sibling order.
func insertSibling(parent *Segment, pos int, id ids.OperationID) int {
	sibs := parent.children[pos]
	idx := len(sibs)
	for i, s := range sibs {
		if id.Less(s.ID()) {
			idx = i
			break
		}
	}
	return idx
}

// Insert carves a new Segment's text into the piece tree at its anchor,
// resolving concurrent-sibling order deterministically (§4.3 insert) and
// inheriting any active covering range op onto the freshly created piece
// (§9 supplemented fix). seg.Parent must already be resolved by the
// caller (engine.go); it returns false only if the parent's own anchor
// position cannot be located (a structural inconsistency, not a normal
// drop path — normal missing-parent drops are handled by the engine
// before Insert is ever called).
func (pt *PieceTree) Insert(seg *Segment, cover coveringLookup) bool {
	parent := seg.Parent
	pos := seg.Pos
	sibs := parent.children[pos]
	idx := insertSibling(parent, pos, seg.ID())

	var cursor *otree.Elem[Piece]
	switch {
	case idx < len(sibs):
		// case A: a sibling with the same insert_pos sorts after us —
		// land immediately before its first piece.
		cursor = sibs[idx].FirstPiece
	case idx > 0:
		// case C: a sibling with the same insert_pos sorts before us —
		// land immediately after its last piece.
		cursor = sibs[idx-1].LastPiece.Next()
	default:
		// case B: we are the first ever insert at this position; split
		// the parent's own text at pos (or land at the existing
		// boundary if pos already falls on one).
		e, offset, found := pt.findInSegment(parent, pos)
		if !found {
			return false
		}
		switch {
		case offset == 0:
			cursor = e
		case offset == e.Value.Length:
			cursor = e.Next()
		default:
			cursor = pt.split(e, offset)
		}
	}

	newPiece := Piece{Seg: seg, SegOffset: 0, Length: len(seg.Text)}
	if cover != nil {
		insertOffset := pt.seq.Position(cursor).Total
		if del, formats := cover(insertOffset); del != nil || len(formats) > 0 {
			newPiece.Tombstone = del
			if len(formats) > 0 {
				newPiece.Attrs = formats
			}
		}
	}

	e := pt.seq.InsertBefore(cursor, newPiece)
	seg.FirstPiece = e
	seg.LastPiece = e
	parent.children[pos] = append(sibs, seg)
	insertionSortSiblings(parent.children[pos])
	return true
}

func insertionSortSiblings(sibs []*Segment) {
	for i := 1; i < len(sibs); i++ {
		for j := i; j > 0 && sibs[j].ID().Less(sibs[j-1].ID()); j-- {
			sibs[j], sibs[j-1] = sibs[j-1], sibs[j]
		}
	}
}
