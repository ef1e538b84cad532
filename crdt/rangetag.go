package crdt

import (
	"collabtext/ids"
	"collabtext/internal/otree"

	mapset "github.com/deckarep/golang-set/v2"
)

// TagStatus is the lifecycle of a RangeTag (GLOSSARY).
type TagStatus uint8

const (
	// TagActive contributes to piece tombstones/attributes.
	TagActive TagStatus = iota
	// TagUndone is hidden by a user-level Undo.
	TagUndone
	// TagUnUsed is fully shadowed by a coincident op with a newer stamp
	// and currently contributes nothing.
	TagUnUsed
)

// OldPtr is the tagged-pointer state a RangeTag's `old` field can hold:
// null (no older active op at this boundary), a concrete op, or "bad" —
// a sentinel meaning "covered, recompute lazily" (§9 "Tagged pointer
// old"). Go has no native null/bad/concrete sum type for interfaces, so
// Bad is carried alongside Op explicitly rather than encoded as a
// special interface value — this sidesteps the typed-nil-in-interface
// trap a sentinel *RangeOp(nil) value would otherwise create.
type OldPtr struct {
	Op  RangeOp
	Bad bool
}

func goodOld(op RangeOp) OldPtr { return OldPtr{Op: op} }

var nullOld = OldPtr{}
var badOld = OldPtr{Bad: true}

// RangeTag is one endpoint of a range operation (§3).
type RangeTag struct {
	IsLeft bool
	Status TagStatus
	Anchor ids.Anchor
	Cur    RangeOp
	Old    OldPtr
}

// RangeTree is the ordered set of RangeTags for one axis of range
// operations — deletes share one tree; each Format style key gets its
// own tree so that, e.g., Bold and Color ranges never shadow each
// other's `old` chains when their intervals overlap (§9 Format decision,
// recorded in DESIGN.md).
type RangeTree struct {
	set *otree.OrderedSet[RangeTag]
	pt  *PieceTree
}

// NewRangeTree creates an empty range-tag tree over pt's piece tree.
func NewRangeTree(pt *PieceTree) *RangeTree {
	return &RangeTree{set: otree.NewOrderedSet[RangeTag](), pt: pt}
}

// less implements the §4.4 dynamic comparator.
func (rt *RangeTree) less(a, b *RangeTag) bool {
	if a.Anchor.Replica == b.Anchor.Replica && a.Anchor.Stamp == b.Anchor.Stamp {
		if a.Anchor.Pos != b.Anchor.Pos {
			return a.Anchor.Pos < b.Anchor.Pos
		}
	} else {
		oa, _ := rt.pt.HistoryOffset(a.Anchor)
		ob, _ := rt.pt.HistoryOffset(b.Anchor)
		if oa != ob {
			return oa < ob
		}
	}
	// Same point. Right sorts before left.
	if a.IsLeft != b.IsLeft {
		return !a.IsLeft
	}
	// Same side, same point: left ties break newest-cur-first, right
	// ties break oldest-cur-first, so the layered intervals nest in
	// operation order.
	if a.IsLeft {
		return b.Cur.ID().Less(a.Cur.ID())
	}
	return a.Cur.ID().Less(b.Cur.ID())
}

// addTag ensures anchor is a piece boundary (splitting if it falls
// mid-piece) and inserts tag into the tree, returning the set element
// and the piece cursor now starting at that boundary (§4.4 addTag).
func (rt *RangeTree) addTag(tag RangeTag) (*otree.SetElem[RangeTag], *otree.Elem[Piece]) {
	seg, ok := rt.pt.store.LookupSegment(ids.OperationID{Replica: tag.Anchor.Replica, Stamp: tag.Anchor.Stamp})
	if !ok {
		return nil, nil
	}
	e, offset, ok := rt.pt.findInSegment(seg, tag.Anchor.Pos)
	if !ok {
		return nil, nil
	}
	switch {
	case offset == 0:
		// already at the boundary
	case offset == e.Value.Length:
		e = e.Next()
	default:
		e = rt.pt.split(e, offset)
	}
	el := rt.set.Insert(tag, rt.less)
	return el, e
}

// apply inserts the right tag before the left tag, so splitting the
// interior for the left boundary cannot move an already-placed right
// tag (§4.4 apply). Each new tag's `old` starts Bad — "covered,
// recompute lazily" — and apply tries to resolve it immediately from
// the piece just outside the new range, the way the reference's del()
// precomputes left_it->old/right_it->old from piece_before/piece_after
// at tag-creation time, rather than leaving every resolution to
// redoRangeOp's later scan (§9 "Tagged pointer old"; see DESIGN.md for
// the one place this port's resolution deliberately differs from the
// reference at a document boundary).
func (rt *RangeTree) apply(op RangeOp, begin, end ids.Anchor, get func(*Piece) RangeOp) (leftPiece, rightPiece *otree.Elem[Piece]) {
	rightTag := RangeTag{IsLeft: false, Status: TagActive, Anchor: end, Cur: op, Old: badOld}
	rEl, rPiece := rt.addTag(rightTag)
	if rEl != nil {
		rt.resolveRightOld(rEl, rPiece, end, op, get)
	}
	op.SetRightTag(rEl)

	leftTag := RangeTag{IsLeft: true, Status: TagActive, Anchor: begin, Cur: op, Old: badOld}
	lEl, lPiece := rt.addTag(leftTag)
	if lEl != nil {
		rt.resolveLeftOld(lEl, lPiece, begin, op, get)
	}
	op.SetLeftTag(lEl)

	return lPiece, rPiece
}

// resolveLeftOld mirrors del()'s left_it->old precomputation: it looks
// at the piece immediately before the new left boundary for the op (if
// any) currently covering it, and either clears Old to null (nothing
// covers there), chains straight to that op (its own left boundary is
// elsewhere), or inherits that op's own left tag's Old when the two
// ops share the same left anchor — leaving Old Bad, for redoRangeOp to
// resolve later by scanning, in every other case.
//
// A piece with no predecessor at all — the very first piece in the
// whole tree — has nothing that could possibly cover it, so this port
// resolves straight to null there instead of leaving Old Bad the way
// the reference does (its del() simply skips the precomputation when
// piece_before == begin()). Leaving it Bad would make a lone range op
// at the very start of a document's history resolve to TagUnUsed in
// redoRangeOp's no-interior-tag branch, silently dropping it — see
// DESIGN.md.
func (rt *RangeTree) resolveLeftOld(lEl *otree.SetElem[RangeTag], lPiece *otree.Elem[Piece], begin ids.Anchor, newOp RangeOp, get func(*Piece) RangeOp) {
	if lPiece == nil {
		return
	}
	before := lPiece.Prev()
	if before == nil {
		lEl.Value.Old = nullOld
		return
	}
	op := get(&before.Value)
	if op == nil {
		lEl.Value.Old = nullOld
		return
	}
	opRight := op.RightTag()
	if opRight == nil {
		return
	}
	if opRight.Value.Anchor != begin {
		if op.ID().Less(newOp.ID()) {
			lEl.Value.Old = goodOld(op)
		}
		return
	}
	o := opRight.Value.Old
	if !o.Bad && (o.Op == nil || o.Op.ID().Less(newOp.ID())) {
		lEl.Value.Old = o
	}
}

// resolveRightOld is resolveLeftOld's mirror for the new right boundary,
// inspecting the piece immediately at/after it and chaining through
// that op's own left tag.
func (rt *RangeTree) resolveRightOld(rEl *otree.SetElem[RangeTag], rPiece *otree.Elem[Piece], end ids.Anchor, newOp RangeOp, get func(*Piece) RangeOp) {
	if rPiece == nil || rPiece.IsEnd() {
		rEl.Value.Old = nullOld
		return
	}
	op := get(&rPiece.Value)
	if op == nil {
		rEl.Value.Old = nullOld
		return
	}
	opLeft := op.LeftTag()
	if opLeft == nil {
		return
	}
	if opLeft.Value.Anchor != end {
		if op.ID().Less(newOp.ID()) {
			rEl.Value.Old = goodOld(op)
		}
		return
	}
	o := opLeft.Value.Old
	if !o.Bad && (o.Op == nil || o.Op.ID().Less(newOp.ID())) {
		rEl.Value.Old = o
	}
}

// activeCover walks the tree looking for an Active tag pair whose
// interval brackets totalOffset, returning the newest such op's Cur, or
// nil. Used by the engine's coveringLookup for §9's insert-into-covered
// -region fix.
func (rt *RangeTree) activeCover(totalOffset int) RangeOp {
	var best RangeOp
	depth := map[RangeOp]bool{}
	for e := rt.set.Begin(); !e.IsEnd(); e = e.Next() {
		tag := e.Value
		if tag.Status != TagActive {
			continue
		}
		off, ok := rt.pt.HistoryOffset(tag.Anchor)
		if !ok {
			continue
		}
		if tag.IsLeft {
			if off <= totalOffset {
				depth[tag.Cur] = true
			}
		} else {
			if off <= totalOffset {
				delete(depth, tag.Cur)
			}
		}
	}
	for op := range depth {
		if best == nil || best.ID().Less(op.ID()) {
			best = op
		}
	}
	return best
}

// redoRangeOp activates op: walks the tags strictly between its left and
// right boundary, updates every piece in between via update, and fixes
// up the `old` chains of any tag op nests inside (§4.5 redoRangeOp).
func redoRangeOp(rt *RangeTree, pt *PieceTree, op RangeOp, get func(*Piece) RangeOp, set func(*Piece, RangeOp)) {
	op.SetHasUndo(false)

	left, right := op.LeftTag(), op.RightTag()
	if left == nil || right == nil {
		return
	}

	var firstCrossed, lastCrossed *otree.SetElem[RangeTag]
	crossedAny := false

	for t := left.Next(); t != right; t = t.Next() {
		tag := &t.Value
		if tag.Status == TagActive {
			shadowsCur := tag.Old.Bad || tag.Old.Op == nil || tag.Old.Op.ID().Less(op.ID())
			curShadowsOp := op.ID().Less(tag.Cur.ID())
			if shadowsCur && curShadowsOp {
				if !crossedAny {
					firstCrossed = t
					crossedAny = true
				}
				lastCrossed = t
				tag.Old = goodOld(op)
			}
		}
	}

	for pe := pieceAfter(pt, left); pe != nil && pe != pieceOf(pt, right); pe = pe.Next() {
		p := &pe.Value
		cur := get(p)
		if cur == nil || cur.ID().Less(op.ID()) {
			set(p, op)
		}
	}

	leftTag, rightTag := &left.Value, &right.Value
	if !crossedAny {
		leftGood := !leftTag.Old.Bad
		rightGood := !rightTag.Old.Bad
		if leftGood && rightGood {
			leftTag.Status, rightTag.Status = TagActive, TagActive
		} else {
			leftTag.Status, rightTag.Status = TagUnUsed, TagUnUsed
		}
		return
	}

	leftTag.Status, rightTag.Status = TagActive, TagActive
	if leftTag.Old.Bad {
		leftTag.Old = resolveOld(rt, left, true)
	}
	if rightTag.Old.Bad {
		rightTag.Old = resolveOld(rt, right, false)
	}
	firstCrossed.Value.Old = goodOld(op)
	lastCrossed.Value.Old = goodOld(op)
}

// resolveOld recomputes a "bad" old pointer by scanning outward from t
// for the nearest still-active tag whose interval contains t's point.
func resolveOld(rt *RangeTree, t *otree.SetElem[RangeTag], scanBackward bool) OldPtr {
	step := func(e *otree.SetElem[RangeTag]) *otree.SetElem[RangeTag] {
		if scanBackward {
			return e.Prev()
		}
		return e.Next()
	}
	depth := 0
	for e := step(t); e != nil && !e.IsEnd(); e = step(e) {
		tag := &e.Value
		if tag.Status != TagActive {
			continue
		}
		if scanBackward {
			if !tag.IsLeft {
				depth++
			} else if depth > 0 {
				depth--
			} else {
				return goodOld(tag.Cur)
			}
		} else {
			if tag.IsLeft {
				depth++
			} else if depth > 0 {
				depth--
			} else {
				return goodOld(tag.Cur)
			}
		}
	}
	return nullOld
}

// undoRangeOp deactivates op and returns the set of previously UnUsed
// ops that become eligible to re-activate now that op no longer shadows
// them (§4.5 undoRangeOp), deduplicated and left for the caller to
// redoRangeOp in ascending id order.
func undoRangeOp(rt *RangeTree, pt *PieceTree, op RangeOp, get func(*Piece) RangeOp, set func(*Piece, RangeOp)) []RangeOp {
	op.SetHasUndo(true)

	left, right := op.LeftTag(), op.RightTag()
	if left == nil || right == nil {
		return nil
	}
	leftTag, rightTag := &left.Value, &right.Value

	if leftTag.Status == TagUnUsed || rightTag.Status == TagUnUsed {
		leftTag.Status, rightTag.Status = TagUndone, TagUndone
		return nil
	}
	leftTag.Status, rightTag.Status = TagUndone, TagUndone

	newest := leftTag.Old
	covered := mapset.NewSet[RangeOp]()
	pending := map[RangeOp]bool{}

	for t := left.Next(); t != right; t = t.Next() {
		tag := &t.Value
		switch tag.Status {
		case TagUndone:
			continue
		case TagActive:
			if tag.Old.Op == op {
				tag.Old = newest
			}
			if tag.IsLeft {
				newest = goodOld(tag.Cur)
			} else if !newest.Bad && newest.Op == tag.Cur {
				newest = tag.Old
			}
		case TagUnUsed:
			if tag.IsLeft && tag.Cur.ID().Less(op.ID()) {
				pending[tag.Cur] = true
			} else if !tag.IsLeft && pending[tag.Cur] {
				delete(pending, tag.Cur)
				covered.Add(tag.Cur)
			}
		}
	}

	for pe := pieceAfter(pt, left); pe != nil && pe != pieceOf(pt, right); pe = pe.Next() {
		p := &pe.Value
		if cur := get(p); cur == op {
			// Revert to the newest op still Active over this piece.
			set(p, rt.activeCover(pt.seq.Position(pe).Total))
		}
	}

	result := covered.ToSlice()
	// Ascending id order (oldest first), so the caller's redoRangeOp
	// calls layer back on in historical order.
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].ID().Less(result[i].ID()) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result
}

// pieceAfter/pieceOf translate a range-tag set position to the piece
// cursor it was created at, via addTag's guarantee that every tag
// anchor is a piece boundary; the piece immediately following a tag's
// position in the piece tree is found by re-resolving the tag's anchor,
// applying the same end-of-segment boundary adjustment addTag made.
func pieceOf(pt *PieceTree, t *otree.SetElem[RangeTag]) *otree.Elem[Piece] {
	tag := &t.Value
	seg, ok := pt.store.LookupSegment(ids.OperationID{Replica: tag.Anchor.Replica, Stamp: tag.Anchor.Stamp})
	if !ok {
		return nil
	}
	e, offset, ok := pt.findInSegment(seg, tag.Anchor.Pos)
	if !ok {
		return nil
	}
	if offset == e.Value.Length && offset != 0 {
		return e.Next()
	}
	return e
}

func pieceAfter(pt *PieceTree, t *otree.SetElem[RangeTag]) *otree.Elem[Piece] {
	return pieceOf(pt, t)
}
