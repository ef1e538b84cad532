package crdt

// naiveOracle is a mutable-history-plus-delete-set model used only by
// tests to check P2/P3/P4, mirroring test/simpletext.hpp's SimpleText
// and DocumentValidator (§9 supplemented feature 5). Unlike SimpleText,
// which replays ops against a shrinking buffer, this tracks deletes as
// fixed historical intervals (DocumentValidator's delete_count array),
// matching the engine's own anchor addressing: a Delete's Begin/End
// name positions in the originally inserted text, never renumbered by
// later tombstoning, so overlapping and undone/redone ranges compose
// the same way redoRangeOp/undoRangeOp do.
type naiveOracle struct {
	history []rune
	deletes []oracleDeletion
}

type oracleDeletion struct {
	begin, end int
	valid      bool
}

func newNaiveOracle() *naiveOracle { return &naiveOracle{} }

// insert appends text into the historical position space at pos. Every
// test using this oracle inserts once, up front, then layers deletes
// and undo/redo over that fixed text.
func (o *naiveOracle) insert(pos int, text string) {
	r := []rune(text)
	out := make([]rune, 0, len(o.history)+len(r))
	out = append(out, o.history[:pos]...)
	out = append(out, r...)
	out = append(out, o.history[pos:]...)
	o.history = out
}

// delete records [begin,end) as a fixed historical range and returns an
// id later undo/redo calls reference.
func (o *naiveOracle) delete(begin, end int) int {
	o.deletes = append(o.deletes, oracleDeletion{begin: begin, end: end, valid: true})
	return len(o.deletes) - 1
}

// undo and redo toggle a delete's validity. This models P3/P4 (range-op
// visibility and its undo/redo), not the engine's Undo-of-Undo/
// Redo-of-Redo rerouting — tests exercising that reroute call these
// against the underlying delete's id at the point the engine's own
// reroute settles.
func (o *naiveOracle) undo(id int) { o.deletes[id].valid = false }
func (o *naiveOracle) redo(id int) { o.deletes[id].valid = true }

// String applies P4 literally: a historical position is visible iff no
// currently-valid delete's range covers it.
func (o *naiveOracle) String() string {
	covered := make([]bool, len(o.history))
	for _, d := range o.deletes {
		if !d.valid {
			continue
		}
		for i := d.begin; i < d.end && i < len(covered); i++ {
			covered[i] = true
		}
	}
	out := make([]rune, 0, len(o.history))
	for i, r := range o.history {
		if !covered[i] {
			out = append(out, r)
		}
	}
	return string(out)
}
