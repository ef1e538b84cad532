package crdt

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"collabtext/ids"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(zerolog.Nop())
}

func sentinelAnchor(e *Engine) ids.Anchor {
	return ids.Anchor{Replica: e.ID(), Stamp: 0, Pos: 0}
}

// Scenario 1: basic insert (§8).
func TestBasicInsert(t *testing.T) {
	e := newTestEngine(t)
	ok := e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello"})
	require.True(t, ok)
	require.Equal(t, "hello", e.ToString())
	require.Equal(t, 5, e.Size())
}

// Scenario 2: split insert (§8).
func TestSplitInsert(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello"}))
	require.True(t, e.Insert(Insertion{
		Replica: e.ID(), Stamp: 2,
		Anchor: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 3},
		Text:   "XY",
	}))
	require.Equal(t, "helXYlo", e.ToString())
}

// Scenario 3: delete then undo then redo (§8).
func TestDeleteUndoRedo(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello"}))
	require.True(t, e.Insert(Insertion{
		Replica: e.ID(), Stamp: 2,
		Anchor: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 3},
		Text:   "XY",
	}))
	require.Equal(t, "helXYlo", e.ToString())

	del := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 3,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 1},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 4},
	}))
	require.Equal(t, "hXYo", e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: del}))
	require.Equal(t, "helXYlo", e.ToString())

	require.True(t, e.Redo(RedoOp{Replica: e.ID(), Stamp: 5, Target: del}))
	require.Equal(t, "hXYo", e.ToString())
}

// Scenario 4: d2 strictly inside d1 — nested overlap (§8).
func TestOverlapNested(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "0123456789"}))

	d1 := ids.OperationID{Replica: e.ID(), Stamp: 2}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 2},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 7},
	}))
	require.Equal(t, "01789", e.ToString())

	d2 := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 3,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 4},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 6},
	}))
	require.Equal(t, "01789", e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: d1}))
	require.Equal(t, "01236789", e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 5, Target: d2}))
	require.Equal(t, "0123456789", e.ToString())

	require.True(t, e.Redo(RedoOp{Replica: e.ID(), Stamp: 6, Target: d1}))
	require.Equal(t, "01789", e.ToString())
}

// Scenario 5: shared endpoint overlap (§8).
func TestOverlapSharedEndpoint(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "abcdef"}))

	d1 := ids.OperationID{Replica: e.ID(), Stamp: 2}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 1},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 4},
	}))
	require.Equal(t, "aef", e.ToString())

	d2 := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 3,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 1},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 3},
	}))
	require.Equal(t, "aef", e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: d1}))
	require.Equal(t, "adef", e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 5, Target: d2}))
	require.Equal(t, "abcdef", e.ToString())
}

// Scenario 6: Undo of an Undo reroutes to Redo, never double-applies (§8).
func TestUndoOfUndoReroutes(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello"}))

	d1 := ids.OperationID{Replica: e.ID(), Stamp: 2}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 0},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 5},
	}))
	require.Equal(t, "", e.ToString())
	require.False(t, e.CanUndo(d1))
	require.True(t, e.CanRedo(d1))

	u1 := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 3, Target: d1}))
	require.Equal(t, "hello", e.ToString())
	require.True(t, e.CanUndo(d1))

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: u1}))
	require.Equal(t, "", e.ToString())
	require.False(t, e.CanUndo(d1))

	require.False(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 5, Target: u1}))
	require.Equal(t, "", e.ToString())
}

// P7 — Lamport monotonicity.
func TestLamportMonotonic(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 41, Anchor: sentinelAnchor(e), Text: "x"}))
	require.Greater(t, e.NextStamp(), ids.Stamp(41))
}

// P2 — oracle equivalence for a linear single-replica history.
func TestOracleEquivalenceLinear(t *testing.T) {
	e := newTestEngine(t)
	oracle := newNaiveOracle()

	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello world"}))
	oracle.insert(0, "hello world")
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 5},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 11},
	}))
	oracle.delete(5, 11)
	require.Equal(t, oracle.String(), e.ToString())
}

// P3/P4 — oracle equivalence across a nested overlap with undo/redo,
// mirroring TestOverlapNested.
func TestOracleEquivalenceOverlapNested(t *testing.T) {
	e := newTestEngine(t)
	oracle := newNaiveOracle()

	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "0123456789"}))
	oracle.insert(0, "0123456789")

	d1 := ids.OperationID{Replica: e.ID(), Stamp: 2}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 2},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 7},
	}))
	od1 := oracle.delete(2, 7)
	require.Equal(t, oracle.String(), e.ToString())

	d2 := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 3,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 4},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 6},
	}))
	od2 := oracle.delete(4, 6)
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: d1}))
	oracle.undo(od1)
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 5, Target: d2}))
	oracle.undo(od2)
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Redo(RedoOp{Replica: e.ID(), Stamp: 6, Target: d1}))
	oracle.redo(od1)
	require.Equal(t, oracle.String(), e.ToString())
}

// P3/P4 — oracle equivalence for a shared-endpoint overlap with undo,
// mirroring TestOverlapSharedEndpoint.
func TestOracleEquivalenceSharedEndpoint(t *testing.T) {
	e := newTestEngine(t)
	oracle := newNaiveOracle()

	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "abcdef"}))
	oracle.insert(0, "abcdef")

	d1 := ids.OperationID{Replica: e.ID(), Stamp: 2}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 1},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 4},
	}))
	od1 := oracle.delete(1, 4)
	require.Equal(t, oracle.String(), e.ToString())

	d2 := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 3,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 1},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 3},
	}))
	od2 := oracle.delete(1, 3)
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: d1}))
	oracle.undo(od1)
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 5, Target: d2}))
	oracle.undo(od2)
	require.Equal(t, oracle.String(), e.ToString())
}

// P3 — oracle equivalence through an Undo-of-Undo reroute (Redo of the
// original delete), mirroring TestUndoOfUndoReroutes.
func TestOracleEquivalenceUndoOfUndo(t *testing.T) {
	e := newTestEngine(t)
	oracle := newNaiveOracle()

	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello"}))
	oracle.insert(0, "hello")

	d1 := ids.OperationID{Replica: e.ID(), Stamp: 2}
	require.True(t, e.Delete(Deletion{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 0},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 5},
	}))
	od1 := oracle.delete(0, 5)
	require.Equal(t, oracle.String(), e.ToString())

	u1 := ids.OperationID{Replica: e.ID(), Stamp: 3}
	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 3, Target: d1}))
	oracle.undo(od1)
	require.Equal(t, oracle.String(), e.ToString())

	require.True(t, e.Undo(UndoOp{Replica: e.ID(), Stamp: 4, Target: u1}))
	oracle.redo(od1)
	require.Equal(t, oracle.String(), e.ToString())
}

// §7 UnknownReplica / MissingOperation: drops are silent, not panics.
func TestInsertDropsOnMissingParent(t *testing.T) {
	e := newTestEngine(t)
	bogus := ids.ReplicaID{}
	ok := e.Insert(Insertion{
		Replica: e.ID(), Stamp: 1,
		Anchor: ids.Anchor{Replica: bogus, Stamp: 99, Pos: 0},
		Text:   "nope",
	})
	require.False(t, ok)
	require.Equal(t, "", e.ToString())
}

// §3 invariant 8: re-applying the same OperationID is a no-op.
func TestDuplicateApplyIsNoop(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hi"}))
	require.False(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hi"}))
	require.Equal(t, "hi", e.ToString())
}

// Format ranges go through the same machinery as deletes but affect
// attributes instead of visibility (§9 supplemented feature 2).
func TestFormatDoesNotHideText(t *testing.T) {
	e := newTestEngine(t)
	require.True(t, e.Insert(Insertion{Replica: e.ID(), Stamp: 1, Anchor: sentinelAnchor(e), Text: "hello"}))
	require.True(t, e.Format(FormatOp{
		Replica: e.ID(), Stamp: 2,
		Begin: ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 0},
		End:   ids.Anchor{Replica: e.ID(), Stamp: 1, Pos: 5},
		Key:   "bold", Value: true,
	}))
	require.Equal(t, "hello", e.ToString())
}
