package otree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type run struct {
	total, visible int
}

func runSize(r *run) PieceInfo { return PieceInfo{Total: r.total, Visible: r.visible} }

func TestSequenceInsertAndWalk(t *testing.T) {
	s := NewSequence(runSize)
	require.Equal(t, 0, s.Len())
	require.True(t, s.Begin().IsEnd())

	e1 := s.InsertBefore(s.End(), run{total: 3, visible: 3})
	e2 := s.InsertBefore(s.End(), run{total: 2, visible: 0})
	e3 := s.InsertAfter(e1, run{total: 1, visible: 1})

	require.Equal(t, 3, s.Len())
	require.Equal(t, e1, s.Begin())
	require.Equal(t, e3, e1.Next())
	require.Equal(t, e2, e3.Next())
	require.True(t, e2.Next().IsEnd())
	require.Equal(t, e2, s.Last())
}

func TestSequenceFindByTotalAndVisible(t *testing.T) {
	s := NewSequence(runSize)
	a := s.InsertBefore(s.End(), run{total: 3, visible: 2}) // visible offsets 0-1, total 0-2
	b := s.InsertBefore(s.End(), run{total: 0, visible: 0}) // tombstoned empty piece
	c := s.InsertBefore(s.End(), run{total: 4, visible: 4}) // total 3-6, visible 2-5
	_ = b

	require.Equal(t, a, s.FindByTotal(0))
	require.Equal(t, a, s.FindByTotal(2))
	require.Equal(t, c, s.FindByTotal(3))
	require.Equal(t, c, s.FindByTotal(6))
	require.True(t, s.FindByTotal(7).IsEnd())

	require.Equal(t, a, s.FindByVisible(0))
	require.Equal(t, a, s.FindByVisible(1))
	require.Equal(t, c, s.FindByVisible(2))
	require.Equal(t, c, s.FindByVisible(5))
	require.True(t, s.FindByVisible(6).IsEnd())
}

func TestSequencePositionIsPrefixSum(t *testing.T) {
	s := NewSequence(runSize)
	s.InsertBefore(s.End(), run{total: 2, visible: 1})
	s.InsertBefore(s.End(), run{total: 5, visible: 3})
	third := s.InsertBefore(s.End(), run{total: 1, visible: 1})

	pos := s.Position(third)
	require.Equal(t, PieceInfo{Total: 7, Visible: 4}, pos)
	require.Equal(t, PieceInfo{Total: 0, Visible: 0}, s.Position(s.Begin()))
}

func TestSequenceElementIdentityIsStable(t *testing.T) {
	s := NewSequence(runSize)
	a := s.InsertBefore(s.End(), run{total: 1, visible: 1})
	b := s.InsertBefore(s.End(), run{total: 1, visible: 1})
	c := s.InsertBefore(a, run{total: 1, visible: 1})

	require.Equal(t, c, s.Begin())
	require.Equal(t, a, c.Next())
	require.Equal(t, b, a.Next())
	require.True(t, a.IsBegin() == false)
	require.True(t, c.IsBegin())
}

func TestSequenceFindPredicate(t *testing.T) {
	s := NewSequence(runSize)
	s.InsertBefore(s.End(), run{total: 1, visible: 1})
	second := s.InsertBefore(s.End(), run{total: 1, visible: 1})
	s.InsertBefore(s.End(), run{total: 1, visible: 1})

	got := s.Find(func(acc PieceInfo) bool { return acc.Total >= 2 })
	require.Equal(t, second, got)

	none := s.Find(func(acc PieceInfo) bool { return acc.Total >= 100 })
	require.True(t, none.IsEnd())
}
