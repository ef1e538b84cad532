package otree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intLess(a, b *int) bool { return *a < *b }

func collect(s *OrderedSet[int]) []int {
	var out []int
	for e := s.Begin(); !e.IsEnd(); e = e.Next() {
		out = append(out, e.Value)
	}
	return out
}

func TestOrderedSetInsertMaintainsOrder(t *testing.T) {
	s := NewOrderedSet[int]()
	for _, v := range []int{5, 1, 4, 2, 3} {
		s.Insert(v, intLess)
	}
	require.Equal(t, []int{1, 2, 3, 4, 5}, collect(s))
	require.Equal(t, 5, s.Len())
}

func TestOrderedSetInsertEqualIsStableBeforeEqual(t *testing.T) {
	s := NewOrderedSet[int]()
	first := s.Insert(2, intLess)
	s.Insert(1, intLess)
	second := s.Insert(2, intLess)
	s.Insert(3, intLess)

	require.Equal(t, []int{1, 2, 2, 3}, collect(s))
	require.Equal(t, second, s.Begin().Next())
	require.Equal(t, first, second.Next())
}

func TestOrderedSetFindAndLowerBound(t *testing.T) {
	s := NewOrderedSet[int]()
	for _, v := range []int{10, 20, 30} {
		s.Insert(v, intLess)
	}

	found := s.Find(20, intLess)
	require.False(t, found.IsEnd())
	require.Equal(t, 20, found.Value)

	require.True(t, s.Find(25, intLess).IsEnd())

	lb := s.LowerBound(15, intLess)
	require.Equal(t, 20, lb.Value)

	require.True(t, s.LowerBound(100, intLess).IsEnd())
	require.Equal(t, 10, s.LowerBound(0, intLess).Value)
}

func TestOrderedSetErase(t *testing.T) {
	s := NewOrderedSet[int]()
	s.Insert(1, intLess)
	mid := s.Insert(2, intLess)
	s.Insert(3, intLess)

	s.Erase(mid)
	require.Equal(t, []int{1, 3}, collect(s))
	require.Equal(t, 2, s.Len())

	s.Erase(s.Begin())
	require.Equal(t, []int{3}, collect(s))
}

func TestOrderedSetElementIdentityStableAcrossInserts(t *testing.T) {
	s := NewOrderedSet[int]()
	a := s.Insert(1, intLess)
	s.Insert(0, intLess) // inserted before a
	s.Insert(2, intLess) // inserted after a

	require.Equal(t, 1, a.Value)
	require.Equal(t, 0, a.Prev().Value)
	require.Equal(t, 2, a.Next().Value)
}
