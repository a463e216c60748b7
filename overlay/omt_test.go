package overlay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeLineChargesLeafAndNewNodes(t *testing.T) {
	omt := NewOMT()
	e := newEpoch(0)

	omt.MergeLine(e, 0x1000)

	// Five nodes materialize on the first insert, plus the leaf update.
	s := omt.Stats()
	require.Equal(t, uint64(5), s.PageCount)
	require.Equal(t, uint64(6), s.WriteCount)

	// A second line in the same page touches no new node.
	omt.MergeLine(e, 0x1040)
	require.Equal(t, uint64(7), omt.Stats().WriteCount)
}

func TestMergeLineReturnsDisplacedEpoch(t *testing.T) {
	omt := NewOMT()
	e0 := newEpoch(0)
	e1 := newEpoch(1)

	require.Nil(t, omt.MergeLine(e0, 0x1000))
	require.Same(t, e0, omt.MergeLine(e1, 0x1000))
	require.Same(t, e1, omt.Find(0x1000))
}

func TestMergeLineUnalignedPanics(t *testing.T) {
	omt := NewOMT()

	require.Panics(t, func() { omt.MergeLine(newEpoch(0), 0x1001) })
}
