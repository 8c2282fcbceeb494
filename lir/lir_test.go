package lir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/x64backend/lir"
)

func TestReverseWalkIsReverseProgramOrder(t *testing.T) {
	f := lir.NewFunc("t")
	p0 := f.Param(0, lir.TI)
	k := f.ImmI(1)
	sum := f.Add(lir.TI, p0, k)
	f.Ret(sum)

	fwd := f.Instr
	rev := f.ReverseWalk()
	require.Len(t, rev, len(fwd))
	for i := range fwd {
		require.Same(t, fwd[len(fwd)-1-i], rev[i])
	}
}

func TestImmPredicates(t *testing.T) {
	f := lir.NewFunc("t")
	i := f.ImmI(7)
	q := f.ImmQ(7)
	d := f.ImmD(7)

	require.True(t, i.IsImmI())
	require.True(t, i.IsImmAny())
	require.False(t, i.IsImmQ())

	require.True(t, q.IsImmQ())
	require.True(t, d.IsImmD())
}

func TestTaintPropagatesOnlyWhenMarked(t *testing.T) {
	f := lir.NewFunc("t")
	p := f.Param(0, lir.TI)
	require.False(t, p.IsTainted())
	p.Taint()
	require.True(t, p.IsTainted())
}

func TestOprndIsOneIndexed(t *testing.T) {
	f := lir.NewFunc("t")
	a := f.ImmI(1)
	b := f.ImmI(2)
	add := f.Add(lir.TI, a, b)

	require.Same(t, a, add.Oprnd(1))
	require.Same(t, b, add.Oprnd(2))
	require.Equal(t, 2, add.NOperands())
}
