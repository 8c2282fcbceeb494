package regalloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/x64backend/abi"
	"github.com/tracejit/x64backend/lir"
	"github.com/tracejit/x64backend/reg"
	"github.com/tracejit/x64backend/regalloc"
)

func TestFindRegForAllocatesFreeRegister(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")
	v := f.ImmI(1)

	r, err := a.FindRegFor(v, reg.GPMask)
	require.NoError(t, err)
	require.True(t, reg.GPMask.Contains(r))
	require.True(t, v.IsInReg())
	require.Equal(t, r, v.GetReg())
}

func TestFindRegForReusesExistingRegisterWithinAllow(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")
	v := f.ImmI(1)

	r1, err := a.FindRegFor(v, reg.GPMask)
	require.NoError(t, err)
	r2, err := a.FindRegFor(v, reg.GPMask)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

func TestFindRegForEvictsWhenClassIsFull(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")

	// Restrict to a single-register allow set and fill it, then ask for
	// a second, distinct value in the same one-register mask: this must
	// evict rather than error.
	only := reg.RAX.Mask()
	first := f.ImmI(1)
	_, err := a.FindRegFor(first, only)
	require.NoError(t, err)

	second := f.ImmI(2)
	r, err := a.FindRegFor(second, only)
	require.NoError(t, err)
	require.Equal(t, reg.RAX, r)
	require.True(t, second.IsInReg())
	require.False(t, first.IsInReg(), "evicted value must lose its register binding")
}

func TestEvictedNonRematerializableGetsASpillSlot(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")
	only := reg.RAX.Mask()

	p := f.Param(0, lir.TI) // params are not remat-able (ParamSaved is)
	_, err := a.FindRegFor(p, only)
	require.NoError(t, err)

	other := f.ImmI(9)
	_, err = a.FindRegFor(other, only)
	require.NoError(t, err)

	require.True(t, p.HasDisp, "evicted non-rematerializable value must be spilled")
}

func TestAssignSavedRegsRemovesCalleeSavedFromGeneralPool(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	a.AssignSavedRegs()
	f := lir.NewFunc("t")

	for i := 0; i < 20; i++ {
		v := f.ImmI(int32(i))
		r, err := a.FindRegFor(v, reg.GPMask)
		require.NoError(t, err)
		for _, cs := range abi.SystemV.CalleeSaved {
			require.NotEqual(t, cs, r, "general allocation must not hand out a callee-saved register")
		}
	}
}

func TestFreeResourcesOfReturnsRegisterToPool(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")
	v := f.ImmI(1)

	r, err := a.FindRegFor(v, reg.GPMask)
	require.NoError(t, err)
	a.FreeResourcesOf(v)
	require.False(t, v.IsInReg())

	other := f.ImmI(2)
	err = a.FindSpecificRegFor(other, r)
	require.NoError(t, err)
	require.Equal(t, r, other.GetReg())
}

func TestCanRemat(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")

	imm := f.ImmI(1)
	require.True(t, a.CanRemat(imm))

	imm.Taint()
	require.False(t, a.CanRemat(imm), "tainted immediates must not be rematerialized in the clear")

	saved := f.ParamSaved(0, lir.TQ)
	require.True(t, a.CanRemat(saved))
}

func TestBeginEndLoadRegsRestoresState(t *testing.T) {
	a := regalloc.New(abi.SystemV)
	f := lir.NewFunc("t")
	v := f.ImmI(1)
	r, err := a.FindRegFor(v, reg.GPMask)
	require.NoError(t, err)

	a.BeginLoadRegs()
	a.FreeResourcesOf(v)
	require.False(t, v.IsInReg())
	a.EndLoadRegs()

	require.True(t, v.IsInReg())
	require.Equal(t, r, v.GetReg())
}
