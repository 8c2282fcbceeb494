package blind_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/x64backend/blind"
)

// TestArithPairRoundTrips checks, for each mnemonic, that applying the
// returned pair in order reproduces the original immediate exactly. Sub is
// a regression test: an earlier version of ArithPair's Sub case computed
// (mask, k+mask) instead of (mask, k-mask), which overshoots k by 2*mask
// once both steps are applied.
func TestArithPairRoundTrips(t *testing.T) {
	ks := []uint32{0, 1, 0xFFFFFFFF, 0x80000000, 0x12345678, 5}

	for _, k := range ks {
		for _, m := range []blind.Mnemonic{blind.Add, blind.Sub, blind.And, blind.Or, blind.Xor} {
			a, b := blind.ArithPair(m, k)
			var got uint32
			switch m {
			case blind.Add:
				got = a + b
			case blind.Sub:
				got = a + b // total subtracted by the two steps
			case blind.And:
				got = a & b
			case blind.Or:
				got = a | b
			case blind.Xor:
				got = a ^ b
			}
			require.Equal(t, k, got, "mnemonic=%v k=%#x a=%#x b=%#x", m, k, a, b)
		}
	}
}

// TestArithPairSubExactCounterexample pins the specific mask/k combination
// that exposed the original Sub bug: starting from an initial register
// value of k, subtracting a then b must land back on 0 (i.e. op(op(k,a),b)
// == op(k,k) == 0), not 2*mask away from it.
func TestArithPairSubExactCounterexample(t *testing.T) {
	k := uint32(5)
	a, b := blind.ArithPair(blind.Sub, k)

	reg := k
	reg -= a
	reg -= b
	require.Equal(t, uint32(0), reg)
}

// TestArithPairNeverRevealsOperand checks that neither returned half of
// And/Or/Xor equals k itself for a nonzero, non-degenerate k: the whole
// point of splitting is that k never appears as a single operand.
func TestArithPairNeverRevealsOperand(t *testing.T) {
	k := uint32(0x12345678)
	for _, m := range []blind.Mnemonic{blind.And, blind.Or, blind.Xor, blind.Add, blind.Sub} {
		a, b := blind.ArithPair(m, k)
		require.NotEqual(t, k, a)
		require.NotEqual(t, k, b)
	}
}

func TestImm32RoundTrips(t *testing.T) {
	k := uint32(0xDEADBEEF)
	load, xorWith := blind.Imm32(k)
	require.Equal(t, k, load^xorWith)
	require.NotEqual(t, k, load, "the loaded bit pattern must not be k itself")
}

func TestImm64RoundTrips(t *testing.T) {
	k := uint64(0x1122334455667788)
	load, xorWith := blind.Imm64(k)
	require.Equal(t, k, load^xorWith)
	require.NotEqual(t, k, load)
}

func TestDisplaceLoadRoundTrips(t *testing.T) {
	d := int32(0x1234)
	adj, newDisp := blind.DisplaceLoad(d)
	require.Equal(t, d, adj+newDisp)
}

func TestShouldBlind(t *testing.T) {
	p := blind.Default
	require.False(t, p.ShouldBlind(false, 0x1234), "untainted values are never blinded")
	require.False(t, p.ShouldBlind(true, 0), "tainted zero is left unblinded by default")
	require.True(t, p.ShouldBlind(true, 1))
	require.True(t, p.ShouldBlind(true, 0xFFFFFFFF))
}

func TestShouldBlindAlwaysBlindZero(t *testing.T) {
	p := blind.Policy{AlwaysBlindZero: true}
	require.True(t, p.ShouldBlind(true, 0))
	require.False(t, p.ShouldBlind(false, 0))
}
