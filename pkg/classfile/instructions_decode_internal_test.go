package classfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDecodeCompactLoadStoreNormalizesToWideForm guards against the decoder
// rendering the compact *load_n/*store_n opcodes verbatim: real scalac
// output addresses `this` with aload_0 throughout, and every matcher in
// pkg/lazyval reasons in the general ILOAD/ASTORE/... + IntOperand shape, so
// a raw "ALOAD_0" mnemonic here would silently desync detection and
// patching against real class files.
func TestDecodeCompactLoadStoreNormalizesToWideForm(t *testing.T) {
	pool := NewConstantPool()
	code := []byte{
		42,  // aload_0
		43,  // aload_1
		26,  // iload_0
		59,  // istore_0
		177, // return
	}

	instrs, err := decodeInstructions(code, pool)
	require.NoError(t, err)
	require.Len(t, instrs, 5)

	require.Equal(t, "ALOAD", instrs[0].Mnemonic)
	require.EqualValues(t, 0, instrs[0].IntOperand)
	require.Equal(t, "ALOAD", instrs[1].Mnemonic)
	require.EqualValues(t, 1, instrs[1].IntOperand)
	require.Equal(t, "ILOAD", instrs[2].Mnemonic)
	require.EqualValues(t, 0, instrs[2].IntOperand)
	require.Equal(t, "ISTORE", instrs[3].Mnemonic)
	require.EqualValues(t, 0, instrs[3].IntOperand)
	require.Equal(t, "RETURN", instrs[4].Mnemonic)
}

// TestDecodeLdcAndLdcWBothRenderClassLiteral confirms LDC and LDC_W decode
// to the same ConstOperand shape for a Class constant, which v37.go's
// matchClinitOffsetSpan relies on to accept either form.
func TestDecodeLdcAndLdcWBothRenderClassLiteral(t *testing.T) {
	pool := NewConstantPool()
	idx := pool.EnsureClass("com/example/Foo")

	narrow, err := decodeInstructions([]byte{18, byte(idx), 177}, pool)
	require.NoError(t, err)
	require.Equal(t, "LDC", narrow[0].Mnemonic)
	require.Equal(t, "com/example/Foo.class", narrow[0].ConstOperand)

	wide, err := decodeInstructions([]byte{19, byte(idx >> 8), byte(idx), 177}, pool)
	require.NoError(t, err)
	require.Equal(t, "LDC_W", wide[0].Mnemonic)
	require.Equal(t, "com/example/Foo.class", wide[0].ConstOperand)
}
