package classfile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
)

func buildMinimalClass() *classfile.ClassInfo {
	ci := &classfile.ClassInfo{
		MinorVersion: 0,
		MajorVersion: 61,
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
		ThisClass:    "com/example/Widget",
		SuperClass:   "java/lang/Object",
		Pool:         classfile.NewConstantPool(),
	}
	ci.Fields = []*classfile.FieldInfo{
		{Name: "count", Descriptor: "I", AccessFlags: classfile.AccPrivate},
	}

	m := &classfile.MethodInfo{Name: "identity", Descriptor: "(Ljava/lang/Object;)Ljava/lang/Object;", AccessFlags: classfile.AccPublic}
	m.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewVarInstr("ALOAD", 1),
		classfile.NewSimple("DUP"),
		classfile.NewBranch("IFNONNULL", 4),
		classfile.NewSimple("ACONST_NULL"),
		classfile.NewSimple("ARETURN"),
	}, nil)
	ci.Methods = []*classfile.MethodInfo{m}
	ci.InnerClasses = []classfile.InnerClassRef{
		{InnerName: "com/example/Widget$Inner", OuterName: "com/example/Widget", InnerSimpleName: "Inner", AccessFlags: classfile.AccPublic | classfile.AccStatic},
	}
	return ci
}

func TestMarshalParseRoundTrip(t *testing.T) {
	ci := buildMinimalClass()

	data, err := classfile.Marshal(ci)
	require.NoError(t, err)

	parsed, err := classfile.Parse(data)
	require.NoError(t, err)

	require.Equal(t, ci.ThisClass, parsed.ThisClass)
	require.Equal(t, ci.SuperClass, parsed.SuperClass)
	require.Equal(t, uint16(61), parsed.MajorVersion)

	require.Len(t, parsed.Fields, 1)
	require.Equal(t, "count", parsed.Fields[0].Name)
	require.Equal(t, classfile.AccPrivate, parsed.Fields[0].AccessFlags&classfile.AccPrivate)

	method := parsed.FindMethod("identity", "(Ljava/lang/Object;)Ljava/lang/Object;")
	require.NotNil(t, method)
	require.True(t, method.HasCode())
	require.Len(t, method.Instructions, 5)
	require.Equal(t, "IFNONNULL", method.Instructions[2].Mnemonic)
	// the branch must resolve to the ACONST_NULL/ARETURN pair's instruction
	// index, not a raw byte offset
	require.Equal(t, 4, method.Instructions[2].BranchTarget)

	require.True(t, parsed.HasInnerClass("com/example/Widget$Inner"))
}

func TestParseInvalidMagic(t *testing.T) {
	_, err := classfile.Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	require.Error(t, err)
}

func TestFindMethodByNameAndRemoveField(t *testing.T) {
	ci := buildMinimalClass()

	require.NotNil(t, ci.FindMethodByName("identity"))
	require.Nil(t, ci.FindMethodByName("missing"))

	require.True(t, ci.RemoveField("count"))
	require.False(t, ci.RemoveField("count"))
	require.Nil(t, ci.FindField("count"))
}

func TestClinitMethodHelper(t *testing.T) {
	ci := buildMinimalClass()
	require.Nil(t, ci.ClinitMethod())

	clinit := &classfile.MethodInfo{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic}
	clinit.SetInstructions([]*classfile.InstructionInfo{classfile.NewSimple("RETURN")}, nil)
	ci.Methods = append(ci.Methods, clinit)

	require.Same(t, clinit, ci.ClinitMethod())
}
