package patch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/detect"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/internal/lvtest"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/patch"
)

func TestPatchV37ClassInstallsHandleAndRemovesOffset(t *testing.T) {
	ci := lvtest.V37Class("com/example/Foo", "foo")
	det, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.Len(t, det.Instances, 1)

	require.NoError(t, patch.PatchV37Class(ci, det.Instances))

	require.Nil(t, ci.FindField("OFFSET$0"))
	handle := ci.FindField("foo$lzy1$lzyHandle")
	require.NotNil(t, handle)
	require.Equal(t, lazyval.HandleDescriptor, handle.Descriptor)

	clinit := ci.ClinitMethod()
	require.NotNil(t, clinit)
	require.Equal(t, "INVOKESTATIC", clinit.Instructions[0].Mnemonic)
	require.Equal(t, "lookup", clinit.Instructions[0].NameOperand)
	require.Equal(t, "PUTSTATIC", clinit.Instructions[5].Mnemonic)
	require.Equal(t, "foo$lzy1$lzyHandle", clinit.Instructions[5].NameOperand)
	require.Equal(t, "RETURN", clinit.Instructions[6].Mnemonic)
	require.Len(t, clinit.Instructions, 7)

	initMethod := ci.FindMethod("foo$lzyINIT1", "()Ljava/lang/Object;")
	require.NotNil(t, initMethod)
	require.Equal(t, "GETSTATIC", initMethod.Instructions[0].Mnemonic)
	require.Equal(t, "foo$lzy1$lzyHandle", initMethod.Instructions[0].NameOperand)
	require.Equal(t, "compareAndSet", initMethod.Instructions[4].NameOperand)

	require.True(t, ci.HasInnerClass(lazyval.LookupClass))
}

func TestPatchV37ClassSynthesizesClinitWhenAbsent(t *testing.T) {
	ci := lvtest.V37Class("com/example/Foo", "foo")
	ci.Methods = ci.Methods[1:] // drop <clinit>, leaving the offset field orphaned

	instances := []*lazyval.LazyValInstance{
		{
			Name: "foo", Index: 1, Family: lazyval.FamilyV3_7,
			StorageField: ci.Fields[0], OffsetField: ci.Fields[1],
			InitMethod: ci.FindMethod("foo$lzyINIT1", "()Ljava/lang/Object;"),
		},
	}

	require.NoError(t, patch.PatchV37Class(ci, instances))

	clinit := ci.ClinitMethod()
	require.NotNil(t, clinit)
	require.Equal(t, "INVOKESTATIC", clinit.Instructions[0].Mnemonic)
	require.Equal(t, "RETURN", clinit.Instructions[len(clinit.Instructions)-1].Mnemonic)
}

func TestStripCompanionOffsetsRemovesFieldAndRewritesClinit(t *testing.T) {
	object := lvtest.V37Class("com/example/Foo$", "foo")
	companion := lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")
	companion.Fields = append(companion.Fields, object.Fields[1])
	companion.Methods = append(companion.Methods, object.Methods[0])
	object.Fields = object.Fields[:1]
	object.Methods = object.Methods[1:]

	det, err := detect.Detect(object, companion)
	require.NoError(t, err)
	require.Len(t, det.Instances, 1)
	require.True(t, det.Instances[0].OffsetInCompanion)

	require.NoError(t, patch.StripCompanionOffsets(companion, det.Instances, object.ThisClass))

	require.Nil(t, companion.FindField("OFFSET$0"))
	clinit := companion.ClinitMethod()
	require.NotNil(t, clinit)
	require.Equal(t, "PUTSTATIC", clinit.Instructions[5].Mnemonic)
	require.Equal(t, object.ThisClass, clinit.Instructions[5].OwnerOperand)
}
