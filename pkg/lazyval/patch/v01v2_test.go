package patch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/detect"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/internal/lvtest"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/patch"
)

func TestDetectClassifiesV01AndV2(t *testing.T) {
	v01, err := detect.Detect(lvtest.V01Class("com/example/Foo", "foo"), nil)
	require.NoError(t, err)
	require.Len(t, v01.Instances, 1)
	require.Equal(t, lazyval.FamilyV0_1, v01.Instances[0].Family)

	v2, err := detect.Detect(lvtest.V2Class("com/example/Bar", "bar"), nil)
	require.NoError(t, err)
	require.Len(t, v2.Instances, 1)
	require.Equal(t, lazyval.FamilyV2, v2.Instances[0].Family)
}

func TestPatchV01V2ClassInstallsHandleAndStripsBitmap(t *testing.T) {
	ci := lvtest.V01Class("com/example/Foo", "foo")
	det, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.Len(t, det.Instances, 1)

	require.NoError(t, patch.PatchV01V2Class(ci, det.Instances))

	require.Nil(t, ci.FindField("OFFSET$0"))
	require.Nil(t, ci.FindField("0bitmap$1"))

	storage := ci.FindField("foo$lzy1")
	require.NotNil(t, storage)
	require.Equal(t, lazyval.GenericObjectDescriptor, storage.Descriptor)
	require.True(t, storage.IsVolatile())

	handle := ci.FindField("foo$lzy1$lzyHandle")
	require.NotNil(t, handle)
	require.Equal(t, lazyval.HandleDescriptor, handle.Descriptor)

	initMethod := ci.FindMethod("foo$lzyINIT1", "()Ljava/lang/Object;")
	require.NotNil(t, initMethod)
	require.NotEmpty(t, initMethod.ExceptionHandlers)

	accessor := ci.FindMethodByName("foo")
	require.NotNil(t, accessor)
	require.NotEqual(t, "CAS8", accessor.Instructions[0].NameOperand)

	clinit := ci.ClinitMethod()
	require.NotNil(t, clinit)
	require.Equal(t, "INVOKESTATIC", clinit.Instructions[0].Mnemonic)
	require.Equal(t, "lookup", clinit.Instructions[0].NameOperand)

	require.True(t, ci.HasInnerClass(lazyval.LookupClass))
	require.True(t, ci.HasInnerClass(lazyval.EvaluatingClass))
	require.True(t, ci.HasInnerClass(lazyval.ControlStateClass))
	require.True(t, ci.HasInnerClass(lazyval.NullValueClass))
	require.True(t, ci.HasInnerClass(lazyval.WaitingClass))
}

func TestPatchV2ClassViaController(t *testing.T) {
	ci := lvtest.V2Class("com/example/Bar", "bar")
	group := &lazyval.ClassGroup{Companion: &lazyval.ClassFileEntry{Name: "com/example/Bar", Info: ci}}

	result, err := patch.Patch(group)
	require.NoError(t, err)
	require.Equal(t, patch.Patched, result.Kind)
	require.NotEmpty(t, result.Bytes1)
}

func TestStripCompanionOffsetsV01V2RemovesFieldAndClinitSpan(t *testing.T) {
	object := lvtest.V01Class("com/example/Foo$", "foo")
	companion := lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")
	// The offset field and its installing <clinit> live on the companion;
	// the storage/bitmap fields and accessor stay on the object.
	companion.Fields = append(companion.Fields, object.Fields[2]) // OFFSET$0
	companion.Methods = append(companion.Methods, object.Methods[0]) // <clinit>
	object.Fields = object.Fields[:2]
	object.Methods = object.Methods[1:]

	det, err := detect.Detect(object, companion)
	require.NoError(t, err)
	require.Len(t, det.Instances, 1)
	require.True(t, det.Instances[0].OffsetInCompanion)

	require.NoError(t, patch.StripCompanionOffsetsV01V2(companion, det.Instances))

	require.Nil(t, companion.FindField("OFFSET$0"))
	clinit := companion.ClinitMethod()
	require.NotNil(t, clinit)
	require.Equal(t, "RETURN", clinit.Instructions[len(clinit.Instructions)-1].Mnemonic)
	require.Len(t, clinit.Instructions, 1)
}
