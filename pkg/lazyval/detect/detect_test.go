package detect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/detect"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/internal/lvtest"
)

func TestDetectV37(t *testing.T) {
	ci := lvtest.V37Class("com/example/Foo", "foo")

	result, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.False(t, result.MixedFamilies)
	require.Len(t, result.Instances, 1)

	lv := result.Instances[0]
	require.Equal(t, "foo", lv.Name)
	require.Equal(t, 1, lv.Index)
	require.Equal(t, lazyval.FamilyV3_7, lv.Family)
	require.NotNil(t, lv.OffsetField)
	require.False(t, lv.OffsetInCompanion)
	require.NotNil(t, lv.InitMethod)
	require.NotNil(t, lv.AccessorMethod)
	require.Nil(t, lv.HandleField)
}

func TestDetectV38plusIsAlreadyCurrent(t *testing.T) {
	ci := lvtest.V38plusClass("com/example/Foo", "foo")

	result, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)
	require.Equal(t, lazyval.FamilyV3_8plus, result.Instances[0].Family)
}

func TestDetectUnknownPattern(t *testing.T) {
	ci := lvtest.UnknownClass("com/example/Foo", "foo")

	result, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)
	require.Equal(t, lazyval.FamilyUnknown, result.Instances[0].Family)
	require.NotEmpty(t, result.Instances[0].UnknownReason)
}

func TestDetectNoLazyVals(t *testing.T) {
	ci := lvtest.NewEmptyClass("com/example/Plain", "java/lang/Object")
	ci.Fields = []*classfile.FieldInfo{
		{Name: "companion", Descriptor: "Lcom/example/Plain$;", AccessFlags: classfile.AccPrivate | classfile.AccFinal},
	}

	result, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.True(t, result.Empty())
}

func TestDetectFalsePositiveCompanionFieldIsSkipped(t *testing.T) {
	// A field merely shaped like "<name>$lzy<n>" but non-volatile, with none
	// of the corroborating evidence (offset/bitmap/handle/init method), is
	// an eagerly-initialized reference, not a lazy val.
	ci := lvtest.NewEmptyClass("com/example/Plain", "java/lang/Object")
	ci.Fields = []*classfile.FieldInfo{
		{Name: "other$lzy2", Descriptor: "Ljava/lang/Object;", AccessFlags: classfile.AccPrivate},
	}

	result, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.True(t, result.Empty())
}

func TestDetectMixedFamiliesInOneClass(t *testing.T) {
	v37 := lvtest.V37Class("com/example/Foo", "foo")
	v38 := lvtest.V38plusClass("com/example/Foo", "bar")

	ci := lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")
	ci.Fields = append(append([]*classfile.FieldInfo{}, v37.Fields...), v38.Fields...)
	ci.Methods = append(append([]*classfile.MethodInfo{}, v37.Methods...), v38.Methods...)

	result, err := detect.Detect(ci, nil)
	require.NoError(t, err)
	require.True(t, result.MixedFamilies)
	require.Len(t, result.Instances, 2)
}

func TestDetectOffsetFieldInCompanion(t *testing.T) {
	// The object half carries the storage field and init method; the
	// companion class carries the offset field and its installing
	// <clinit>, as Scala emits for a companion-object lazy val.
	object := lvtest.V37Class("com/example/Foo$", "foo")
	companion := lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")
	companion.Fields = []*classfile.FieldInfo{object.Fields[1]} // the OFFSET$0 field
	companion.Methods = []*classfile.MethodInfo{object.Methods[0]} // the <clinit>
	object.Fields = object.Fields[:1]
	object.Methods = object.Methods[1:]

	result, err := detect.Detect(object, companion)
	require.NoError(t, err)
	require.Len(t, result.Instances, 1)
	lv := result.Instances[0]
	require.Equal(t, lazyval.FamilyV3_7, lv.Family)
	require.NotNil(t, lv.OffsetField)
	require.True(t, lv.OffsetInCompanion)
}
