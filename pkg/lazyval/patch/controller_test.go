package patch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/internal/lvtest"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/patch"
)

func TestPatchStandaloneV37(t *testing.T) {
	ci := lvtest.V37Class("com/example/Foo", "foo")
	group := &lazyval.ClassGroup{Companion: &lazyval.ClassFileEntry{Name: "com/example/Foo", Info: ci}}

	result, err := patch.Patch(group)
	require.NoError(t, err)
	require.Equal(t, patch.Patched, result.Kind)
	require.Equal(t, "com/example/Foo", result.Name1)
	require.NotEmpty(t, result.Bytes1)
}

func TestPatchNotApplicableWhenAlreadyCurrent(t *testing.T) {
	ci := lvtest.V38plusClass("com/example/Foo", "foo")
	group := &lazyval.ClassGroup{Companion: &lazyval.ClassFileEntry{Name: "com/example/Foo", Info: ci}}

	result, err := patch.Patch(group)
	require.NoError(t, err)
	require.Equal(t, patch.NotApplicable, result.Kind)
}

func TestPatchNotApplicableWhenNoLazyVals(t *testing.T) {
	ci := lvtest.NewEmptyClass("com/example/Plain", "java/lang/Object")
	group := &lazyval.ClassGroup{Companion: &lazyval.ClassFileEntry{Name: "com/example/Plain", Info: ci}}

	result, err := patch.Patch(group)
	require.NoError(t, err)
	require.Equal(t, patch.NotApplicable, result.Kind)
}

func TestPatchFailsOnUnknownFamily(t *testing.T) {
	ci := lvtest.UnknownClass("com/example/Foo", "foo")
	group := &lazyval.ClassGroup{Companion: &lazyval.ClassFileEntry{Name: "com/example/Foo", Info: ci}}

	result, err := patch.Patch(group)
	require.NoError(t, err)
	require.Equal(t, patch.Failed, result.Kind)
	require.Error(t, result.Err)

	var unsupported *lazyval.UnsupportedPattern
	require.ErrorAs(t, result.Err, &unsupported)
}

func TestPatchPairObjectLazyValWithCompanionOffset(t *testing.T) {
	objectSrc := lvtest.V37Class("com/example/Foo$", "foo")
	companion := lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")
	companion.Fields = append(companion.Fields, objectSrc.Fields[1])
	companion.Methods = append(companion.Methods, objectSrc.Methods[0])
	objectSrc.Fields = objectSrc.Fields[:1]
	objectSrc.Methods = objectSrc.Methods[1:]

	group := &lazyval.ClassGroup{
		Object:    &lazyval.ClassFileEntry{Name: "com/example/Foo$", Info: objectSrc},
		Companion: &lazyval.ClassFileEntry{Name: "com/example/Foo", Info: companion},
	}

	result, err := patch.Patch(group)
	require.NoError(t, err)
	require.Equal(t, patch.PatchedPair, result.Kind)
	require.Equal(t, "com/example/Foo$", result.Name1)
	require.NotEmpty(t, result.Bytes1)
	require.Equal(t, "com/example/Foo", result.Name2)
	require.NotEmpty(t, result.Bytes2)

	require.Nil(t, companion.FindField("OFFSET$0"))
	require.NotNil(t, objectSrc.FindField("foo$lzy1$lzyHandle"))
}
