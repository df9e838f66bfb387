package compare_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/compare"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/internal/lvtest"
)

func TestCompareIdenticalSameFamily(t *testing.T) {
	a := lvtest.V37Class("com/example/Foo", "foo")
	b := lvtest.V37Class("com/example/Foo", "foo")

	result, err := compare.Compare(a, b, nil, nil)
	require.NoError(t, err)
	require.Equal(t, compare.Identical, result.Outcome)
	require.Empty(t, result.Reasons)
}

func TestCompareBothEmpty(t *testing.T) {
	a := lvtest.NewEmptyClass("com/example/Plain", "java/lang/Object")
	b := lvtest.NewEmptyClass("com/example/Plain", "java/lang/Object")

	result, err := compare.Compare(a, b, nil, nil)
	require.NoError(t, err)
	require.Equal(t, compare.BothEmpty, result.Outcome)
}

func TestCompareOnlyOneHasAny(t *testing.T) {
	a := lvtest.V37Class("com/example/Foo", "foo")
	b := lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")

	result, err := compare.Compare(a, b, nil, nil)
	require.NoError(t, err)
	require.Equal(t, compare.OnlyOneHasAny, result.Outcome)
	require.Equal(t, 1, result.OnlyCount)
}

func TestCompareDifferentFamilyMismatch(t *testing.T) {
	a := lvtest.V37Class("com/example/Foo", "foo")
	b := lvtest.V38plusClass("com/example/Foo", "foo")

	result, err := compare.Compare(a, b, nil, nil)
	require.NoError(t, err)
	require.Equal(t, compare.Different, result.Outcome)
	require.Len(t, result.Reasons, 1)
	require.Contains(t, result.Reasons[0], "family mismatch")
}

func TestCompareDifferentNameSets(t *testing.T) {
	a := lvtest.V37Class("com/example/Foo", "foo")
	b := lvtest.V37Class("com/example/Foo", "bar")

	result, err := compare.Compare(a, b, nil, nil)
	require.NoError(t, err)
	require.Equal(t, compare.Different, result.Outcome)
	require.Len(t, result.Reasons, 2) // "only in first: foo", "only in second: bar"
}
