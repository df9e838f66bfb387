package group_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/group"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/internal/lvtest"
)

func marshal(t *testing.T, ci *classfile.ClassInfo) []byte {
	t.Helper()
	data, err := classfile.Marshal(ci)
	require.NoError(t, err)
	return data
}

func TestGroupPairsObjectWithCompanion(t *testing.T) {
	byName := map[string][]byte{
		"com/example/Foo$": marshal(t, lvtest.NewEmptyClass("com/example/Foo$", "java/lang/Object")),
		"com/example/Foo":  marshal(t, lvtest.NewEmptyClass("com/example/Foo", "java/lang/Object")),
	}

	groups, err := group.Group(byName)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.True(t, groups[0].IsPair())
	require.Equal(t, "com/example/Foo$", groups[0].Object.Name)
	require.Equal(t, "com/example/Foo", groups[0].Companion.Name)
	require.Equal(t, "com/example/Foo", groups[0].Name())
}

func TestGroupStandaloneClasses(t *testing.T) {
	byName := map[string][]byte{
		"com/example/Bar":  marshal(t, lvtest.NewEmptyClass("com/example/Bar", "java/lang/Object")),
		"com/example/Baz$": marshal(t, lvtest.NewEmptyClass("com/example/Baz$", "java/lang/Object")), // no companion present
	}

	groups, err := group.Group(byName)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	for _, g := range groups {
		require.False(t, g.IsPair())
	}
}

func TestGroupPropagatesParseErrors(t *testing.T) {
	byName := map[string][]byte{
		"com/example/Good": marshal(t, lvtest.NewEmptyClass("com/example/Good", "java/lang/Object")),
		"com/example/Bad":  {0xDE, 0xAD, 0xBE, 0xEF},
	}

	groups, err := group.Group(byName)
	require.Error(t, err)
	require.Nil(t, groups)
	require.Contains(t, err.Error(), "com/example/Bad")
}
