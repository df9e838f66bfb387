package writer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile/writer"
)

// buildHierarchy wires up:
//
//	Animal (implements Named)
//	  Dog extends Animal
//	  Cat extends Animal
//	Named (interface)
func buildHierarchy(t *testing.T) writer.ClassBytesResolver {
	t.Helper()
	classes := map[string]*classfile.ClassInfo{
		"Animal": {ThisClass: "Animal", SuperClass: "java/lang/Object", Interfaces: []string{"Named"}},
		"Dog":    {ThisClass: "Dog", SuperClass: "Animal"},
		"Cat":    {ThisClass: "Cat", SuperClass: "Animal"},
		"Named":  {ThisClass: "Named", SuperClass: "java/lang/Object", AccessFlags: classfile.AccInterface | classfile.AccAbstract},
	}
	bytesByName := map[string][]byte{}
	for name, ci := range classes {
		data, err := classfile.Marshal(ci)
		require.NoError(t, err)
		bytesByName[name] = data
	}
	return func(internalName string) ([]byte, bool) {
		data, ok := bytesByName[internalName]
		return data, ok
	}
}

func TestCommonSuperclassSiblings(t *testing.T) {
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, "Animal", r.CommonSuperclass("Dog", "Cat"))
}

func TestCommonSuperclassSelfAndAncestor(t *testing.T) {
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, "Animal", r.CommonSuperclass("Dog", "Animal"))
	require.Equal(t, "Animal", r.CommonSuperclass("Animal", "Dog"))
}

func TestCommonSuperclassSameClass(t *testing.T) {
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, "Dog", r.CommonSuperclass("Dog", "Dog"))
}

func TestCommonSuperclassObjectShortCircuit(t *testing.T) {
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, writer.ObjectClass, r.CommonSuperclass(writer.ObjectClass, "Dog"))
}

func TestCommonSuperclassUnresolvablePlatformName(t *testing.T) {
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, writer.ObjectClass, r.CommonSuperclass("Dog", "java/util/ArrayList"))
}

func TestCommonSuperclassInterfaceImplementedByOtherSide(t *testing.T) {
	// Dog implements Named transitively (through Animal), so the interface
	// itself is the narrowest common type - the verifier-style Object
	// fallback only applies when neither side is assignable to the other.
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, "Named", r.CommonSuperclass("Named", "Dog"))
}

func TestCommonSuperclassUnrelatedInterfacesFallBackToObject(t *testing.T) {
	r := writer.NewSuperclassResolver(buildHierarchy(t))
	require.Equal(t, writer.ObjectClass, r.CommonSuperclass("Named", "java/util/ArrayList"))
}
