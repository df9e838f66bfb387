package skeleton_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/skeleton"
)

func v37Instance(initInstrs []*classfile.InstructionInfo) *lazyval.LazyValInstance {
	storage := &classfile.FieldInfo{Name: "foo$lzy1", Descriptor: lazyval.GenericObjectDescriptor, AccessFlags: classfile.AccVolatile}
	offset := &classfile.FieldInfo{Name: "OFFSET$0", Descriptor: "J"}
	initMethod := &classfile.MethodInfo{Name: "foo$lzyINIT1", Descriptor: "()Ljava/lang/Object;"}
	initMethod.Instructions = initInstrs
	return &lazyval.LazyValInstance{
		Name: "foo", Index: 1, Family: lazyval.FamilyV3_7,
		StorageField: storage, OffsetField: offset, InitMethod: initMethod,
	}
}

func TestExtractV37Fingerprint(t *testing.T) {
	lv := v37Instance([]*classfile.InstructionInfo{
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETFIELD", "C", "OFFSET$0", "J"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "objCAS", "(...)Z"),
	})
	fp := skeleton.Extract(lv)

	want := &skeleton.Fingerprint{
		Family:            lazyval.FamilyV3_7,
		HasOffsetField:    true,
		HasInitMethod:     true,
		StorageDescriptor: lazyval.GenericObjectDescriptor,
		InitSkeleton:      []string{"GETFIELD OFFSET", "CAS"},
	}
	if diff := cmp.Diff(want, fp); diff != "" {
		t.Errorf("fingerprint mismatch (-want +got):\n%s", diff)
	}
}

func TestEqualIgnoresComputationBodyDifferences(t *testing.T) {
	a := v37Instance([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETFIELD", "C", "OFFSET$0", "J"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "objCAS", "(...)Z"),
	})
	// A structurally identical synchronization skeleton, but a different
	// (longer) computation feeding the CAS - the fingerprint must still
	// match since it discards value-producing instructions outside the
	// recognized vocabulary.
	b := v37Instance([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETFIELD", "C", "OFFSET$0", "J"),
		classfile.NewVarInstr("ILOAD", 2),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "objCAS", "(...)Z"),
	})

	require.True(t, skeleton.Equal(skeleton.Extract(a), skeleton.Extract(b)))
}

func TestEqualDetectsSynchronizationDifference(t *testing.T) {
	a := v37Instance([]*classfile.InstructionInfo{
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "objCAS", "(...)Z"),
	})
	b := v37Instance([]*classfile.InstructionInfo{
		classfile.NewSimple("MONITORENTER"),
		classfile.NewSimple("MONITOREXIT"),
	})

	require.False(t, skeleton.Equal(skeleton.Extract(a), skeleton.Extract(b)))
}

func TestEqualAlwaysDifferentForUnknown(t *testing.T) {
	a := &lazyval.LazyValInstance{Family: lazyval.FamilyUnknown, UnknownReason: "x"}
	b := &lazyval.LazyValInstance{Family: lazyval.FamilyUnknown, UnknownReason: "x"}

	require.False(t, skeleton.Equal(skeleton.Extract(a), skeleton.Extract(b)))
}
