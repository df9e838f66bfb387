package patch

import "github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"

// typeInfo describes how to box/unbox/return one concrete storage-field
// descriptor, the dispatch table spec.md §4.8 calls for so the accessor and
// initializer synthesis don't special-case every primitive inline.
type typeInfo struct {
	Descriptor  string
	IsPrimitive bool

	// BoxedInternalName is the instanceof/checkcast target: the boxed
	// wrapper's internal name for a primitive, or the declared reference
	// type's own internal name otherwise.
	BoxedInternalName string

	BoxOwner, BoxName, BoxDesc       string
	UnboxOwner, UnboxName, UnboxDesc string

	ReturnOpcode string
	ZeroPush     *classfile.InstructionInfo
}

var primitiveTypeInfos = map[string]typeInfo{
	"I": {
		Descriptor: "I", IsPrimitive: true, BoxedInternalName: "java/lang/Integer",
		BoxOwner: "java/lang/Integer", BoxName: "valueOf", BoxDesc: "(I)Ljava/lang/Integer;",
		UnboxOwner: "java/lang/Integer", UnboxName: "intValue", UnboxDesc: "()I",
		ReturnOpcode: "IRETURN", ZeroPush: classfile.NewSimple("ICONST_0"),
	},
	"J": {
		Descriptor: "J", IsPrimitive: true, BoxedInternalName: "java/lang/Long",
		BoxOwner: "java/lang/Long", BoxName: "valueOf", BoxDesc: "(J)Ljava/lang/Long;",
		UnboxOwner: "java/lang/Long", UnboxName: "longValue", UnboxDesc: "()J",
		ReturnOpcode: "LRETURN", ZeroPush: classfile.NewSimple("LCONST_0"),
	},
	"F": {
		Descriptor: "F", IsPrimitive: true, BoxedInternalName: "java/lang/Float",
		BoxOwner: "java/lang/Float", BoxName: "valueOf", BoxDesc: "(F)Ljava/lang/Float;",
		UnboxOwner: "java/lang/Float", UnboxName: "floatValue", UnboxDesc: "()F",
		ReturnOpcode: "FRETURN", ZeroPush: classfile.NewSimple("FCONST_0"),
	},
	"D": {
		Descriptor: "D", IsPrimitive: true, BoxedInternalName: "java/lang/Double",
		BoxOwner: "java/lang/Double", BoxName: "valueOf", BoxDesc: "(D)Ljava/lang/Double;",
		UnboxOwner: "java/lang/Double", UnboxName: "doubleValue", UnboxDesc: "()D",
		ReturnOpcode: "DRETURN", ZeroPush: classfile.NewSimple("DCONST_0"),
	},
	"Z": {
		Descriptor: "Z", IsPrimitive: true, BoxedInternalName: "java/lang/Boolean",
		BoxOwner: "java/lang/Boolean", BoxName: "valueOf", BoxDesc: "(Z)Ljava/lang/Boolean;",
		UnboxOwner: "java/lang/Boolean", UnboxName: "booleanValue", UnboxDesc: "()Z",
		ReturnOpcode: "IRETURN", ZeroPush: classfile.NewSimple("ICONST_0"),
	},
	"B": {
		Descriptor: "B", IsPrimitive: true, BoxedInternalName: "java/lang/Byte",
		BoxOwner: "java/lang/Byte", BoxName: "valueOf", BoxDesc: "(B)Ljava/lang/Byte;",
		UnboxOwner: "java/lang/Byte", UnboxName: "byteValue", UnboxDesc: "()B",
		ReturnOpcode: "IRETURN", ZeroPush: classfile.NewSimple("ICONST_0"),
	},
	"S": {
		Descriptor: "S", IsPrimitive: true, BoxedInternalName: "java/lang/Short",
		BoxOwner: "java/lang/Short", BoxName: "valueOf", BoxDesc: "(S)Ljava/lang/Short;",
		UnboxOwner: "java/lang/Short", UnboxName: "shortValue", UnboxDesc: "()S",
		ReturnOpcode: "IRETURN", ZeroPush: classfile.NewSimple("ICONST_0"),
	},
	"C": {
		Descriptor: "C", IsPrimitive: true, BoxedInternalName: "java/lang/Character",
		BoxOwner: "java/lang/Character", BoxName: "valueOf", BoxDesc: "(C)Ljava/lang/Character;",
		UnboxOwner: "java/lang/Character", UnboxName: "charValue", UnboxDesc: "()C",
		ReturnOpcode: "IRETURN", ZeroPush: classfile.NewSimple("ICONST_0"),
	},
}

// typeInfoFor resolves descriptor to its typeInfo. Any descriptor not in
// primitiveTypeInfos is treated as a reference type: no box/unbox step, a
// plain checkcast against its own internal name, and ACONST_NULL as the
// sentinel-case return value.
func typeInfoFor(descriptor string) typeInfo {
	if ti, ok := primitiveTypeInfos[descriptor]; ok {
		return ti
	}
	return typeInfo{
		Descriptor:        descriptor,
		IsPrimitive:       false,
		BoxedInternalName: referenceInternalName(descriptor),
		ReturnOpcode:      "ARETURN",
		ZeroPush:          classfile.NewSimple("ACONST_NULL"),
	}
}

// referenceInternalName strips a reference descriptor's leading 'L' and
// trailing ';', e.g. "Ljava/lang/String;" -> "java/lang/String".
func referenceInternalName(descriptor string) string {
	if len(descriptor) >= 2 && descriptor[0] == 'L' && descriptor[len(descriptor)-1] == ';' {
		return descriptor[1 : len(descriptor)-1]
	}
	return descriptor
}
