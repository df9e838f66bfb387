// Package lvtest builds minimal, in-memory class fixtures for the
// lazyval packages' tests, in place of checked-in .class binaries (the
// fixtures only need to satisfy the detector's pattern-matching rules,
// not actually verify or run under a JVM).
package lvtest

import (
	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

// LdcClass builds an LDC of a Class literal whose ConstOperand is already
// rendered the way a decoded instruction would be ("<name>.class"), so
// fixtures can be consumed directly by detect's disassembly/operand scans
// without a Marshal+Parse round trip.
func LdcClass(internalName string) *classfile.InstructionInfo {
	in := classfile.NewLdcClass(internalName)
	in.ConstOperand = internalName + ".class"
	return in
}

// LdcString builds an LDC of a String literal with ConstOperand already
// quoted, mirroring a decoded instruction's rendering.
func LdcString(s string) *classfile.InstructionInfo {
	in := classfile.NewLdcString(s)
	in.ConstOperand = `"` + s + `"`
	return in
}

// NewEmptyClass builds a field/method-free class, enough for the grouper's
// name-based pairing logic and for round-tripping through Marshal/Parse.
func NewEmptyClass(thisClass, superClass string) *classfile.ClassInfo {
	return &classfile.ClassInfo{
		MinorVersion: 0,
		MajorVersion: 61,
		AccessFlags:  classfile.AccPublic | classfile.AccSuper,
		ThisClass:    thisClass,
		SuperClass:   superClass,
		Pool:         classfile.NewConstantPool(),
	}
}

// V37Class builds a standalone class with one V3_7-family lazy val named
// fieldDisplayName: a storage field, an offset field installed from a
// getDeclaredField/getOffsetStatic <clinit> sequence, an init method
// guarded by a LazyVals$.objCAS call, and a delegating accessor.
func V37Class(thisClass, fieldDisplayName string) *classfile.ClassInfo {
	ci := NewEmptyClass(thisClass, "java/lang/Object")

	storageName := fieldDisplayName + "$lzy1"
	offsetName := "OFFSET$0"
	initName := fieldDisplayName + "$lzyINIT1"

	storage := &classfile.FieldInfo{
		Name: storageName, Descriptor: lazyval.GenericObjectDescriptor,
		AccessFlags: classfile.AccPrivate | classfile.AccVolatile,
	}
	offset := &classfile.FieldInfo{
		Name: offsetName, Descriptor: "J",
		AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal,
	}
	ci.Fields = []*classfile.FieldInfo{storage, offset}

	clinit := &classfile.MethodInfo{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic, MaxStack: 3, MaxLocals: 0}
	clinit.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETSTATIC", lazyval.LazyValsModule, "MODULE$", "L"+lazyval.LazyValsModule+";"),
		LdcClass(thisClass),
		LdcString(storageName),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getDeclaredField",
			"(Ljava/lang/Class;Ljava/lang/String;)Ljava/lang/reflect/Field;"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getOffsetStatic",
			"(Ljava/lang/reflect/Field;)J"),
		classfile.NewFieldInstr("PUTSTATIC", thisClass, offsetName, "J"),
		classfile.NewSimple("RETURN"),
	}, nil)

	initMethod := &classfile.MethodInfo{Name: initName, Descriptor: "()Ljava/lang/Object;", AccessFlags: classfile.AccPrivate, MaxStack: 4, MaxLocals: 1}
	initMethod.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETSTATIC", lazyval.LazyValsModule, "MODULE$", "L"+lazyval.LazyValsModule+";"),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETSTATIC", thisClass, offsetName, "J"),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewMethodInstr("INVOKEVIRTUAL", thisClass, "compute"+fieldDisplayName, "()Ljava/lang/Object;"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "objCAS",
			"(Ljava/lang/Object;JLjava/lang/Object;Ljava/lang/Object;)Z"),
		classfile.NewSimple("POP"),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETFIELD", thisClass, storageName, lazyval.GenericObjectDescriptor),
		classfile.NewSimple("ARETURN"),
	}, nil)

	accessor := &classfile.MethodInfo{Name: fieldDisplayName, Descriptor: "()Ljava/lang/Object;", AccessFlags: classfile.AccPublic, MaxStack: 2, MaxLocals: 1}
	accessor.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETFIELD", thisClass, storageName, lazyval.GenericObjectDescriptor),
		classfile.NewSimple("DUP"),
		classfile.NewBranch("IFNONNULL", 6),
		classfile.NewSimple("POP"),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewMethodInstr("INVOKESPECIAL", thisClass, initName, "()Ljava/lang/Object;"),
		classfile.NewSimple("ARETURN"),
	}, nil)

	ci.Methods = []*classfile.MethodInfo{clinit, initMethod, accessor}
	return ci
}

// V38plusClass builds a standalone class whose lazy val already uses the
// memory-handle representation: a handle field, no offset/bitmap field.
func V38plusClass(thisClass, fieldDisplayName string) *classfile.ClassInfo {
	ci := NewEmptyClass(thisClass, "java/lang/Object")

	storageName := fieldDisplayName + "$lzy1"
	handleName := storageName + "$lzyHandle"
	initName := fieldDisplayName + "$lzyINIT1"

	storage := &classfile.FieldInfo{Name: storageName, Descriptor: lazyval.GenericObjectDescriptor, AccessFlags: classfile.AccPrivate | classfile.AccVolatile}
	handle := &classfile.FieldInfo{Name: handleName, Descriptor: lazyval.HandleDescriptor, AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal}
	ci.Fields = []*classfile.FieldInfo{storage, handle}

	initMethod := &classfile.MethodInfo{Name: initName, Descriptor: "()Ljava/lang/Object;", AccessFlags: classfile.AccPrivate, MaxStack: 4, MaxLocals: 1}
	initMethod.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETSTATIC", thisClass, handleName, lazyval.HandleDescriptor),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewMethodInstr("INVOKEVIRTUAL", thisClass, "compute"+fieldDisplayName, "()Ljava/lang/Object;"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.VarHandleClass, "compareAndSet",
			"(Ljava/lang/Object;Ljava/lang/Object;Ljava/lang/Object;)Z"),
		classfile.NewSimple("POP"),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETFIELD", thisClass, storageName, lazyval.GenericObjectDescriptor),
		classfile.NewSimple("ARETURN"),
	}, nil)

	ci.Methods = []*classfile.MethodInfo{initMethod}
	return ci
}

// legacyAccessor builds an accessor method shaped so that
// patch.extractComputation can find its computation: a CAS-named call, an
// immediately following branch, a single computation instruction, and a
// store into local slot 5, mirroring the bitmap-guarded accessor Scala 3.0
// through 3.2 emit for a primitive-typed lazy val.
func legacyAccessor(thisClass, fieldDisplayName, storageName, computeDesc string) *classfile.MethodInfo {
	accessor := &classfile.MethodInfo{Name: fieldDisplayName, Descriptor: "()I", AccessFlags: classfile.AccPublic, MaxStack: 3, MaxLocals: 6}
	accessor.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewMethodInstr("INVOKESTATIC", thisClass, "CAS8", "()Z"),
		classfile.NewBranch("IFEQ", 4),
		classfile.NewMethodInstr("INVOKESTATIC", thisClass, "compute"+fieldDisplayName, computeDesc),
		classfile.NewVarInstr("ISTORE", 5),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewVarInstr("ILOAD", 5),
		classfile.NewFieldInstr("PUTFIELD", thisClass, storageName, "I"),
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETFIELD", thisClass, storageName, "I"),
		classfile.NewSimple("IRETURN"),
	}, nil)
	return accessor
}

// V01Class builds a standalone class with one V0_1-family lazy val: a
// primitive storage field, a non-static bitmap field, an offset field
// installed via a LazyVals$.getOffset <clinit> call, and a bitmap-guarded
// accessor (the Scala 3.0/3.1 compiler's emission, per spec.md §3's family
// table).
func V01Class(thisClass, fieldDisplayName string) *classfile.ClassInfo {
	ci := NewEmptyClass(thisClass, "java/lang/Object")

	storageName := fieldDisplayName + "$lzy1"
	bitmapName := "0bitmap$1"
	offsetName := "OFFSET$0"

	storage := &classfile.FieldInfo{Name: storageName, Descriptor: "I", AccessFlags: classfile.AccPrivate}
	bitmap := &classfile.FieldInfo{Name: bitmapName, Descriptor: "J", AccessFlags: classfile.AccPrivate | classfile.AccVolatile}
	offset := &classfile.FieldInfo{Name: offsetName, Descriptor: "J", AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal}
	ci.Fields = []*classfile.FieldInfo{storage, bitmap, offset}

	clinit := &classfile.MethodInfo{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic, MaxStack: 3}
	clinit.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETSTATIC", lazyval.LazyValsModule, "MODULE$", "L"+lazyval.LazyValsModule+";"),
		LdcClass(thisClass),
		LdcString(bitmapName),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getOffset",
			"(Ljava/lang/Class;Ljava/lang/String;)J"),
		classfile.NewFieldInstr("PUTSTATIC", thisClass, offsetName, "J"),
		classfile.NewSimple("RETURN"),
	}, nil)

	ci.Methods = []*classfile.MethodInfo{clinit, legacyAccessor(thisClass, fieldDisplayName, storageName, "()I")}
	return ci
}

// V2Class builds a standalone class with one V2-family lazy val: the same
// shape as V01Class, but with a <clinit> that installs the offset via the
// getDeclaredField/getOffsetStatic pair Scala 3.2 uses instead of
// LazyVals$.getOffset.
func V2Class(thisClass, fieldDisplayName string) *classfile.ClassInfo {
	ci := NewEmptyClass(thisClass, "java/lang/Object")

	storageName := fieldDisplayName + "$lzy1"
	bitmapName := "0bitmap$1"
	offsetName := "OFFSET$0"

	storage := &classfile.FieldInfo{Name: storageName, Descriptor: "I", AccessFlags: classfile.AccPrivate}
	bitmap := &classfile.FieldInfo{Name: bitmapName, Descriptor: "J", AccessFlags: classfile.AccPrivate | classfile.AccVolatile}
	offset := &classfile.FieldInfo{Name: offsetName, Descriptor: "J", AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal}
	ci.Fields = []*classfile.FieldInfo{storage, bitmap, offset}

	clinit := &classfile.MethodInfo{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic, MaxStack: 3}
	clinit.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETSTATIC", lazyval.LazyValsModule, "MODULE$", "L"+lazyval.LazyValsModule+";"),
		LdcClass(thisClass),
		LdcString(bitmapName),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getDeclaredField",
			"(Ljava/lang/Class;Ljava/lang/String;)Ljava/lang/reflect/Field;"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getOffsetStatic",
			"(Ljava/lang/reflect/Field;)J"),
		classfile.NewFieldInstr("PUTSTATIC", thisClass, offsetName, "J"),
		classfile.NewSimple("RETURN"),
	}, nil)

	ci.Methods = []*classfile.MethodInfo{clinit, legacyAccessor(thisClass, fieldDisplayName, storageName, "()I")}
	return ci
}

// UnknownClass builds a lazy-val-shaped field whose evidence doesn't match
// any classification rule: an offset field and an init method present, but
// the init method never calls LazyVals$.objCAS.
func UnknownClass(thisClass, fieldDisplayName string) *classfile.ClassInfo {
	ci := NewEmptyClass(thisClass, "java/lang/Object")
	storageName := fieldDisplayName + "$lzy1"
	offsetName := "OFFSET$0"
	initName := fieldDisplayName + "$lzyINIT1"

	storage := &classfile.FieldInfo{Name: storageName, Descriptor: lazyval.GenericObjectDescriptor, AccessFlags: classfile.AccPrivate | classfile.AccVolatile}
	offset := &classfile.FieldInfo{Name: offsetName, Descriptor: "J", AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal}
	ci.Fields = []*classfile.FieldInfo{storage, offset}

	clinit := &classfile.MethodInfo{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic}
	clinit.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewFieldInstr("GETSTATIC", lazyval.LazyValsModule, "MODULE$", "L"+lazyval.LazyValsModule+";"),
		LdcClass(thisClass),
		LdcString(storageName),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getDeclaredField",
			"(Ljava/lang/Class;Ljava/lang/String;)Ljava/lang/reflect/Field;"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LazyValsModule, "getOffsetStatic",
			"(Ljava/lang/reflect/Field;)J"),
		classfile.NewFieldInstr("PUTSTATIC", thisClass, offsetName, "J"),
		classfile.NewSimple("RETURN"),
	}, nil)

	initMethod := &classfile.MethodInfo{Name: initName, Descriptor: "()Ljava/lang/Object;", AccessFlags: classfile.AccPrivate}
	initMethod.SetInstructions([]*classfile.InstructionInfo{
		classfile.NewVarInstr("ALOAD", 0),
		classfile.NewFieldInstr("GETFIELD", thisClass, storageName, lazyval.GenericObjectDescriptor),
		classfile.NewSimple("ARETURN"),
	}, nil)

	ci.Methods = []*classfile.MethodInfo{clinit, initMethod}
	return ci
}
