package patch

import (
	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

const (
	slotT1 = 1
	slotT2 = 2
	slotT3 = 3
	slotW  = 4
	slotE  = 5
)

// PatchV01V2Class rewrites ci in place for every lazy val in instances
// whose StorageField belongs to ci (spec.md §4.8): turn the storage field
// into a private volatile Object, add its handle field, synthesize a
// memory-handle-based $lzyINIT method from the original accessor's
// extracted computation, replace the accessor with the fixed three-branch
// skeleton, strip the legacy offset/bitmap fields and their <clinit>
// installation sequences, and prepend handle-init sequences in their place.
func PatchV01V2Class(ci *classfile.ClassInfo, instances []*lazyval.LazyValInstance) error {
	ownTargets := map[string]bool{}

	for _, lv := range instances {
		ti := typeInfoFor(lv.StorageField.Descriptor)
		computation := extractComputation(lv.AccessorMethod)

		initMethod := buildV01V2InitMethod(lv, ti, computation, ci.ThisClass)
		ci.Methods = append(ci.Methods, initMethod)
		lv.InitMethod = initMethod

		if lv.AccessorMethod != nil {
			accessorInstrs := buildV01V2Accessor(lv, ti, ci.ThisClass)
			lv.AccessorMethod.SetInstructions(accessorInstrs, nil)
			lv.AccessorMethod.MaxStack = 3
			lv.AccessorMethod.MaxLocals = 2
		}

		lv.StorageField.Descriptor = lazyval.GenericObjectDescriptor
		lv.StorageField.AccessFlags = (lv.StorageField.AccessFlags &^ classfile.AccStatic) | classfile.AccPrivate | classfile.AccVolatile

		if lv.HandleField == nil {
			ci.Fields = append(ci.Fields, &classfile.FieldInfo{
				Name:        lv.HandleFieldName(),
				Descriptor:  lazyval.HandleDescriptor,
				AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal,
			})
		}

		if lv.BitmapField != nil && fieldBelongsTo(ci, lv.BitmapField) {
			ownTargets[lv.BitmapField.Name] = true
		}
		if lv.OffsetField != nil && !lv.OffsetInCompanion {
			ownTargets[lv.OffsetField.Name] = true
		}
	}

	for name := range ownTargets {
		ci.RemoveField(name)
	}

	prelude := handleInitPrelude(instances, ci.ThisClass)
	if clinit := ci.ClinitMethod(); clinit != nil {
		stripped, err := stripLegacyClinit(clinit.Instructions, ownTargets)
		if err != nil {
			return err
		}
		clinit.SetInstructions(append(append([]*classfile.InstructionInfo{}, prelude...), stripped...), clinit.ExceptionHandlers)
	} else {
		instrs := append(append([]*classfile.InstructionInfo{}, prelude...), classfile.NewSimple("RETURN"))
		mi := &classfile.MethodInfo{Name: "<clinit>", Descriptor: "()V", AccessFlags: classfile.AccStatic, MaxStack: 3}
		mi.SetInstructions(instrs, nil)
		ci.Methods = append(ci.Methods, mi)
	}

	addInnerClassRef(ci, lazyval.LookupClass, lazyval.MethodHandlesClass, "Lookup",
		classfile.AccPublic|classfile.AccStatic|classfile.AccFinal)
	addInnerClassRef(ci, lazyval.EvaluatingClass, "", "", classfile.AccPublic|classfile.AccFinal|classfile.AccStatic)
	addInnerClassRef(ci, lazyval.ControlStateClass, "", "", classfile.AccPublic|classfile.AccAbstract|classfile.AccStatic)
	addInnerClassRef(ci, lazyval.NullValueClass, "", "", classfile.AccPublic|classfile.AccFinal|classfile.AccStatic)
	addInnerClassRef(ci, lazyval.WaitingClass, "", "", classfile.AccPublic|classfile.AccStatic)

	return nil
}

// StripCompanionOffsetsV01V2 removes the legacy offset/bitmap fields in
// instances that live in companion rather than in the class owning their
// storage field, and strips the corresponding installation sequences from
// companion's own <clinit> (spec.md §4.6, the V0_1/V2 analogue of
// StripCompanionOffsets).
func StripCompanionOffsetsV01V2(companion *classfile.ClassInfo, instances []*lazyval.LazyValInstance) error {
	targets := map[string]bool{}
	for _, lv := range instances {
		if lv.OffsetField != nil && lv.OffsetInCompanion {
			targets[lv.OffsetField.Name] = true
		}
		if lv.BitmapField != nil && fieldBelongsTo(companion, lv.BitmapField) {
			targets[lv.BitmapField.Name] = true
		}
	}
	if len(targets) == 0 {
		return nil
	}
	for name := range targets {
		companion.RemoveField(name)
	}
	clinit := companion.ClinitMethod()
	if clinit == nil {
		return nil
	}
	stripped, err := stripLegacyClinit(clinit.Instructions, targets)
	if err != nil {
		return err
	}
	clinit.SetInstructions(stripped, clinit.ExceptionHandlers)
	return nil
}

func fieldBelongsTo(ci *classfile.ClassInfo, f *classfile.FieldInfo) bool {
	for _, cf := range ci.Fields {
		if cf == f {
			return true
		}
	}
	return false
}

func handleInitPrelude(instances []*lazyval.LazyValInstance, ownerClass string) []*classfile.InstructionInfo {
	var out []*classfile.InstructionInfo
	for _, lv := range instances {
		out = append(out, handleInitSequence(ownerClass, lv.StorageField.Name, ownerClass, lv.HandleFieldName())...)
	}
	return out
}

// buildV01V2Accessor emits the fixed three-branch skeleton spec.md §4.8
// specifies: a fast path for an already-computed value, a fast path for a
// cached null result, and a fallback that delegates to the init method.
func buildV01V2Accessor(lv *lazyval.LazyValInstance, ti typeInfo, ownerClass string) []*classfile.InstructionInfo {
	b := newInstrBuilder()

	b.emit(classfile.NewVarInstr("ALOAD", 0))
	b.emit(classfile.NewFieldInstr("GETFIELD", ownerClass, lv.StorageField.Name, lazyval.GenericObjectDescriptor))
	b.emit(classfile.NewVarInstr("ASTORE", 1))
	b.emit(classfile.NewVarInstr("ALOAD", 1))
	b.emit(classfile.NewTypeInstr("INSTANCEOF", ti.BoxedInternalName))
	b.branch("IFEQ", "L_check_null")

	b.emit(classfile.NewVarInstr("ALOAD", 1))
	b.emit(classfile.NewTypeInstr("CHECKCAST", ti.BoxedInternalName))
	if ti.IsPrimitive {
		b.emit(classfile.NewMethodInstr("INVOKEVIRTUAL", ti.UnboxOwner, ti.UnboxName, ti.UnboxDesc))
	}
	b.emit(classfile.NewSimple(ti.ReturnOpcode))

	b.label("L_check_null")
	b.emit(classfile.NewVarInstr("ALOAD", 1))
	b.emit(moduleInstance(lazyval.NullValueClass))
	b.branch("IF_ACMPNE", "L_delegate")
	b.emit(ti.ZeroPush)
	b.emit(classfile.NewSimple(ti.ReturnOpcode))

	b.label("L_delegate")
	b.emit(classfile.NewVarInstr("ALOAD", 0))
	b.emit(classfile.NewMethodInstr("INVOKESPECIAL", ownerClass, lv.InitMethodName(), "()Ljava/lang/Object;"))
	if ti.IsPrimitive {
		b.emit(classfile.NewTypeInstr("CHECKCAST", ti.BoxedInternalName))
		b.emit(classfile.NewMethodInstr("INVOKEVIRTUAL", ti.UnboxOwner, ti.UnboxName, ti.UnboxDesc))
	} else if ti.BoxedInternalName != "java/lang/Object" {
		b.emit(classfile.NewTypeInstr("CHECKCAST", ti.BoxedInternalName))
	}
	b.emit(classfile.NewSimple(ti.ReturnOpcode))

	return b.finish()
}

// buildV01V2InitMethod emits the memory-handle-based double-checked state
// machine spec.md §4.8 specifies in place of the legacy bitmap/offset
// protocol: a CAS from null to the Evaluating sentinel guards the
// computation, a try/catch block unblocks any waiter on failure, and the
// computed result (or NullValue$ for a genuinely null result) is installed
// with a final CAS that also unblocks a Waiting latch if one was installed
// by a contending thread.
func buildV01V2InitMethod(lv *lazyval.LazyValInstance, ti typeInfo, computation []*classfile.InstructionInfo, ownerClass string) *classfile.MethodInfo {
	handleOwner, handleField := ownerClass, lv.HandleFieldName()
	b := newInstrBuilder()

	loadStorage := func() {
		b.emit(classfile.NewVarInstr("ALOAD", 0))
		b.emit(classfile.NewFieldInstr("GETFIELD", ownerClass, lv.StorageField.Name, lazyval.GenericObjectDescriptor))
	}
	cas := func(pushExpected, pushNew func()) {
		b.emit(classfile.NewFieldInstr("GETSTATIC", handleOwner, handleField, lazyval.HandleDescriptor))
		b.emit(classfile.NewVarInstr("ALOAD", 0))
		pushExpected()
		pushNew()
		b.emit(classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.VarHandleClass, "compareAndSet",
			"(Ljava/lang/Object;Ljava/lang/Object;Ljava/lang/Object;)Z"))
	}
	pushNull := func() { b.emit(classfile.NewSimple("ACONST_NULL")) }
	pushEvaluating := func() { b.emit(moduleInstance(lazyval.EvaluatingClass)) }
	notifyWaiter := func() {
		loadStorage()
		b.emit(classfile.NewTypeInstr("CHECKCAST", lazyval.WaitingClass))
		b.emit(classfile.NewVarInstr("ASTORE", slotW))
		cas(func() { b.emit(classfile.NewVarInstr("ALOAD", slotW)) }, func() { b.emit(classfile.NewVarInstr("ALOAD", slotT2)) })
		b.emit(classfile.NewSimple("POP"))
		b.emit(classfile.NewVarInstr("ALOAD", slotW))
		b.emit(classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.WaitingClass, "countDown", "()V"))
	}

	b.label("L_start")
	loadStorage()
	b.emit(classfile.NewVarInstr("ASTORE", slotT1))
	b.emit(classfile.NewVarInstr("ALOAD", slotT1))
	b.branch("IFNONNULL", "L_nonnull")

	cas(pushNull, pushEvaluating)
	b.branch("IFEQ", "L_start")

	pushNull()
	b.emit(classfile.NewVarInstr("ASTORE", slotT2))
	pushNull()
	b.emit(classfile.NewVarInstr("ASTORE", slotT3))

	tryStart := len(b.instrs)
	b.emitBlock(computation)
	if ti.IsPrimitive {
		b.emit(classfile.NewMethodInstr("INVOKESTATIC", ti.BoxOwner, ti.BoxName, ti.BoxDesc))
	}
	b.emit(classfile.NewVarInstr("ASTORE", slotT3))
	b.emit(classfile.NewVarInstr("ALOAD", slotT3))
	b.branch("IFNONNULL", "L_computed_nonnull")
	b.emit(moduleInstance(lazyval.NullValueClass))
	b.emit(classfile.NewVarInstr("ASTORE", slotT2))
	b.branch("GOTO", "L_after_null_check")
	b.label("L_computed_nonnull")
	b.emit(classfile.NewVarInstr("ALOAD", slotT3))
	b.emit(classfile.NewVarInstr("ASTORE", slotT2))
	b.label("L_after_null_check")
	tryEnd := len(b.instrs)
	b.branch("GOTO", "L_success")

	b.label("L_ex_handler")
	b.emit(classfile.NewVarInstr("ASTORE", slotE))
	cas(pushEvaluating, func() { b.emit(classfile.NewVarInstr("ALOAD", slotT2)) })
	b.branch("IFNE", "L_rethrow")
	notifyWaiter()
	b.label("L_rethrow")
	b.emit(classfile.NewVarInstr("ALOAD", slotE))
	b.emit(classfile.NewSimple("ATHROW"))

	b.label("L_success")
	cas(pushEvaluating, func() { b.emit(classfile.NewVarInstr("ALOAD", slotT2)) })
	b.branch("IFNE", "L_return")
	notifyWaiter()

	b.label("L_return")
	b.emit(classfile.NewVarInstr("ALOAD", slotT3))
	b.emit(classfile.NewSimple("ARETURN"))

	b.label("L_nonnull")
	b.emit(classfile.NewVarInstr("ALOAD", slotT1))
	b.emit(classfile.NewTypeInstr("INSTANCEOF", lazyval.ControlStateClass))
	b.branch("IFEQ", "L_return_value")

	b.emit(classfile.NewVarInstr("ALOAD", slotT1))
	b.emit(moduleInstance(lazyval.EvaluatingClass))
	b.branch("IF_ACMPNE", "L_check_waiting")
	cas(func() { b.emit(classfile.NewVarInstr("ALOAD", slotT1)) }, func() {
		b.emit(classfile.NewTypeInstr("NEW", lazyval.WaitingClass))
		b.emit(classfile.NewSimple("DUP"))
		b.emit(classfile.NewMethodInstr("INVOKESPECIAL", lazyval.WaitingClass, "<init>", "()V"))
	})
	b.emit(classfile.NewSimple("POP"))
	b.branch("GOTO", "L_start")

	b.label("L_check_waiting")
	b.emit(classfile.NewVarInstr("ALOAD", slotT1))
	b.emit(classfile.NewTypeInstr("INSTANCEOF", lazyval.WaitingClass))
	b.branch("IFEQ", "L_return_null")
	b.emit(classfile.NewVarInstr("ALOAD", slotT1))
	b.emit(classfile.NewTypeInstr("CHECKCAST", lazyval.WaitingClass))
	b.emit(classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.WaitingClass, "await", "()V"))
	b.branch("GOTO", "L_start")

	b.label("L_return_null")
	b.emit(classfile.NewSimple("ACONST_NULL"))
	b.emit(classfile.NewSimple("ARETURN"))

	b.label("L_return_value")
	b.emit(classfile.NewVarInstr("ALOAD", slotT1))
	b.emit(classfile.NewSimple("ARETURN"))

	handlerPC := b.labels["L_ex_handler"]
	instrs := b.finish()

	mi := &classfile.MethodInfo{
		Name:        lv.InitMethodName(),
		Descriptor:  "()Ljava/lang/Object;",
		AccessFlags: classfile.AccPrivate,
		MaxStack:    5,
		MaxLocals:   6,
	}
	mi.SetInstructions(instrs, []classfile.ExceptionHandler{
		{StartPC: tryStart, EndPC: tryEnd, HandlerPC: handlerPC, CatchType: ""},
	})
	return mi
}
