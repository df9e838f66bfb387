package patch

import (
	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

// v37PlanEntry is one offset-field-name -> handle-field-name substitution
// for the <clinit> rewrite (spec.md §4.7). handleOwner is the internal name
// of the class the storage field (and so the handle field) lives in, which
// is not necessarily the class whose <clinit> is being rewritten: a
// companion's <clinit> can install offsets for the other half's fields.
type v37PlanEntry struct {
	handleOwner string
	handleField string
}

// PatchV37Class rewrites ci in place for every lazy val in instances whose
// StorageField belongs to ci (spec.md §4.7): add each handle field, strip
// any offset field that lives in ci itself, rewrite ci's own <clinit> to
// install handles in place of the offset-lookup sequences it finds, and
// replace every init method's CAS call with a VarHandle.compareAndSet.
func PatchV37Class(ci *classfile.ClassInfo, instances []*lazyval.LazyValInstance) error {
	ownPlan := map[string]v37PlanEntry{}
	for _, lv := range instances {
		if lv.HandleField == nil {
			ci.Fields = append(ci.Fields, &classfile.FieldInfo{
				Name:        lv.HandleFieldName(),
				Descriptor:  lazyval.HandleDescriptor,
				AccessFlags: classfile.AccPrivate | classfile.AccStatic | classfile.AccFinal,
			})
		}
		if lv.OffsetField != nil && !lv.OffsetInCompanion {
			ownPlan[lv.OffsetField.Name] = v37PlanEntry{handleOwner: ci.ThisClass, handleField: lv.HandleFieldName()}
		}
	}

	if err := applyV37ClinitPlan(ci, ownPlan); err != nil {
		return err
	}
	if ci.ClinitMethod() == nil && hasLocalOffsetTargets(instances) {
		ci.Methods = append(ci.Methods, synthesizeStaticInitializer(instances, ci.ThisClass))
	}

	for _, lv := range instances {
		if lv.InitMethod == nil || lv.OffsetField == nil {
			continue
		}
		rewritten := replaceV37InitCAS(lv.InitMethod.Instructions, lv.OffsetField.Name, ci.ThisClass, lv.HandleFieldName())
		lv.InitMethod.SetInstructions(rewritten, lv.InitMethod.ExceptionHandlers)
	}

	addInnerClassRef(ci, lazyval.LookupClass, lazyval.MethodHandlesClass, "Lookup",
		classfile.AccPublic|classfile.AccStatic|classfile.AccFinal)
	return nil
}

// StripCompanionOffsets removes the offset fields in instances that live in
// companion rather than in the class owning their storage field, and
// rewrites companion's own <clinit> to install the corresponding handle
// fields instead (spec.md §4.6: "if its offset fields live in the
// companion, also strip them from the companion").
func StripCompanionOffsets(companion *classfile.ClassInfo, instances []*lazyval.LazyValInstance, handleOwner string) error {
	plan := map[string]v37PlanEntry{}
	for _, lv := range instances {
		if lv.OffsetField != nil && lv.OffsetInCompanion {
			plan[lv.OffsetField.Name] = v37PlanEntry{handleOwner: handleOwner, handleField: lv.HandleFieldName()}
		}
	}
	if len(plan) == 0 {
		return nil
	}
	return applyV37ClinitPlan(companion, plan)
}

func applyV37ClinitPlan(ci *classfile.ClassInfo, plan map[string]v37PlanEntry) error {
	for name := range plan {
		ci.RemoveField(name)
	}
	clinit := ci.ClinitMethod()
	if clinit == nil {
		return nil
	}
	rewritten := replaceV37ClinitOffsetLookups(clinit.Instructions, plan)
	clinit.SetInstructions(rewritten, clinit.ExceptionHandlers)
	return nil
}

func hasLocalOffsetTargets(instances []*lazyval.LazyValInstance) bool {
	for _, lv := range instances {
		if lv.OffsetField != nil && !lv.OffsetInCompanion {
			return true
		}
	}
	return false
}

// synthesizeStaticInitializer builds a fresh <clinit> containing only the
// handle-init sequences for instances whose offset field lived in
// classLiteral itself, for the case where the class had no static
// initializer at all before patching (spec.md §4.7).
func synthesizeStaticInitializer(instances []*lazyval.LazyValInstance, classLiteral string) *classfile.MethodInfo {
	var instrs []*classfile.InstructionInfo
	for _, lv := range instances {
		if lv.OffsetField == nil || lv.OffsetInCompanion {
			continue
		}
		instrs = append(instrs, handleInitSequence(classLiteral, lv.StorageField.Name, classLiteral, lv.HandleFieldName())...)
	}
	instrs = append(instrs, classfile.NewSimple("RETURN"))
	mi := &classfile.MethodInfo{
		Name:        "<clinit>",
		Descriptor:  "()V",
		AccessFlags: classfile.AccStatic,
		MaxStack:    3,
	}
	mi.SetInstructions(instrs, nil)
	return mi
}

// replaceV37ClinitOffsetLookups scans a <clinit>'s instructions for every
// six-instruction offset-lookup sequence (spec.md §4.7) whose final
// PUTSTATIC targets a name in plan, and replaces each in place with the
// six-instruction handle-lookup sequence the matching plan entry names.
func replaceV37ClinitOffsetLookups(instrs []*classfile.InstructionInfo, plan map[string]v37PlanEntry) []*classfile.InstructionInfo {
	var out []*classfile.InstructionInfo
	i := 0
	for i < len(instrs) {
		if i+5 < len(instrs) {
			if entry, classLiteral, fieldLiteral, ok := matchClinitOffsetSpan(instrs[i:i+6], plan); ok {
				out = append(out, handleInitSequence(classLiteral, fieldLiteral, entry.handleOwner, entry.handleField)...)
				i += 6
				continue
			}
		}
		out = append(out, instrs[i])
		i++
	}
	return out
}

func matchClinitOffsetSpan(span []*classfile.InstructionInfo, plan map[string]v37PlanEntry) (v37PlanEntry, string, string, bool) {
	if span[0].Mnemonic != "GETSTATIC" || span[0].OwnerOperand != lazyval.LazyValsModule {
		return v37PlanEntry{}, "", "", false
	}
	if !isLdcMnemonic(span[1].Mnemonic) || !isLdcMnemonic(span[2].Mnemonic) {
		return v37PlanEntry{}, "", "", false
	}
	if span[3].Mnemonic != "INVOKEVIRTUAL" || span[3].NameOperand != "getDeclaredField" {
		return v37PlanEntry{}, "", "", false
	}
	if span[4].Mnemonic != "INVOKEVIRTUAL" || span[4].NameOperand != "getOffsetStatic" {
		return v37PlanEntry{}, "", "", false
	}
	if span[5].Mnemonic != "PUTSTATIC" {
		return v37PlanEntry{}, "", "", false
	}
	entry, ok := plan[span[5].NameOperand]
	if !ok {
		return v37PlanEntry{}, "", "", false
	}
	classLiteral, _ := unquoteClassLiteral(span[1])
	fieldLiteral, _ := unquoteFieldLiteral(span[2])
	return entry, classLiteral, fieldLiteral, true
}

// isLdcMnemonic reports whether mnemonic is either form a class/string
// constant can decode as: LDC for a small pool index, LDC_W once the pool
// has grown past a single byte's reach (spec.md §4.7: the offset-lookup
// span's shape doesn't change between the two, only which opcode the
// constant pool's size forces the compiler to emit).
func isLdcMnemonic(mnemonic string) bool {
	return mnemonic == "LDC" || mnemonic == "LDC_W"
}

// unquoteClassLiteral recovers the internal class name from a decoded LDC
// of a Class constant, whose ConstOperand renders as "<name>.class"
// (RenderDisassembly's contract; see renderLdc's ConstantClass case).
func unquoteClassLiteral(in *classfile.InstructionInfo) (string, bool) {
	const suffix = ".class"
	s := in.ConstOperand
	if len(s) > len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)], true
	}
	return s, false
}

func unquoteFieldLiteral(in *classfile.InstructionInfo) (string, bool) {
	s := in.ConstOperand
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, true
}

// replaceV37InitCAS scans an init method for every occurrence of the
// legacy CAS sequence targeting offsetFieldName and replaces it with a
// VarHandle.compareAndSet against handleOwner.handleField, leaving the
// expected/new-value pushes between the anchors untouched (spec.md §4.7).
func replaceV37InitCAS(instrs []*classfile.InstructionInfo, offsetFieldName, handleOwner, handleField string) []*classfile.InstructionInfo {
	var out []*classfile.InstructionInfo
	i := 0
	for i < len(instrs) {
		if j, ok := matchInitCASSpan(instrs, i, offsetFieldName); ok {
			out = append(out, classfile.NewFieldInstr("GETSTATIC", handleOwner, handleField, lazyval.HandleDescriptor))
			out = append(out, classfile.NewVarInstr("ALOAD", 0))
			out = append(out, instrs[i+3:j]...)
			out = append(out, classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.VarHandleClass, "compareAndSet",
				"(Ljava/lang/Object;Ljava/lang/Object;Ljava/lang/Object;)Z"))
			i = j + 1
			continue
		}
		out = append(out, instrs[i])
		i++
	}
	return out
}

func matchInitCASSpan(instrs []*classfile.InstructionInfo, i int, offsetFieldName string) (int, bool) {
	if i+2 >= len(instrs) {
		return 0, false
	}
	if instrs[i].Mnemonic != "GETSTATIC" || instrs[i].OwnerOperand != lazyval.LazyValsModule {
		return 0, false
	}
	if instrs[i+1].Mnemonic != "ALOAD" || instrs[i+1].IntOperand != 0 {
		return 0, false
	}
	if instrs[i+2].Mnemonic != "GETSTATIC" || instrs[i+2].NameOperand != offsetFieldName {
		return 0, false
	}
	for j := i + 3; j < len(instrs); j++ {
		if instrs[j].Mnemonic == "INVOKEVIRTUAL" && instrs[j].NameOperand == "objCAS" {
			return j, true
		}
		if isControlFlow(instrs[j]) {
			break
		}
	}
	return 0, false
}
