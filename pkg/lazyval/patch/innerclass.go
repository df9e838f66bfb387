package patch

import "github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"

// addInnerClassRef appends an InnerClasses entry for innerName if one isn't
// already present. Every runtime class the patcher introduces a reference
// to (MethodHandles$Lookup via invokedynamic-free VarHandle lookup, and for
// V0_1/V2 the LazyVals control-state sentinels) needs a table entry or a
// verifier sees an inner-class reference the constant pool doesn't declare.
func addInnerClassRef(ci *classfile.ClassInfo, innerName, outerName, innerSimpleName string, flags uint16) {
	if ci.HasInnerClass(innerName) {
		return
	}
	ci.InnerClasses = append(ci.InnerClasses, classfile.InnerClassRef{
		InnerName:       innerName,
		OuterName:       outerName,
		InnerSimpleName: innerSimpleName,
		AccessFlags:     flags,
	})
}
