package patch

import (
	"strings"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

// instrBuilder assembles a new instruction stream with label-based forward
// branches, deferring branch target resolution to finish(). This is the
// mutable-builder idiom spec.md §9 calls out for the rewrite routines:
// value-in/value-out at the call site, mutation only inside.
type instrBuilder struct {
	instrs  []*classfile.InstructionInfo
	labels  map[string]int
	pending []pendingBranch
}

type pendingBranch struct {
	index int
	label string
}

func newInstrBuilder() *instrBuilder {
	return &instrBuilder{labels: map[string]int{}}
}

func (b *instrBuilder) emit(in *classfile.InstructionInfo) int {
	b.instrs = append(b.instrs, in)
	return len(b.instrs) - 1
}

func (b *instrBuilder) label(name string) {
	b.labels[name] = len(b.instrs)
}

// branch emits a placeholder branch instruction targeting a label defined
// earlier or later in the same builder.
func (b *instrBuilder) branch(mnemonic, targetLabel string) {
	idx := b.emit(classfile.NewBranch(mnemonic, 0))
	b.pending = append(b.pending, pendingBranch{index: idx, label: targetLabel})
}

// emitBlock appends a self-contained instruction slice (e.g. an extracted
// computation whose internal jumps are relative to its own start) shifting
// every internal branch target by the block's actual position in this
// builder, so the embedded jumps remain correct in their new home (spec.md
// §9's "ownership of instruction lists during extraction").
func (b *instrBuilder) emitBlock(block []*classfile.InstructionInfo) {
	base := len(b.instrs)
	for _, in := range block {
		clone := *in
		if isRelativeJump(clone.Mnemonic) {
			clone.BranchTarget += base
		}
		b.instrs = append(b.instrs, &clone)
	}
}

func (b *instrBuilder) finish() []*classfile.InstructionInfo {
	for _, p := range b.pending {
		if target, ok := b.labels[p.label]; ok {
			b.instrs[p.index].BranchTarget = target
		}
	}
	return b.instrs
}

func isBranchMnemonic(m string) bool {
	switch m {
	case "IFEQ", "IFNE", "IFLT", "IFGE", "IFGT", "IFLE",
		"IF_ICMPEQ", "IF_ICMPNE", "IF_ICMPLT", "IF_ICMPGE", "IF_ICMPGT", "IF_ICMPLE",
		"IF_ACMPEQ", "IF_ACMPNE", "IFNULL", "IFNONNULL":
		return true
	}
	return false
}

func isRelativeJump(m string) bool {
	return isBranchMnemonic(m) || m == "GOTO"
}

func isControlFlow(in *classfile.InstructionInfo) bool {
	switch in.Mnemonic {
	case "GOTO", "ARETURN", "RETURN", "IRETURN", "LRETURN", "FRETURN", "DRETURN", "ATHROW":
		return true
	}
	return isBranchMnemonic(in.Mnemonic)
}

// moduleInstance emits the GETSTATIC <internalName>.MODULE$ sequence used
// to push a Scala singleton object's instance.
func moduleInstance(internalName string) *classfile.InstructionInfo {
	return classfile.NewFieldInstr("GETSTATIC", internalName, "MODULE$", "L"+internalName+";")
}

// handleInitSequence is the six-instruction MethodHandles.lookup/
// findVarHandle sequence that installs one lazy val's handle field
// (spec.md §4.7's replacement sequence), used both in place of a matched
// legacy offset-lookup span and standalone when no such span exists to
// substitute (a synthesized <clinit>, or the V0_1/V2 handle-init prelude).
func handleInitSequence(classLiteral, fieldNameLiteral, handleOwner, handleField string) []*classfile.InstructionInfo {
	return []*classfile.InstructionInfo{
		classfile.NewMethodInstr("INVOKESTATIC", lazyval.MethodHandlesClass, "lookup", "()Ljava/lang/invoke/MethodHandles$Lookup;"),
		classfile.NewLdcClass(classLiteral),
		classfile.NewLdcString(fieldNameLiteral),
		classfile.NewLdcClass("java/lang/Object"),
		classfile.NewMethodInstr("INVOKEVIRTUAL", lazyval.LookupClass, "findVarHandle",
			"(Ljava/lang/Class;Ljava/lang/String;Ljava/lang/Class;)Ljava/lang/invoke/VarHandle;"),
		classfile.NewFieldInstr("PUTSTATIC", handleOwner, handleField, lazyval.HandleDescriptor),
	}
}

// stripLegacyClinit implements spec.md §4.8's static-initializer rewrite:
// for every PUTSTATIC into a name in targetNames, walk backward up to ten
// instructions for a GETSTATIC LazyVals$.MODULE$ anchor and remove the
// contiguous span from that anchor through the PUTSTATIC inclusive. Failing
// to find the anchor within the bound is a hard error (spec.md §9's Open
// Question resolution), never a silent no-op.
func stripLegacyClinit(instrs []*classfile.InstructionInfo, targetNames map[string]bool) ([]*classfile.InstructionInfo, error) {
	removed := make([]bool, len(instrs))
	for i, in := range instrs {
		if in.Mnemonic != "PUTSTATIC" || !targetNames[in.NameOperand] {
			continue
		}
		anchor := -1
		for back := 1; back <= 10 && i-back >= 0; back++ {
			cand := i - back
			if instrs[cand].Mnemonic == "GETSTATIC" && instrs[cand].OwnerOperand == lazyval.LazyValsModule {
				anchor = cand
				break
			}
		}
		if anchor < 0 {
			return nil, lazyval.ErrAnchorNotFound
		}
		for k := anchor; k <= i; k++ {
			removed[k] = true
		}
	}
	var out []*classfile.InstructionInfo
	for i, in := range instrs {
		if !removed[i] {
			out = append(out, in)
		}
	}
	return out, nil
}

// extractComputation implements spec.md §4.8's extraction: the legacy
// accessor's original value-computing instructions, found by scanning past
// the first LazyVals$.CAS call and its following branch, and collected up
// to the first store into local slot 5 (the compiler's conventional
// result-holding slot) or the start of an exception handler's protected
// range, whichever comes first. The result is cloned with branch targets
// remapped relative to its own start, per spec.md §9.
func extractComputation(accessor *classfile.MethodInfo) []*classfile.InstructionInfo {
	if accessor == nil {
		return nil
	}
	instrs := accessor.Instructions
	casIdx := -1
	for i, in := range instrs {
		if (in.Mnemonic == "INVOKEVIRTUAL" || in.Mnemonic == "INVOKESTATIC") && strings.Contains(in.NameOperand, "CAS") {
			casIdx = i
			break
		}
	}
	if casIdx < 0 {
		return nil
	}
	start := casIdx + 1
	if start < len(instrs) && isBranchMnemonic(instrs[start].Mnemonic) {
		start++
	}

	end := len(instrs)
	for i := start; i < len(instrs); i++ {
		switch instrs[i].Mnemonic {
		case "ISTORE", "LSTORE", "FSTORE", "DSTORE", "ASTORE":
			if instrs[i].IntOperand == 5 {
				end = i
			}
		}
		if end != len(instrs) {
			break
		}
	}
	for _, eh := range accessor.ExceptionHandlers {
		if eh.StartPC > start && eh.StartPC < end {
			end = eh.StartPC
		}
	}
	if end <= start {
		return nil
	}
	return cloneWithRemappedLabels(instrs[start:end], start)
}

// cloneWithRemappedLabels deep-copies a sub-slice of some method's
// instructions and rewrites internal branch targets (absolute indices into
// the original method) into indices relative to the sub-slice's own start,
// so the clone carries no reference back to the method it was extracted
// from (spec.md §9's label-ownership note: "a naive move would cross-link
// two methods' label graphs").
func cloneWithRemappedLabels(instrs []*classfile.InstructionInfo, start int) []*classfile.InstructionInfo {
	out := make([]*classfile.InstructionInfo, len(instrs))
	for i, in := range instrs {
		clone := *in
		out[i] = &clone
	}
	for _, in := range out {
		if !isRelativeJump(in.Mnemonic) {
			continue
		}
		rel := in.BranchTarget - start
		if rel < 0 {
			rel = 0
		}
		if rel >= len(out) {
			rel = len(out) - 1
		}
		in.BranchTarget = rel
	}
	return out
}
