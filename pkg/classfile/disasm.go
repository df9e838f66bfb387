package classfile

import "strings"

// RenderDisassembly renders a method's instruction stream into the stable
// textual format detection and the skeleton extractor pattern-match
// against (spec.md §4.1's rendering contract):
//
//	string operands appear inside paired double quotes
//	field references render as "OWNER.NAME : DESC"
//	method references render as "OWNER.NAME (ARGS)RET"
//
// A change to this format is a breaking change for every substring search
// in pkg/lazyval/detect and pkg/lazyval/skeleton.
func RenderDisassembly(instrs []*InstructionInfo) string {
	var b strings.Builder
	for i, in := range instrs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(itoa(in.Offset))
		b.WriteString(": ")
		b.WriteString(in.Mnemonic)
		if detail := instructionDetail(in); detail != "" {
			b.WriteByte(' ')
			b.WriteString(detail)
		}
		in.Detail = instructionDetail(in)
	}
	return b.String()
}

func instructionDetail(in *InstructionInfo) string {
	switch in.Mnemonic {
	case "GETSTATIC", "PUTSTATIC", "GETFIELD", "PUTFIELD":
		return in.OwnerOperand + "." + in.NameOperand + " : " + in.DescOperand
	case "INVOKEVIRTUAL", "INVOKESPECIAL", "INVOKESTATIC", "INVOKEINTERFACE":
		return in.OwnerOperand + "." + in.NameOperand + " " + in.DescOperand
	case "INVOKEDYNAMIC":
		return in.NameOperand + " " + in.DescOperand
	case "LDC", "LDC_W", "LDC2_W":
		return in.ConstOperand
	case "NEW", "ANEWARRAY", "CHECKCAST", "INSTANCEOF", "MULTIANEWARRAY":
		return in.ClassOperand
	case "BIPUSH", "SIPUSH", "NEWARRAY":
		return itoa(int(in.IntOperand))
	case "ILOAD", "LLOAD", "FLOAD", "DLOAD", "ALOAD",
		"ISTORE", "LSTORE", "FSTORE", "DSTORE", "ASTORE", "RET":
		return itoa(int(in.IntOperand))
	case "IINC":
		return itoa(int(in.IntOperand)) + " " + in.ConstOperand
	case "IFEQ", "IFNE", "IFLT", "IFGE", "IFGT", "IFLE",
		"IF_ICMPEQ", "IF_ICMPNE", "IF_ICMPLT", "IF_ICMPGE", "IF_ICMPGT", "IF_ICMPLE",
		"IF_ACMPEQ", "IF_ACMPNE", "GOTO", "JSR", "IFNULL", "IFNONNULL",
		"GOTO_W", "JSR_W":
		return "-> #" + itoa(in.BranchTarget)
	default:
		return ""
	}
}
