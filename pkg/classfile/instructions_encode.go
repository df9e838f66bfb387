package classfile

import "github.com/pkg/errors"

// Builder constructors used by pkg/lazyval/patch to assemble new or
// modified instruction streams. Unlike decoded instructions (whose operand
// fields are filled in purely for display/pattern-matching), these carry
// just enough information for EncodeInstructions to re-derive bytes and
// constant pool entries.

// NewSimple returns a zero-operand instruction, e.g. ACONST_NULL, DUP,
// ATHROW, RETURN, ARETURN, MONITORENTER.
func NewSimple(mnemonic string) *InstructionInfo {
	return &InstructionInfo{Mnemonic: mnemonic}
}

// NewVarInstr returns a local-variable instruction (ALOAD/ASTORE/ILOAD/...)
// addressing slot index.
func NewVarInstr(mnemonic string, index int) *InstructionInfo {
	return &InstructionInfo{Mnemonic: mnemonic, IntOperand: int64(index)}
}

// NewFieldInstr returns a GETSTATIC/PUTSTATIC/GETFIELD/PUTFIELD instruction.
func NewFieldInstr(mnemonic, owner, name, desc string) *InstructionInfo {
	return &InstructionInfo{Mnemonic: mnemonic, OwnerOperand: owner, NameOperand: name, DescOperand: desc}
}

// NewMethodInstr returns an INVOKEVIRTUAL/INVOKESPECIAL/INVOKESTATIC
// instruction.
func NewMethodInstr(mnemonic, owner, name, desc string) *InstructionInfo {
	return &InstructionInfo{Mnemonic: mnemonic, OwnerOperand: owner, NameOperand: name, DescOperand: desc}
}

// NewTypeInstr returns a NEW/CHECKCAST/INSTANCEOF/ANEWARRAY instruction.
func NewTypeInstr(mnemonic, internalName string) *InstructionInfo {
	return &InstructionInfo{Mnemonic: mnemonic, ClassOperand: internalName}
}

// NewLdcString returns an LDC instruction pushing a String constant.
func NewLdcString(value string) *InstructionInfo {
	return &InstructionInfo{Mnemonic: "LDC", ldcStringValue: &value}
}

// NewLdcClass returns an LDC instruction pushing a Class literal
// (internalName.class).
func NewLdcClass(internalName string) *InstructionInfo {
	return &InstructionInfo{Mnemonic: "LDC", ldcClassValue: &internalName}
}

// NewBranch returns a branch instruction (IFEQ, IFNE, IFNULL, IFNONNULL,
// IF_ACMPEQ, IF_ACMPNE, GOTO, ...) targeting the instruction at index
// targetIndex within the same (as-yet-unencoded) stream.
func NewBranch(mnemonic string, targetIndex int) *InstructionInfo {
	return &InstructionInfo{Mnemonic: mnemonic, BranchTarget: targetIndex}
}

// EncodeInstructions serializes instrs into a Code array, resolving branch
// targets (given as instruction indices) to byte offsets and adding any
// constant pool entries the instructions reference. It is the inverse of
// decodeInstructions, used by the patcher whenever it replaces or
// synthesizes a method body.
func EncodeInstructions(instrs []*InstructionInfo, pool *ConstantPool) ([]byte, []int, error) {
	// Pass 1: assign offsets so branch deltas can be computed in a single
	// subsequent pass. Every mnemonic this encoder supports has a fixed
	// width (see instructionLength), so one pass suffices - no iteration
	// to a fixed point is needed as it would be if short/long branch forms
	// were both in play.
	offsets := make([]int, len(instrs))
	off := 0
	for i, in := range instrs {
		offsets[i] = off
		off += instructionLength(in, pool)
	}

	w := &byteWriter{}
	for i, in := range instrs {
		if err := encodeOne(w, in, pool, offsets, i); err != nil {
			return nil, nil, errors.Wrapf(err, "encoding instruction %d (%s)", i, in.Mnemonic)
		}
	}
	if w.err != nil {
		return nil, nil, w.err
	}
	return w.buf.Bytes(), offsets, nil
}

func instructionLength(in *InstructionInfo, pool *ConstantPool) int {
	switch in.Mnemonic {
	case "GETSTATIC", "PUTSTATIC", "GETFIELD", "PUTFIELD",
		"INVOKEVIRTUAL", "INVOKESPECIAL", "INVOKESTATIC",
		"NEW", "CHECKCAST", "INSTANCEOF", "ANEWARRAY":
		return 3
	case "LDC":
		if wideConstantIndex(in, pool) {
			return 3
		}
		return 2
	case "ALOAD", "ASTORE", "ILOAD", "ISTORE", "LLOAD", "LSTORE",
		"FLOAD", "FSTORE", "DLOAD", "DSTORE":
		return 2
	case "IFEQ", "IFNE", "IFLT", "IFGE", "IFGT", "IFLE",
		"IF_ICMPEQ", "IF_ICMPNE", "IF_ICMPLT", "IF_ICMPGE", "IF_ICMPGT", "IF_ICMPLE",
		"IF_ACMPEQ", "IF_ACMPNE", "GOTO", "IFNULL", "IFNONNULL":
		return 3
	default:
		return 1 // zero-operand opcodes: ACONST_NULL, DUP, ATHROW, ARETURN, RETURN, MONITORENTER, ...
	}
}

// wideConstantIndex reports whether the constant the LDC instruction pushes
// has a pool index beyond uint8 range, forcing LDC_W. The constant is
// interned here, so both encoder passes see the same index and width.
func wideConstantIndex(in *InstructionInfo, pool *ConstantPool) bool {
	return ldcConstantIndex(in, pool) > 255
}

func encodeOne(w *byteWriter, in *InstructionInfo, pool *ConstantPool, offsets []int, index int) error {
	opcode, ok := mnemonicToOpcode[in.Mnemonic]
	if !ok {
		return errors.Errorf("unsupported mnemonic %q for encoding", in.Mnemonic)
	}

	switch in.Mnemonic {
	case "GETSTATIC", "PUTSTATIC", "GETFIELD", "PUTFIELD":
		idx := pool.EnsureFieldref(in.OwnerOperand, in.NameOperand, in.DescOperand)
		w.u8(opcode)
		w.u16(idx)
	case "INVOKEVIRTUAL", "INVOKESPECIAL", "INVOKESTATIC":
		idx := pool.EnsureMethodref(in.OwnerOperand, in.NameOperand, in.DescOperand)
		w.u8(opcode)
		w.u16(idx)
	case "NEW", "CHECKCAST", "INSTANCEOF", "ANEWARRAY":
		idx := pool.EnsureClass(in.ClassOperand)
		w.u8(opcode)
		w.u16(idx)
	case "LDC":
		idx := ldcConstantIndex(in, pool)
		if wideConstantIndex(in, pool) {
			w.u8(mnemonicToOpcode["LDC_W"])
			w.u16(idx)
		} else {
			w.u8(opcode)
			w.u8(uint8(idx))
		}
	case "ALOAD", "ASTORE", "ILOAD", "ISTORE", "LLOAD", "LSTORE", "FLOAD", "FSTORE", "DLOAD", "DSTORE":
		w.u8(opcode)
		w.u8(uint8(in.IntOperand))
	case "IFEQ", "IFNE", "IFLT", "IFGE", "IFGT", "IFLE",
		"IF_ICMPEQ", "IF_ICMPNE", "IF_ICMPLT", "IF_ICMPGE", "IF_ICMPGT", "IF_ICMPLE",
		"IF_ACMPEQ", "IF_ACMPNE", "GOTO", "IFNULL", "IFNONNULL":
		delta := int16(offsets[in.BranchTarget] - offsets[index])
		w.u8(opcode)
		w.u16(uint16(delta))
	default:
		w.u8(opcode)
	}
	return w.err
}

func ldcConstantIndex(in *InstructionInfo, pool *ConstantPool) uint16 {
	if in.ldcStringValue != nil {
		return pool.EnsureStringConstant(*in.ldcStringValue)
	}
	if in.ldcClassValue != nil {
		return pool.EnsureClass(*in.ldcClassValue)
	}
	return 0
}

// EnsureStringConstant returns the index of a String constant whose value
// is s, appending both the String entry and its backing Utf8 entry if
// absent.
func (p *ConstantPool) EnsureStringConstant(s string) uint16 {
	utf8Idx := p.EnsureUtf8(s)
	for i, e := range p.entries {
		if str, ok := e.(*ConstantString); ok && str.StringIndex == utf8Idx {
			return uint16(i)
		}
	}
	return p.Append(&ConstantString{StringIndex: utf8Idx})
}
