package classfile

import (
	"github.com/pkg/errors"
)

// decodeInstructions walks a Code attribute's raw bytecode array and
// produces the ordered InstructionInfo stream, resolving constant pool
// references for field/method/class operands and branch targets into
// instruction indices.
//
// This generalizes daimatz/gojvm's vm package, which only ever walked
// bytecode live inside its interpreter loop (frame.PC stepping one opcode
// at a time, dispatched in a big switch in vm.executeMethod); here the walk
// happens once, up front, against the Code array alone, and produces a
// value the rest of the module can search and pattern-match repeatedly.
func decodeInstructions(code []byte, pool *ConstantPool) ([]*InstructionInfo, error) {
	var instrs []*InstructionInfo
	offsetToIndex := make(map[int]int)

	i := 0
	for i < len(code) {
		startOffset := i
		opcode := code[i]
		i++

		if int(opcode) >= len(opcodeTable) {
			return nil, errors.Errorf("unknown opcode 0x%02X at offset %d", opcode, startOffset)
		}
		info := opcodeTable[opcode]
		if info.mnemonic == "" {
			return nil, errors.Errorf("unknown opcode 0x%02X at offset %d", opcode, startOffset)
		}

		instr := &InstructionInfo{Offset: startOffset, Opcode: opcode, Mnemonic: info.mnemonic}

		switch opcode {
		case 170, 171: // tableswitch, lookupswitch
			// Padding to next 4-byte boundary relative to the start of Code.
			for (i % 4) != 0 {
				i++
			}
			def := int32(be32(code, i))
			i += 4
			if opcode == 170 {
				low := int32(be32(code, i))
				i += 4
				high := int32(be32(code, i))
				i += 4
				n := int(high - low + 1)
				if n < 0 {
					return nil, errors.Errorf("tableswitch at offset %d has invalid range", startOffset)
				}
				i += 4 * n
			} else {
				npairs := int32(be32(code, i))
				i += 4
				i += 8 * int(npairs)
			}
			instr.IntOperand = int64(def)
			instr.BranchTarget = startOffset + int(def)

		case 196: // wide
			if i >= len(code) {
				return nil, errors.Errorf("truncated wide instruction at offset %d", startOffset)
			}
			widened := code[i]
			i++
			if int(widened) >= len(opcodeTable) {
				return nil, errors.Errorf("wide: unknown widened opcode 0x%02X at offset %d", widened, startOffset)
			}
			instr.Mnemonic = "WIDE_" + opcodeTable[widened].mnemonic
			idx := be16(code, i)
			i += 2
			instr.IntOperand = int64(idx)
			if widened == 132 { // iinc
				c := int16(be16(code, i))
				i += 2
				instr.ConstOperand = itoa(int(c))
			}

		default:
			if info.operandLen > 0 {
				if i+info.operandLen > len(code) {
					return nil, errors.Errorf("truncated operand for %s at offset %d", info.mnemonic, startOffset)
				}
			}
			if err := decodeFixedOperand(instr, opcode, code, &i, pool); err != nil {
				return nil, errors.Wrapf(err, "decoding operand for %s at offset %d", info.mnemonic, startOffset)
			}
		}

		offsetToIndex[startOffset] = len(instrs)
		instrs = append(instrs, instr)
	}

	resolveBranchTargets(instrs, offsetToIndex)
	return instrs, nil
}

// decodeFixedOperand decodes the operand of every opcode whose operand
// length is fixed (i.e. not tableswitch/lookupswitch/wide, handled by the
// caller). *pos is advanced past the operand.
func decodeFixedOperand(instr *InstructionInfo, opcode uint8, code []byte, pos *int, pool *ConstantPool) error {
	i := *pos
	switch opcode {
	case 16: // bipush
		instr.IntOperand = int64(int8(code[i]))
		i++
	case 17: // sipush
		instr.IntOperand = int64(int16(be16(code, i)))
		i += 2
	case 18: // ldc
		idx := uint16(code[i])
		i++
		renderLdc(instr, idx, pool)
	case 19, 20: // ldc_w, ldc2_w
		idx := be16(code, i)
		i += 2
		renderLdc(instr, idx, pool)
	case 21, 22, 23, 24, 25, 54, 55, 56, 57, 58: // *load, *store (non-wide)
		instr.IntOperand = int64(code[i])
		i++

	// The compact *load_n/*store_n forms address a fixed slot with no
	// operand byte of their own. Every matcher in pkg/lazyval reasons in
	// the general ILOAD/ASTORE/... + IntOperand shape (the only shape the
	// patcher's own builders ever emit), so these are canonicalized to
	// that shape here rather than decoded as their own mnemonics: real
	// scalac output uses aload_0/astore_0 throughout, and a decoder that
	// rendered them verbatim would silently desync every pattern match
	// against real class files.
	case 26, 27, 28, 29: // iload_0..3
		instr.Mnemonic = "ILOAD"
		instr.IntOperand = int64(opcode - 26)
	case 30, 31, 32, 33: // lload_0..3
		instr.Mnemonic = "LLOAD"
		instr.IntOperand = int64(opcode - 30)
	case 34, 35, 36, 37: // fload_0..3
		instr.Mnemonic = "FLOAD"
		instr.IntOperand = int64(opcode - 34)
	case 38, 39, 40, 41: // dload_0..3
		instr.Mnemonic = "DLOAD"
		instr.IntOperand = int64(opcode - 38)
	case 42, 43, 44, 45: // aload_0..3
		instr.Mnemonic = "ALOAD"
		instr.IntOperand = int64(opcode - 42)
	case 59, 60, 61, 62: // istore_0..3
		instr.Mnemonic = "ISTORE"
		instr.IntOperand = int64(opcode - 59)
	case 63, 64, 65, 66: // lstore_0..3
		instr.Mnemonic = "LSTORE"
		instr.IntOperand = int64(opcode - 63)
	case 67, 68, 69, 70: // fstore_0..3
		instr.Mnemonic = "FSTORE"
		instr.IntOperand = int64(opcode - 67)
	case 71, 72, 73, 74: // dstore_0..3
		instr.Mnemonic = "DSTORE"
		instr.IntOperand = int64(opcode - 71)
	case 75, 76, 77, 78: // astore_0..3
		instr.Mnemonic = "ASTORE"
		instr.IntOperand = int64(opcode - 75)
	case 132: // iinc
		instr.IntOperand = int64(code[i])
		i++
		instr.ConstOperand = itoa(int(int8(code[i])))
		i++
	case 153, 154, 155, 156, 157, 158, // ifeq..ifle
		159, 160, 161, 162, 163, 164, // if_icmp*
		165, 166, // if_acmp*
		167, 168, // goto, jsr
		198, 199: // ifnull, ifnonnull
		off := int16(be16(code, i))
		i += 2
		instr.IntOperand = int64(off)
		instr.BranchTarget = instr.Offset + int(off)
	case 200, 201: // goto_w, jsr_w
		off := int32(be32(code, i))
		i += 4
		instr.IntOperand = int64(off)
		instr.BranchTarget = instr.Offset + int(off)
	case 178, 179, 180, 181: // getstatic, putstatic, getfield, putfield
		idx := be16(code, i)
		i += 2
		owner, name, desc, err := pool.FieldOrMethodRef(idx)
		if err != nil {
			return err
		}
		instr.OwnerOperand, instr.NameOperand, instr.DescOperand = owner, name, desc
	case 182, 183, 184: // invokevirtual, invokespecial, invokestatic
		idx := be16(code, i)
		i += 2
		owner, name, desc, err := pool.FieldOrMethodRef(idx)
		if err != nil {
			return err
		}
		instr.OwnerOperand, instr.NameOperand, instr.DescOperand = owner, name, desc
	case 185: // invokeinterface
		idx := be16(code, i)
		i += 2
		i += 2 // count, 0
		owner, name, desc, err := pool.FieldOrMethodRef(idx)
		if err != nil {
			return err
		}
		instr.OwnerOperand, instr.NameOperand, instr.DescOperand = owner, name, desc
		instr.IsInterfaceMR = true
	case 186: // invokedynamic
		idx := be16(code, i)
		i += 2
		i += 2 // 0, 0
		if dyn, ok := pool.Get(idx).(*ConstantInvokeDynamic); ok {
			name, desc, err := pool.NameAndType(dyn.NameAndTypeIndex)
			if err == nil {
				instr.NameOperand, instr.DescOperand = name, desc
			}
		}
	case 187, 189, 192, 193: // new, anewarray, checkcast, instanceof
		idx := be16(code, i)
		i += 2
		name, err := pool.ClassName(idx)
		if err != nil {
			return err
		}
		instr.ClassOperand = name
	case 188: // newarray
		instr.IntOperand = int64(code[i])
		i++
	case 197: // multianewarray
		idx := be16(code, i)
		i += 2
		name, err := pool.ClassName(idx)
		if err != nil {
			return err
		}
		instr.ClassOperand = name
		instr.IntOperand = int64(code[i])
		i++
	default:
		// Fixed-length opcode with no operand-specific decoding needed
		// (arithmetic, stack shuffling, returns, ...). Skip the generic
		// operand length unchanged.
		opInfo := opcodeTable[opcode]
		i += opInfo.operandLen
	}
	*pos = i
	return nil
}

func renderLdc(instr *InstructionInfo, idx uint16, pool *ConstantPool) {
	switch c := pool.Get(idx).(type) {
	case *ConstantString:
		s, _ := pool.Utf8(c.StringIndex)
		instr.ConstOperand = `"` + s + `"`
	case *ConstantInteger:
		instr.ConstOperand = itoa(int(c.Value))
	case *ConstantFloat:
		instr.ConstOperand = ftoa(float64(c.Value))
	case *ConstantLong:
		instr.ConstOperand = itoa64(c.Value)
	case *ConstantDouble:
		instr.ConstOperand = ftoa(c.Value)
	case *ConstantClass:
		name, _ := pool.Utf8(c.NameIndex)
		instr.ConstOperand = name + ".class"
	case *ConstantMethodHandle:
		instr.ConstOperand = "<methodhandle>"
	case *ConstantMethodType:
		desc, _ := pool.Utf8(c.DescriptorIndex)
		instr.ConstOperand = desc
	}
}

// resolveBranchTargets converts each branch instruction's BranchTarget from
// a byte offset into this method's Code array to an index into instrs.
func resolveBranchTargets(instrs []*InstructionInfo, offsetToIndex map[int]int) {
	for _, in := range instrs {
		switch in.Mnemonic {
		case "IFEQ", "IFNE", "IFLT", "IFGE", "IFGT", "IFLE",
			"IF_ICMPEQ", "IF_ICMPNE", "IF_ICMPLT", "IF_ICMPGE", "IF_ICMPGT", "IF_ICMPLE",
			"IF_ACMPEQ", "IF_ACMPNE", "GOTO", "JSR", "IFNULL", "IFNONNULL",
			"GOTO_W", "JSR_W", "TABLESWITCH", "LOOKUPSWITCH":
			if idx, ok := offsetToIndex[in.BranchTarget]; ok {
				in.BranchTarget = idx
			}
		}
	}
}

func be16(b []byte, i int) uint16 { return uint16(b[i])<<8 | uint16(b[i+1]) }
func be32(b []byte, i int) uint32 {
	return uint32(b[i])<<24 | uint32(b[i+1])<<16 | uint32(b[i+2])<<8 | uint32(b[i+3])
}
