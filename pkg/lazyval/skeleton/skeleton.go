// Package skeleton implements spec.md §4.4: deriving a family-parameterized
// fingerprint of a LazyValInstance that captures what its synchronization
// code does while discarding the concrete computation it guards.
package skeleton

import (
	"strings"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

// Fingerprint is the canonical shape produced for one LazyValInstance.
// Which fields are meaningful depends on Family, per spec.md §4.4's
// per-family shape table; unused fields are left zero.
type Fingerprint struct {
	Family lazyval.Family

	HasOffsetField bool
	HasBitmapField bool
	HasHandleField bool
	HasInitMethod  bool

	StorageDescriptor string

	AccessorSkeleton []string
	InitSkeleton     []string

	// OffsetInitPattern is "LazyVals.getOffset" (V0_1), or
	// "getDeclaredField+getOffsetStatic" (V2), or "" (absent elsewhere).
	OffsetInitPattern string

	// UnknownReason is set only when Family is FamilyUnknown.
	UnknownReason string
}

// Extract derives lv's canonical fingerprint.
func Extract(lv *lazyval.LazyValInstance) *Fingerprint {
	fp := &Fingerprint{Family: lv.Family}
	if lv.StorageField != nil {
		fp.StorageDescriptor = lv.StorageField.Descriptor
	}

	switch lv.Family {
	case lazyval.FamilyUnknown:
		fp.UnknownReason = lv.UnknownReason
		return fp

	case lazyval.FamilyV0_1, lazyval.FamilyV2:
		fp.HasOffsetField = lv.OffsetField != nil
		fp.HasBitmapField = lv.BitmapField != nil
		fp.HasInitMethod = lv.InitMethod != nil
		if lv.AccessorMethod != nil {
			fp.AccessorSkeleton = tokenize(lv.AccessorMethod.Instructions, lv)
		}
		if lv.Family == lazyval.FamilyV0_1 {
			fp.OffsetInitPattern = "LazyVals.getOffset"
		} else {
			fp.OffsetInitPattern = "getDeclaredField+getOffsetStatic"
		}

	case lazyval.FamilyV3_7:
		fp.HasOffsetField = lv.OffsetField != nil
		fp.HasInitMethod = lv.InitMethod != nil
		if lv.InitMethod != nil {
			fp.InitSkeleton = tokenize(lv.InitMethod.Instructions, lv)
		}
		if lv.AccessorMethod != nil {
			fp.AccessorSkeleton = tokenize(lv.AccessorMethod.Instructions, lv)
		}

	case lazyval.FamilyV3_8plus:
		fp.HasHandleField = lv.HandleField != nil
		fp.HasInitMethod = lv.InitMethod != nil
		if lv.InitMethod != nil {
			fp.InitSkeleton = tokenize(lv.InitMethod.Instructions, lv)
		}
		if lv.AccessorMethod != nil {
			fp.AccessorSkeleton = tokenize(lv.AccessorMethod.Instructions, lv)
		}
	}
	return fp
}

// Equal reports whether two fingerprints represent the same synchronization
// semantics. Per spec.md §9's Open Question resolution, an Unknown
// fingerprint (or a family mismatch) is always Different, made explicit
// rather than left to incidental structural inequality.
func Equal(a, b *Fingerprint) bool {
	if a.Family == lazyval.FamilyUnknown || b.Family == lazyval.FamilyUnknown {
		return false
	}
	if a.Family != b.Family {
		return false
	}
	if a.StorageDescriptor != b.StorageDescriptor {
		return false
	}
	if a.HasOffsetField != b.HasOffsetField ||
		a.HasBitmapField != b.HasBitmapField ||
		a.HasHandleField != b.HasHandleField ||
		a.HasInitMethod != b.HasInitMethod ||
		a.OffsetInitPattern != b.OffsetInitPattern {
		return false
	}
	return tokensEqual(a.AccessorSkeleton, b.AccessorSkeleton) && tokensEqual(a.InitSkeleton, b.InitSkeleton)
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tokenize walks instrs and emits at most one token per instruction, per
// spec.md §4.4's classification table. lv supplies the field names the
// walk needs to recognize (storage/offset/bitmap), so that a class with
// several lazy vals doesn't cross-classify one instance's fields as
// another's.
func tokenize(instrs []*classfile.InstructionInfo, lv *lazyval.LazyValInstance) []string {
	var tokens []string
	var prev *classfile.InstructionInfo
	for _, in := range instrs {
		if tok, ok := classifyToken(in, prev, lv); ok {
			tokens = append(tokens, tok)
		}
		prev = in
	}
	return tokens
}

func classifyToken(in, prev *classfile.InstructionInfo, lv *lazyval.LazyValInstance) (string, bool) {
	switch in.Mnemonic {
	case "GETFIELD":
		switch {
		case lv.BitmapField != nil && in.NameOperand == lv.BitmapField.Name:
			return "GETFIELD bitmap", true
		case lv.OffsetField != nil && !lv.OffsetInCompanion && in.NameOperand == lv.OffsetField.Name:
			return "GETFIELD OFFSET", true
		case in.DescOperand == lazyval.HandleDescriptor:
			return "GETFIELD varhandle", true
		case lv.StorageField != nil && in.NameOperand == lv.StorageField.Name:
			return "GETFIELD storage", true
		}
		return "", false

	case "PUTFIELD":
		if lv.StorageField != nil && in.NameOperand == lv.StorageField.Name {
			return "PUTFIELD storage", true
		}
		return "", false

	case "MONITORENTER":
		return "MONITORENTER", true
	case "MONITOREXIT":
		return "MONITOREXIT", true

	case "INVOKEVIRTUAL", "INVOKESTATIC", "INVOKEINTERFACE":
		if strings.Contains(in.NameOperand, "CAS") || strings.Contains(in.NameOperand, "compareAndSet") {
			return "CAS", true
		}
		if strings.HasPrefix(in.OwnerOperand, "java/lang/invoke/VarHandle") {
			return "VARHANDLE_OP", true
		}
		return "", false

	case "IAND", "IOR":
		if isFieldGet(prev) {
			if in.Mnemonic == "IAND" {
				return "BITOP IAND", true
			}
			return "BITOP IOR", true
		}
		return "", false

	case "IFEQ", "IFNE", "IFLT", "IFGE", "IFGT", "IFLE",
		"IF_ICMPEQ", "IF_ICMPNE", "IF_ICMPLT", "IF_ICMPGE", "IF_ICMPGT", "IF_ICMPLE",
		"IF_ACMPEQ", "IF_ACMPNE", "IFNULL", "IFNONNULL":
		if isBitOp(prev) {
			return "CONDITIONAL " + in.Mnemonic, true
		}
		return "", false

	case "ALOAD", "ASTORE", "DUP":
		if isFieldAccess(prev) {
			return "STACK_SYNC " + in.Mnemonic, true
		}
		return "", false
	}
	return "", false
}

func isFieldGet(in *classfile.InstructionInfo) bool {
	return in != nil && (in.Mnemonic == "GETFIELD" || in.Mnemonic == "GETSTATIC")
}

func isFieldAccess(in *classfile.InstructionInfo) bool {
	return in != nil && (in.Mnemonic == "GETFIELD" || in.Mnemonic == "PUTFIELD" ||
		in.Mnemonic == "GETSTATIC" || in.Mnemonic == "PUTSTATIC")
}

func isBitOp(in *classfile.InstructionInfo) bool {
	return in != nil && (in.Mnemonic == "IAND" || in.Mnemonic == "IOR")
}
