// Package classfile provides a structured, read/write view over JVM class
// files (JVM spec versions 52 through at least 65). It wraps the raw byte
// format with a ClassInfo/FieldInfo/MethodInfo/InstructionInfo model that the
// rest of the module works against, so that no other package needs to know
// about constant-pool indices or the wire encoding directly.
package classfile

// Access flags used on classes, fields and methods. Only the subset the
// detector and patcher care about is named; unrecognized bits are preserved
// verbatim in AccessFlags.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccVolatile  = 0x0040
	AccTransient = 0x0080
	AccNative    = 0x0100
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
)

// ClassInfo is the structured view of a parsed class file.
type ClassInfo struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	ThisClass    string // internal (slash-separated) name
	SuperClass   string
	Interfaces   []string
	Fields       []*FieldInfo
	Methods      []*MethodInfo
	InnerClasses []InnerClassRef

	// Pool is the constant pool this class was parsed with (or will be
	// written with). Callers mutating Fields/Methods/InnerClasses add new
	// entries to Pool as needed; the writer renumbers nothing, it only
	// appends.
	Pool *ConstantPool
}

// FieldInfo describes one field declaration.
type FieldInfo struct {
	Name        string
	Descriptor  string
	AccessFlags uint16
	Attributes  []AttributeInfo
}

// IsStatic reports whether the field carries the static access flag.
func (f *FieldInfo) IsStatic() bool { return f.AccessFlags&AccStatic != 0 }

// IsFinal reports whether the field carries the final access flag.
func (f *FieldInfo) IsFinal() bool { return f.AccessFlags&AccFinal != 0 }

// IsVolatile reports whether the field carries the volatile access flag.
func (f *FieldInfo) IsVolatile() bool { return f.AccessFlags&AccVolatile != 0 }

// MethodInfo describes one method declaration.
type MethodInfo struct {
	Name        string
	Descriptor  string
	AccessFlags uint16

	// Instructions is the ordered, decoded instruction stream of the
	// method's Code attribute. Nil for abstract/native methods.
	Instructions []*InstructionInfo

	ExceptionHandlers []ExceptionHandler
	MaxStack          uint16
	MaxLocals         uint16

	// Disassembly is a pre-rendered textual rendering of Instructions,
	// used for the pattern-string searches in detection (spec.md §4.3,
	// §4.4). Its format is a contract: see RenderDisassembly.
	Disassembly string

	// CodeAttributes holds non-Code-stream attributes attached to the Code
	// attribute itself (StackMapTable, LineNumberTable, ...), preserved
	// opaquely except for StackMapTable which the writer may rebuild.
	CodeAttributes []AttributeInfo
	// Attributes holds method-level attributes other than Code.
	Attributes []AttributeInfo

	// CodeDirty marks that Instructions/ExceptionHandlers were mutated (or
	// this is a brand-new synthesized method) since parsing, so the writer
	// must re-encode the Code attribute from them rather than re-emitting
	// rawCode verbatim. The patcher sets this whenever it touches a
	// method; untouched methods pass through byte-for-byte.
	CodeDirty bool
	rawCode   []byte
}

// HasCode reports whether the method has a Code attribute.
func (m *MethodInfo) HasCode() bool { return m.Instructions != nil }

// ExceptionHandler is one entry of a Code attribute's exception table.
type ExceptionHandler struct {
	StartPC   int // instruction index, not byte offset
	EndPC     int
	HandlerPC int
	CatchType string // internal class name, or "" for catch-all (any)
}

// InnerClassRef is one entry of an InnerClasses attribute.
type InnerClassRef struct {
	InnerName       string
	OuterName       string // may be empty
	InnerSimpleName string // may be empty
	AccessFlags     uint16
}

// AttributeInfo is a raw, opaque attribute: a name plus its already-decoded
// payload length in bytes. Attributes the rest of the module does not need
// to understand (LineNumberTable, SourceFile, Signature, ...) are kept as
// Data and re-emitted unchanged by the writer.
type AttributeInfo struct {
	Name string
	Data []byte
}

// InstructionInfo is a single decoded bytecode instruction.
type InstructionInfo struct {
	// Offset is the byte offset of this instruction within the method's
	// Code array.
	Offset int
	// Opcode is the raw opcode value (0-255).
	Opcode uint8
	// Mnemonic is the opcode's textual name, e.g. "GETSTATIC".
	Mnemonic string
	// Detail renders the operand(s) in a stable, contract-bound format;
	// see RenderDisassembly for the exact shape.
	Detail string

	// Operand fields, populated depending on the opcode family. Only the
	// ones relevant to the instruction's kind are set; others are zero.
	IntOperand    int64  // BIPUSH/SIPUSH/IINC/local-var-index/branch offset
	ConstOperand  string // LDC-family: rendered constant, or string literal
	OwnerOperand  string // field/method ref: owning internal class name
	NameOperand   string // field/method ref: member name
	DescOperand   string // field/method ref: descriptor
	ClassOperand  string // NEW/ANEWARRAY/CHECKCAST/INSTANCEOF: internal name
	BranchTarget  int    // absolute instruction index for branch opcodes
	IsInterfaceMR bool   // true for INVOKEINTERFACE

	// ldcStringValue/ldcClassValue are set only on instructions built via
	// NewLdcString/NewLdcClass (pkg/lazyval/patch constructing new code);
	// decoded instructions never populate them, relying on ConstOperand
	// for display instead.
	ldcStringValue *string
	ldcClassValue  *string
}
