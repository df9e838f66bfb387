package lazyval

import (
	"regexp"
	"strings"
)

// Name conventions consumed from input, bit-exact per spec.md §6.
var (
	// StorageFieldRe matches "<display name>$lzy<index>".
	StorageFieldRe = regexp.MustCompile(`^(.+)\$lzy(\d+)$`)
	// OffsetFieldRe matches "OFFSET$_m_<digits>" or "OFFSET$<digits>".
	OffsetFieldRe = regexp.MustCompile(`^OFFSET\$(?:_m_)?\d+$`)
	// BitmapFieldRe matches "<digits>bitmap$<digits>", unanchored per
	// spec.md §4.3 step 1 ("name matching \d+bitmap\$\d+").
	BitmapFieldRe = regexp.MustCompile(`\d+bitmap\$\d+`)
	// InitMethodNameRe matches any lazy-val initializer method name
	// ("<display name>$lzyINIT<digits>"). The V3_7 patcher does not use it:
	// it rewrites the init methods of the instances detection found.
	InitMethodNameRe = regexp.MustCompile(`^.*\$lzyINIT\d+$`)
)

const handleFieldSuffix = "$lzyHandle"

// IsHandleFieldName reports whether name is a VarHandle field name derived
// from some storage field ("<storage>$lzyHandle").
func IsHandleFieldName(name string) bool {
	return strings.HasSuffix(name, handleFieldSuffix)
}

// HandleDescriptor is the descriptor of every generated handle field.
const HandleDescriptor = "Ljava/lang/invoke/VarHandle;"

// GenericObjectDescriptor is the descriptor every V3_7/V3_8plus storage
// field carries (spec.md §3 invariants).
const GenericObjectDescriptor = "Ljava/lang/Object;"

// Runtime-class internal names referenced by generated/inspected code
// (spec.md §6). Built at runtime via concatenation of literal fragments,
// never as a single string literal, so that a build-time string-rewriting
// ("shading") tool packaging this module into a relocatable artifact
// cannot silently corrupt a name it doesn't know is runtime-significant
// (spec.md §9, "isolation from string rewriting").
var (
	scalaRuntimePkg   = strings.Join([]string{"scala", "runtime"}, "/") + "/"
	LazyValsModule    = scalaRuntimePkg + "LazyVals$"
	LazyValsClass     = scalaRuntimePkg + "LazyVals"
	NullValueClass    = scalaRuntimePkg + "LazyVals$NullValue$"
	EvaluatingClass   = scalaRuntimePkg + "LazyVals$Evaluating$"
	WaitingClass      = scalaRuntimePkg + "LazyVals$Waiting"
	ControlStateClass = scalaRuntimePkg + "LazyVals$LazyValControlState"
	BoxesRunTimeClass = scalaRuntimePkg + "BoxesRunTime"

	javaLangInvokePkg  = strings.Join([]string{"java", "lang", "invoke"}, "/") + "/"
	VarHandleClass     = javaLangInvokePkg + "VarHandle"
	MethodHandlesClass = javaLangInvokePkg + "MethodHandles"
	LookupClass        = javaLangInvokePkg + "MethodHandles$Lookup"
)
