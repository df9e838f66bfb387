// Package lazyval holds the data model shared by every lazy-val domain
// package (group, detect, skeleton, compare, patch): the Family tag,
// LazyValInstance, and the ClassGroup the Grouper produces. Subpackages
// import this package for types; it imports none of them, so the pipeline
// stages can each depend on the shared vocabulary without a cycle.
package lazyval

import (
	"fmt"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
)

// Family is the closed set of lazy-val implementation strategies a detected
// instance classifies into (spec.md §3).
type Family int

const (
	FamilyV0_1 Family = iota
	FamilyV2
	FamilyV3_7
	FamilyV3_8plus
	FamilyUnknown
)

func (f Family) String() string {
	switch f {
	case FamilyV0_1:
		return "V0_1"
	case FamilyV2:
		return "V2"
	case FamilyV3_7:
		return "V3_7"
	case FamilyV3_8plus:
		return "V3_8plus"
	case FamilyUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// LazyValInstance is one detected lazy val (spec.md §3).
type LazyValInstance struct {
	Name  string
	Index int

	StorageField *classfile.FieldInfo

	OffsetField *classfile.FieldInfo
	// OffsetInCompanion reports whether OffsetField was found in the other
	// class of the pair relative to the class StorageField lives in ("this
	// class or the paired companion", spec.md §3).
	OffsetInCompanion bool

	BitmapField *classfile.FieldInfo // V0_1/V2 only
	HandleField *classfile.FieldInfo // V3_8plus only

	InitMethod     *classfile.MethodInfo // V3_7, V3_8plus
	AccessorMethod *classfile.MethodInfo

	Family        Family
	UnknownReason string
}

func (lv *LazyValInstance) String() string {
	return fmt.Sprintf("%s$lzy%d [%s]", lv.Name, lv.Index, lv.Family)
}

// HandleFieldName is the name the patcher gives the VarHandle field backing
// this lazy val: "<storage field name>$lzyHandle" (spec.md §6).
func (lv *LazyValInstance) HandleFieldName() string {
	return lv.StorageField.Name + "$lzyHandle"
}

// InitMethodName is the canonical name of this lazy val's initializer
// method: "<display name>$lzyINIT<index>" (spec.md §6).
func (lv *LazyValInstance) InitMethodName() string {
	return fmt.Sprintf("%s$lzyINIT%d", lv.Name, lv.Index)
}

// ClassFileEntry pairs a parsed class with the name it was looked up by and
// the raw bytes it was parsed from, as handed to the Grouper in a batch.
type ClassFileEntry struct {
	Name  string
	Bytes []byte
	Info  *classfile.ClassInfo
}

// ClassGroup is either a standalone class or a companion pair (spec.md
// §4.2). Object is the nested singleton class (trailing '$', the Scala
// "object" half); Companion is the regular class of the same base name
// (the "companion class" half). Exactly one is nil for a standalone group;
// both are set for a pair.
type ClassGroup struct {
	Object    *ClassFileEntry
	Companion *ClassFileEntry
}

// IsPair reports whether this group is a companion pair rather than a
// standalone class.
func (g *ClassGroup) IsPair() bool { return g.Object != nil && g.Companion != nil }

// Name returns a label for logging/diagnostics: the pair's shared base name
// (the companion's, since that's the name without the sentinel), or
// whichever single half is present.
func (g *ClassGroup) Name() string {
	if g.Companion != nil {
		return g.Companion.Name
	}
	return g.Object.Name
}
