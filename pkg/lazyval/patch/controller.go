// Package patch implements spec.md §4.6-§4.8: given a ClassGroup, detect
// its lazy vals and rewrite whichever class(es) need it to the
// memory-handle-based V3_8plus representation, dispatching by family and by
// which half(ves) of a companion pair carry lazy vals.
package patch

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/detect"
)

// ResultKind classifies what Patch did with a group (spec.md §4.6).
type ResultKind int

const (
	// Patched means exactly one class's bytes changed.
	Patched ResultKind = iota
	// PatchedPair means both halves of a companion pair changed: one
	// patched for its own lazy vals, the other stripped of offset/bitmap
	// fields that backed the first's legacy implementation.
	PatchedPair
	// NotApplicable means the group has no lazy vals, or its lazy vals are
	// already V3_8plus: nothing to do.
	NotApplicable
	// Failed means detection or rewriting could not proceed; Err explains
	// why.
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case Patched:
		return "Patched"
	case PatchedPair:
		return "PatchedPair"
	case NotApplicable:
		return "NotApplicable"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is Patch's return value. Name/Bytes pairs are populated according
// to Kind: Name1/Bytes1 for Patched, both pairs for PatchedPair, neither
// otherwise.
type Result struct {
	Kind ResultKind

	Name1  string
	Bytes1 []byte
	Name2  string
	Bytes2 []byte

	Err error
}

// Patch implements spec.md §4.6: detect lazy vals on both halves of group
// (as applicable), resolve a single family across the group, and dispatch
// to the family-specific rewrite.
func Patch(group *lazyval.ClassGroup) (*Result, error) {
	var objInfo, compInfo *classfile.ClassInfo
	if group.Object != nil {
		objInfo = group.Object.Info
	}
	if group.Companion != nil {
		compInfo = group.Companion.Info
	}

	var detObj, detComp *detect.Result
	var err error
	if objInfo != nil {
		if detObj, err = detect.Detect(objInfo, compInfo); err != nil {
			return nil, err
		}
	}
	if compInfo != nil {
		if detComp, err = detect.Detect(compInfo, objInfo); err != nil {
			return nil, err
		}
	}

	if (detObj != nil && detObj.MixedFamilies) || (detComp != nil && detComp.MixedFamilies) {
		return &Result{Kind: Failed, Err: &lazyval.UnsupportedPattern{Diagnostic: diagnostic(group, detObj, detComp)}}, nil
	}

	objHas := detObj != nil && !detObj.Empty()
	compHas := detComp != nil && !detComp.Empty()

	if !objHas && !compHas {
		return &Result{Kind: NotApplicable}, nil
	}

	if objHas && compHas && detObj.Family() != detComp.Family() {
		return &Result{Kind: Failed, Err: &lazyval.UnsupportedPattern{Diagnostic: diagnostic(group, detObj, detComp)}}, nil
	}

	family := lazyval.FamilyUnknown
	switch {
	case objHas:
		family = detObj.Family()
	case compHas:
		family = detComp.Family()
	}

	log.WithFields(log.Fields{"group": group.Name(), "family": family}).Debug("lazyval/patch: dispatching")

	switch family {
	case lazyval.FamilyV3_8plus:
		return &Result{Kind: NotApplicable}, nil
	case lazyval.FamilyUnknown:
		return &Result{Kind: Failed, Err: &lazyval.UnsupportedPattern{Diagnostic: diagnostic(group, detObj, detComp)}}, nil
	case lazyval.FamilyV3_7:
		return dispatchV37(group, detObj, detComp, objHas, compHas)
	case lazyval.FamilyV0_1, lazyval.FamilyV2:
		return dispatchV01V2(group, detObj, detComp, objHas, compHas)
	default:
		return &Result{Kind: Failed, Err: &lazyval.UnsupportedPattern{Diagnostic: "unreachable: unclassified family"}}, nil
	}
}

func dispatchV37(group *lazyval.ClassGroup, detObj, detComp *detect.Result, objHas, compHas bool) (*Result, error) {
	if !group.IsPair() {
		if group.Object != nil {
			return patchStandaloneV37(group.Object, detObj.Instances)
		}
		return patchStandaloneV37(group.Companion, detComp.Instances)
	}
	switch {
	case objHas && !compHas:
		return patchHalfV37(group.Object, group.Companion, detObj.Instances)
	case !objHas && compHas:
		return patchHalfV37(group.Companion, group.Object, detComp.Instances)
	default:
		return patchBothV37(group, detObj.Instances)
	}
}

func patchStandaloneV37(entry *lazyval.ClassFileEntry, instances []*lazyval.LazyValInstance) (*Result, error) {
	if err := PatchV37Class(entry.Info, instances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	out, err := classfile.Marshal(entry.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	return &Result{Kind: Patched, Name1: entry.Name, Bytes1: out}, nil
}

// patchHalfV37 patches primary for instances (whose storage fields all
// belong to primary), and also strips other of any offset fields that back
// those same instances (spec.md §4.6: object-only/companion-only rows of
// the dispatch table).
func patchHalfV37(primary, other *lazyval.ClassFileEntry, instances []*lazyval.LazyValInstance) (*Result, error) {
	if err := PatchV37Class(primary.Info, instances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	primaryBytes, err := classfile.Marshal(primary.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}

	if !anyOffsetInCompanion(instances) {
		return &Result{Kind: Patched, Name1: primary.Name, Bytes1: primaryBytes}, nil
	}
	if err := StripCompanionOffsets(other.Info, instances, primary.Info.ThisClass); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	otherBytes, err := classfile.Marshal(other.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	return &Result{Kind: PatchedPair, Name1: primary.Name, Bytes1: primaryBytes, Name2: other.Name, Bytes2: otherBytes}, nil
}

// patchBothV37 implements spec.md §4.6's two-pass scenario: patch the
// object first (stripping its offsets from the companion if needed), then
// re-parse the resulting companion bytes and patch it for its own lazy
// vals as a fresh Detect/Patch run.
func patchBothV37(group *lazyval.ClassGroup, objInstances []*lazyval.LazyValInstance) (*Result, error) {
	if err := PatchV37Class(group.Object.Info, objInstances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	objBytes, err := classfile.Marshal(group.Object.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}

	if anyOffsetInCompanion(objInstances) {
		if err := StripCompanionOffsets(group.Companion.Info, objInstances, group.Object.Info.ThisClass); err != nil {
			return nil, lazyval.NewRewriteError(err)
		}
	}

	intermediate, err := classfile.Marshal(group.Companion.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	compInfo, err := classfile.Parse(intermediate)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	compDet, err := detect.Detect(compInfo, nil)
	if err != nil {
		return nil, err
	}
	if compDet.MixedFamilies {
		return &Result{Kind: Failed, Err: &lazyval.UnsupportedPattern{Diagnostic: "companion pass after object patch: mixed families"}}, nil
	}
	if !compDet.Empty() {
		if err := PatchV37Class(compInfo, compDet.Instances); err != nil {
			return nil, lazyval.NewRewriteError(err)
		}
	}
	compBytes, err := classfile.Marshal(compInfo)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}

	return &Result{Kind: PatchedPair, Name1: group.Object.Name, Bytes1: objBytes, Name2: group.Companion.Name, Bytes2: compBytes}, nil
}

func dispatchV01V2(group *lazyval.ClassGroup, detObj, detComp *detect.Result, objHas, compHas bool) (*Result, error) {
	if !group.IsPair() {
		if group.Object != nil {
			return patchStandaloneV01V2(group.Object, detObj.Instances)
		}
		return patchStandaloneV01V2(group.Companion, detComp.Instances)
	}
	switch {
	case objHas && !compHas:
		return patchHalfV01V2(group.Object, group.Companion, detObj.Instances)
	case !objHas && compHas:
		return patchHalfV01V2(group.Companion, group.Object, detComp.Instances)
	default:
		return patchBothV01V2(group, detObj.Instances)
	}
}

func patchStandaloneV01V2(entry *lazyval.ClassFileEntry, instances []*lazyval.LazyValInstance) (*Result, error) {
	if err := PatchV01V2Class(entry.Info, instances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	out, err := classfile.Marshal(entry.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	return &Result{Kind: Patched, Name1: entry.Name, Bytes1: out}, nil
}

func patchHalfV01V2(primary, other *lazyval.ClassFileEntry, instances []*lazyval.LazyValInstance) (*Result, error) {
	if err := PatchV01V2Class(primary.Info, instances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	primaryBytes, err := classfile.Marshal(primary.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}

	if !anyOffsetInCompanion(instances) {
		return &Result{Kind: Patched, Name1: primary.Name, Bytes1: primaryBytes}, nil
	}
	if err := StripCompanionOffsetsV01V2(other.Info, instances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	otherBytes, err := classfile.Marshal(other.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	return &Result{Kind: PatchedPair, Name1: primary.Name, Bytes1: primaryBytes, Name2: other.Name, Bytes2: otherBytes}, nil
}

func patchBothV01V2(group *lazyval.ClassGroup, objInstances []*lazyval.LazyValInstance) (*Result, error) {
	if err := PatchV01V2Class(group.Object.Info, objInstances); err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	if anyOffsetInCompanion(objInstances) {
		if err := StripCompanionOffsetsV01V2(group.Companion.Info, objInstances); err != nil {
			return nil, lazyval.NewRewriteError(err)
		}
	}
	objBytes, err := classfile.Marshal(group.Object.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}

	intermediate, err := classfile.Marshal(group.Companion.Info)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	compInfo, err := classfile.Parse(intermediate)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}
	compDet, err := detect.Detect(compInfo, nil)
	if err != nil {
		return nil, err
	}
	if compDet.MixedFamilies {
		return &Result{Kind: Failed, Err: &lazyval.UnsupportedPattern{Diagnostic: "companion pass after object patch: mixed families"}}, nil
	}
	if !compDet.Empty() {
		if err := PatchV01V2Class(compInfo, compDet.Instances); err != nil {
			return nil, lazyval.NewRewriteError(err)
		}
	}
	compBytes, err := classfile.Marshal(compInfo)
	if err != nil {
		return nil, lazyval.NewRewriteError(err)
	}

	return &Result{Kind: PatchedPair, Name1: group.Object.Name, Bytes1: objBytes, Name2: group.Companion.Name, Bytes2: compBytes}, nil
}

func anyOffsetInCompanion(instances []*lazyval.LazyValInstance) bool {
	for _, lv := range instances {
		if lv.OffsetInCompanion {
			return true
		}
	}
	return false
}

// diagnostic dumps every field, method name, and detected lazy-val summary
// of every involved class, per spec.md §4.6's invariant-validation contract
// for UnsupportedPattern.
func diagnostic(group *lazyval.ClassGroup, detObj, detComp *detect.Result) string {
	var b strings.Builder
	if group.Object != nil {
		dumpClass(&b, "object", group.Object.Info, detObj)
	}
	if group.Companion != nil {
		dumpClass(&b, "companion", group.Companion.Info, detComp)
	}
	return b.String()
}

func dumpClass(b *strings.Builder, label string, ci *classfile.ClassInfo, det *detect.Result) {
	fmt.Fprintf(b, "=== %s: %s ===\n", label, ci.ThisClass)
	b.WriteString("fields:\n")
	for _, f := range ci.Fields {
		fmt.Fprintf(b, "  %s %s\n", f.Descriptor, f.Name)
	}
	b.WriteString("methods:\n")
	for _, m := range ci.Methods {
		fmt.Fprintf(b, "  %s%s\n", m.Name, m.Descriptor)
	}
	if det != nil {
		b.WriteString("detected lazy vals:\n")
		for _, lv := range det.Instances {
			fmt.Fprintf(b, "  %s\n", lv.String())
		}
	}
}
