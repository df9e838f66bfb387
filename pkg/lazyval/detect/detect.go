// Package detect implements spec.md §4.3: finding every lazy val in a class
// (optionally consulting its companion) and classifying each into a Family
// by pattern-matching on bytecode evidence.
package detect

import (
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

// Result is the outcome of Detect: no lazy vals, a single-family list, or a
// mixed-families error (spec.md §4.3). Instances always holds everything
// found, even when MixedFamilies is set, so callers can build a diagnostic.
type Result struct {
	Instances     []*lazyval.LazyValInstance
	MixedFamilies bool
}

// Empty reports whether no lazy vals were found.
func (r *Result) Empty() bool { return len(r.Instances) == 0 }

// Family returns the shared family across Instances. Callers must not rely
// on this when MixedFamilies is set; it returns the first instance's family
// in that case, which is meaningless on its own.
func (r *Result) Family() lazyval.Family {
	if len(r.Instances) == 0 {
		return lazyval.FamilyUnknown
	}
	return r.Instances[0].Family
}

// Detect runs spec.md §4.3's algorithm against primary, consulting
// companion (which may be nil) for offset fields and static-initializer
// evidence living on the other half of a companion pair.
func Detect(primary *classfile.ClassInfo, companion *classfile.ClassInfo) (*Result, error) {
	primaryTargets := buildOffsetToStorageMap(primary)
	var companionTargets map[string]string
	if companion != nil {
		companionTargets = buildOffsetToStorageMap(companion)
	}

	var instances []*lazyval.LazyValInstance
	seenFamilies := map[lazyval.Family]bool{}

	for _, f := range primary.Fields {
		m := lazyval.StorageFieldRe.FindStringSubmatch(f.Name)
		if m == nil || lazyval.IsHandleFieldName(f.Name) {
			continue
		}
		index, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}

		lv := &lazyval.LazyValInstance{Name: m[1], Index: index, StorageField: f}

		lv.OffsetField, lv.OffsetInCompanion = findOffsetField(primary, companion, primaryTargets, companionTargets, f.Name)
		lv.BitmapField = findBitmapField(primary)
		if lv.BitmapField == nil && companion != nil {
			lv.BitmapField = findBitmapField(companion)
		}
		lv.HandleField = primary.FindField(f.Name + "$lzyHandle")
		lv.InitMethod = primary.FindMethod(lv.InitMethodName(), "()Ljava/lang/Object;")
		lv.AccessorMethod = primary.FindMethodByName(lv.Name)

		if isFalsePositive(lv) {
			log.WithField("field", f.Name).Debug("lazyval/detect: dropping false-positive storage-field candidate")
			continue
		}

		classifyFamily(lv, primary, companion)
		log.WithFields(log.Fields{"name": lv.Name, "index": lv.Index, "family": lv.Family}).
			Debug("lazyval/detect: classified lazy val")

		instances = append(instances, lv)
		seenFamilies[lv.Family] = true
	}

	return &Result{Instances: instances, MixedFamilies: len(seenFamilies) > 1}, nil
}

// buildOffsetToStorageMap implements spec.md §4.3 step 2: scan <clinit>,
// remembering the most recent string constant shaped like a storage- or
// bitmap-field name, and binding it to the next PUTSTATIC into an
// offset-shaped field.
func buildOffsetToStorageMap(ci *classfile.ClassInfo) map[string]string {
	m := map[string]string{}
	clinit := ci.ClinitMethod()
	if clinit == nil {
		return m
	}
	var remembered string
	for _, in := range clinit.Instructions {
		switch in.Mnemonic {
		case "LDC", "LDC_W":
			if s, ok := unquote(in.ConstOperand); ok {
				if lazyval.StorageFieldRe.MatchString(s) || lazyval.BitmapFieldRe.MatchString(s) {
					remembered = s
				}
			}
		case "PUTSTATIC":
			if lazyval.OffsetFieldRe.MatchString(in.NameOperand) && remembered != "" {
				m[in.NameOperand] = remembered
				remembered = ""
			}
		}
	}
	return m
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// findOffsetField locates the offset field whose mapped target is either
// storageFieldName itself or any bitmap-shaped field name, trying primary
// first and then companion (spec.md §4.3 step 3).
func findOffsetField(primary, companion *classfile.ClassInfo, primaryTargets, companionTargets map[string]string, storageFieldName string) (*classfile.FieldInfo, bool) {
	matches := func(target string) bool {
		return target == storageFieldName || lazyval.BitmapFieldRe.MatchString(target)
	}
	for _, f := range primary.Fields {
		if !lazyval.OffsetFieldRe.MatchString(f.Name) {
			continue
		}
		if target, ok := primaryTargets[f.Name]; ok && matches(target) {
			return f, false
		}
	}
	if companion != nil {
		for _, f := range companion.Fields {
			if !lazyval.OffsetFieldRe.MatchString(f.Name) {
				continue
			}
			if target, ok := companionTargets[f.Name]; ok && matches(target) {
				return f, true
			}
		}
	}
	return nil, false
}

func findBitmapField(ci *classfile.ClassInfo) *classfile.FieldInfo {
	for _, f := range ci.Fields {
		if lazyval.BitmapFieldRe.MatchString(f.Name) && f.Descriptor == "J" && !f.IsStatic() {
			return f
		}
	}
	return nil
}

// isFalsePositive implements spec.md §4.3 step 5: a candidate with none of
// the supporting evidence and no volatile flag is an eagerly-initialized
// companion reference of a nested case class, not a lazy val.
func isFalsePositive(lv *lazyval.LazyValInstance) bool {
	if lv.OffsetField != nil || lv.BitmapField != nil || lv.HandleField != nil || lv.InitMethod != nil {
		return false
	}
	return !lv.StorageField.IsVolatile()
}

// classifyFamily implements the spec.md §4.3 step 4 decision table,
// top-down, first match wins.
func classifyFamily(lv *lazyval.LazyValInstance, primary, companion *classfile.ClassInfo) {
	if lv.HandleField != nil {
		lv.Family = lazyval.FamilyV3_8plus
		return
	}

	if lv.BitmapField != nil {
		holder := primary
		if lv.OffsetInCompanion && companion != nil {
			holder = companion
		}
		var disasm string
		if clinit := holder.ClinitMethod(); clinit != nil {
			disasm = clinit.Disassembly
		}
		switch {
		case strings.Contains(disasm, "getDeclaredField") && strings.Contains(disasm, "getOffsetStatic"):
			lv.Family = lazyval.FamilyV2
		case strings.Contains(disasm, "LazyVals$.getOffset ("):
			lv.Family = lazyval.FamilyV0_1
		default:
			lv.Family = lazyval.FamilyUnknown
			lv.UnknownReason = "bitmap field present but <clinit> matched neither the V0_1 nor V2 offset-lookup pattern"
		}
		return
	}

	if lv.OffsetField != nil && lv.InitMethod != nil &&
		lv.StorageField.Descriptor == lazyval.GenericObjectDescriptor &&
		lv.StorageField.IsVolatile() &&
		strings.Contains(lv.InitMethod.Disassembly, "LazyVals$.objCAS") {
		lv.Family = lazyval.FamilyV3_7
		return
	}

	lv.Family = lazyval.FamilyUnknown
	lv.UnknownReason = "no classification rule matched the detected evidence"
}
