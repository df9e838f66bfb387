// Package compare implements spec.md §4.5: deciding whether two class
// files implement "the same lazy vals" by extracting a canonical skeleton
// per lazy val and comparing those skeletons structurally.
package compare

import (
	"fmt"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/detect"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/skeleton"
)

// Outcome classifies a comparison's overall result (spec.md §4.5).
type Outcome int

const (
	Identical Outcome = iota
	Different
	BothEmpty
	OnlyOneHasAny
)

// Result is Compare's return value.
type Result struct {
	Outcome Outcome
	Reasons []string
	// OnlyCount is the number of lazy vals the non-empty side has; set
	// only when Outcome is OnlyOneHasAny.
	OnlyCount int
}

// Compare runs the Detector on each side, keys each side's lazy vals by
// display name, and compares per-name skeletons (spec.md §4.5).
func Compare(class1, class2 *classfile.ClassInfo, companion1, companion2 *classfile.ClassInfo) (*Result, error) {
	r1, err := detect.Detect(class1, companion1)
	if err != nil {
		return nil, err
	}
	r2, err := detect.Detect(class2, companion2)
	if err != nil {
		return nil, err
	}

	if r1.Empty() && r2.Empty() {
		return &Result{Outcome: BothEmpty}, nil
	}
	if r1.Empty() != r2.Empty() {
		return &Result{Outcome: OnlyOneHasAny, OnlyCount: len(r1.Instances) + len(r2.Instances)}, nil
	}

	byName1 := keyByName(r1.Instances)
	byName2 := keyByName(r2.Instances)

	var reasons []string
	for name := range byName1 {
		if _, ok := byName2[name]; !ok {
			reasons = append(reasons, fmt.Sprintf("lazy vals only in first: %s", name))
		}
	}
	for name := range byName2 {
		if _, ok := byName1[name]; !ok {
			reasons = append(reasons, fmt.Sprintf("lazy vals only in second: %s", name))
		}
	}

	for name, lv1 := range byName1 {
		lv2, ok := byName2[name]
		if !ok {
			continue
		}
		if lv1.Family != lv2.Family {
			reasons = append(reasons, fmt.Sprintf("%s: family mismatch (%s vs %s)", name, lv1.Family, lv2.Family))
			continue
		}
		fp1 := skeleton.Extract(lv1)
		fp2 := skeleton.Extract(lv2)
		if !skeleton.Equal(fp1, fp2) {
			reasons = append(reasons, distinguish(name, fp1, fp2))
		}
	}

	if len(reasons) == 0 {
		return &Result{Outcome: Identical}, nil
	}
	return &Result{Outcome: Different, Reasons: reasons}, nil
}

func keyByName(instances []*lazyval.LazyValInstance) map[string]*lazyval.LazyValInstance {
	m := make(map[string]*lazyval.LazyValInstance, len(instances))
	for _, lv := range instances {
		m[lv.Name] = lv
	}
	return m
}

// distinguish names which part of the fingerprint diverged: storage
// descriptor, offset-init pattern, or the synchronization skeleton itself
// (spec.md §4.5 step 4).
func distinguish(name string, a, b *skeleton.Fingerprint) string {
	if a.StorageDescriptor != b.StorageDescriptor {
		return fmt.Sprintf("%s: storage descriptor mismatch (%s vs %s)", name, a.StorageDescriptor, b.StorageDescriptor)
	}
	if a.OffsetInitPattern != b.OffsetInitPattern {
		return fmt.Sprintf("%s: offset-init pattern mismatch (%q vs %q)", name, a.OffsetInitPattern, b.OffsetInitPattern)
	}
	return fmt.Sprintf("%s: synchronization skeleton mismatch", name)
}
