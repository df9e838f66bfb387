// Package group implements spec.md §4.2: pairing a nested singleton class
// with its companion regular class by name relation alone.
package group

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
)

// Group parses every entry in byName (internal class name -> bytes) and
// produces a ClassGroup per spec.md §4.2's rule: a name ending in '$' pairs
// with the same name minus the sentinel, if present in the same batch;
// every other name becomes a standalone group. Ordering of the returned
// groups is not meaningful.
//
// If any input fails to parse, Group fails with a concatenation of every
// per-class parse error and returns no partial result (spec.md §4.2
// failure mode).
func Group(byName map[string][]byte) ([]*lazyval.ClassGroup, error) {
	entries := make(map[string]*lazyval.ClassFileEntry, len(byName))
	var parseErrs []string
	for name, data := range byName {
		ci, err := classfile.Parse(data)
		if err != nil {
			parseErrs = append(parseErrs, errors.Wrapf(err, "class %s", name).Error())
			continue
		}
		entries[name] = &lazyval.ClassFileEntry{Name: name, Bytes: data, Info: ci}
	}
	if len(parseErrs) > 0 {
		return nil, errors.New(strings.Join(parseErrs, "\n"))
	}

	consumed := make(map[string]bool, len(entries))
	var groups []*lazyval.ClassGroup

	for name, entry := range entries {
		if consumed[name] {
			continue
		}
		if !strings.HasSuffix(name, "$") {
			continue // handled from the '$' side, or has no pair
		}
		base := strings.TrimSuffix(name, "$")
		if companion, ok := entries[base]; ok {
			groups = append(groups, &lazyval.ClassGroup{Object: entry, Companion: companion})
			consumed[name] = true
			consumed[base] = true
		}
	}

	for name, entry := range entries {
		if consumed[name] {
			continue
		}
		if strings.HasSuffix(name, "$") {
			groups = append(groups, &lazyval.ClassGroup{Object: entry})
		} else {
			groups = append(groups, &lazyval.ClassGroup{Companion: entry})
		}
		consumed[name] = true
	}

	return groups, nil
}
