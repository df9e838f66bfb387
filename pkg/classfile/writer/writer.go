// Package writer implements spec.md §4.9: resolving the common superclass
// of two internal class names for a frame-recomputing class writer,
// without ever going through the runtime's own class loader.
package writer

import (
	"strings"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/classfile"
)

// ObjectClass is the root of every class and interface hierarchy.
const ObjectClass = "java/lang/Object"

// platformPrefixes names the well-known platform packages, whose classes
// never carry lazy vals. A name the callback cannot resolve is treated as
// having no supertype but Object whether or not it has one of these
// prefixes, and CommonSuperclass returns Object whenever either argument
// cannot be resolved; no lookup failure is escalated.
var platformPrefixes = []string{"java/", "javax/", "jdk/", "sun/", "com/sun/"}

func isPlatformName(internalName string) bool {
	for _, p := range platformPrefixes {
		if strings.HasPrefix(internalName, p) {
			return true
		}
	}
	return false
}

// ClassBytesResolver looks up the raw bytes of internalName, reporting
// whether it was found. The caller supplies this from whatever classpath
// or in-flight transformation batch it already has on hand — never the
// runtime's class loader (spec.md §5's load-time-transformation note).
type ClassBytesResolver func(internalName string) ([]byte, bool)

// classHeader is the subset of a parsed class this package consults: super
// name, interfaces, and the interface access flag.
type classHeader struct {
	super       string
	interfaces  []string
	isInterface bool
}

// SuperclassResolver resolves common superclasses by reading class bytes
// through a caller-supplied callback and walking supertypes, caching
// parsed headers for the resolver's lifetime.
type SuperclassResolver struct {
	resolve ClassBytesResolver
	cache   map[string]*classHeader
}

// NewSuperclassResolver builds a resolver backed by resolve.
func NewSuperclassResolver(resolve ClassBytesResolver) *SuperclassResolver {
	return &SuperclassResolver{resolve: resolve, cache: map[string]*classHeader{}}
}

func (r *SuperclassResolver) header(internalName string) (*classHeader, bool) {
	if h, ok := r.cache[internalName]; ok {
		return h, true
	}
	data, ok := r.resolve(internalName)
	if !ok {
		return nil, false
	}
	ci, err := classfile.Parse(data)
	if err != nil {
		return nil, false
	}
	h := &classHeader{
		super:       ci.SuperClass,
		interfaces:  ci.Interfaces,
		isInterface: ci.AccessFlags&classfile.AccInterface != 0,
	}
	r.cache[internalName] = h
	return h, true
}

// CommonSuperclass implements spec.md §4.9's algorithm: the narrowest type
// both a and b can be safely treated as, computed without ever loading a
// class through the runtime's own loader.
func (r *SuperclassResolver) CommonSuperclass(a, b string) string {
	if a == ObjectClass || b == ObjectClass {
		return ObjectClass
	}

	ha, okA := r.header(a)
	hb, okB := r.header(b)
	if !okA || !okB {
		return ObjectClass
	}

	if r.isAssignableFrom(a, b) {
		return a
	}
	if r.isAssignableFrom(b, a) {
		return b
	}
	if ha.isInterface || hb.isInterface {
		return ObjectClass
	}

	for cur := a; cur != "" && cur != ObjectClass; {
		h, ok := r.header(cur)
		if !ok {
			break
		}
		if h.super == "" {
			break
		}
		if r.isAssignableFrom(h.super, b) {
			return h.super
		}
		cur = h.super
	}
	return ObjectClass
}

// isAssignableFrom reports whether a variable of type ancestor can hold an
// instance of child: ancestor appears in child's superclass chain or
// interface set. A platform-prefixed name that can't be resolved is
// treated as assignable from nothing but Object, per spec.md §4.9 — such
// names are never lazy-val classes, so CommonSuperclass's header lookups
// for them only need to succeed or fail cleanly, never block correctness.
func (r *SuperclassResolver) isAssignableFrom(ancestor, child string) bool {
	if ancestor == child || ancestor == ObjectClass {
		return true
	}
	visited := map[string]bool{}
	var walk func(name string) bool
	walk = func(name string) bool {
		if name == "" || visited[name] {
			return false
		}
		visited[name] = true
		if name == ancestor {
			return true
		}
		h, ok := r.header(name)
		if !ok {
			return isPlatformName(name) && ancestor == ObjectClass
		}
		for _, iface := range h.interfaces {
			if walk(iface) {
				return true
			}
		}
		return walk(h.super)
	}
	return walk(child)
}
