// Package schema resolves declared FHIR element types for resource types and
// datatypes. It ships a built-in table covering the resources the indexer
// works with and can be extended from a StructureDefinition bundle.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// ErrUnknownProperty is returned when a path does not resolve against the
// declared elements of a type.
var ErrUnknownProperty = errors.New("unknown property")

// Element is a declared element of a type.
type Element struct {
	Name  string   // e.g. "identifier" or "value[x]"
	Types []string // datatype names; backbone elements use their path, e.g. "Observation.component"
	Array bool
}

// IsChoice reports whether the element is a choice element (name ends in [x]).
func (e *Element) IsChoice() bool {
	return strings.HasSuffix(e.Name, "[x]")
}

// Service holds type definitions. It is safe for concurrent use.
type Service struct {
	mu        sync.RWMutex
	types     map[string]map[string]*Element
	resources map[string]bool
}

// New returns an empty Service.
func New() *Service {
	return &Service{
		types:     make(map[string]map[string]*Element),
		resources: make(map[string]bool),
	}
}

// NewDefault returns a Service preloaded with the built-in definitions.
func NewDefault() *Service {
	s := New()
	for name, elems := range builtinDatatypes {
		s.Define(name, false, elems)
	}
	for name, elems := range builtinResources {
		merged := make(map[string]string, len(elems)+len(commonResourceElements))
		for k, v := range commonResourceElements {
			merged[k] = v
		}
		for k, v := range elems {
			merged[k] = v
		}
		s.Define(name, true, merged)
	}
	for name, elems := range builtinBackbones {
		s.Define(name, false, elems)
	}
	return s
}

// Define registers (or extends) a type. Element specs use the compact form
// "Type", "Type[]" or "TypeA|TypeB" for choice elements.
func (s *Service) Define(typeName string, resource bool, elements map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.types[typeName]
	if t == nil {
		t = make(map[string]*Element, len(elements))
		s.types[typeName] = t
	}
	for name, spec := range elements {
		t[name] = parseElementSpec(name, spec)
	}
	if resource {
		s.resources[typeName] = true
	}
}

func parseElementSpec(name, spec string) *Element {
	e := &Element{Name: name}
	if strings.HasSuffix(spec, "[]") {
		e.Array = true
		spec = strings.TrimSuffix(spec, "[]")
	}
	e.Types = strings.Split(spec, "|")
	return e
}

// IsResourceType reports whether name is a known resource type.
func (s *Service) IsResourceType(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resources[name]
}

// ResourceTypes returns all known resource types.
func (s *Service) ResourceTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.resources))
	for name := range s.resources {
		out = append(out, name)
	}
	return out
}

// Element returns the element declared on typeName. A choice element is
// found by its bare name ("value" finds "value[x]").
func (s *Service) Element(typeName, name string) (*Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[typeName]
	if !ok {
		return nil, false
	}
	if e, ok := t[name]; ok {
		return e, true
	}
	if e, ok := t[name+"[x]"]; ok {
		return e, true
	}
	return nil, false
}

// ResolveMember maps a JSON key found on a value of typeName to its element
// name and datatype. Choice keys such as "valueQuantity" resolve to
// ("value", "Quantity").
func (s *Service) ResolveMember(typeName, key string) (string, []string, bool) {
	if e, ok := s.Element(typeName, key); ok && !e.IsChoice() {
		return key, e.Types, true
	}
	s.mu.RLock()
	t := s.types[typeName]
	s.mu.RUnlock()
	for name, e := range t {
		if !e.IsChoice() {
			continue
		}
		base := strings.TrimSuffix(name, "[x]")
		if !strings.HasPrefix(key, base) || len(key) == len(base) {
			continue
		}
		suffix := key[len(base):]
		for _, typ := range e.Types {
			if strings.EqualFold(typ, suffix) {
				return base, []string{typ}, true
			}
		}
	}
	return "", nil, false
}

// PropertyTypes walks path from typeName and returns the declared types of
// the final element. An empty path returns typeName itself.
func (s *Service) PropertyTypes(typeName string, path []string) ([]string, error) {
	current := []string{typeName}
	for i, seg := range path {
		var next []string
		for _, t := range current {
			e, ok := s.Element(t, seg)
			if !ok {
				if _, types, ok := s.ResolveMember(t, seg); ok {
					next = appendUnique(next, types...)
				}
				continue
			}
			next = appendUnique(next, e.Types...)
		}
		if len(next) == 0 {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, typeName, strings.Join(path[:i+1], "."))
		}
		current = next
	}
	return current, nil
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

var primitiveTypes = map[string]bool{
	"base64Binary": true,
	"boolean":      true,
	"canonical":    true,
	"code":         true,
	"date":         true,
	"dateTime":     true,
	"decimal":      true,
	"id":           true,
	"instant":      true,
	"integer":      true,
	"integer64":    true,
	"markdown":     true,
	"oid":          true,
	"positiveInt":  true,
	"string":       true,
	"time":         true,
	"unsignedInt":  true,
	"uri":          true,
	"url":          true,
	"uuid":         true,
	"xhtml":        true,
}

// IsPrimitive reports whether t is a FHIR primitive type name. System types
// (System.String) and capitalized spellings are accepted.
func IsPrimitive(t string) bool {
	t = strings.TrimPrefix(t, "System.")
	t = strings.TrimPrefix(t, "FHIR.")
	if primitiveTypes[t] {
		return true
	}
	return primitiveTypes[lowerFirst(t)]
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
