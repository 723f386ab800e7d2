package fhirpath

import "unicode"

// Path is one navigable branch of an expression, used to look up declared
// element types without evaluating against data.
type Path struct {
	// Root is the leading type name ("Observation", "Resource"), or "" when
	// the branch starts with a member.
	Root string
	// Segments are the member names walked from Root.
	Segments []string
	// Cast is set when the branch is narrowed with as/ofType.
	Cast string
	// Opaque marks branches that continue past resolve() and cannot be typed
	// statically.
	Opaque bool
}

// Paths returns the branches of the expression. Union operands each produce
// a branch; where() keeps the path of its focus; boolean operators report the
// path of their left operand.
func (x *Expression) Paths() []Path {
	return collectPaths(x.ast)
}

func collectPaths(node *astNode) []Path {
	if node == nil {
		return []Path{{}}
	}
	switch node.kind {
	case nodeIdent:
		if r := []rune(node.name); len(r) > 0 && unicode.IsUpper(r[0]) {
			return []Path{{Root: node.name}}
		}
		return []Path{{Segments: []string{node.name}}}
	case nodeMember:
		parents := collectPaths(node.target)
		out := make([]Path, 0, len(parents))
		for _, p := range parents {
			if p.Cast != "" {
				// TODO: walk members of a narrowed value from the cast type instead of giving up
				p.Opaque = true
			}
			p.Segments = append(append([]string{}, p.Segments...), node.name)
			out = append(out, p)
		}
		return out
	case nodeFunc:
		parents := collectPaths(node.target)
		switch node.name {
		case "ofType", "as":
			if name, err := typeArg(node); err == nil {
				for i := range parents {
					parents[i].Cast = name
				}
			}
		case "resolve":
			for i := range parents {
				parents[i].Opaque = true
			}
		}
		return parents
	case nodeUnion:
		return append(collectPaths(node.children[0]), collectPaths(node.children[1])...)
	case nodeBinary, nodeIs:
		return collectPaths(node.children[0])
	case nodeAs:
		parents := collectPaths(node.children[0])
		for i := range parents {
			parents[i].Cast = node.name
		}
		return parents
	}
	return nil
}
