package fhirpath

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/ehr/fhirindex/internal/platform/schema"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

type evalContext struct {
	types TypeResolver
}

func (ctx *evalContext) eval(node *astNode, input []TypedValue) ([]TypedValue, error) {
	switch node.kind {
	case nodeIdent:
		return ctx.evalIdent(node.name, input), nil
	case nodeMember:
		coll, err := ctx.eval(node.target, input)
		if err != nil {
			return nil, err
		}
		var out []TypedValue
		for _, item := range coll {
			out = append(out, ctx.navigate(item, node.name)...)
		}
		return out, nil
	case nodeFunc:
		coll := input
		if node.target != nil {
			var err error
			coll, err = ctx.eval(node.target, input)
			if err != nil {
				return nil, err
			}
		}
		return ctx.evalFunction(node, coll)
	case nodeUnion:
		left, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		right, err := ctx.eval(node.children[1], input)
		if err != nil {
			return nil, err
		}
		return union(left, right), nil
	case nodeBinary:
		return ctx.evalBinary(node, input)
	case nodeIs:
		coll, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		if len(coll) != 1 {
			return nil, nil
		}
		return boolResult(matchesType(coll[0], node.name)), nil
	case nodeAs:
		coll, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		return ofType(coll, node.name), nil
	case nodeLiteral:
		return []TypedValue{node.literal}, nil
	case nodeThis:
		return input, nil
	}
	return nil, fmt.Errorf("unsupported node kind %d", node.kind)
}

// evalIdent treats a capitalized identifier as a type filter on the focus
// (e.g. the leading "Patient" in "Patient.name") and anything else as a
// member access.
func (ctx *evalContext) evalIdent(name string, input []TypedValue) []TypedValue {
	if r := []rune(name); len(r) > 0 && unicode.IsUpper(r[0]) {
		return ofType(input, name)
	}
	var out []TypedValue
	for _, item := range input {
		out = append(out, ctx.navigate(item, name)...)
	}
	return out
}

func (ctx *evalContext) navigate(item TypedValue, name string) []TypedValue {
	obj, ok := item.Value.(map[string]interface{})
	if !ok {
		return nil
	}
	if raw, ok := obj[name]; ok {
		var declared []string
		if ctx.types != nil {
			if _, types, ok := ctx.types.ResolveMember(item.Type, name); ok {
				declared = types
			}
		}
		return typedValues(raw, declared)
	}

	// choice element: value -> valueQuantity, valueString, ...
	keys := make([]string, 0, len(obj))
	for key := range obj {
		if len(key) > len(name) && strings.HasPrefix(key, name) && unicode.IsUpper(rune(key[len(name)])) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	var out []TypedValue
	for _, key := range keys {
		suffix := key[len(name):]
		declared := []string{suffix}
		if schema.IsPrimitive(suffix) {
			declared = []string{lowerFirst(suffix)}
		}
		if ctx.types != nil {
			if elemName, types, ok := ctx.types.ResolveMember(item.Type, key); ok {
				if elemName != name {
					continue
				}
				declared = types
			}
		}
		out = append(out, typedValues(obj[key], declared)...)
	}
	return out
}

func typedValues(raw interface{}, declared []string) []TypedValue {
	var out []TypedValue
	for _, v := range fhirmodels.AsArray(raw) {
		if v == nil {
			continue
		}
		out = append(out, typedValue(v, declared))
	}
	return out
}

func (ctx *evalContext) evalFunction(node *astNode, coll []TypedValue) ([]TypedValue, error) {
	switch node.name {
	case "where":
		if len(node.args) != 1 {
			return nil, fmt.Errorf("where() expects 1 argument")
		}
		var out []TypedValue
		for _, item := range coll {
			res, err := ctx.eval(node.args[0], []TypedValue{item})
			if err != nil {
				return nil, err
			}
			if toBool(res) {
				out = append(out, item)
			}
		}
		return out, nil
	case "exists":
		if len(node.args) == 1 {
			filtered, err := ctx.evalFunction(&astNode{kind: nodeFunc, name: "where", args: node.args}, coll)
			if err != nil {
				return nil, err
			}
			coll = filtered
		}
		return boolResult(len(coll) > 0), nil
	case "empty":
		return boolResult(len(coll) == 0), nil
	case "not":
		if len(coll) == 0 {
			return nil, nil
		}
		return boolResult(!toBool(coll)), nil
	case "first":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[:1], nil
	case "ofType", "as":
		name, err := typeArg(node)
		if err != nil {
			return nil, err
		}
		return ofType(coll, name), nil
	case "is":
		name, err := typeArg(node)
		if err != nil {
			return nil, err
		}
		if len(coll) != 1 {
			return nil, nil
		}
		return boolResult(matchesType(coll[0], name)), nil
	case "resolve":
		var out []TypedValue
		for _, item := range coll {
			if v, ok := resolveReference(item); ok {
				out = append(out, v)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported function %s()", node.name)
}

func typeArg(node *astNode) (string, error) {
	if len(node.args) != 1 || node.args[0].kind != nodeIdent {
		return "", fmt.Errorf("%s() expects a type name", node.name)
	}
	return node.args[0].name, nil
}

// resolveReference produces a stub resource for a literal reference so that
// "resolve() is Patient" can test the target type without loading it.
func resolveReference(item TypedValue) (TypedValue, bool) {
	var ref string
	switch v := item.Value.(type) {
	case string:
		ref = v
	case map[string]interface{}:
		ref, _ = v["reference"].(string)
	}
	if ref == "" || strings.HasPrefix(ref, "#") {
		return TypedValue{}, false
	}
	parts := strings.Split(ref, "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "_history" {
			continue
		}
		if r := []rune(parts[i]); len(r) > 0 && unicode.IsUpper(r[0]) && i+1 < len(parts) && parts[i+1] != "_history" {
			stub := map[string]interface{}{"resourceType": parts[i], "id": parts[i+1]}
			return TypedValue{Type: parts[i], Value: stub}, true
		}
	}
	return TypedValue{}, false
}

func (ctx *evalContext) evalBinary(node *astNode, input []TypedValue) ([]TypedValue, error) {
	left, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, err
	}
	right, err := ctx.eval(node.children[1], input)
	if err != nil {
		return nil, err
	}
	switch node.op {
	case "=", "!=":
		if len(left) == 0 || len(right) == 0 {
			return nil, nil
		}
		eq := len(left) == len(right)
		for i := 0; eq && i < len(left); i++ {
			eq = valuesEqual(left[i], right[i])
		}
		if node.op == "!=" {
			eq = !eq
		}
		return boolResult(eq), nil
	case "and":
		if isFalse(left) || isFalse(right) {
			return boolResult(false), nil
		}
		if len(left) == 0 || len(right) == 0 {
			return nil, nil
		}
		return boolResult(true), nil
	case "or":
		if (len(left) > 0 && toBool(left)) || (len(right) > 0 && toBool(right)) {
			return boolResult(true), nil
		}
		if len(left) == 0 || len(right) == 0 {
			return nil, nil
		}
		return boolResult(false), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", node.op)
}

func valuesEqual(a, b TypedValue) bool {
	_, aObj := a.Value.(map[string]interface{})
	_, bObj := b.Value.(map[string]interface{})
	if aObj || bObj {
		return reflect.DeepEqual(a.Value, b.Value)
	}
	return a.PrimitiveString() == b.PrimitiveString()
}

func ofType(coll []TypedValue, typeName string) []TypedValue {
	var out []TypedValue
	for _, item := range coll {
		if matchesType(item, typeName) {
			out = append(out, item)
		}
	}
	return out
}

func union(left, right []TypedValue) []TypedValue {
	out := make([]TypedValue, 0, len(left)+len(right))
	add := func(v TypedValue) {
		for _, seen := range out {
			if seen.Type == v.Type && reflect.DeepEqual(seen.Value, v.Value) {
				return
			}
		}
		out = append(out, v)
	}
	for _, v := range left {
		add(v)
	}
	for _, v := range right {
		add(v)
	}
	return out
}

func boolResult(b bool) []TypedValue {
	return []TypedValue{{Type: "boolean", Value: b}}
}

// toBool applies singleton evaluation: a single boolean is its value, any
// other non-empty collection is true.
func toBool(coll []TypedValue) bool {
	if len(coll) == 0 {
		return false
	}
	if len(coll) == 1 {
		if b, ok := coll[0].Value.(bool); ok {
			return b
		}
	}
	return true
}

func isFalse(coll []TypedValue) bool {
	if len(coll) != 1 {
		return false
	}
	b, ok := coll[0].Value.(bool)
	return ok && !b
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
