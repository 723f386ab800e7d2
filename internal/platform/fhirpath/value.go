package fhirpath

import (
	"fmt"
	"strings"

	"github.com/ehr/fhirindex/internal/platform/schema"
)

// TypedValue is one item of an evaluation result.
type TypedValue struct {
	Type  string
	Value interface{}
}

// Kind is the closed set of value shapes the indexer extracts from.
type Kind int

const (
	KindOther Kind = iota
	KindPrimitive
	KindIdentifier
	KindCodeableConcept
	KindCoding
	KindContactPoint
	KindReference
	KindHumanName
	KindAddress
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindIdentifier:
		return "Identifier"
	case KindCodeableConcept:
		return "CodeableConcept"
	case KindCoding:
		return "Coding"
	case KindContactPoint:
		return "ContactPoint"
	case KindReference:
		return "Reference"
	case KindHumanName:
		return "HumanName"
	case KindAddress:
		return "Address"
	default:
		return "other"
	}
}

// KindOf classifies a datatype name.
func KindOf(typeName string) Kind {
	switch strings.TrimPrefix(typeName, "FHIR.") {
	case "Identifier":
		return KindIdentifier
	case "CodeableConcept":
		return KindCodeableConcept
	case "Coding":
		return KindCoding
	case "ContactPoint":
		return KindContactPoint
	case "Reference":
		return KindReference
	case "HumanName":
		return KindHumanName
	case "Address":
		return KindAddress
	}
	if schema.IsPrimitive(typeName) {
		return KindPrimitive
	}
	return KindOther
}

// Kind classifies the value by its type.
func (v TypedValue) Kind() Kind {
	return KindOf(v.Type)
}

// Object returns the value as a JSON object, or nil for primitives.
func (v TypedValue) Object() map[string]interface{} {
	m, _ := v.Value.(map[string]interface{})
	return m
}

// PrimitiveString renders a primitive value as text. Booleans become
// "true"/"false"; whole numbers are printed without a fraction.
func (v TypedValue) PrimitiveString() string {
	switch t := v.Value.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func inferType(v interface{}) string {
	switch t := v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "decimal"
	case map[string]interface{}:
		if rt, ok := t["resourceType"].(string); ok && rt != "" {
			return rt
		}
		return "Element"
	default:
		return "Element"
	}
}

func typedValue(v interface{}, declared []string) TypedValue {
	if len(declared) == 1 && declared[0] != "Resource" {
		return TypedValue{Type: declared[0], Value: v}
	}
	return TypedValue{Type: inferType(v), Value: v}
}

func matchesType(v TypedValue, typeName string) bool {
	typeName = strings.TrimPrefix(strings.TrimPrefix(typeName, "FHIR."), "System.")
	if strings.EqualFold(v.Type, typeName) {
		return v.Type == typeName || schema.IsPrimitive(typeName)
	}
	if typeName == "Resource" || typeName == "DomainResource" {
		obj, ok := v.Value.(map[string]interface{})
		if !ok {
			return false
		}
		_, isResource := obj["resourceType"].(string)
		return isResource
	}
	return false
}
