package fhirmodels

import (
	"encoding/json"
	"fmt"
	"time"
)

// Resource is a FHIR resource decoded from JSON. Nested elements are
// map[string]interface{} and arrays are []interface{}, as produced by
// encoding/json.
type Resource map[string]interface{}

// ParseResource decodes a JSON document into a Resource. The document must
// carry a resourceType.
func ParseResource(data []byte) (Resource, error) {
	var r Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode resource: %w", err)
	}
	if r.ResourceType() == "" {
		return nil, fmt.Errorf("decode resource: missing resourceType")
	}
	return r, nil
}

// ResourceType returns the resourceType discriminator, or "".
func (r Resource) ResourceType() string {
	s, _ := r["resourceType"].(string)
	return s
}

// ID returns the logical id, or "".
func (r Resource) ID() string {
	s, _ := r["id"].(string)
	return s
}

// LastUpdated returns meta.lastUpdated, or the zero time when absent or invalid.
func (r Resource) LastUpdated() time.Time {
	meta, _ := r["meta"].(map[string]interface{})
	s, _ := meta["lastUpdated"].(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// String returns the string field with the given name, or "".
func (r Resource) String(name string) string {
	s, _ := r[name].(string)
	return s
}

// Array returns the array field with the given name. A single object is
// returned as a one-element slice.
func (r Resource) Array(name string) []interface{} {
	return AsArray(r[name])
}

// AsArray normalizes a JSON value into a slice.
func AsArray(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	default:
		return []interface{}{t}
	}
}

// AsObject returns v as a JSON object, or nil.
func AsObject(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// StringField returns obj[name] when it is a string, or "".
func StringField(obj map[string]interface{}, name string) string {
	s, _ := obj[name].(string)
	return s
}

// CodeSystem.content values.
const (
	CodeSystemContentNotPresent = "not-present"
	CodeSystemContentExample    = "example"
	CodeSystemContentFragment   = "fragment"
	CodeSystemContentComplete   = "complete"
	CodeSystemContentSupplement = "supplement"
)

// ConceptPropertyParent is the well-known URI of the CodeSystem hierarchy
// parent property.
const ConceptPropertyParent = "http://hl7.org/fhir/concept-properties#parent"

// TokenSystemText is the pseudo-system used for display/text tokens.
const TokenSystemText = "text"

// Resource types that carry HumanName and ContactPoint arrays.
var PersonLikeResourceTypes = []string{
	"Patient",
	"Person",
	"Practitioner",
	"RelatedPerson",
}

// Resource types that carry Address arrays.
var AddressResourceTypes = []string{
	"InsurancePlan",
	"Location",
	"Organization",
	"Patient",
	"Person",
	"Practitioner",
	"RelatedPerson",
}
