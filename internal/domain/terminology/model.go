// Package terminology stores flattened CodeSystems in the Coding tables and
// answers $expand and $lookup from them and from the ValueSetElement cache.
package terminology

import (
	"errors"

	"github.com/ehr/fhirindex/internal/lookup"
)

// ErrNotFound is returned when a code or value set is not indexed.
var ErrNotFound = errors.New("not found")

// Expansion limits.
const (
	DefaultExpandCount = 100
	MaxExpandCount     = 1000
)

// ExpandRequest selects elements of an indexed ValueSet or CodeSystem.
type ExpandRequest struct {
	URL    string `json:"url" query:"url"`
	Filter string `json:"filter,omitempty" query:"filter"`
	Count  int    `json:"count,omitempty" query:"count"`
	Offset int    `json:"offset,omitempty" query:"offset"`
}

// Expansion is a page of ValueSetElement rows.
type Expansion struct {
	URL      string                   `json:"url"`
	Offset   int                      `json:"offset"`
	Contains []lookup.ValueSetElement `json:"contains"`
}

// LookupResult describes one coding and its property values.
type LookupResult struct {
	System     string               `json:"system"`
	Code       string               `json:"code"`
	Display    string               `json:"display,omitempty"`
	Properties []LookupPropertyItem `json:"property,omitempty"`
}

// LookupPropertyItem is one property value of a coding. Target is the code
// the value points to when it resolves within the same system.
type LookupPropertyItem struct {
	Code   string `json:"code"`
	Value  string `json:"value,omitempty"`
	Target string `json:"target,omitempty"`
}

// Parameters renders the result as a FHIR Parameters resource.
func (r *LookupResult) Parameters() map[string]interface{} {
	params := []map[string]interface{}{
		{"name": "system", "valueUri": r.System},
		{"name": "code", "valueCode": r.Code},
	}
	if r.Display != "" {
		params = append(params, map[string]interface{}{"name": "display", "valueString": r.Display})
	}
	for _, p := range r.Properties {
		part := []map[string]interface{}{{"name": "code", "valueCode": p.Code}}
		switch {
		case p.Target != "":
			part = append(part, map[string]interface{}{"name": "value", "valueCode": p.Target})
		case p.Value != "":
			part = append(part, map[string]interface{}{"name": "value", "valueString": p.Value})
		}
		params = append(params, map[string]interface{}{"name": "property", "part": part})
	}
	return map[string]interface{}{"resourceType": "Parameters", "parameter": params}
}
