package searchindex

import (
	"fmt"
	"sort"
	"time"

	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// resourceColumn is a search parameter stored on the resource table.
type resourceColumn struct {
	def *searchparam.Definition
	col search.Column
}

// columnsOf returns the column-strategy parameters of resourceType ordered
// by column name. id and lastUpdated are the table's own columns and are
// not listed.
func (s *Service) columnsOf(resourceType string) ([]resourceColumn, error) {
	seen := make(map[string]bool)
	var out []resourceColumn
	for _, def := range s.env.Params.ForResource(resourceType) {
		impl, err := s.registry.Classify(def, resourceType)
		if err != nil {
			return nil, err
		}
		if impl.Strategy != lookup.StrategyColumn {
			continue
		}
		name := impl.ColumnName
		if name == "id" || name == "lastUpdated" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, resourceColumn{def: def, col: search.ColumnFor(def, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].col.Name < out[j].col.Name })
	return out, nil
}

// columnValue evaluates one column parameter against res. Array columns
// yield []string (nil when empty); date columns a time.Time; numeric
// columns a float64. Absent values are nil.
func (s *Service) columnValue(res fhirmodels.Resource, rc resourceColumn) (interface{}, error) {
	values, err := s.env.Paths.Evaluate(res, rc.def.Expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s.%s: %w", res.ResourceType(), rc.def.Code, err)
	}

	switch {
	case rc.col.Array:
		var out []string
		for _, v := range values {
			out = append(out, textValues(v)...)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	case rc.col.Type == searchparam.TypeDate:
		for _, v := range values {
			if t, ok := dateValue(v); ok {
				return t, nil
			}
		}
	default:
		for _, v := range values {
			if n, ok := numberValue(v); ok {
				return n, nil
			}
		}
	}
	return nil, nil
}

func textValues(v fhirpath.TypedValue) []string {
	obj := v.Object()
	var out []string
	add := func(s string) {
		if s != "" {
			out = append(out, s)
		}
	}
	switch v.Kind() {
	case fhirpath.KindPrimitive:
		add(v.PrimitiveString())
	case fhirpath.KindReference:
		add(fhirmodels.StringField(obj, "reference"))
	case fhirpath.KindCoding:
		add(fhirmodels.StringField(obj, "code"))
	case fhirpath.KindCodeableConcept:
		for _, c := range fhirmodels.AsArray(obj["coding"]) {
			add(fhirmodels.StringField(fhirmodels.AsObject(c), "code"))
		}
	case fhirpath.KindIdentifier, fhirpath.KindContactPoint:
		add(fhirmodels.StringField(obj, "value"))
	default:
		if obj == nil {
			add(v.PrimitiveString())
		}
	}
	return out
}

func dateValue(v fhirpath.TypedValue) (time.Time, bool) {
	raw := v.PrimitiveString()
	if obj := v.Object(); obj != nil {
		// Period
		raw = fhirmodels.StringField(obj, "start")
		if raw == "" {
			raw = fhirmodels.StringField(obj, "end")
		}
	}
	if raw == "" {
		return time.Time{}, false
	}
	t, err := search.ParseFlexDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func numberValue(v fhirpath.TypedValue) (float64, bool) {
	if obj := v.Object(); obj != nil {
		n, ok := obj["value"].(float64)
		return n, ok
	}
	n, ok := v.Value.(float64)
	return n, ok
}
