package lookup

import (
	"cmp"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// ValueSetElement is one (system, code, display) entry of an expansion.
type ValueSetElement struct {
	System  string
	Code    string
	Display string
}

// ValueSetElementTable caches flat expansions of ValueSets and CodeSystems
// in the "ValueSetElement" table. It never serves filters or sorts.
type ValueSetElementTable struct {
	*rowTable[ValueSetElement]
}

// NewValueSetElementTable creates the value set element table.
func NewValueSetElementTable(env *Env) *ValueSetElementTable {
	t := &ValueSetElementTable{}
	t.rowTable = &rowTable[ValueSetElement]{
		env:       env,
		name:      "valuesetelement",
		tableName: func(string) string { return "ValueSetElement" },
		applies:   isOneOf("CodeSystem", "ValueSet"),
		extract:   ExpandElements,
		codec: codec[ValueSetElement]{
			columns: []string{"system", "code", "display"},
			values: func(r ValueSetElement) []interface{} {
				return []interface{}{nullable(r.System), nullable(r.Code), nullable(r.Display)}
			},
			scan: func(scan func(dest ...interface{}) error) (ValueSetElement, error) {
				var system, code, display *string
				err := scan(&system, &code, &display)
				return ValueSetElement{System: deref(system), Code: deref(code), Display: deref(display)}, err
			},
			compare: compareElements,
		},
	}
	return t
}

func compareElements(a, b ValueSetElement) int {
	if c := cmp.Compare(a.System, b.System); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Code, b.Code); c != 0 {
		return c
	}
	return cmp.Compare(a.Display, b.Display)
}

// ColumnName returns the display column.
func (t *ValueSetElementTable) ColumnName(string) string { return "display" }

// IsIndexed is always false.
func (t *ValueSetElementTable) IsIndexed(*searchparam.Definition, string) (bool, error) {
	return false, nil
}

// BuildWhere is not supported.
func (t *ValueSetElementTable) BuildWhere(_ *search.Query, def *searchparam.Definition, _ search.Filter) (sq.Sqlizer, error) {
	return nil, fmt.Errorf("value set element table does not filter %s", def.Code)
}

// AddOrderBy is not supported.
func (t *ValueSetElementTable) AddOrderBy(_ *search.Query, def *searchparam.Definition, _ search.SortRule) error {
	return fmt.Errorf("value set element table does not sort %s", def.Code)
}

// ExpandElements returns the literal expansion of a resource: the
// compose.include concepts of a ValueSet, or the displayed concepts of a
// CodeSystem's concept tree.
func ExpandElements(res fhirmodels.Resource) ([]ValueSetElement, error) {
	seen := make(map[ValueSetElement]bool)
	var out []ValueSetElement
	add := func(e ValueSetElement) {
		if e.Code == "" || seen[e] {
			return
		}
		seen[e] = true
		out = append(out, e)
	}

	switch res.ResourceType() {
	case "ValueSet":
		compose := fhirmodels.AsObject(res["compose"])
		for _, inc := range fhirmodels.AsArray(compose["include"]) {
			include := fhirmodels.AsObject(inc)
			system := fhirmodels.StringField(include, "system")
			for _, c := range fhirmodels.AsArray(include["concept"]) {
				concept := fhirmodels.AsObject(c)
				add(ValueSetElement{
					System:  system,
					Code:    fhirmodels.StringField(concept, "code"),
					Display: fhirmodels.StringField(concept, "display"),
				})
			}
		}
	case "CodeSystem":
		system := res.String("url")
		walkConcepts(res.Array("concept"), func(concept map[string]interface{}, _ string, seenCode bool) {
			display := fhirmodels.StringField(concept, "display")
			if seenCode || display == "" {
				return
			}
			add(ValueSetElement{System: system, Code: fhirmodels.StringField(concept, "code"), Display: display})
		})
	}
	return out, nil
}
