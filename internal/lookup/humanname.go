package lookup

import (
	"strings"

	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

type humanNameRow struct {
	Index   int
	Content string
	Name    string
	Given   string
	Family  string
}

func (r humanNameRow) ordinal() int { return r.Index }

// HumanNameTable stores the names of person-like resources.
type HumanNameTable struct {
	*globalTable[humanNameRow]
}

// NewHumanNameTable creates the "HumanName" table.
func NewHumanNameTable(env *Env) *HumanNameTable {
	t := &HumanNameTable{}
	t.globalTable = newGlobalTable(env, "humanname", "HumanName",
		isOneOf(fhirmodels.PersonLikeResourceTypes...),
		map[string]string{
			"name":     "name",
			"phonetic": "name",
			"given":    "given",
			"family":   "family",
		},
		codec[humanNameRow]{
			columns: []string{"index", "content", "name", "given", "family"},
			values: func(r humanNameRow) []interface{} {
				return []interface{}{r.Index, r.Content, nullable(r.Name), nullable(r.Given), nullable(r.Family)}
			},
			scan: func(scan func(dest ...interface{}) error) (humanNameRow, error) {
				var r humanNameRow
				var name, given, family *string
				err := scan(&r.Index, &r.Content, &name, &given, &family)
				r.Name, r.Given, r.Family = deref(name), deref(given), deref(family)
				return r, err
			},
			compare: byIndex[humanNameRow],
		})
	t.extract = t.extractNames
	return t
}

func (t *HumanNameTable) extractNames(res fhirmodels.Resource) ([]humanNameRow, error) {
	elems, err := elements(t.env, res, "name", fhirpath.KindHumanName)
	if err != nil {
		return nil, err
	}
	rows := make([]humanNameRow, 0, len(elems))
	for _, e := range elems {
		rows = append(rows, humanNameRow{
			Index:   e.index,
			Content: e.content,
			Name:    FormatHumanName(e.obj),
			Given:   strings.Join(stringList(e.obj["given"]), " "),
			Family:  strings.TrimSpace(fhirmodels.StringField(e.obj, "family")),
		})
	}
	return rows, nil
}

// FormatHumanName renders prefix, given, family and suffix separated by
// spaces, falling back to the name's text.
func FormatHumanName(name map[string]interface{}) string {
	var parts []string
	parts = append(parts, stringList(name["prefix"])...)
	parts = append(parts, stringList(name["given"])...)
	if family := strings.TrimSpace(fhirmodels.StringField(name, "family")); family != "" {
		parts = append(parts, family)
	}
	parts = append(parts, stringList(name["suffix"])...)
	if len(parts) == 0 {
		return strings.TrimSpace(fhirmodels.StringField(name, "text"))
	}
	return strings.Join(parts, " ")
}

// stringList returns the non-blank strings of a JSON array.
func stringList(v interface{}) []string {
	var out []string
	for _, item := range fhirmodels.AsArray(v) {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
