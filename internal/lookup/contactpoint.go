package lookup

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// systemValueRow is the row shape of the ContactPoint and Identifier tables.
type systemValueRow struct {
	Index   int
	Content string
	System  string
	Value   string
}

func (r systemValueRow) ordinal() int { return r.Index }

var systemValueCodec = codec[systemValueRow]{
	columns: []string{"index", "content", "system", "value"},
	values: func(r systemValueRow) []interface{} {
		return []interface{}{r.Index, r.Content, nullable(r.System), nullable(r.Value)}
	},
	scan: func(scan func(dest ...interface{}) error) (systemValueRow, error) {
		var r systemValueRow
		var system, value *string
		err := scan(&r.Index, &r.Content, &system, &value)
		r.System, r.Value = deref(system), deref(value)
		return r, err
	},
	compare: byIndex[systemValueRow],
}

// systemValueRows extracts elements of kind reached by code.
func systemValueRows(env *Env, res fhirmodels.Resource, code string, kind fhirpath.Kind) ([]systemValueRow, error) {
	elems, err := elements(env, res, code, kind)
	if err != nil {
		return nil, err
	}
	rows := make([]systemValueRow, 0, len(elems))
	for _, e := range elems {
		rows = append(rows, systemValueRow{
			Index:   e.index,
			Content: e.content,
			System:  strings.TrimSpace(fhirmodels.StringField(e.obj, "system")),
			Value:   strings.TrimSpace(fhirmodels.StringField(e.obj, "value")),
		})
	}
	return rows, nil
}

// ContactPointTable stores the telecom entries of person-like resources.
type ContactPointTable struct {
	*globalTable[systemValueRow]
}

// NewContactPointTable creates the "ContactPoint" table.
func NewContactPointTable(env *Env) *ContactPointTable {
	t := &ContactPointTable{}
	t.globalTable = newGlobalTable(env, "contactpoint", "ContactPoint",
		isOneOf(fhirmodels.PersonLikeResourceTypes...),
		map[string]string{
			"email":   "value",
			"phone":   "value",
			"telecom": "value",
		},
		systemValueCodec)
	t.scopes = map[string]sq.Sqlizer{
		"email": sq.Eq{search.Qualified("ContactPoint", "system"): "email"},
		"phone": sq.Eq{search.Qualified("ContactPoint", "system"): "phone"},
	}
	t.extract = func(res fhirmodels.Resource) ([]systemValueRow, error) {
		return systemValueRows(env, res, "telecom", fhirpath.KindContactPoint)
	}
	return t
}
