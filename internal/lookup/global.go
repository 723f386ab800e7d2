package lookup

import (
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// globalTable is a lookup table shared by all resource types, holding one
// row per element of an array (names, addresses, ...) with a JSON snapshot
// of the element.
type globalTable[T comparable] struct {
	*rowTable[T]
	// columns maps the search codes served by the table to columns.
	columns map[string]string
	// scopes restricts the rows a code reads, e.g. email to system=email.
	scopes map[string]sq.Sqlizer
}

func newGlobalTable[T comparable](env *Env, name, table string, applies func(string) bool, columns map[string]string, c codec[T]) *globalTable[T] {
	return &globalTable[T]{
		rowTable: &rowTable[T]{
			env:       env,
			name:      name,
			tableName: func(string) string { return table },
			applies:   applies,
			codec:     c,
		},
		columns: columns,
	}
}

// ColumnName maps a search code to its column.
func (t *globalTable[T]) ColumnName(code string) string {
	return t.columns[code]
}

// IsIndexed reports whether the table holds code for resourceType.
func (t *globalTable[T]) IsIndexed(def *searchparam.Definition, resourceType string) (bool, error) {
	_, ok := t.columns[def.Code]
	return ok && t.applies(resourceType), nil
}

// BuildWhere returns a correlated EXISTS over the table.
func (t *globalTable[T]) BuildWhere(q *search.Query, def *searchparam.Definition, f search.Filter) (sq.Sqlizer, error) {
	column, ok := t.columns[def.Code]
	if !ok {
		return nil, fmt.Errorf("%s table does not serve %s", t.name, def.Code)
	}
	return existsPredicate(q, t.TableName(q.ResourceType()), column, t.scopes[def.Code], f)
}

// AddOrderBy orders by the column of the first element.
func (t *globalTable[T]) AddOrderBy(q *search.Query, def *searchparam.Definition, rule search.SortRule) error {
	column, ok := t.columns[def.Code]
	if !ok {
		return fmt.Errorf("%s table does not sort %s", t.name, def.Code)
	}
	table := t.TableName(q.ResourceType())
	return orderByJoin(q, "sort:"+table+":"+column, table, column, t.scopes[def.Code], rule)
}

// element is one array element with its ordinal and JSON snapshot.
type element struct {
	index   int
	content string
	obj     map[string]interface{}
}

// elements evaluates the search parameter code of res and returns the
// values of the given kind.
func elements(env *Env, res fhirmodels.Resource, code string, kind fhirpath.Kind) ([]element, error) {
	def, ok := env.Params.Get(res.ResourceType(), code)
	if !ok {
		return nil, nil
	}
	values, err := env.evaluate(res, def)
	if err != nil {
		return nil, err
	}
	var out []element
	for _, v := range values {
		obj := v.Object()
		if v.Kind() != kind || obj == nil {
			continue
		}
		content, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		out = append(out, element{index: len(out), content: string(content), obj: obj})
	}
	return out, nil
}

func byIndex[T interface{ ordinal() int }](a, b T) int {
	return a.ordinal() - b.ordinal()
}

func isOneOf(types ...string) func(string) bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(rt string) bool { return set[rt] }
}
