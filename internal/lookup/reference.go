package lookup

import (
	"cmp"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

type referenceRow struct {
	Code     string
	TargetID string
}

// literalReference matches "Type/id", optionally absolute and optionally
// versioned with "/_history/n".
var literalReference = regexp.MustCompile(`^(?:.*/)?([A-Z][A-Za-z]+)/([A-Za-z0-9\-.]{1,64})(?:/_history/[^/]+)?$`)

// ReferenceTable stores one row per distinct (code, target id) of the
// reference parameters of a resource, in "<ResourceType>_References". It is
// a join target for graph traversal and never serves a filter directly.
type ReferenceTable struct {
	*rowTable[referenceRow]
}

// NewReferenceTable creates the reference table.
func NewReferenceTable(env *Env) *ReferenceTable {
	t := &ReferenceTable{}
	t.rowTable = &rowTable[referenceRow]{
		env:       env,
		name:      "reference",
		tableName: func(rt string) string { return rt + "_References" },
		applies:   func(string) bool { return true },
		extract:   t.extract,
		codec: codec[referenceRow]{
			columns: []string{"code", "targetId"},
			values: func(r referenceRow) []interface{} {
				return []interface{}{r.Code, r.TargetID}
			},
			scan: func(scan func(dest ...interface{}) error) (referenceRow, error) {
				var r referenceRow
				err := scan(&r.Code, &r.TargetID)
				return r, err
			},
			compare: func(a, b referenceRow) int {
				if c := cmp.Compare(a.Code, b.Code); c != 0 {
					return c
				}
				return cmp.Compare(a.TargetID, b.TargetID)
			},
		},
	}
	return t
}

// ColumnName returns the target id column.
func (t *ReferenceTable) ColumnName(string) string { return "targetId" }

// IsIndexed is always false.
func (t *ReferenceTable) IsIndexed(*searchparam.Definition, string) (bool, error) {
	return false, nil
}

func (t *ReferenceTable) extract(res fhirmodels.Resource) ([]referenceRow, error) {
	seen := make(map[referenceRow]bool)
	var rows []referenceRow
	for _, def := range t.env.Params.ForResource(res.ResourceType()) {
		if def.Type != searchparam.TypeReference || def.IsDerivedIdentifier() {
			continue
		}
		values, err := t.env.evaluate(res, def)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			_, id, ok := ParseReference(fhirmodels.StringField(v.Object(), "reference"))
			if !ok {
				continue
			}
			row := referenceRow{Code: def.Code, TargetID: id}
			if !seen[row] {
				seen[row] = true
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

// ParseReference splits a literal reference into type and id. Local
// anchors ("#x"), URNs and references without a "Type/id" tail are rejected.
func ParseReference(ref string) (string, string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "urn:") {
		return "", "", false
	}
	m := literalReference.FindStringSubmatch(ref)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// BuildWhere is not supported: reference parameters are column filters.
func (t *ReferenceTable) BuildWhere(_ *search.Query, def *searchparam.Definition, _ search.Filter) (sq.Sqlizer, error) {
	return nil, fmt.Errorf("reference table does not filter %s", def.Code)
}

// AddOrderBy is not supported.
func (t *ReferenceTable) AddOrderBy(_ *search.Query, def *searchparam.Definition, _ search.SortRule) error {
	return fmt.Errorf("reference table does not sort %s", def.Code)
}

// References selects resources of the query's type that reference targetID
// through code.
func (t *ReferenceTable) References(q *search.Query, code, targetID string) (sq.Sqlizer, error) {
	table := t.TableName(q.ResourceType())
	sub := sq.Select("1").
		From(search.Ident(table)).
		Where(search.Qualified(table, "resourceId") + " = " + q.Column("id")).
		Where(sq.Eq{search.Qualified(table, "code"): code, search.Qualified(table, "targetId"): targetID})
	return exists(sub)
}

// ReferencedBy selects resources of the query's type referenced through
// code by resources of sourceType, optionally restricted to sourceIDs.
func (t *ReferenceTable) ReferencedBy(q *search.Query, sourceType, code string, sourceIDs ...string) (sq.Sqlizer, error) {
	table := t.TableName(sourceType)
	sub := sq.Select("1").
		From(search.Ident(table)).
		Where(search.Qualified(table, "targetId") + " = " + q.Column("id") + "::TEXT").
		Where(sq.Eq{search.Qualified(table, "code"): code})
	if len(sourceIDs) > 0 {
		sub = sub.Where(sq.Eq{search.Qualified(table, "resourceId"): sourceIDs})
	}
	return exists(sub)
}

func exists(sub sq.SelectBuilder) (sq.Sqlizer, error) {
	sql, args, err := sub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build exists subquery: %w", err)
	}
	return sq.Expr("EXISTS ("+sql+")", args...), nil
}
