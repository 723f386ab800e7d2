package lookup

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

type tokenRow struct {
	Code   string
	System string
	Value  string
	Index  int
}

// TokenTable indexes token parameters whose values are Identifier,
// CodeableConcept, Coding or ContactPoint, plus the derived
// "<code>:identifier" parameters of references. One table per resource
// type: "<ResourceType>_Token".
type TokenTable struct {
	*rowTable[tokenRow]
}

// NewTokenTable creates the token table.
func NewTokenTable(env *Env) *TokenTable {
	t := &TokenTable{}
	t.rowTable = &rowTable[tokenRow]{
		env:       env,
		name:      "token",
		tableName: func(rt string) string { return rt + "_Token" },
		applies:   func(string) bool { return true },
		extract:   t.extract,
		codec: codec[tokenRow]{
			columns: []string{"code", "system", "value", "index"},
			values: func(r tokenRow) []interface{} {
				return []interface{}{r.Code, nullable(r.System), nullable(r.Value), r.Index}
			},
			scan: func(scan func(dest ...interface{}) error) (tokenRow, error) {
				var r tokenRow
				var system, value *string
				err := scan(&r.Code, &system, &value, &r.Index)
				r.System, r.Value = deref(system), deref(value)
				return r, err
			},
			compare: func(a, b tokenRow) int { return a.Index - b.Index },
		},
	}
	return t
}

// ColumnName returns the column filters compare with.
func (t *TokenTable) ColumnName(string) string { return "value" }

// IsIndexed reports whether def is a token parameter over a coded or
// identifier datatype, or a derived ":identifier" parameter.
func (t *TokenTable) IsIndexed(def *searchparam.Definition, resourceType string) (bool, error) {
	if def.Type != searchparam.TypeToken {
		return false, nil
	}
	if def.IsDerivedIdentifier() {
		return true, nil
	}
	types, err := t.env.ElementTypes(def, resourceType)
	if err != nil {
		return false, err
	}
	for _, typ := range types {
		switch fhirpath.KindOf(typ) {
		case fhirpath.KindIdentifier, fhirpath.KindCodeableConcept, fhirpath.KindCoding, fhirpath.KindContactPoint:
			return true, nil
		}
	}
	return false, nil
}

// extract returns the tokens of every token-table parameter of res, with
// duplicate (code, system, value) triples dropped.
func (t *TokenTable) extract(res fhirmodels.Resource) ([]tokenRow, error) {
	rt := res.ResourceType()
	type key struct{ code, system, value string }
	seen := make(map[key]bool)
	var rows []tokenRow

	add := func(code, system, value string) {
		system, value = strings.TrimSpace(system), strings.TrimSpace(value)
		if system == "" && value == "" {
			return
		}
		k := key{code, system, value}
		if seen[k] {
			return
		}
		seen[k] = true
		rows = append(rows, tokenRow{Code: code, System: system, Value: value, Index: len(rows)})
	}

	for _, def := range t.env.Params.ForResource(rt) {
		ok, err := t.IsIndexed(def, rt)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		values, err := t.env.evaluate(res, def)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			extractTokens(v, func(system, value string) { add(def.Code, system, value) })
		}
	}
	return rows, nil
}

// extractTokens emits the (system, value) pairs of one typed value.
func extractTokens(v fhirpath.TypedValue, emit func(system, value string)) {
	obj := v.Object()
	switch v.Kind() {
	case fhirpath.KindIdentifier:
		emit(fhirmodels.StringField(obj, "system"), fhirmodels.StringField(obj, "value"))
	case fhirpath.KindCodeableConcept:
		if text := fhirmodels.StringField(obj, "text"); text != "" {
			emit(fhirmodels.TokenSystemText, text)
		}
		for _, c := range fhirmodels.AsArray(obj["coding"]) {
			codingTokens(fhirmodels.AsObject(c), emit)
		}
	case fhirpath.KindCoding:
		codingTokens(obj, emit)
	case fhirpath.KindContactPoint:
		emit(fhirmodels.StringField(obj, "system"), fhirmodels.StringField(obj, "value"))
	case fhirpath.KindPrimitive:
		emit("", v.PrimitiveString())
	case fhirpath.KindReference, fhirpath.KindHumanName, fhirpath.KindAddress, fhirpath.KindOther:
	}
}

func codingTokens(coding map[string]interface{}, emit func(system, value string)) {
	if coding == nil {
		return
	}
	if display := fhirmodels.StringField(coding, "display"); display != "" {
		emit(fhirmodels.TokenSystemText, display)
	}
	emit(fhirmodels.StringField(coding, "system"), fhirmodels.StringField(coding, "code"))
}

// BuildWhere joins the token rows matching f. Positive filters INNER JOIN
// the matches; :not, ne, :not-in and :missing=true LEFT JOIN them and keep
// resources without a match.
func (t *TokenTable) BuildWhere(q *search.Query, def *searchparam.Definition, f search.Filter) (sq.Sqlizer, error) {
	table := t.TableName(q.ResourceType())
	sub := sq.Select(`DISTINCT ON ("resourceId") "resourceId"`).
		From(search.Ident(table)).
		Where(sq.Eq{search.Ident("code"): f.Code})

	if cond := t.valueConditions(def, f); cond != nil {
		sub = sub.Where(cond)
	}

	alias := q.NextAlias()
	column := search.Qualified(alias, "resourceId")
	if tokenRowExpected(f) {
		if err := q.InnerJoin(sub, alias); err != nil {
			return nil, err
		}
		return sq.Expr(column + " IS NOT NULL"), nil
	}
	if err := q.LeftJoin(sub, alias); err != nil {
		return nil, err
	}
	return sq.Expr(column + " IS NULL"), nil
}

// tokenRowExpected reports whether matching resources have a joined row.
func tokenRowExpected(f search.Filter) bool {
	switch f.Operator {
	case search.OpMissing, search.OpPresent:
		return !f.Missing()
	}
	return !f.Operator.Negated()
}

// valueConditions ORs the per-value conditions, or returns nil when the
// operator only tests presence.
func (t *TokenTable) valueConditions(def *searchparam.Definition, f search.Filter) sq.Sqlizer {
	switch f.Operator {
	case search.OpMissing, search.OpPresent:
		return nil
	}
	var or sq.Or
	for _, v := range f.Values() {
		or = append(or, t.valueCondition(def, f, v))
	}
	if len(or) == 1 {
		return or[0]
	}
	return or
}

func (t *TokenTable) valueCondition(def *searchparam.Definition, f search.Filter, query string) sq.Sqlizer {
	switch f.Operator {
	case search.OpIn, search.OpNotIn:
		// Membership is tested on the system only.
		return sq.Expr(`"system" = ANY((SELECT "reference" FROM "ValueSet" WHERE ? = ANY("url") AND "deleted" = false LIMIT 1)::TEXT[])`, query)
	case search.OpText, search.OpContains:
		return t.matchValue(def, f, query)
	}

	system, value, ok := strings.Cut(query, "|")
	if !ok {
		return t.matchValue(def, f, query)
	}
	var systemCond sq.Sqlizer = sq.Eq{search.Ident("system"): system}
	if system == "" {
		systemCond = sq.Eq{search.Ident("system"): nil}
	}
	if value == "" {
		return systemCond
	}
	return sq.And{systemCond, t.matchValue(def, f, value)}
}

func (t *TokenTable) matchValue(def *searchparam.Definition, f search.Filter, value string) sq.Sqlizer {
	value = strings.TrimSpace(value)
	column := search.Ident("value")
	switch f.Operator {
	case search.OpText:
		t.logExpensiveQuery(def, f, value)
		return sq.And{
			sq.Eq{search.Ident("system"): fhirmodels.TokenSystemText},
			sq.Expr("to_tsvector('simple', "+column+") @@ to_tsquery('simple', ?)", prefixTSQuery(value)),
		}
	case search.OpContains:
		t.logExpensiveQuery(def, f, value)
		return sq.Expr(column+" LIKE ?", escapeLike(value)+"%")
	default:
		return sq.Eq{column: value}
	}
}

func (t *TokenTable) logExpensiveQuery(def *searchparam.Definition, f search.Filter, value string) {
	t.env.Logger.Warn().
		Str("operator", string(f.Operator)).
		Str("search_parameter", def.ID).
		Str("code", def.Code).
		Str("filter_value", f.Value).
		Str("value", value).
		Msg("potentially expensive token lookup query")
}

// AddOrderBy orders by the first token value of the parameter.
func (t *TokenTable) AddOrderBy(q *search.Query, def *searchparam.Definition, rule search.SortRule) error {
	table := t.TableName(q.ResourceType())
	return orderByJoin(q, fmt.Sprintf("sort:%s:%s", table, rule.Code), table, "value",
		sq.Eq{search.Ident("code"): rule.Code}, rule)
}
