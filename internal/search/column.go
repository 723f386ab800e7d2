package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/searchparam"
)

// Column describes a search parameter stored directly on the resource table.
type Column struct {
	Name  string
	Type  searchparam.Type
	Array bool
	// Target is the single target type of a reference parameter, if any.
	Target string
}

// ColumnFor describes the resource-table column of a parameter. Date and
// numeric parameters are scalar; everything else is a TEXT[] of values.
// id and lastUpdated are the table's own scalar columns.
func ColumnFor(def *searchparam.Definition, name string) Column {
	col := Column{Name: name, Type: def.Type}
	switch {
	case name == "id" || name == "lastUpdated":
	case def.Type == searchparam.TypeDate, def.Type == searchparam.TypeNumber, def.Type == searchparam.TypeQuantity:
	default:
		col.Array = true
	}
	if def.Type == searchparam.TypeReference && len(def.Target) == 1 {
		col.Target = def.Target[0]
	}
	return col
}

// SQLType returns the column's DDL type.
func (c Column) SQLType() string {
	switch {
	case c.Name == "id":
		return "UUID"
	case c.Type == searchparam.TypeDate:
		return "TIMESTAMPTZ"
	case c.Type == searchparam.TypeNumber, c.Type == searchparam.TypeQuantity:
		return "DOUBLE PRECISION"
	default:
		return "TEXT[]"
	}
}

// ColumnPredicate builds the WHERE predicate for a filter on a column
// parameter. Comma-separated values are OR'ed.
func ColumnPredicate(q *Query, col Column, f Filter) (sq.Sqlizer, error) {
	column := q.Column(col.Name)
	switch f.Operator {
	case OpMissing, OpPresent:
		return missingPredicate(column, col.Array, f.Missing()), nil
	}

	var or sq.Or
	for _, v := range f.Values() {
		var (
			pred sq.Sqlizer
			err  error
		)
		switch col.Type {
		case searchparam.TypeDate:
			pred, err = DatePredicate(column, f.Operator, v)
		case searchparam.TypeNumber, searchparam.TypeQuantity:
			pred, err = NumberPredicate(column, f.Operator, quantityNumber(v))
		case searchparam.TypeString:
			pred = StringPredicate(column, col.Array, f.Operator, v)
		case searchparam.TypeReference:
			pred = valuePredicate(column, col.Array, ReferenceValue(v, col.Target))
		case searchparam.TypeURI:
			pred = uriPredicate(column, col.Array, f.Operator, v)
		default:
			pred = valuePredicate(column, col.Array, TokenCode(v))
		}
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", f.Code, err)
		}
		or = append(or, pred)
	}

	var pred sq.Sqlizer = or
	if len(or) == 1 {
		pred = or[0]
	}
	if f.Operator.Negated() && col.Type != searchparam.TypeDate && col.Type != searchparam.TypeNumber && col.Type != searchparam.TypeQuantity {
		return Not(pred), nil
	}
	return pred, nil
}

// ColumnOrderBy orders the query by a column parameter.
func ColumnOrderBy(q *Query, col Column, rule SortRule) {
	q.OrderBy(q.Column(col.Name), rule.Descending)
}

// Not negates a predicate.
func Not(pred sq.Sqlizer) sq.Sqlizer {
	sql, args, err := pred.ToSql()
	if err != nil {
		return errSqlizer{err}
	}
	return sq.Expr("NOT ("+sql+")", args...)
}

type errSqlizer struct{ err error }

func (e errSqlizer) ToSql() (string, []interface{}, error) { return "", nil, e.err }

func missingPredicate(column string, array, missing bool) sq.Sqlizer {
	if array {
		if missing {
			return sq.Expr(fmt.Sprintf("(%s IS NULL OR cardinality(%s) = 0)", column, column))
		}
		return sq.Expr(fmt.Sprintf("cardinality(%s) > 0", column))
	}
	if missing {
		return sq.Eq{column: nil}
	}
	return sq.NotEq{column: nil}
}

func valuePredicate(column string, array bool, value string) sq.Sqlizer {
	if array {
		return sq.Expr(column+" && ARRAY[?]::TEXT[]", value)
	}
	return sq.Eq{column: value}
}

// StringPredicate handles string parameters: :exact is a case-sensitive
// match, :contains a substring match, the default a case-insensitive
// prefix match.
func StringPredicate(column string, array bool, op Operator, value string) sq.Sqlizer {
	var cmp, arg string
	switch op {
	case OpExact:
		if array {
			return sq.Expr("? = ANY("+column+")", value)
		}
		return sq.Eq{column: value}
	case OpContains, OpText:
		cmp, arg = "ILIKE", "%"+escapeLike(value)+"%"
	default:
		cmp, arg = "ILIKE", escapeLike(value)+"%"
	}
	if array {
		return sq.Expr(fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS v WHERE v %s ?)", column, cmp), arg)
	}
	return sq.Expr(fmt.Sprintf("%s %s ?", column, cmp), arg)
}

func uriPredicate(column string, array bool, op Operator, value string) sq.Sqlizer {
	if op == OpBelow {
		if array {
			return sq.Expr(fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS v WHERE v LIKE ?)", column), escapeLike(value)+"%")
		}
		return sq.Expr(column+" LIKE ?", escapeLike(value)+"%")
	}
	return valuePredicate(column, array, value)
}

// DatePredicate compares a timestamp column with a date value. A date-only
// eq value matches the whole day. Unparseable values fall back to a text
// match.
func DatePredicate(column string, op Operator, value string) (sq.Sqlizer, error) {
	t, err := ParseFlexDate(value)
	if err != nil {
		return sq.Expr(column+"::text = ?", value), nil
	}

	switch op {
	case OpGreaterThan, OpStartsAfter:
		return sq.Gt{column: t}, nil
	case OpLessThan, OpEndsBefore:
		return sq.Lt{column: t}, nil
	case OpGreaterOrEqual:
		return sq.GtOrEq{column: t}, nil
	case OpLessOrEqual:
		return sq.LtOrEq{column: t}, nil
	case OpNotEquals, OpNot:
		return sq.NotEq{column: t}, nil
	case OpApproximately:
		oneDay := 24 * time.Hour
		return sq.And{sq.GtOrEq{column: t.Add(-oneDay)}, sq.LtOrEq{column: t.Add(oneDay)}}, nil
	case OpEquals:
		if len(value) == 10 {
			endOfDay := t.Add(24*time.Hour - time.Nanosecond)
			return sq.And{sq.GtOrEq{column: t}, sq.LtOrEq{column: endOfDay}}, nil
		}
		return sq.Eq{column: t}, nil
	}
	return nil, fmt.Errorf("operator %s not supported for dates", op)
}

// NumberPredicate compares a numeric column with a number value.
func NumberPredicate(column string, op Operator, value string) (sq.Sqlizer, error) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", value)
	}
	switch op {
	case OpGreaterThan, OpStartsAfter:
		return sq.Gt{column: n}, nil
	case OpLessThan, OpEndsBefore:
		return sq.Lt{column: n}, nil
	case OpGreaterOrEqual:
		return sq.GtOrEq{column: n}, nil
	case OpLessOrEqual:
		return sq.LtOrEq{column: n}, nil
	case OpNotEquals, OpNot:
		return sq.NotEq{column: n}, nil
	case OpApproximately:
		d := n * 0.1
		if d < 0 {
			d = -d
		}
		return sq.And{sq.GtOrEq{column: n - d}, sq.LtOrEq{column: n + d}}, nil
	case OpEquals:
		return sq.Eq{column: n}, nil
	}
	return nil, fmt.Errorf("operator %s not supported for numbers", op)
}

// quantityNumber strips the "|system|code" suffix of a quantity value.
func quantityNumber(v string) string {
	if i := strings.IndexByte(v, '|'); i >= 0 {
		return v[:i]
	}
	return v
}

// TokenCode returns the code part of a "system|code" token value.
func TokenCode(v string) string {
	if i := strings.IndexByte(v, '|'); i >= 0 {
		return v[i+1:]
	}
	return v
}

// ReferenceValue normalizes a reference search value to "Type/id". A bare
// id is qualified with target when the parameter has a single target type.
func ReferenceValue(v, target string) string {
	if !strings.Contains(v, "/") && target != "" {
		return target + "/" + v
	}
	return v
}

// ParseFlexDate parses a date string in the FHIR date/dateTime formats.
func ParseFlexDate(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
		"2006",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
