package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// ErrMixedResourceTypes is returned by BatchIndexResources when the batch
// spans more than one resource type.
var ErrMixedResourceTypes = errors.New("batch contains mixed resource types")

// Table is a lookup table.
type Table interface {
	// Name identifies the table kind ("token", "humanname", ...).
	Name() string
	// TableName returns the physical table holding rows of resourceType.
	TableName(resourceType string) string
	// ColumnName maps a search code to the column filters and sorts read.
	ColumnName(code string) string
	// IsIndexed reports whether the table serves def on resourceType. It
	// fails only when def does not resolve against the schema.
	IsIndexed(def *searchparam.Definition, resourceType string) (bool, error)

	// IndexResource replaces the rows of res with its current values.
	// Unless create is set, persisted rows are loaded first and nothing is
	// written when they already match.
	IndexResource(ctx context.Context, q db.Querier, res fhirmodels.Resource, create bool) error
	// BatchIndexResources indexes resources of a single resource type.
	BatchIndexResources(ctx context.Context, q db.Querier, resources []fhirmodels.Resource) error
	// DeleteValuesForResource removes every row of res.
	DeleteValuesForResource(ctx context.Context, q db.Querier, res fhirmodels.Resource) error
	// PurgeValuesBefore removes rows whose resource was last updated before
	// the cutoff.
	PurgeValuesBefore(ctx context.Context, q db.Querier, resourceType string, before time.Time) error

	// BuildWhere returns the predicate selecting resources that match f.
	BuildWhere(query *search.Query, def *searchparam.Definition, f search.Filter) (sq.Sqlizer, error)
	// AddOrderBy orders query by the table's value for rule.
	AddOrderBy(query *search.Query, def *searchparam.Definition, rule search.SortRule) error
}

// resourceTypeOf returns the single resource type of a batch.
func resourceTypeOf(resources []fhirmodels.Resource) (string, error) {
	var rt string
	for _, res := range resources {
		t := res.ResourceType()
		if rt == "" {
			rt = t
			continue
		}
		if t != rt {
			return "", fmt.Errorf("%w: %s and %s", ErrMixedResourceTypes, rt, t)
		}
	}
	return rt, nil
}

// existsPredicate builds a correlated EXISTS over a global table for the
// filter's values. Negated filters and :missing=true produce NOT EXISTS.
// scope, when set, further restricts the rows considered.
func existsPredicate(q *search.Query, table, column string, scope sq.Sqlizer, f search.Filter) (sq.Sqlizer, error) {
	sub := sq.Select("1").
		From(search.Ident(table)).
		Where(search.Qualified(table, "resourceId") + " = " + q.Column("id"))
	if scope != nil {
		sub = sub.Where(scope)
	}

	negate := f.Operator.Negated()
	switch f.Operator {
	case search.OpMissing, search.OpPresent:
		negate = f.Missing()
	default:
		col := search.Qualified(table, column)
		var or sq.Or
		for _, v := range f.Values() {
			or = append(or, textCondition(col, f.Operator, v))
		}
		sub = sub.Where(or)
	}

	sql, args, err := sub.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s subquery: %w", table, err)
	}
	if negate {
		return sq.Expr("NOT EXISTS ("+sql+")", args...), nil
	}
	return sq.Expr("EXISTS ("+sql+")", args...), nil
}

// textCondition matches one value: :exact is equality, :contains a
// case-insensitive substring, everything else a full-text prefix match of
// every word.
func textCondition(column string, op search.Operator, value string) sq.Sqlizer {
	value = strings.TrimSpace(value)
	switch op {
	case search.OpExact:
		return sq.Eq{column: value}
	case search.OpContains:
		return sq.Expr(column+" ILIKE ?", "%"+escapeLike(value)+"%")
	default:
		return sq.Expr("to_tsvector('simple', "+column+") @@ to_tsquery('simple', ?)", prefixTSQuery(value))
	}
}

// orderByJoin joins the first row per resource of table once per key and
// orders the query by column.
func orderByJoin(q *search.Query, key, table, column string, where sq.Sqlizer, rule search.SortRule) error {
	sub := sq.Select(`DISTINCT ON ("resourceId") "resourceId"`, search.Ident(column)).
		From(search.Ident(table))
	if where != nil {
		sub = sub.Where(where)
	}
	sub = sub.OrderBy(`"resourceId"`, `"index"`)

	alias, err := q.LeftJoinOnce(key, sub)
	if err != nil {
		return err
	}
	q.OrderBy(search.Qualified(alias, column), rule.Descending)
	return nil
}

// prefixTSQuery turns free text into a tsquery matching every word as a
// prefix: "John Sm" -> "John:* & Sm:*".
func prefixTSQuery(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = w + ":*"
	}
	return strings.Join(words, " & ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// CamelCase converts a search code to its column name:
// "address-city" -> "addressCity", "_lastUpdated" -> "lastUpdated".
func CamelCase(code string) string {
	code = strings.TrimLeft(code, "_")
	parts := strings.FieldsFunc(code, func(r rune) bool { return r == '-' || r == ':' })
	var sb strings.Builder
	for i, p := range parts {
		if i == 0 {
			sb.WriteString(p)
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		sb.WriteString(string(r))
	}
	return sb.String()
}

// nullable maps "" to NULL.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
