package search

import (
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// Query builds a SELECT over a resource table. Predicates and joins are
// contributed by the lookup tables and column builders; Query hands out
// unique join aliases and remembers joins that must only be added once.
type Query struct {
	resourceType string
	builder      sq.SelectBuilder
	orderBy      []string
	limit        uint64
	offset       uint64
	aliases      int
	joins        map[string]string
}

// NewQuery starts a query over the "<resourceType>" table selecting id and
// content of live rows.
func NewQuery(resourceType string) *Query {
	q := &Query{resourceType: resourceType, joins: make(map[string]string)}
	q.builder = sq.Select(q.Column("id"), q.Column("content")).
		From(q.Table()).
		Where(q.Column("deleted") + " = false")
	return q
}

// ResourceType returns the resource type the query selects.
func (q *Query) ResourceType() string { return q.resourceType }

// Table returns the quoted resource table name.
func (q *Query) Table() string {
	return Ident(q.resourceType)
}

// Column returns a column of the resource table qualified with the table name.
func (q *Query) Column(name string) string {
	return pgx.Identifier{q.resourceType, name}.Sanitize()
}

// NextAlias returns a fresh join alias ("T1", "T2", ...).
func (q *Query) NextAlias() string {
	q.aliases++
	return "T" + strconv.Itoa(q.aliases)
}

// JoinAlias returns the alias of a join previously registered under key.
func (q *Query) JoinAlias(key string) (string, bool) {
	alias, ok := q.joins[key]
	return alias, ok
}

// Where adds a predicate.
func (q *Query) Where(pred sq.Sqlizer) {
	q.builder = q.builder.Where(pred)
}

// InnerJoin joins sub under alias on the resource id.
func (q *Query) InnerJoin(sub sq.Sqlizer, alias string) error {
	return q.join("INNER JOIN", sub, alias, "")
}

// LeftJoin left-joins sub under alias on the resource id.
func (q *Query) LeftJoin(sub sq.Sqlizer, alias string) error {
	return q.join("LEFT JOIN", sub, alias, "")
}

// LeftJoinOnce left-joins sub under a new alias unless a join was already
// registered under key, and returns the alias in use.
func (q *Query) LeftJoinOnce(key string, sub sq.Sqlizer) (string, error) {
	if alias, ok := q.joins[key]; ok {
		return alias, nil
	}
	alias := q.NextAlias()
	if err := q.join("LEFT JOIN", sub, alias, key); err != nil {
		return "", err
	}
	return alias, nil
}

func (q *Query) join(kind string, sub sq.Sqlizer, alias, key string) error {
	sql, args, err := sub.ToSql()
	if err != nil {
		return fmt.Errorf("build join subquery: %w", err)
	}
	clause := fmt.Sprintf("%s (%s) %s ON %s = %s",
		kind, sql, Ident(alias), q.Column("id"), pgx.Identifier{alias, "resourceId"}.Sanitize())
	q.builder = q.builder.JoinClause(clause, args...)
	if key != "" {
		q.joins[key] = alias
	}
	return nil
}

// OrderBy appends an ORDER BY expression.
func (q *Query) OrderBy(expr string, desc bool) {
	if desc {
		expr += " DESC"
	}
	q.orderBy = append(q.orderBy, expr)
}

// Page sets LIMIT and OFFSET.
func (q *Query) Page(count, offset int) {
	q.limit = uint64(count)
	q.offset = uint64(offset)
}

// ToSql renders the data query with $n placeholders.
func (q *Query) ToSql() (string, []interface{}, error) {
	b := q.builder
	if len(q.orderBy) > 0 {
		b = b.OrderBy(q.orderBy...)
	}
	if q.limit > 0 {
		b = b.Limit(q.limit)
	}
	if q.offset > 0 {
		b = b.Offset(q.offset)
	}
	return b.PlaceholderFormat(sq.Dollar).ToSql()
}

// CountSql renders a COUNT(*) over the same joins and predicates.
func (q *Query) CountSql() (string, []interface{}, error) {
	return sq.Select("COUNT(*)").
		FromSelect(q.builder, "matches").
		PlaceholderFormat(sq.Dollar).
		ToSql()
}

// Ident quotes a single SQL identifier.
func Ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// Qualified quotes alias.column.
func Qualified(alias, column string) string {
	return pgx.Identifier{alias, column}.Sanitize()
}
