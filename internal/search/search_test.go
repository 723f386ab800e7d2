package search

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/searchparam"
)

func TestParseSearchValue(t *testing.T) {
	tests := []struct {
		raw   string
		op    Operator
		value string
	}{
		{"gt2023-01-01", OpGreaterThan, "2023-01-01"},
		{"le5", OpLessOrEqual, "5"},
		{"AP10", OpApproximately, "10"},
		{"100", OpEquals, "100"},
		{"x", OpEquals, "x"},
	}
	for _, tt := range tests {
		op, v := ParseSearchValue(tt.raw)
		if op != tt.op || v != tt.value {
			t.Errorf("ParseSearchValue(%q): expected (%s, %q), got (%s, %q)", tt.raw, tt.op, tt.value, op, v)
		}
	}
}

func TestFilterValues(t *testing.T) {
	f := Filter{Value: `a,b\,c,d`}
	assert.Equal(t, []string{"a", "b,c", "d"}, f.Values())
	assert.Equal(t, []string{""}, Filter{}.Values())
}

func TestFilterMissing(t *testing.T) {
	assert.True(t, Filter{Operator: OpMissing, Value: "true"}.Missing())
	assert.False(t, Filter{Operator: OpMissing, Value: "false"}.Missing())
	assert.False(t, Filter{Operator: OpPresent, Value: "true"}.Missing())
	assert.True(t, Filter{Operator: OpPresent, Value: "false"}.Missing())
}

func TestParseRequest(t *testing.T) {
	values := url.Values{
		"code":               {"http://loinc.org|123"},
		"code:text":          {"fever"},
		"date":               {"ge2020-01-01"},
		"subject:identifier": {"http://mrn|1"},
		"_sort":              {"-date,code"},
		"_count":             {"5"},
		"_format":            {"json"},
	}
	req, err := ParseRequest("Observation", values, searchparam.DefaultCatalog())
	require.NoError(t, err)

	assert.Equal(t, 5, req.Count)
	assert.Equal(t, []SortRule{{Code: "date", Descending: true}, {Code: "code"}}, req.Sort)
	require.Len(t, req.Filters, 4)
	assert.Equal(t, Filter{Code: "code", Operator: OpEquals, Value: "http://loinc.org|123"}, req.Filters[0])
	assert.Equal(t, Filter{Code: "code", Operator: OpText, Value: "fever"}, req.Filters[1])
	assert.Equal(t, Filter{Code: "date", Operator: OpGreaterOrEqual, Value: "2020-01-01"}, req.Filters[2])
	assert.Equal(t, Filter{Code: "subject:identifier", Operator: OpEquals, Value: "http://mrn|1"}, req.Filters[3])
}

func TestParseRequest_Errors(t *testing.T) {
	catalog := searchparam.DefaultCatalog()

	_, err := ParseRequest("Observation", url.Values{"foo": {"1"}}, catalog)
	assert.True(t, errors.Is(err, ErrUnknownParameter))

	_, err = ParseRequest("Observation", url.Values{"code:bogus": {"1"}}, catalog)
	assert.Error(t, err)

	_, err = ParseRequest("Observation", url.Values{"_count": {"-1"}}, catalog)
	assert.Error(t, err)
}

func TestParseFilter_PrefixOnlyForOrderedTypes(t *testing.T) {
	catalog := searchparam.DefaultCatalog()
	f, err := ParseFilter("Patient", "gender", "generic", catalog)
	require.NoError(t, err)
	assert.Equal(t, OpEquals, f.Operator)
	assert.Equal(t, "generic", f.Value)
}

func TestQuery_ToSql(t *testing.T) {
	q := NewQuery("Patient")
	q.Where(sq.Eq{q.Column("gender"): "female"})
	q.OrderBy(q.Column("lastUpdated"), true)
	q.Page(10, 20)

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Patient"."id", "Patient"."content" FROM "Patient" WHERE "Patient"."deleted" = false AND "Patient"."gender" = $1 ORDER BY "Patient"."lastUpdated" DESC LIMIT 10 OFFSET 20`, sql)
	assert.Equal(t, []interface{}{"female"}, args)
}

func TestQuery_JoinsNumberPlaceholdersInOrder(t *testing.T) {
	q := NewQuery("Patient")
	sub := sq.Select(Ident("resourceId")).From(Ident("Patient_Token")).Where(sq.Eq{Ident("code"): "identifier"})
	alias := q.NextAlias()
	require.NoError(t, q.InnerJoin(sub, alias))
	q.Where(sq.Eq{q.Column("active"): "true"})

	sql, args, err := q.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "T1", alias)
	assert.Contains(t, sql, `INNER JOIN (SELECT "resourceId" FROM "Patient_Token" WHERE "code" = $1) "T1" ON "Patient"."id" = "T1"."resourceId"`)
	assert.Contains(t, sql, `"Patient"."active" = $2`)
	assert.Equal(t, []interface{}{"identifier", "true"}, args)
}

func TestQuery_LeftJoinOnce(t *testing.T) {
	q := NewQuery("Patient")
	sub := sq.Select(Ident("resourceId")).From(Ident("HumanName"))
	a1, err := q.LeftJoinOnce("sort:name", sub)
	require.NoError(t, err)
	a2, err := q.LeftJoinOnce("sort:name", sub)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	sql, _, err := q.ToSql()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(sql, "LEFT JOIN"))
}

func TestQuery_CountSql(t *testing.T) {
	q := NewQuery("Patient")
	q.Where(sq.Eq{q.Column("gender"): "male"})
	q.OrderBy(q.Column("id"), false)
	sql, args, err := q.CountSql()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sql, "SELECT COUNT(*) FROM ("), sql)
	assert.NotContains(t, sql, "ORDER BY")
	assert.Contains(t, sql, "$1")
	assert.Equal(t, []interface{}{"male"}, args)
}

func TestColumnPredicate_TokenOr(t *testing.T) {
	q := NewQuery("Patient")
	def, _ := searchparam.DefaultCatalog().Get("Patient", "gender")
	col := ColumnFor(def, "gender")
	require.True(t, col.Array)

	pred, err := ColumnPredicate(q, col, Filter{Code: "gender", Operator: OpEquals, Value: "male,female"})
	require.NoError(t, err)
	sql, args, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `("Patient"."gender" && ARRAY[?]::TEXT[] OR "Patient"."gender" && ARRAY[?]::TEXT[])`, sql)
	assert.Equal(t, []interface{}{"male", "female"}, args)
}

func TestColumnPredicate_NotAndMissing(t *testing.T) {
	q := NewQuery("Patient")
	col := Column{Name: "gender", Type: searchparam.TypeToken, Array: true}

	pred, err := ColumnPredicate(q, col, Filter{Code: "gender", Operator: OpNot, Value: "male"})
	require.NoError(t, err)
	sql, _, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `NOT ("Patient"."gender" && ARRAY[?]::TEXT[])`, sql)

	pred, err = ColumnPredicate(q, col, Filter{Code: "gender", Operator: OpMissing, Value: "true"})
	require.NoError(t, err)
	sql, _, err = pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `("Patient"."gender" IS NULL OR cardinality("Patient"."gender") = 0)`, sql)
}

func TestColumnPredicate_Reference(t *testing.T) {
	q := NewQuery("Patient")
	def, _ := searchparam.DefaultCatalog().Get("Patient", "organization")
	col := ColumnFor(def, "organization")
	assert.Equal(t, "Organization", col.Target)

	pred, err := ColumnPredicate(q, col, Filter{Code: "organization", Operator: OpEquals, Value: "o1"})
	require.NoError(t, err)
	_, args, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Organization/o1"}, args)
}

func TestDatePredicate(t *testing.T) {
	pred, err := DatePredicate(`"d"`, OpEquals, "2024-03-01")
	require.NoError(t, err)
	sql, args, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `("d" >= ? AND "d" <= ?)`, sql)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []interface{}{start, start.Add(24*time.Hour - time.Nanosecond)}, args)

	pred, err = DatePredicate(`"d"`, OpGreaterThan, "2024-03-01T10:00:00Z")
	require.NoError(t, err)
	sql, _, err = pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"d" > ?`, sql)

	pred, err = DatePredicate(`"d"`, OpEquals, "not-a-date")
	require.NoError(t, err)
	sql, _, err = pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"d"::text = ?`, sql)
}

func TestNumberPredicate(t *testing.T) {
	pred, err := NumberPredicate(`"n"`, OpLessOrEqual, "5.5")
	require.NoError(t, err)
	sql, args, err := pred.ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"n" <= ?`, sql)
	assert.Equal(t, []interface{}{5.5}, args)

	_, err = NumberPredicate(`"n"`, OpEquals, "abc")
	assert.Error(t, err)
}

func TestStringPredicate(t *testing.T) {
	sql, args, err := StringPredicate(`"name"`, true, OpEquals, "smi_th").ToSql()
	require.NoError(t, err)
	assert.Equal(t, `EXISTS (SELECT 1 FROM unnest("name") AS v WHERE v ILIKE ?)`, sql)
	assert.Equal(t, []interface{}{`smi\_th%`}, args)

	sql, args, err = StringPredicate(`"name"`, false, OpExact, "Smith").ToSql()
	require.NoError(t, err)
	assert.Equal(t, `"name" = ?`, sql)
	assert.Equal(t, []interface{}{"Smith"}, args)
}

func TestTokenCodeAndReferenceValue(t *testing.T) {
	assert.Equal(t, "123", TokenCode("http://loinc.org|123"))
	assert.Equal(t, "123", TokenCode("123"))
	assert.Equal(t, "Patient/1", ReferenceValue("1", "Patient"))
	assert.Equal(t, "Group/1", ReferenceValue("Group/1", "Patient"))
	assert.Equal(t, "1", ReferenceValue("1", ""))
}
