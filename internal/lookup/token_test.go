package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

func feverObservation() fhirmodels.Resource {
	return fhirmodels.Resource{
		"resourceType": "Observation",
		"id":           "obs-1",
		"status":       "final",
		"code": map[string]interface{}{
			"text": "Fever",
			"coding": []interface{}{
				map[string]interface{}{"system": "http://loinc.org", "code": "386661006", "display": "Fever"},
			},
		},
		"identifier": []interface{}{
			map[string]interface{}{"system": "http://acme.org/obs", "value": " 42 "},
		},
		"subject": map[string]interface{}{
			"reference":  "Patient/P1",
			"identifier": map[string]interface{}{"system": "http://acme.org/mrn", "value": "MRN-1"},
		},
	}
}

func tokensFor(db *fakeDB, table, code string) [][2]interface{} {
	var out [][2]interface{}
	for _, row := range db.rows(table) {
		if row["code"] == code {
			out = append(out, [2]interface{}{row["system"], row["value"]})
		}
	}
	return out
}

func TestTokenTable_CodeableConceptDedup(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	db := newFakeDB()

	require.NoError(t, table.IndexResource(context.Background(), db, feverObservation(), true))

	assert.Equal(t, [][2]interface{}{
		{"text", "Fever"},
		{"http://loinc.org", "386661006"},
	}, tokensFor(db, "Observation_Token", "code"))
}

func TestTokenTable_IdentifierAndDerivedIdentifier(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	db := newFakeDB()

	require.NoError(t, table.IndexResource(context.Background(), db, feverObservation(), true))

	assert.Equal(t, [][2]interface{}{{"http://acme.org/obs", "42"}}, tokensFor(db, "Observation_Token", "identifier"))
	assert.Equal(t, [][2]interface{}{{"http://acme.org/mrn", "MRN-1"}}, tokensFor(db, "Observation_Token", "subject:identifier"))
	assert.Empty(t, tokensFor(db, "Observation_Token", "status"), "status is a plain code column")
}

func TestTokenTable_RowCountMatchesDistinctTriples(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	db := newFakeDB()

	res := feverObservation()
	require.NoError(t, table.IndexResource(context.Background(), db, res, true))

	rows, err := table.extract(res)
	require.NoError(t, err)

	distinct := make(map[[3]string]bool)
	for _, r := range rows {
		distinct[[3]string{r.Code, r.System, r.Value}] = true
	}
	assert.Len(t, db.rows("Observation_Token"), len(distinct))
	for i, r := range rows {
		assert.Equal(t, i, r.Index)
	}
}

func TestTokenTable_ReindexUnchangedWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	db := newFakeDB()
	ctx := context.Background()

	require.NoError(t, table.IndexResource(ctx, db, feverObservation(), true))
	execs := db.execs

	require.NoError(t, table.IndexResource(ctx, db, feverObservation(), false))
	assert.Equal(t, execs, db.execs)
}

func TestTokenTable_UpdateReplacesRows(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	db := newFakeDB()
	ctx := context.Background()

	require.NoError(t, table.IndexResource(ctx, db, feverObservation(), true))

	res := feverObservation()
	res["code"] = map[string]interface{}{
		"coding": []interface{}{map[string]interface{}{"system": "http://loinc.org", "code": "8310-5"}},
	}
	require.NoError(t, table.IndexResource(ctx, db, res, false))

	assert.Equal(t, 1, db.countSQL(`DELETE FROM "Observation_Token"`))
	assert.Equal(t, [][2]interface{}{{"http://loinc.org", "8310-5"}}, tokensFor(db, "Observation_Token", "code"))
	assert.Equal(t, [][2]interface{}{{"http://acme.org/obs", "42"}}, tokensFor(db, "Observation_Token", "identifier"))
}

func TestTokenTable_EmptyStringsStoredAsNull(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	db := newFakeDB()

	res := fhirmodels.Resource{
		"resourceType": "Patient",
		"id":           "p1",
		"identifier":   []interface{}{map[string]interface{}{"system": "  ", "value": "abc"}},
	}
	require.NoError(t, table.IndexResource(context.Background(), db, res, true))
	assert.Equal(t, [][2]interface{}{{nil, "abc"}}, tokensFor(db, "Patient_Token", "identifier"))
}

func TestTokenTable_IsIndexed(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)

	cases := []struct {
		rt, code string
		want     bool
	}{
		{"Observation", "code", true},
		{"Patient", "identifier", true},
		{"Patient", "telecom", true},
		{"Encounter", "class", true},
		{"Observation", "subject:identifier", true},
		{"Patient", "gender", false},
		{"Patient", "active", false},
		{"Observation", "date", false},
	}
	for _, c := range cases {
		def, ok := env.Params.Get(c.rt, c.code)
		require.True(t, ok, "%s.%s", c.rt, c.code)
		got, err := table.IsIndexed(def, c.rt)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%s.%s", c.rt, c.code)
	}
}

func TestTokenTable_IsIndexedUnknownProperty(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)

	def := &searchparam.Definition{Code: "bogus", Type: searchparam.TypeToken, Expression: "Patient.nope"}
	_, err := table.IsIndexed(def, "Patient")
	require.Error(t, err)
}

func buildTokenSQL(t *testing.T, f search.Filter) (string, []interface{}) {
	t.Helper()
	env := newTestEnv(t)
	table := NewTokenTable(env)
	def, _ := env.Params.Get("Observation", f.Code)

	q := search.NewQuery("Observation")
	pred, err := table.BuildWhere(q, def, f)
	require.NoError(t, err)
	q.Where(pred)
	sql, args, err := q.ToSql()
	require.NoError(t, err)
	return sql, args
}

func TestTokenTable_BuildWhere_SystemAndCode(t *testing.T) {
	sql, args := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpEquals, Value: "http://loinc.org|8310-5"})

	assert.Contains(t, sql, `INNER JOIN (SELECT DISTINCT ON ("resourceId") "resourceId" FROM "Observation_Token" WHERE "code" = $1 AND ("system" = $2 AND "value" = $3)) "T1" ON "Observation"."id" = "T1"."resourceId"`)
	assert.Contains(t, sql, `"T1"."resourceId" IS NOT NULL`)
	assert.Equal(t, []interface{}{"code", "http://loinc.org", "8310-5"}, args)
}

func TestTokenTable_BuildWhere_ValueForms(t *testing.T) {
	sql, args := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpEquals, Value: "|8310-5"})
	assert.Contains(t, sql, `("system" IS NULL AND "value" = $2)`)
	assert.Equal(t, []interface{}{"code", "8310-5"}, args)

	sql, args = buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpEquals, Value: "http://loinc.org|"})
	assert.Contains(t, sql, `AND "system" = $2)`)
	assert.Equal(t, []interface{}{"code", "http://loinc.org"}, args)

	sql, args = buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpEquals, Value: "a|b|c"})
	assert.Contains(t, sql, `("system" = $2 AND "value" = $3)`)
	assert.Equal(t, []interface{}{"code", "a", "b|c"}, args, "only the first pipe separates system from value")
}

func TestTokenTable_BuildWhere_OrValues(t *testing.T) {
	sql, args := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpEquals, Value: "a,b"})
	assert.Contains(t, sql, `AND ("value" = $2 OR "value" = $3)`)
	assert.Equal(t, []interface{}{"code", "a", "b"}, args)
}

func TestTokenTable_BuildWhere_NotUsesLeftJoin(t *testing.T) {
	sql, _ := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpNot, Value: "x"})
	assert.Contains(t, sql, `LEFT JOIN (SELECT DISTINCT ON ("resourceId") "resourceId"`)
	assert.Contains(t, sql, `"T1"."resourceId" IS NULL`)
	assert.NotContains(t, sql, "NOT EXISTS")
}

func TestTokenTable_BuildWhere_Missing(t *testing.T) {
	sql, args := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpMissing, Value: "true"})
	assert.Contains(t, sql, `LEFT JOIN (SELECT DISTINCT ON ("resourceId") "resourceId" FROM "Observation_Token" WHERE "code" = $1) "T1"`)
	assert.Equal(t, []interface{}{"code"}, args)

	sql, _ = buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpMissing, Value: "false"})
	assert.Contains(t, sql, "INNER JOIN")
}

func TestTokenTable_BuildWhere_TextAndContains(t *testing.T) {
	sql, args := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpText, Value: "heart rate"})
	assert.Contains(t, sql, `("system" = $2 AND to_tsvector('simple', "value") @@ to_tsquery('simple', $3))`)
	assert.Equal(t, []interface{}{"code", "text", "heart:* & rate:*"}, args)

	sql, args = buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpContains, Value: "83_"})
	assert.Contains(t, sql, `"value" LIKE $2`)
	assert.Equal(t, []interface{}{"code", `83\_%`}, args)
}

func TestTokenTable_BuildWhere_InValueSet(t *testing.T) {
	sql, args := buildTokenSQL(t, search.Filter{Code: "code", Operator: search.OpIn, Value: "http://vs/vitals"})
	assert.Contains(t, sql, `"system" = ANY((SELECT "reference" FROM "ValueSet" WHERE $2 = ANY("url") AND "deleted" = false LIMIT 1)::TEXT[])`)
	assert.Equal(t, []interface{}{"code", "http://vs/vitals"}, args)
}

func TestTokenTable_AddOrderByJoinsOnce(t *testing.T) {
	env := newTestEnv(t)
	table := NewTokenTable(env)
	def, _ := env.Params.Get("Observation", "code")

	q := search.NewQuery("Observation")
	rule := search.SortRule{Code: "code", Descending: true}
	require.NoError(t, table.AddOrderBy(q, def, rule))
	require.NoError(t, table.AddOrderBy(q, def, rule))

	sql, _, err := q.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, `LEFT JOIN (SELECT DISTINCT ON ("resourceId") "resourceId", "value" FROM "Observation_Token" WHERE "code" = $1 ORDER BY "resourceId", "index") "T1"`)
	assert.Contains(t, sql, `ORDER BY "T1"."value" DESC, "T1"."value" DESC`)
}

func TestPrefixTSQuery(t *testing.T) {
	assert.Equal(t, "John:* & Sm:*", prefixTSQuery("John Sm"))
	assert.Equal(t, "a:* & b:*", prefixTSQuery("a & b:'"))
	assert.Equal(t, "", prefixTSQuery("  "))
}
