package lookup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// recordingImporter writes flattened code systems straight into a fakeDB.
type recordingImporter struct {
	db      *fakeDB
	imports []*CodeSystemImport
	nextID  int64
}

func (r *recordingImporter) ImportCodeSystem(_ context.Context, _ db.Querier, cs *CodeSystemImport) error {
	r.imports = append(r.imports, cs)
	for _, c := range cs.Concepts {
		r.nextID++
		r.db.tables["Coding"] = append(r.db.tables["Coding"], map[string]interface{}{
			"id": r.nextID, "system": cs.ResourceID, "code": c.Code,
		})
		r.db.tables["Coding_Property"] = append(r.db.tables["Coding_Property"], map[string]interface{}{
			"coding": r.nextID, "property": "parent",
		})
	}
	for _, p := range cs.Properties {
		r.db.tables["CodeSystem_Property"] = append(r.db.tables["CodeSystem_Property"], map[string]interface{}{
			"system": cs.ResourceID, "code": p.Code,
		})
	}
	return nil
}

func concept(code, display string, children ...interface{}) map[string]interface{} {
	c := map[string]interface{}{"code": code}
	if display != "" {
		c["display"] = display
	}
	if len(children) > 0 {
		c["concept"] = children
	}
	return c
}

func TestFlattenCodeSystem_PolyhierarchyEdges(t *testing.T) {
	b := concept("B", "Bee", concept("C", "Sea"))
	res := fhirmodels.Resource{
		"resourceType": "CodeSystem",
		"id":           "cs1",
		"url":          "http://example.org/cs",
		"content":      "complete",
		"concept": []interface{}{
			concept("A", "Ay", b, concept("D", "Dee", b)),
		},
	}

	cs := FlattenCodeSystem(res)
	assert.Equal(t, "cs1", cs.ResourceID)
	assert.Equal(t, "http://example.org/cs", cs.URL)
	assert.Equal(t, []Concept{{"A", "Ay"}, {"B", "Bee"}, {"C", "Sea"}, {"D", "Dee"}}, cs.Concepts)
	assert.Equal(t, []PropertyValue{
		{Concept: "B", Property: "parent", Value: "A"},
		{Concept: "C", Property: "parent", Value: "B"},
		{Concept: "D", Property: "parent", Value: "A"},
		{Concept: "B", Property: "parent", Value: "D"},
	}, cs.Values)
	assert.Equal(t, []PropertyDefinition{{Code: "parent", Type: "code", URI: fhirmodels.ConceptPropertyParent}}, cs.Properties)
}

func TestFlattenCodeSystem_CycleTerminates(t *testing.T) {
	a := concept("A", "")
	a["concept"] = []interface{}{concept("B", "", a)}
	res := fhirmodels.Resource{"resourceType": "CodeSystem", "id": "cs1", "concept": []interface{}{a}}

	cs := FlattenCodeSystem(res)
	assert.Equal(t, []Concept{{Code: "A"}, {Code: "B"}}, cs.Concepts)
	assert.Equal(t, []PropertyValue{
		{Concept: "B", Property: "parent", Value: "A"},
		{Concept: "A", Property: "parent", Value: "B"},
	}, cs.Values)
}

func TestFlattenCodeSystem_DeclaredParentAndValues(t *testing.T) {
	res := fhirmodels.Resource{
		"resourceType": "CodeSystem",
		"id":           "cs1",
		"property": []interface{}{
			map[string]interface{}{"code": "subsumedBy", "type": "code", "uri": fhirmodels.ConceptPropertyParent},
			map[string]interface{}{"code": "inactive", "type": "boolean"},
		},
		"concept": []interface{}{
			map[string]interface{}{
				"code": "A",
				"property": []interface{}{
					map[string]interface{}{"code": "inactive", "valueBoolean": true},
					map[string]interface{}{"code": "weight", "valueDecimal": 1.5},
					map[string]interface{}{"code": "rank", "valueInteger": float64(3)},
					map[string]interface{}{"code": "broken"},
				},
				"concept": []interface{}{concept("B", "")},
			},
		},
	}

	cs := FlattenCodeSystem(res)
	require.Len(t, cs.Properties, 2)
	assert.Equal(t, []PropertyValue{
		{Concept: "A", Property: "inactive", Value: "true"},
		{Concept: "A", Property: "weight", Value: "1.5"},
		{Concept: "A", Property: "rank", Value: "3"},
		{Concept: "B", Property: "subsumedBy", Value: "A"},
	}, cs.Values)
}

func TestFlattenCodeSystem_HierarchyMeaning(t *testing.T) {
	res := fhirmodels.Resource{
		"resourceType":     "CodeSystem",
		"hierarchyMeaning": "is-a",
		"concept":          []interface{}{concept("A", "", concept("B", ""))},
	}
	cs := FlattenCodeSystem(res)
	assert.Equal(t, []PropertyValue{{Concept: "B", Property: "is-a", Value: "A"}}, cs.Values)
	assert.Equal(t, "is-a", cs.Properties[0].Code)
}

func largeCodeSystem(n int) fhirmodels.Resource {
	concepts := make([]interface{}, n)
	for i := range concepts {
		concepts[i] = concept(fmt.Sprintf("C%d", i), "")
	}
	return fhirmodels.Resource{
		"resourceType": "CodeSystem",
		"id":           "big",
		"url":          "http://example.org/big",
		"content":      "complete",
		"concept":      concepts,
	}
}

func TestCodingTable_DeleteCascadesInBatches(t *testing.T) {
	env := newTestEnv(t)
	db := newFakeDB()
	importer := &recordingImporter{db: db}
	table := NewCodingTable(env, importer)
	ctx := context.Background()

	res := largeCodeSystem(1201)
	require.NoError(t, table.IndexResource(ctx, db, res, true))
	require.Len(t, db.rows("Coding"), 1201)
	require.Len(t, db.rows("Coding_Property"), 1201)

	require.NoError(t, table.DeleteValuesForResource(ctx, db, res))

	assert.Equal(t, 3, db.countSQL(`DELETE FROM "Coding_Property"`))
	assert.Equal(t, 1, db.countSQL(`DELETE FROM "Coding" `))
	assert.Equal(t, 1, db.countSQL(`DELETE FROM "CodeSystem_Property"`))
	assert.Empty(t, db.rows("Coding"))
	assert.Empty(t, db.rows("Coding_Property"))
	assert.Empty(t, db.rows("CodeSystem_Property"))
}

func TestCodingTable_OnlyCompleteAndExampleAreImported(t *testing.T) {
	env := newTestEnv(t)
	db := newFakeDB()
	importer := &recordingImporter{db: db}
	table := NewCodingTable(env, importer)
	ctx := context.Background()

	for _, content := range []string{"complete", "example", "fragment", "not-present", "supplement"} {
		res := largeCodeSystem(1)
		res["content"] = content
		require.NoError(t, table.IndexResource(ctx, db, res, true))
	}
	require.NoError(t, table.IndexResource(ctx, db, fhirmodels.Resource{"resourceType": "ValueSet", "id": "vs"}, true))
	assert.Len(t, importer.imports, 2)

	require.NoError(t, NewCodingTable(env, nil).IndexResource(ctx, db, largeCodeSystem(1), true))
	assert.Len(t, importer.imports, 2)
}

func TestCodingTable_PurgeValuesBefore(t *testing.T) {
	env := newTestEnv(t)
	db := newFakeDB()
	table := NewCodingTable(env, &recordingImporter{db: db})

	require.NoError(t, table.PurgeValuesBefore(context.Background(), db, "Patient", time.Now()))
	assert.Empty(t, db.sql)

	err := table.PurgeValuesBefore(context.Background(), db, "CodeSystem", time.Now())
	require.Error(t, err, "the fake cannot evaluate the lastUpdated range")
	assert.Equal(t, `SELECT "id" FROM "CodeSystem" WHERE "lastUpdated" < $1`, db.sql[0])
}

func TestExpandElements_ValueSet(t *testing.T) {
	res := fhirmodels.Resource{
		"resourceType": "ValueSet",
		"compose": map[string]interface{}{
			"include": []interface{}{
				map[string]interface{}{
					"system": "http://loinc.org",
					"concept": []interface{}{
						map[string]interface{}{"code": "8310-5", "display": "Body temperature"},
						map[string]interface{}{"code": "8310-5", "display": "Body temperature"},
						map[string]interface{}{"display": "no code"},
					},
				},
				map[string]interface{}{"system": "http://snomed.info/sct"},
			},
		},
	}
	elems, err := ExpandElements(res)
	require.NoError(t, err)
	assert.Equal(t, []ValueSetElement{{System: "http://loinc.org", Code: "8310-5", Display: "Body temperature"}}, elems)
}

func TestExpandElements_CodeSystemKeepsDisplayedConcepts(t *testing.T) {
	res := fhirmodels.Resource{
		"resourceType": "CodeSystem",
		"url":          "http://example.org/cs",
		"concept":      []interface{}{concept("A", "Ay", concept("B", ""), concept("C", "Sea"))},
	}
	elems, err := ExpandElements(res)
	require.NoError(t, err)
	assert.Equal(t, []ValueSetElement{
		{System: "http://example.org/cs", Code: "A", Display: "Ay"},
		{System: "http://example.org/cs", Code: "C", Display: "Sea"},
	}, elems)
}

func TestValueSetElementTable_Index(t *testing.T) {
	env := newTestEnv(t)
	table := NewValueSetElementTable(env)
	db := newFakeDB()
	ctx := context.Background()

	res := fhirmodels.Resource{
		"resourceType": "CodeSystem",
		"id":           "cs1",
		"url":          "http://example.org/cs",
		"concept":      []interface{}{concept("B", "Bee"), concept("A", "Ay")},
	}
	require.NoError(t, table.IndexResource(ctx, db, res, true))

	rows := db.rows("ValueSetElement")
	require.Len(t, rows, 2)
	assert.Equal(t, "A", rows[0]["code"])
	assert.Equal(t, "B", rows[1]["code"])

	execs := db.execs
	require.NoError(t, table.IndexResource(ctx, db, res, false))
	assert.Equal(t, execs, db.execs)

	require.NoError(t, table.IndexResource(ctx, db, fhirmodels.Resource{"resourceType": "Patient", "id": "p1"}, true))
	assert.Equal(t, execs, db.execs)
}
