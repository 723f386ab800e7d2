package fhirpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/platform/schema"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

func newTestEngine() *Engine {
	return NewEngine(schema.NewDefault())
}

func observation() fhirmodels.Resource {
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
		"subject":       map[string]interface{}{"reference": "Patient/P1"},
		"performer":     []interface{}{map[string]interface{}{"reference": "Practitioner/D1"}},
		"valueQuantity": map[string]interface{}{"value": 38.5, "unit": "C"},
	}
}

func TestEvaluate_TypedMember(t *testing.T) {
	e := newTestEngine()
	out, err := e.Evaluate(observation(), "Observation.code")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "CodeableConcept", out[0].Type)
	assert.Equal(t, KindCodeableConcept, out[0].Kind())
}

func TestEvaluate_Primitive(t *testing.T) {
	e := newTestEngine()
	out, err := e.Evaluate(observation(), "Observation.status")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "code", out[0].Type)
	assert.Equal(t, KindPrimitive, out[0].Kind())
	assert.Equal(t, "final", out[0].PrimitiveString())
}

func TestEvaluate_ChoiceType(t *testing.T) {
	e := newTestEngine()
	out, err := e.Evaluate(observation(), "Observation.value")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Quantity", out[0].Type)

	out, err = e.Evaluate(observation(), "(Observation.value as Quantity)")
	require.NoError(t, err)
	assert.Len(t, out, 1)

	out, err = e.Evaluate(observation(), "Observation.value.ofType(CodeableConcept)")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEvaluate_UnionAndWhereResolve(t *testing.T) {
	e := newTestEngine()
	out, err := e.Evaluate(observation(), "Observation.subject.where(resolve() is Patient)")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindReference, out[0].Kind())

	out, err = e.Evaluate(observation(), "Observation.subject.where(resolve() is Group)")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = e.Evaluate(observation(), "Observation.subject | Observation.performer")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestEvaluate_WhereEquality(t *testing.T) {
	e := newTestEngine()
	patient := fhirmodels.Resource{
		"resourceType": "Patient",
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "555-1234"},
			map[string]interface{}{"system": "email", "value": "a@example.com"},
		},
	}
	out, err := e.Evaluate(patient, "Patient.telecom.where(system='email')")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ContactPoint", out[0].Type)
	assert.Equal(t, "a@example.com", out[0].Object()["value"])
}

func TestEvaluate_ResourceRoot(t *testing.T) {
	e := newTestEngine()
	res := observation()
	res["meta"] = map[string]interface{}{"tag": []interface{}{map[string]interface{}{"system": "s", "code": "c"}}}
	out, err := e.Evaluate(res, "Resource.meta.tag")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Coding", out[0].Type)
}

func TestEvaluate_BooleanExpression(t *testing.T) {
	e := newTestEngine()
	patient := fhirmodels.Resource{"resourceType": "Patient", "deceasedBoolean": true}
	out, err := e.Evaluate(patient, "Patient.deceased.exists() and Patient.deceased != false")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, true, out[0].Value)
}

func TestEvaluate_ReferenceIdentifier(t *testing.T) {
	e := newTestEngine()
	res := fhirmodels.Resource{
		"resourceType": "Observation",
		"subject": map[string]interface{}{
			"identifier": map[string]interface{}{"system": "http://mrn", "value": "123"},
		},
	}
	out, err := e.Evaluate(res, "(Observation.subject).identifier")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, KindIdentifier, out[0].Kind())
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{"", "Patient.", "Patient.name(", "'unterminated", "Patient.name )"} {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestCompile_Caches(t *testing.T) {
	e := newTestEngine()
	a, err := e.Compile("Patient.name")
	require.NoError(t, err)
	b, err := e.Compile("Patient.name")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestPaths(t *testing.T) {
	x, err := Parse("Observation.subject.where(resolve() is Patient) | Observation.code")
	require.NoError(t, err)
	paths := x.Paths()
	require.Len(t, paths, 2)
	assert.Equal(t, "Observation", paths[0].Root)
	assert.Equal(t, []string{"subject"}, paths[0].Segments)
	assert.Equal(t, []string{"code"}, paths[1].Segments)

	x, err = Parse("(Observation.value as CodeableConcept)")
	require.NoError(t, err)
	paths = x.Paths()
	require.Len(t, paths, 1)
	assert.Equal(t, "CodeableConcept", paths[0].Cast)

	x, err = Parse("Observation.subject.resolve().name")
	require.NoError(t, err)
	assert.True(t, x.Paths()[0].Opaque)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindIdentifier, KindOf("Identifier"))
	assert.Equal(t, KindContactPoint, KindOf("ContactPoint"))
	assert.Equal(t, KindPrimitive, KindOf("boolean"))
	assert.Equal(t, KindOther, KindOf("Quantity"))
}
