package searchparam

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Get(t *testing.T) {
	c := DefaultCatalog()

	d, ok := c.Get("Observation", "patient")
	require.True(t, ok)
	assert.Equal(t, TypeReference, d.Type)
	assert.Equal(t, "Observation.subject.where(resolve() is Patient)", d.Expression)

	d, ok = c.Get("Patient", "_lastUpdated")
	require.True(t, ok)
	assert.Equal(t, TypeDate, d.Type)

	_, ok = c.Get("Patient", "nope")
	assert.False(t, ok)
}

func TestDefaultCatalog_DerivesIdentifierParams(t *testing.T) {
	c := DefaultCatalog()
	d, ok := c.Get("Observation", "subject:identifier")
	require.True(t, ok)
	assert.Equal(t, TypeToken, d.Type)
	assert.Equal(t, "(Observation.subject).identifier", d.Expression)
	assert.True(t, d.IsDerivedIdentifier())

	_, ok = c.Get("Observation", "subject:identifier:identifier")
	assert.False(t, ok)
}

func TestCatalog_ForResource(t *testing.T) {
	c := DefaultCatalog()
	defs := c.ForResource("Patient")
	codes := make(map[string]bool)
	for i, d := range defs {
		codes[d.Code] = true
		if i > 0 {
			assert.LessOrEqual(t, defs[i-1].Code, d.Code)
		}
		assert.True(t, d.AppliesTo("Patient"), d.Code)
	}
	for _, want := range []string{"_id", "_tag", "name", "address-city", "email", "identifier", "organization", "organization:identifier"} {
		assert.True(t, codes[want], want)
	}
	assert.False(t, codes["code"])
}

func TestCatalog_AddValidates(t *testing.T) {
	c := NewCatalog()
	assert.Error(t, c.Add(&Definition{ID: "x", Base: []string{"Patient"}, Type: TypeToken}))
	assert.Error(t, c.Add(&Definition{ID: "x", Code: "x", Type: TypeToken}))
	assert.Error(t, c.Add(&Definition{ID: "x", Code: "x", Base: []string{"Patient"}, Type: "bogus"}))
	assert.NoError(t, c.Add(&Definition{ID: "x", Code: "x", Base: []string{"Patient"}, Type: TypeToken}))
}

func TestCatalog_LoadBundle(t *testing.T) {
	body := `{
	  "resourceType": "Bundle",
	  "entry": [
	    {"resource": {"resourceType": "SearchParameter", "id": "Device-owner", "code": "owner", "base": ["Device"], "type": "reference", "expression": "Device.owner"}},
	    {"resource": {"resourceType": "Patient", "id": "p1"}},
	    {"resource": {"resourceType": "SearchParameter", "id": "Device-status", "code": "status", "base": ["Device"], "type": "token", "expression": "Device.status"}}
	  ]
	}`
	c := NewCatalog()
	n, err := c.LoadBundle(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok := c.Get("Device", "owner:identifier")
	assert.True(t, ok)
	assert.Equal(t, []string{"Device"}, c.ResourceTypes())
}

func TestCatalog_LoadBundleRejectsNonBundle(t *testing.T) {
	_, err := NewCatalog().LoadBundle(strings.NewReader(`{"resourceType":"Patient"}`))
	assert.Error(t, err)
}

func TestCatalog_HasResourceType(t *testing.T) {
	c := DefaultCatalog()
	assert.True(t, c.HasResourceType("Patient"))
	assert.False(t, c.HasResourceType("Spaceship"))
	assert.False(t, c.HasResourceType("Resource"))
	assert.False(t, c.HasResourceType("DomainResource"))
	assert.NotEmpty(t, c.ForResource("Spaceship"), "generic parameters still apply to any type")
}
