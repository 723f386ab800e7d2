package searchindex

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/search"
)

// Run with -update to rewrite testdata/*.golden after an intended change.
func TestBuildSearch_Golden(t *testing.T) {
	svc, _ := newTestService(t, &fakeDB{})
	cases := []struct {
		name    string
		filters []search.Filter
	}{
		{"gender=male,female", []search.Filter{{Code: "gender", Operator: search.OpEquals, Value: "male,female"}}},
		{"gender:missing=true", []search.Filter{{Code: "gender", Operator: search.OpMissing, Value: "true"}}},
	}

	var buf bytes.Buffer
	for _, tc := range cases {
		built, err := svc.BuildSearch(&search.Request{ResourceType: "Patient", Filters: tc.filters})
		require.NoError(t, err, tc.name)
		fmt.Fprintf(&buf, "-- %s\n%s\n%v\n%s\n\n", tc.name, built.SQL, built.Args, built.CountSQL)
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "patient_column_search", buf.Bytes())
}
