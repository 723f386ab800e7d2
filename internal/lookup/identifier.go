package lookup

import (
	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// IdentifierTable stores the identifiers of every resource type that
// defines an identifier search parameter.
type IdentifierTable struct {
	*globalTable[systemValueRow]
}

// NewIdentifierTable creates the "Identifier" table.
func NewIdentifierTable(env *Env) *IdentifierTable {
	t := &IdentifierTable{}
	applies := func(rt string) bool {
		_, ok := env.Params.Get(rt, "identifier")
		return ok
	}
	t.globalTable = newGlobalTable(env, "identifier", "Identifier", applies,
		map[string]string{"identifier": "value"},
		systemValueCodec)
	t.extract = func(res fhirmodels.Resource) ([]systemValueRow, error) {
		return systemValueRows(env, res, "identifier", fhirpath.KindIdentifier)
	}
	return t
}
