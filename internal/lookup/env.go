// Package lookup projects FHIR resources into lookup tables and builds the
// search predicates that read them back. Each table owns one physical shape
// (per resource type such as "Patient_Token", or global such as
// "HumanName") and one extraction rule.
package lookup

import (
	"fmt"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/platform/fhirpath"
	"github.com/ehr/fhirindex/internal/platform/schema"
	"github.com/ehr/fhirindex/internal/platform/telemetry"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// Statement size limits for bulk writes.
const (
	DefaultInsertBatchSize = 5000
	DefaultDeleteBatchSize = 500
)

// Env carries the collaborators shared by every table.
type Env struct {
	Schema  *schema.Service
	Paths   *fhirpath.Engine
	Params  *searchparam.Catalog
	Logger  zerolog.Logger
	Metrics *telemetry.IndexMetrics

	// InsertBatchSize bounds the rows of one INSERT statement.
	InsertBatchSize int
	// DeleteBatchSize bounds the ids of one cascading DELETE statement.
	DeleteBatchSize int

	types otter.Cache[string, []string]
}

// NewEnv builds an Env with default batch sizes. cacheSize bounds the memo
// of resolved element types.
func NewEnv(s *schema.Service, params *searchparam.Catalog, logger zerolog.Logger, cacheSize int) (*Env, error) {
	if cacheSize <= 0 {
		cacheSize = 10_000
	}
	types, err := otter.MustBuilder[string, []string](cacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("build element type cache: %w", err)
	}
	return &Env{
		Schema:          s,
		Paths:           fhirpath.NewEngine(s),
		Params:          params,
		Logger:          logger,
		InsertBatchSize: DefaultInsertBatchSize,
		DeleteBatchSize: DefaultDeleteBatchSize,
		types:           types,
	}, nil
}

// Close releases the element type memo.
func (e *Env) Close() {
	e.types.Close()
}

// ElementTypes returns the declared datatypes a parameter's expression
// reaches on resourceType. Branches rooted at other resource types and
// branches that continue past resolve() are skipped; an as/ofType cast
// replaces the declared types of its branch. Resolution failures wrap
// schema.ErrUnknownProperty and are not memoized.
func (e *Env) ElementTypes(def *searchparam.Definition, resourceType string) ([]string, error) {
	key := resourceType + "|" + def.Code + "|" + def.Expression
	if types, ok := e.types.Get(key); ok {
		return types, nil
	}

	x, err := e.Paths.Compile(def.Expression)
	if err != nil {
		return nil, fmt.Errorf("search parameter %s.%s: %w", resourceType, def.Code, err)
	}

	var types []string
	for _, p := range x.Paths() {
		if p.Opaque {
			continue
		}
		switch p.Root {
		case "", resourceType, "Resource", "DomainResource":
		default:
			continue
		}
		resolved, err := e.Schema.PropertyTypes(resourceType, p.Segments)
		if err != nil {
			return nil, fmt.Errorf("search parameter %s.%s: %w", resourceType, def.Code, err)
		}
		if p.Cast != "" {
			resolved = []string{p.Cast}
		}
		types = appendUnique(types, resolved...)
	}

	e.types.Set(key, types)
	return types, nil
}

// evaluate runs a parameter's expression against a resource.
func (e *Env) evaluate(res fhirmodels.Resource, def *searchparam.Definition) ([]fhirpath.TypedValue, error) {
	values, err := e.Paths.Evaluate(res, def.Expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s.%s: %w", res.ResourceType(), def.Code, err)
	}
	return values, nil
}

func (e *Env) insertBatchSize() int {
	if e.InsertBatchSize <= 0 {
		return DefaultInsertBatchSize
	}
	return e.InsertBatchSize
}

func (e *Env) deleteBatchSize() int {
	if e.DeleteBatchSize <= 0 {
		return DefaultDeleteBatchSize
	}
	return e.DeleteBatchSize
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		found := false
		for _, d := range dst {
			if d == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
