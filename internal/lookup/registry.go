package lookup

import (
	"fmt"

	"github.com/maypok86/otter"

	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
)

// Strategy says where a search parameter's values live.
type Strategy string

const (
	// StrategyColumn stores values in a column of the resource table.
	StrategyColumn Strategy = "column"
	// StrategyLookupTable stores values in a lookup table.
	StrategyLookupTable Strategy = "lookup-table"
)

// Implementation is the classification of a search parameter.
type Implementation struct {
	Strategy Strategy
	// ColumnName is the resource-table column for StrategyColumn and the
	// lookup-table column for StrategyLookupTable.
	ColumnName string
	// Table is set for StrategyLookupTable.
	Table Table
}

// Registry classifies search parameters and memoizes the result per
// (resource type, code). Build one at startup and share it.
type Registry struct {
	env        *Env
	priority   []Table
	tables     []Table
	references *ReferenceTable
	cache      otter.Cache[string, Implementation]
}

// NewRegistry creates the lookup tables and a classification cache holding
// up to cacheSize entries.
func NewRegistry(env *Env, importer TerminologyImporter, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 10_000
	}
	cache, err := otter.MustBuilder[string, Implementation](cacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("build classification cache: %w", err)
	}

	var (
		token        = NewTokenTable(env)
		references   = NewReferenceTable(env)
		humanName    = NewHumanNameTable(env)
		address      = NewAddressTable(env)
		contactPoint = NewContactPointTable(env)
		identifier   = NewIdentifierTable(env)
		coding       = NewCodingTable(env, importer)
		valueSet     = NewValueSetElementTable(env)
	)
	return &Registry{
		env: env,
		// first match wins
		priority: []Table{address, humanName, token, valueSet, references, coding},
		tables: []Table{
			token, references, humanName, address, contactPoint, identifier, coding, valueSet,
		},
		references: references,
		cache:      cache,
	}, nil
}

// Close releases the classification cache.
func (r *Registry) Close() {
	r.cache.Close()
}

// Tables returns every lookup table, in indexing order.
func (r *Registry) Tables() []Table {
	return r.tables
}

// References returns the reference table for graph traversal predicates.
func (r *Registry) References() *ReferenceTable {
	return r.references
}

// Classify returns the implementation of def on resourceType. Failures to
// resolve def against the schema are returned and not cached.
func (r *Registry) Classify(def *searchparam.Definition, resourceType string) (Implementation, error) {
	key := resourceType + "|" + def.Code
	if impl, ok := r.cache.Get(key); ok {
		return impl, nil
	}

	impl := Implementation{Strategy: StrategyColumn, ColumnName: CamelCase(def.Code)}
	for _, t := range r.priority {
		ok, err := t.IsIndexed(def, resourceType)
		if err != nil {
			return Implementation{}, fmt.Errorf("classify %s.%s: %w", resourceType, def.Code, err)
		}
		if ok {
			impl = Implementation{Strategy: StrategyLookupTable, ColumnName: t.ColumnName(def.Code), Table: t}
			break
		}
	}

	strategy := string(impl.Strategy)
	if impl.Table != nil {
		strategy = impl.Table.Name()
	}
	r.env.Metrics.Classified(strategy)
	r.env.Logger.Debug().
		Str("resource_type", resourceType).
		Str("code", def.Code).
		Str("strategy", strategy).
		Str("column", impl.ColumnName).
		Msg("classified search parameter")

	r.cache.Set(key, impl)
	return impl, nil
}

// Lookup finds the parameter code of resourceType and classifies it.
func (r *Registry) Lookup(resourceType, code string) (*searchparam.Definition, Implementation, error) {
	def, ok := r.env.Params.Get(resourceType, code)
	if !ok {
		return nil, Implementation{}, fmt.Errorf("%w: %s.%s", search.ErrUnknownParameter, resourceType, code)
	}
	impl, err := r.Classify(def, resourceType)
	if err != nil {
		return nil, Implementation{}, err
	}
	return def, impl, nil
}

// Warm classifies every parameter of every resource type in the catalog
// and returns how many were classified. The first failure is returned; a
// parameter that does not resolve is a configuration error.
func (r *Registry) Warm() (int, error) {
	n := 0
	for _, rt := range r.env.Params.ResourceTypes() {
		for _, def := range r.env.Params.ForResource(rt) {
			if _, err := r.Classify(def, rt); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}
