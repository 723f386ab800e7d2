package lookup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/telemetry"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// Concept is a flattened CodeSystem concept.
type Concept struct {
	Code    string
	Display string
}

// PropertyDefinition is a property declared by a CodeSystem.
type PropertyDefinition struct {
	Code        string
	Type        string
	URI         string
	Description string
}

// PropertyValue assigns a property value to a concept. Parent edges are
// PropertyValues of the hierarchy property whose Value is the parent code.
type PropertyValue struct {
	Concept  string
	Property string
	Value    string
}

// CodeSystemImport is the flattened content of a CodeSystem resource.
type CodeSystemImport struct {
	ResourceID string
	URL        string
	Concepts   []Concept
	Properties []PropertyDefinition
	Values     []PropertyValue
}

// TerminologyImporter materializes a flattened CodeSystem into the Coding,
// CodeSystem_Property and Coding_Property tables.
type TerminologyImporter interface {
	ImportCodeSystem(ctx context.Context, q db.Querier, cs *CodeSystemImport) error
}

// CodingTable flattens complete and example CodeSystems into the terminology
// tables and cascades their deletion.
type CodingTable struct {
	env      *Env
	importer TerminologyImporter
}

// NewCodingTable creates the coding table. importer may be nil, in which
// case CodeSystems are not imported.
func NewCodingTable(env *Env, importer TerminologyImporter) *CodingTable {
	return &CodingTable{env: env, importer: importer}
}

func (t *CodingTable) Name() string { return "coding" }

func (t *CodingTable) TableName(string) string { return "Coding" }

func (t *CodingTable) ColumnName(string) string { return "code" }

// IsIndexed is always false: codings are read through terminology
// operations, not search filters.
func (t *CodingTable) IsIndexed(*searchparam.Definition, string) (bool, error) {
	return false, nil
}

// IndexResource imports a complete or example CodeSystem.
func (t *CodingTable) IndexResource(ctx context.Context, q db.Querier, res fhirmodels.Resource, _ bool) error {
	if res.ResourceType() != "CodeSystem" {
		return nil
	}
	switch res.String("content") {
	case fhirmodels.CodeSystemContentComplete, fhirmodels.CodeSystemContentExample:
	default:
		return nil
	}
	if t.importer == nil {
		t.env.Logger.Debug().Str("url", res.String("url")).Msg("no terminology importer, skipping code system")
		return nil
	}

	cs := FlattenCodeSystem(res)
	if err := t.importer.ImportCodeSystem(ctx, q, cs); err != nil {
		return fmt.Errorf("import code system %s: %w", cs.URL, err)
	}
	return nil
}

// BatchIndexResources imports each CodeSystem of the batch.
func (t *CodingTable) BatchIndexResources(ctx context.Context, q db.Querier, resources []fhirmodels.Resource) error {
	if _, err := resourceTypeOf(resources); err != nil {
		return err
	}
	for _, res := range resources {
		if err := t.IndexResource(ctx, q, res, false); err != nil {
			return err
		}
	}
	return nil
}

// DeleteValuesForResource removes the codings of a CodeSystem.
func (t *CodingTable) DeleteValuesForResource(ctx context.Context, q db.Querier, res fhirmodels.Resource) error {
	if res.ResourceType() != "CodeSystem" || res.ID() == "" {
		return nil
	}
	return t.deleteCodeSystem(ctx, q, res.ID())
}

// PurgeValuesBefore removes the codings of CodeSystems last updated before
// the cutoff.
func (t *CodingTable) PurgeValuesBefore(ctx context.Context, q db.Querier, resourceType string, before time.Time) error {
	if resourceType != "CodeSystem" {
		return nil
	}
	sql, args, err := sq.Select(search.Ident("id")).
		From(search.Ident("CodeSystem")).
		Where(sq.Lt{search.Ident("lastUpdated"): before}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build code system purge: %w", err)
	}
	ids, err := queryStrings(ctx, q, sql, args...)
	if err != nil {
		return fmt.Errorf("select expired code systems: %w", err)
	}
	for _, id := range ids {
		if err := t.deleteCodeSystem(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

// deleteCodeSystem deletes Coding_Property rows of the system's codings in
// batches of DeleteBatchSize ids, then the codings, then the property
// definitions.
func (t *CodingTable) deleteCodeSystem(ctx context.Context, q db.Querier, systemID string) error {
	sql, args, err := sq.Select(search.Ident("id")).
		From(search.Ident("Coding")).
		Where(sq.Eq{search.Ident("system"): systemID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build coding select: %w", err)
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("select codings: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan coding id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate codings: %w", err)
	}

	size := t.env.deleteBatchSize()
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		if err := t.exec(ctx, q, "Coding_Property",
			sq.Delete(search.Ident("Coding_Property")).Where(sq.Eq{search.Ident("coding"): ids[start:end]})); err != nil {
			return err
		}
	}

	if err := t.exec(ctx, q, "Coding",
		sq.Delete(search.Ident("Coding")).Where(sq.Eq{search.Ident("system"): systemID})); err != nil {
		return err
	}
	return t.exec(ctx, q, "CodeSystem_Property",
		sq.Delete(search.Ident("CodeSystem_Property")).Where(sq.Eq{search.Ident("system"): systemID}))
}

func (t *CodingTable) exec(ctx context.Context, q db.Querier, table string, b sq.DeleteBuilder) error {
	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return fmt.Errorf("build %s delete: %w", table, err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s rows: %w", table, err)
	}
	t.env.Metrics.RowsWritten(table, telemetry.OpDelete, int(tag.RowsAffected()))
	return nil
}

// BuildWhere is not supported.
func (t *CodingTable) BuildWhere(_ *search.Query, def *searchparam.Definition, _ search.Filter) (sq.Sqlizer, error) {
	return nil, fmt.Errorf("coding table does not filter %s", def.Code)
}

// AddOrderBy is not supported.
func (t *CodingTable) AddOrderBy(_ *search.Query, def *searchparam.Definition, _ search.SortRule) error {
	return fmt.Errorf("coding table does not sort %s", def.Code)
}

// FlattenCodeSystem walks the concept tree of a CodeSystem into concepts,
// property definitions and property values. Children get a parent edge
// named by the property whose uri is the standard parent property, else by
// hierarchyMeaning, else "parent".
func FlattenCodeSystem(res fhirmodels.Resource) *CodeSystemImport {
	cs := &CodeSystemImport{ResourceID: res.ID(), URL: res.String("url")}

	parent := ""
	declared := make(map[string]bool)
	for _, p := range res.Array("property") {
		obj := fhirmodels.AsObject(p)
		code := fhirmodels.StringField(obj, "code")
		if code == "" {
			continue
		}
		def := PropertyDefinition{
			Code:        code,
			Type:        fhirmodels.StringField(obj, "type"),
			URI:         fhirmodels.StringField(obj, "uri"),
			Description: fhirmodels.StringField(obj, "description"),
		}
		cs.Properties = append(cs.Properties, def)
		declared[code] = true
		if def.URI == fhirmodels.ConceptPropertyParent && parent == "" {
			parent = code
		}
	}
	if parent == "" {
		parent = res.String("hierarchyMeaning")
	}
	if parent == "" {
		parent = "parent"
	}

	walkConcepts(res.Array("concept"), func(concept map[string]interface{}, parentCode string, seen bool) {
		code := fhirmodels.StringField(concept, "code")
		if parentCode != "" {
			if !declared[parent] {
				declared[parent] = true
				cs.Properties = append(cs.Properties, PropertyDefinition{
					Code: parent,
					Type: "code",
					URI:  fhirmodels.ConceptPropertyParent,
				})
			}
			cs.Values = append(cs.Values, PropertyValue{Concept: code, Property: parent, Value: parentCode})
		}
		if seen {
			return
		}
		cs.Concepts = append(cs.Concepts, Concept{Code: code, Display: fhirmodels.StringField(concept, "display")})
		for _, p := range fhirmodels.AsArray(concept["property"]) {
			obj := fhirmodels.AsObject(p)
			prop := fhirmodels.StringField(obj, "code")
			if value, ok := propertyValue(obj); ok && prop != "" {
				cs.Values = append(cs.Values, PropertyValue{Concept: code, Property: prop, Value: value})
			}
		}
	})
	return cs
}

// walkConcepts visits a concept tree depth first. Every occurrence of a
// code is reported, but its children are only descended into the first
// time, which also stops cycles.
func walkConcepts(concepts []interface{}, visit func(concept map[string]interface{}, parent string, seen bool)) {
	visited := make(map[string]bool)
	var walk func(concepts []interface{}, parent string)
	walk = func(concepts []interface{}, parent string) {
		for _, c := range concepts {
			obj := fhirmodels.AsObject(c)
			code := fhirmodels.StringField(obj, "code")
			if code == "" {
				continue
			}
			seen := visited[code]
			visit(obj, parent, seen)
			if seen {
				continue
			}
			visited[code] = true
			walk(fhirmodels.AsArray(obj["concept"]), code)
		}
	}
	walk(concepts, "")
}

// propertyValue renders the value[x] of a concept property.
func propertyValue(prop map[string]interface{}) (string, bool) {
	for _, key := range []string{"valueCode", "valueString", "valueDateTime"} {
		if s, ok := prop[key].(string); ok {
			return s, true
		}
	}
	if b, ok := prop["valueBoolean"].(bool); ok {
		return strconv.FormatBool(b), true
	}
	if n, ok := prop["valueInteger"].(float64); ok {
		return strconv.FormatInt(int64(n), 10), true
	}
	if n, ok := prop["valueDecimal"].(float64); ok {
		return strconv.FormatFloat(n, 'f', -1, 64), true
	}
	if coding := fhirmodels.AsObject(prop["valueCoding"]); coding != nil {
		if code := fhirmodels.StringField(coding, "code"); code != "" {
			return code, true
		}
	}
	return "", false
}

func queryStrings(ctx context.Context, q db.Querier, sql string, args ...interface{}) ([]string, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
