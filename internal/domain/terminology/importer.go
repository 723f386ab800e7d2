package terminology

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/db"
)

const defaultPropertyType = "string"

// Importer writes flattened CodeSystems into "Coding", "CodeSystem_Property"
// and "Coding_Property". It satisfies lookup.TerminologyImporter.
type Importer struct {
	logger    zerolog.Logger
	batchSize int
}

// NewImporter creates an importer writing at most batchSize rows per
// statement.
func NewImporter(logger zerolog.Logger, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = lookup.DefaultInsertBatchSize
	}
	return &Importer{logger: logger, batchSize: batchSize}
}

var _ lookup.TerminologyImporter = (*Importer)(nil)

// ImportCodeSystem replaces the stored content of one CodeSystem. Codings
// and property definitions are upserted on (system, code) so their ids stay
// stable; property values are rewritten and codes no longer present are
// removed.
func (im *Importer) ImportCodeSystem(ctx context.Context, q db.Querier, cs *lookup.CodeSystemImport) error {
	if cs.ResourceID == "" {
		return fmt.Errorf("code system %s has no id", cs.URL)
	}
	q = db.Conn(ctx, q)

	if _, err := q.Exec(ctx,
		`DELETE FROM "Coding_Property" WHERE "coding" IN (SELECT "id" FROM "Coding" WHERE "system" = $1)`,
		cs.ResourceID); err != nil {
		return fmt.Errorf("clear property values: %w", err)
	}

	properties, err := im.upsertProperties(ctx, q, cs)
	if err != nil {
		return err
	}
	codings, err := im.upsertCodings(ctx, q, cs)
	if err != nil {
		return err
	}

	codes := make([]string, 0, len(cs.Concepts))
	for _, c := range cs.Concepts {
		codes = append(codes, c.Code)
	}
	if _, err := q.Exec(ctx,
		`DELETE FROM "Coding" WHERE "system" = $1 AND NOT ("code" = ANY($2))`,
		cs.ResourceID, codes); err != nil {
		return fmt.Errorf("delete removed codings: %w", err)
	}

	written, err := im.insertValues(ctx, q, cs, codings, properties)
	if err != nil {
		return err
	}

	im.logger.Info().
		Str("url", cs.URL).
		Str("resource_id", cs.ResourceID).
		Int("concepts", len(codings)).
		Int("properties", len(properties)).
		Int("values", written).
		Msg("imported code system")
	return nil
}

// propertyInfo is a stored property definition.
type propertyInfo struct {
	id  int64
	typ string
}

func (im *Importer) upsertProperties(ctx context.Context, q db.Querier, cs *lookup.CodeSystemImport) (map[string]propertyInfo, error) {
	out := make(map[string]propertyInfo, len(cs.Properties))
	types := make(map[string]string, len(cs.Properties))

	var defs []lookup.PropertyDefinition
	for _, p := range cs.Properties {
		if _, dup := types[p.Code]; dup {
			continue
		}
		if p.Type == "" {
			p.Type = defaultPropertyType
		}
		types[p.Code] = p.Type
		defs = append(defs, p)
	}

	for start := 0; start < len(defs); start += im.batchSize {
		end := min(start+im.batchSize, len(defs))
		b := sq.Insert(`"CodeSystem_Property"`).
			Columns(`"system"`, `"code"`, `"type"`, `"uri"`, `"description"`).
			Suffix(`ON CONFLICT ("system", "code") DO UPDATE SET "type" = EXCLUDED."type", "uri" = EXCLUDED."uri", "description" = EXCLUDED."description" RETURNING "id", "code"`)
		for _, p := range defs[start:end] {
			b = b.Values(cs.ResourceID, p.Code, p.Type, nullable(p.URI), nullable(p.Description))
		}
		ids, err := returningIDs(ctx, q, b)
		if err != nil {
			return nil, fmt.Errorf("upsert code system properties: %w", err)
		}
		for code, id := range ids {
			out[code] = propertyInfo{id: id, typ: types[code]}
		}
	}
	return out, nil
}

func (im *Importer) upsertCodings(ctx context.Context, q db.Querier, cs *lookup.CodeSystemImport) (map[string]int64, error) {
	out := make(map[string]int64, len(cs.Concepts))
	for start := 0; start < len(cs.Concepts); start += im.batchSize {
		end := min(start+im.batchSize, len(cs.Concepts))
		b := sq.Insert(`"Coding"`).
			Columns(`"system"`, `"code"`, `"display"`).
			Suffix(`ON CONFLICT ("system", "code") DO UPDATE SET "display" = EXCLUDED."display" RETURNING "id", "code"`)
		for _, c := range cs.Concepts[start:end] {
			b = b.Values(cs.ResourceID, c.Code, nullable(c.Display))
		}
		ids, err := returningIDs(ctx, q, b)
		if err != nil {
			return nil, fmt.Errorf("upsert codings: %w", err)
		}
		for code, id := range ids {
			out[code] = id
		}
	}
	return out, nil
}

// insertValues writes Coding_Property rows. Values of code-typed properties
// that name a coding of the same system also record it as target.
func (im *Importer) insertValues(ctx context.Context, q db.Querier, cs *lookup.CodeSystemImport, codings map[string]int64, properties map[string]propertyInfo) (int, error) {
	type row struct {
		coding, property int64
		target           interface{}
		value            string
	}
	var rows []row
	for _, v := range cs.Values {
		coding, ok := codings[v.Concept]
		if !ok {
			continue
		}
		prop, ok := properties[v.Property]
		if !ok {
			im.logger.Debug().Str("url", cs.URL).Str("property", v.Property).Msg("skipping value of undeclared property")
			continue
		}
		r := row{coding: coding, property: prop.id, value: v.Value}
		if prop.typ == "code" {
			if target, ok := codings[v.Value]; ok {
				r.target = target
			}
		}
		rows = append(rows, r)
	}

	for start := 0; start < len(rows); start += im.batchSize {
		end := min(start+im.batchSize, len(rows))
		b := sq.Insert(`"Coding_Property"`).Columns(`"coding"`, `"property"`, `"target"`, `"value"`)
		for _, r := range rows[start:end] {
			b = b.Values(r.coding, r.property, r.target, r.value)
		}
		sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
		if err != nil {
			return 0, fmt.Errorf("build property value insert: %w", err)
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return 0, fmt.Errorf("insert property values: %w", err)
		}
	}
	return len(rows), nil
}

// returningIDs runs an INSERT ... RETURNING "id", "code".
func returningIDs(ctx context.Context, q db.Querier, b sq.InsertBuilder) (map[string]int64, error) {
	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		out[code] = id
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
