package searchindex

import (
	"fmt"

	"github.com/ehr/fhirindex/internal/search"
)

// SchemaDDL returns idempotent statements creating the per-type tables of
// every catalog resource type: the resource table with one column per
// column-strategy parameter, "<Type>_Token" and "<Type>_References".
// Columns added to the catalog later are picked up by ADD COLUMN IF NOT
// EXISTS; nothing is ever dropped.
func (s *Service) SchemaDDL() ([]string, error) {
	var out []string
	for _, rt := range s.env.Params.ResourceTypes() {
		columns, err := s.columnsOf(rt)
		if err != nil {
			return nil, err
		}
		table := search.Ident(rt)

		out = append(out,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "id"          UUID PRIMARY KEY,
    "content"     TEXT NOT NULL,
    "lastUpdated" TIMESTAMPTZ NOT NULL,
    "deleted"     BOOLEAN NOT NULL DEFAULT false
)`, table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("lastUpdated")`, search.Ident(rt+"_lastUpdated_idx"), table),
		)
		for _, c := range columns {
			col := search.Ident(c.col.Name)
			out = append(out, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`, table, col, c.col.SQLType()))
			using := ""
			if c.col.Array {
				using = "USING gin "
			}
			out = append(out, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s %s(%s)`,
				search.Ident(rt+"_"+c.col.Name+"_idx"), table, using, col))
		}

		token := rt + "_Token"
		out = append(out,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "id"         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "resourceId" UUID NOT NULL,
    "code"       TEXT NOT NULL,
    "system"     TEXT,
    "value"      TEXT,
    "index"      INTEGER NOT NULL
)`, search.Ident(token)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("resourceId")`, search.Ident(token+"_resourceId_idx"), search.Ident(token)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("code", "system", "value")`, search.Ident(token+"_code_idx"), search.Ident(token)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('simple', "value"))`, search.Ident(token+"_value_idx"), search.Ident(token)),
		)

		refs := rt + "_References"
		out = append(out,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "resourceId" UUID NOT NULL,
    "targetId"   TEXT NOT NULL,
    "code"       TEXT NOT NULL,
    PRIMARY KEY ("resourceId", "targetId", "code")
)`, search.Ident(refs)),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("targetId", "code")`, search.Ident(refs+"_targetId_idx"), search.Ident(refs)),
		)
	}
	return out, nil
}
