package terminology

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/db"
)

// Expander reads expansions from "ValueSetElement" and codings from
// "Coding".
type Expander struct {
	db db.Querier
}

// NewExpander creates an expander over q.
func NewExpander(q db.Querier) *Expander {
	return &Expander{db: q}
}

// Expand returns a page of the cached expansion of the ValueSet or
// CodeSystem with the given canonical url. Filter matches code or display
// case-insensitively.
func (e *Expander) Expand(ctx context.Context, req ExpandRequest) (*Expansion, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	count := req.Count
	if count <= 0 {
		count = DefaultExpandCount
	}
	if count > MaxExpandCount {
		count = MaxExpandCount
	}
	offset := max(req.Offset, 0)

	owners := `"resourceId" IN (` +
		`SELECT "id" FROM "ValueSet" WHERE ? = ANY("url") AND "deleted" = false ` +
		`UNION SELECT "id" FROM "CodeSystem" WHERE ? = ANY("url") AND "deleted" = false)`
	b := sq.Select(`"system"`, `"code"`, `"display"`).
		From(`"ValueSetElement"`).
		Where(owners, req.URL, req.URL)
	if filter := strings.TrimSpace(req.Filter); filter != "" {
		pattern := "%" + filter + "%"
		b = b.Where(sq.Or{sq.ILike{`"code"`: pattern}, sq.ILike{`"display"`: pattern}})
	}
	b = b.OrderBy(`"display"`, `"code"`).Limit(uint64(count))
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}
	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build expansion query: %w", err)
	}

	rows, err := db.Conn(ctx, e.db).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", req.URL, err)
	}
	defer rows.Close()

	out := &Expansion{URL: req.URL, Offset: offset, Contains: []lookup.ValueSetElement{}}
	for rows.Next() {
		var system, code, display *string
		if err := rows.Scan(&system, &code, &display); err != nil {
			return nil, fmt.Errorf("scan expansion: %w", err)
		}
		out.Contains = append(out.Contains, lookup.ValueSetElement{
			System:  deref(system),
			Code:    deref(code),
			Display: deref(display),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expand %s: %w", req.URL, err)
	}
	return out, nil
}

// Lookup returns a coding of the CodeSystem with canonical url system,
// together with its property values.
func (e *Expander) Lookup(ctx context.Context, system, code string) (*LookupResult, error) {
	if system == "" || code == "" {
		return nil, fmt.Errorf("system and code are required")
	}
	q := db.Conn(ctx, e.db)

	rows, err := q.Query(ctx,
		`SELECT c."id", c."display" FROM "Coding" c
		 JOIN "CodeSystem" s ON s."id" = c."system"
		 WHERE $1 = ANY(s."url") AND s."deleted" = false AND c."code" = $2
		 LIMIT 1`, system, code)
	if err != nil {
		return nil, fmt.Errorf("lookup %s|%s: %w", system, code, err)
	}
	var (
		id      int64
		display *string
		found   bool
	)
	for rows.Next() {
		if err := rows.Scan(&id, &display); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan coding: %w", err)
		}
		found = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup %s|%s: %w", system, code, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s|%s", ErrNotFound, system, code)
	}

	result := &LookupResult{System: system, Code: code, Display: deref(display)}

	rows, err = q.Query(ctx,
		`SELECT p."code", cp."value", t."code" FROM "Coding_Property" cp
		 JOIN "CodeSystem_Property" p ON p."id" = cp."property"
		 LEFT JOIN "Coding" t ON t."id" = cp."target"
		 WHERE cp."coding" = $1
		 ORDER BY p."code"`, id)
	if err != nil {
		return nil, fmt.Errorf("lookup properties of %s|%s: %w", system, code, err)
	}
	defer rows.Close()
	for rows.Next() {
		var prop string
		var value, target *string
		if err := rows.Scan(&prop, &value, &target); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		result.Properties = append(result.Properties, LookupPropertyItem{Code: prop, Value: deref(value), Target: deref(target)})
	}
	return result, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
