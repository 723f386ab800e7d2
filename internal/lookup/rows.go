package lookup

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/platform/telemetry"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// codec maps a row type to its table columns. "resourceId" is implicit and
// always the first column.
type codec[T comparable] struct {
	columns []string
	values  func(row T) []interface{}
	scan    func(scan func(dest ...interface{}) error) (T, error)
	// compare defines canonical order. nil keeps extraction order, which
	// then has to be reproducible from the persisted rows via orderBy.
	compare func(a, b T) int
	orderBy []string
}

// owned pairs a row with the resource it belongs to.
type owned[T any] struct {
	resourceID string
	row        T
}

// rowTable implements the write side of a lookup table on top of a codec:
// load, diff, delete-then-insert, purge.
type rowTable[T comparable] struct {
	env       *Env
	name      string
	tableName func(resourceType string) string
	applies   func(resourceType string) bool
	extract   func(res fhirmodels.Resource) ([]T, error)
	codec     codec[T]
}

// Name identifies the table kind.
func (t *rowTable[T]) Name() string { return t.name }

// TableName returns the physical table for resourceType.
func (t *rowTable[T]) TableName(resourceType string) string { return t.tableName(resourceType) }

// IndexResource syncs the rows of a single resource.
func (t *rowTable[T]) IndexResource(ctx context.Context, q db.Querier, res fhirmodels.Resource, create bool) error {
	if !t.applies(res.ResourceType()) {
		return nil
	}
	return t.index(ctx, q, res.ResourceType(), []fhirmodels.Resource{res}, create)
}

// BatchIndexResources syncs the rows of many resources of one type.
func (t *rowTable[T]) BatchIndexResources(ctx context.Context, q db.Querier, resources []fhirmodels.Resource) error {
	rt, err := resourceTypeOf(resources)
	if err != nil {
		return err
	}
	if len(resources) == 0 || !t.applies(rt) {
		return nil
	}
	return t.index(ctx, q, rt, resources, false)
}

func (t *rowTable[T]) index(ctx context.Context, q db.Querier, resourceType string, resources []fhirmodels.Resource, create bool) (err error) {
	start := time.Now()
	defer func() { t.env.Metrics.Observe("index", start, err) }()

	table := t.tableName(resourceType)
	extracted := make(map[string][]T, len(resources))
	ids := make([]string, 0, len(resources))
	for _, res := range resources {
		id := res.ID()
		if id == "" {
			return fmt.Errorf("index %s: %s resource has no id", table, resourceType)
		}
		rows, err := t.extract(res)
		if err != nil {
			return fmt.Errorf("index %s/%s into %s: %w", resourceType, id, table, err)
		}
		sortRows(rows, t.codec.compare)
		if _, seen := extracted[id]; !seen {
			ids = append(ids, id)
		}
		extracted[id] = rows
	}

	changed := ids
	var stale []string
	if !create {
		persisted, err := t.load(ctx, q, table, ids)
		if err != nil {
			return err
		}
		changed = make([]string, 0, len(ids))
		for _, id := range ids {
			old := persisted[id]
			if Equal(extracted[id], old) {
				t.env.Metrics.Unchanged(table)
				continue
			}
			changed = append(changed, id)
			if len(old) > 0 {
				stale = append(stale, id)
			}
		}
	}

	if err := deleteForResources(ctx, q, t.env, table, stale); err != nil {
		return err
	}

	var inserts []owned[T]
	for _, id := range changed {
		for _, row := range extracted[id] {
			inserts = append(inserts, owned[T]{resourceID: id, row: row})
		}
	}
	return t.insert(ctx, q, table, inserts)
}

// load returns the persisted rows of the given resources in canonical order.
func (t *rowTable[T]) load(ctx context.Context, q db.Querier, table string, ids []string) (map[string][]T, error) {
	out := make(map[string][]T, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cols := quoteAll(append([]string{"resourceId"}, t.codec.columns...))
	b := sq.Select(cols...).
		From(search.Ident(table)).
		Where(sq.Eq{search.Ident("resourceId"): ids})
	if len(t.codec.orderBy) > 0 {
		b = b.OrderBy(quoteAll(t.codec.orderBy)...)
	}
	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s select: %w", table, err)
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s rows: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		row, err := t.codec.scan(func(dest ...interface{}) error {
			return rows.Scan(append([]interface{}{&id}, dest...)...)
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out[id] = append(out[id], row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}

	for id := range out {
		sortRows(out[id], t.codec.compare)
	}
	return out, nil
}

// insert writes rows in statements of at most InsertBatchSize rows.
func (t *rowTable[T]) insert(ctx context.Context, q db.Querier, table string, rows []owned[T]) error {
	size := t.env.insertBatchSize()
	cols := quoteAll(append([]string{"resourceId"}, t.codec.columns...))

	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		b := sq.Insert(search.Ident(table)).Columns(cols...)
		for _, r := range rows[start:end] {
			b = b.Values(append([]interface{}{r.resourceID}, t.codec.values(r.row)...)...)
		}
		sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
		if err != nil {
			return fmt.Errorf("build %s insert: %w", table, err)
		}
		if _, err := q.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("insert %s rows: %w", table, err)
		}
		t.env.Metrics.RowsWritten(table, telemetry.OpInsert, end-start)
	}
	return nil
}

// DeleteValuesForResource removes every row of res.
func (t *rowTable[T]) DeleteValuesForResource(ctx context.Context, q db.Querier, res fhirmodels.Resource) error {
	if !t.applies(res.ResourceType()) || res.ID() == "" {
		return nil
	}
	return deleteForResources(ctx, q, t.env, t.tableName(res.ResourceType()), []string{res.ID()})
}

// PurgeValuesBefore removes rows of resources last updated before the cutoff.
func (t *rowTable[T]) PurgeValuesBefore(ctx context.Context, q db.Querier, resourceType string, before time.Time) error {
	if !t.applies(resourceType) {
		return nil
	}
	return purgeBefore(ctx, q, t.env, t.tableName(resourceType), resourceType, before)
}

// deleteForResources deletes the rows of ids in statements of at most
// DeleteBatchSize ids.
func deleteForResources(ctx context.Context, q db.Querier, env *Env, table string, ids []string) error {
	size := env.deleteBatchSize()
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		sql, args, err := sq.Delete(search.Ident(table)).
			Where(sq.Eq{search.Ident("resourceId"): ids[start:end]}).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("build %s delete: %w", table, err)
		}
		tag, err := q.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("delete %s rows: %w", table, err)
		}
		env.Metrics.RowsWritten(table, telemetry.OpDelete, int(tag.RowsAffected()))
	}
	return nil
}

// purgeBefore deletes rows of table owned by resources of resourceType whose
// lastUpdated precedes before.
func purgeBefore(ctx context.Context, q db.Querier, env *Env, table, resourceType string, before time.Time) error {
	owners, ownerArgs, err := sq.Select(search.Ident("id")).
		From(search.Ident(resourceType)).
		Where(sq.Lt{search.Ident("lastUpdated"): before}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s purge: %w", table, err)
	}
	sql, args, err := sq.Delete(search.Ident(table)).
		Where(search.Ident("resourceId")+" IN ("+owners+")", ownerArgs...).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s purge: %w", table, err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("purge %s rows: %w", table, err)
	}
	n := int(tag.RowsAffected())
	env.Metrics.RowsWritten(table, telemetry.OpDelete, n)
	env.Logger.Info().Str("table", table).Time("before", before).Int("rows", n).Msg("purged lookup rows")
	return nil
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = search.Ident(n)
	}
	return out
}
