// Package searchindex is the repository-facing side of the lookup tables.
// It keeps the resource tables and every lookup table in step with the
// resources written through it, and turns parsed searches into SQL.
package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// ErrUnknownResourceType is returned for a resource type the catalog
// defines no search parameters for.
var ErrUnknownResourceType = errors.New("unknown resource type")

// Reindex defaults.
const (
	DefaultReindexWorkers  = 4
	DefaultReindexPageSize = 500
)

// Options tunes bulk operations.
type Options struct {
	Workers  int
	PageSize int
}

// Service indexes resources and builds searches.
type Service struct {
	db       db.DB
	registry *lookup.Registry
	env      *lookup.Env
	logger   zerolog.Logger
	workers  int
	pageSize int
}

// NewService wires a service over pool. registry and env must come from
// the same lookup.NewEnv call.
func NewService(pool db.DB, registry *lookup.Registry, env *lookup.Env, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = DefaultReindexWorkers
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultReindexPageSize
	}
	return &Service{
		db:       pool,
		registry: registry,
		env:      env,
		logger:   env.Logger.With().Str("component", "searchindex").Logger(),
		workers:  opts.Workers,
		pageSize: opts.PageSize,
	}
}

// IndexResource writes res to its resource table and to every lookup
// table in one transaction. A resource without an id is assigned a new
// UUID and treated as created. meta.lastUpdated is set to now unless a
// created resource already carries one. Both are written back into res.
func (s *Service) IndexResource(ctx context.Context, res fhirmodels.Resource, create bool) (err error) {
	start := time.Now()
	defer func() { s.env.Metrics.Observe("index_resource", start, err) }()

	if res.ResourceType() == "" {
		return fmt.Errorf("index resource: missing resourceType")
	}
	if res.ID() == "" {
		res["id"] = uuid.New().String()
		create = true
	}
	stampLastUpdated(res, create, time.Now())

	return db.RunInTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.upsertResources(ctx, tx, []fhirmodels.Resource{res}); err != nil {
			return err
		}
		for _, t := range s.registry.Tables() {
			if err := t.IndexResource(ctx, tx, res, create); err != nil {
				return fmt.Errorf("index %s/%s: %w", res.ResourceType(), res.ID(), err)
			}
		}
		return nil
	})
}

// DeleteResource marks res deleted and removes its lookup rows.
func (s *Service) DeleteResource(ctx context.Context, res fhirmodels.Resource) (err error) {
	start := time.Now()
	defer func() { s.env.Metrics.Observe("delete_resource", start, err) }()

	if res.ResourceType() == "" || res.ID() == "" {
		return fmt.Errorf("delete resource: resourceType and id are required")
	}

	sql, args, err := sq.Update(search.Ident(res.ResourceType())).
		Set(search.Ident("deleted"), true).
		Set(search.Ident("lastUpdated"), time.Now().UTC()).
		Where(sq.Eq{search.Ident("id"): res.ID()}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	return db.RunInTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("delete %s/%s: %w", res.ResourceType(), res.ID(), err)
		}
		for _, t := range s.registry.Tables() {
			if err := t.DeleteValuesForResource(ctx, tx, res); err != nil {
				return fmt.Errorf("delete %s/%s: %w", res.ResourceType(), res.ID(), err)
			}
		}
		return nil
	})
}

// PurgeBefore permanently removes resources of resourceType last updated
// before the cutoff, together with their lookup rows.
func (s *Service) PurgeBefore(ctx context.Context, resourceType string, before time.Time) (err error) {
	start := time.Now()
	defer func() { s.env.Metrics.Observe("purge", start, err) }()

	if !s.env.Params.HasResourceType(resourceType) {
		return fmt.Errorf("%w: %s", ErrUnknownResourceType, resourceType)
	}

	sql, args, err := sq.Delete(search.Ident(resourceType)).
		Where(sq.Lt{search.Ident("lastUpdated"): before}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build purge: %w", err)
	}

	return db.RunInTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
		// lookup rows first: their purge selects from the resource table
		for _, t := range s.registry.Tables() {
			if err := t.PurgeValuesBefore(ctx, tx, resourceType, before); err != nil {
				return fmt.Errorf("purge %s: %w", t.TableName(resourceType), err)
			}
		}
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("purge %s: %w", resourceType, err)
		}
		s.logger.Info().
			Str("resource_type", resourceType).
			Time("before", before).
			Int64("resources", tag.RowsAffected()).
			Msg("purged resources")
		return nil
	})
}

// upsertResources writes the resource rows of a single-type batch,
// including every column-strategy parameter.
func (s *Service) upsertResources(ctx context.Context, q db.Querier, resources []fhirmodels.Resource) error {
	if len(resources) == 0 {
		return nil
	}
	rt := resources[0].ResourceType()
	columns, err := s.columnsOf(rt)
	if err != nil {
		return err
	}

	names := []string{search.Ident("id"), search.Ident("content"), search.Ident("lastUpdated"), search.Ident("deleted")}
	updates := `"content" = EXCLUDED."content", "lastUpdated" = EXCLUDED."lastUpdated", "deleted" = false`
	for _, c := range columns {
		ident := search.Ident(c.col.Name)
		names = append(names, ident)
		updates += ", " + ident + " = EXCLUDED." + ident
	}

	b := sq.Insert(search.Ident(rt)).
		Columns(names...).
		Suffix(`ON CONFLICT ("id") DO UPDATE SET ` + updates)
	for _, res := range resources {
		if res.ResourceType() != rt {
			return lookup.ErrMixedResourceTypes
		}
		content, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", rt, res.ID(), err)
		}
		row := []interface{}{res.ID(), string(content), res.LastUpdated(), false}
		for _, c := range columns {
			v, err := s.columnValue(res, c)
			if err != nil {
				return err
			}
			row = append(row, v)
		}
		b = b.Values(row...)
	}

	sql, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return fmt.Errorf("build %s upsert: %w", rt, err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", rt, err)
	}
	return nil
}

// stampLastUpdated sets meta.lastUpdated to now. A create keeps a value the
// caller supplied; an update never does, so purge-by-age sees the write.
func stampLastUpdated(res fhirmodels.Resource, create bool, now time.Time) {
	if create && !res.LastUpdated().IsZero() {
		return
	}
	meta := fhirmodels.AsObject(res["meta"])
	if meta == nil {
		meta = map[string]interface{}{}
		res["meta"] = meta
	}
	meta["lastUpdated"] = now.UTC().Format(time.RFC3339Nano)
}
