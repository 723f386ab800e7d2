package searchindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/panjf2000/ants/v2"

	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// ReindexResult summarizes a Reindex run.
type ReindexResult struct {
	RunID    string         `json:"runId"`
	Counts   map[string]int `json:"counts"`
	Duration time.Duration  `json:"duration"`
}

// Reindex rebuilds the resource columns and lookup rows of every live
// resource of the given types, or of every catalog type when none are
// given. Types are processed concurrently on a bounded worker pool; each
// page of a type is written in its own transaction. Failures of one type
// do not stop the others and are returned joined.
func (s *Service) Reindex(ctx context.Context, resourceTypes ...string) (*ReindexResult, error) {
	if len(resourceTypes) == 0 {
		resourceTypes = s.env.Params.ResourceTypes()
	}
	for _, rt := range resourceTypes {
		if !s.env.Params.HasResourceType(rt) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownResourceType, rt)
		}
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("create reindex pool: %w", err)
	}
	defer pool.Release()

	result := &ReindexResult{RunID: uuid.New().String(), Counts: make(map[string]int, len(resourceTypes))}
	logger := s.logger.With().Str("run_id", result.RunID).Logger()
	logger.Info().Strs("resource_types", resourceTypes).Int("workers", s.workers).Msg("reindex started")
	start := time.Now()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, rt := range resourceTypes {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			n, err := s.reindexType(ctx, rt)
			mu.Lock()
			defer mu.Unlock()
			result.Counts[rt] = n
			if err != nil {
				errs = append(errs, fmt.Errorf("reindex %s: %w", rt, err))
				logger.Error().Err(err).Str("resource_type", rt).Int("indexed", n).Msg("reindex failed")
				return
			}
			logger.Debug().Str("resource_type", rt).Int("indexed", n).Msg("reindexed resource type")
		}); err != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("schedule %s: %w", rt, err))
			mu.Unlock()
		}
	}
	wg.Wait()

	result.Duration = time.Since(start)
	err = errors.Join(errs...)
	s.env.Metrics.Observe("reindex", start, err)
	logger.Info().Dur("duration", result.Duration).Int("failed", len(errs)).Msg("reindex finished")
	return result, err
}

// reindexType pages through the live rows of resourceType in id order.
func (s *Service) reindexType(ctx context.Context, resourceType string) (int, error) {
	total := 0
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := s.loadPage(ctx, resourceType, cursor)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}

		err = db.RunInTx(ctx, s.db, func(ctx context.Context, tx pgx.Tx) error {
			if err := s.upsertResources(ctx, tx, page); err != nil {
				return err
			}
			for _, t := range s.registry.Tables() {
				if err := t.BatchIndexResources(ctx, tx, page); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += len(page)
		s.env.Metrics.Reindexed(resourceType, len(page))
		if len(page) < s.pageSize {
			return total, nil
		}
		cursor = page[len(page)-1].ID()
	}
}

func (s *Service) loadPage(ctx context.Context, resourceType, cursor string) ([]fhirmodels.Resource, error) {
	b := sq.Select(search.Ident("id"), search.Ident("content")).
		From(search.Ident(resourceType)).
		Where(search.Ident("deleted") + " = false")
	if cursor != "" {
		b = b.Where(sq.Gt{search.Ident("id"): cursor})
	}
	sql, args, err := b.OrderBy(search.Ident("id")).
		Limit(uint64(s.pageSize)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build page query: %w", err)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", resourceType, err)
	}
	defer rows.Close()

	var page []fhirmodels.Resource
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scan %s: %w", resourceType, err)
		}
		res, err := fhirmodels.ParseResource([]byte(content))
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", resourceType, id, err)
		}
		res["id"] = id
		page = append(page, res)
	}
	return page, rows.Err()
}
