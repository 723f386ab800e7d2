package searchindex

import (
	"context"
	"fmt"
	"net/url"

	sq "github.com/Masterminds/squirrel"

	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/db"
	"github.com/ehr/fhirindex/internal/search"
	"github.com/ehr/fhirindex/internal/searchparam"
	"github.com/ehr/fhirindex/pkg/fhirmodels"
)

// SearchSQL is a rendered search: the page query and a count over the
// same predicates.
type SearchSQL struct {
	SQL       string        `json:"sql"`
	Args      []interface{} `json:"args"`
	CountSQL  string        `json:"countSql"`
	CountArgs []interface{} `json:"countArgs"`
}

// SearchResult is one page of matches.
type SearchResult struct {
	Total     int64                 `json:"total"`
	Resources []fhirmodels.Resource `json:"resources"`
}

// ParamInfo describes how one search parameter is stored.
type ParamInfo struct {
	Code     string           `json:"code"`
	Type     searchparam.Type `json:"type"`
	Strategy lookup.Strategy  `json:"strategy"`
	Table    string           `json:"table,omitempty"`
	Column   string           `json:"column"`
}

// ParseSearch parses query string values against the catalog.
func (s *Service) ParseSearch(resourceType string, values url.Values) (*search.Request, error) {
	if !s.env.Params.HasResourceType(resourceType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResourceType, resourceType)
	}
	return search.ParseRequest(resourceType, values, s.env.Params)
}

// BuildSearch renders req. Each filter and sort rule is dispatched to the
// lookup table serving its parameter, or to the resource-table column.
func (s *Service) BuildSearch(req *search.Request) (*SearchSQL, error) {
	q := search.NewQuery(req.ResourceType)

	for _, f := range req.Filters {
		def, impl, err := s.registry.Lookup(req.ResourceType, f.Code)
		if err != nil {
			return nil, err
		}
		var pred sq.Sqlizer
		if impl.Strategy == lookup.StrategyLookupTable {
			pred, err = impl.Table.BuildWhere(q, def, f)
		} else {
			pred, err = search.ColumnPredicate(q, search.ColumnFor(def, impl.ColumnName), f)
		}
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Code, err)
		}
		q.Where(pred)
	}

	for _, rule := range req.Sort {
		def, impl, err := s.registry.Lookup(req.ResourceType, rule.Code)
		if err != nil {
			return nil, err
		}
		if impl.Strategy == lookup.StrategyLookupTable {
			if err := impl.Table.AddOrderBy(q, def, rule); err != nil {
				return nil, fmt.Errorf("sort %s: %w", rule.Code, err)
			}
			continue
		}
		search.ColumnOrderBy(q, search.ColumnFor(def, impl.ColumnName), rule)
	}

	count := req.Count
	if count <= 0 {
		count = search.DefaultCount
	}
	q.Page(count, req.Offset)

	out := &SearchSQL{}
	var err error
	if out.SQL, out.Args, err = q.ToSql(); err != nil {
		return nil, fmt.Errorf("build search: %w", err)
	}
	if out.CountSQL, out.CountArgs, err = q.CountSql(); err != nil {
		return nil, fmt.Errorf("build count: %w", err)
	}
	return out, nil
}

// Search runs req and returns the page of matching resources with the
// total match count.
func (s *Service) Search(ctx context.Context, req *search.Request) (*SearchResult, error) {
	built, err := s.BuildSearch(req)
	if err != nil {
		return nil, err
	}
	q := db.Conn(ctx, s.db)

	rows, err := q.Query(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", req.ResourceType, err)
	}
	defer rows.Close()

	result := &SearchResult{Resources: []fhirmodels.Resource{}}
	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, fmt.Errorf("scan %s: %w", req.ResourceType, err)
		}
		res, err := fhirmodels.ParseResource([]byte(content))
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", req.ResourceType, id, err)
		}
		result.Resources = append(result.Resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", req.ResourceType, err)
	}
	rows.Close()

	countRows, err := q.Query(ctx, built.CountSQL, built.CountArgs...)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", req.ResourceType, err)
	}
	defer countRows.Close()
	for countRows.Next() {
		if err := countRows.Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
	}
	return result, countRows.Err()
}

// Classifications lists every search parameter of resourceType with its
// storage.
func (s *Service) Classifications(resourceType string) ([]ParamInfo, error) {
	if !s.env.Params.HasResourceType(resourceType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResourceType, resourceType)
	}
	defs := s.env.Params.ForResource(resourceType)
	out := make([]ParamInfo, 0, len(defs))
	for _, def := range defs {
		impl, err := s.registry.Classify(def, resourceType)
		if err != nil {
			return nil, err
		}
		info := ParamInfo{Code: def.Code, Type: def.Type, Strategy: impl.Strategy, Column: impl.ColumnName}
		if impl.Table != nil {
			info.Table = impl.Table.TableName(resourceType)
		}
		out = append(out, info)
	}
	return out, nil
}
