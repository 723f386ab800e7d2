package searchindex

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/fhirindex/internal/search"
)

// Handler exposes classification, search and reindex on the admin server.
type Handler struct {
	svc *Service
}

// NewHandler creates a new admin handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers admin routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/classify/:type", h.Classify)
	g.GET("/search/:type", h.Search)
	g.GET("/search/:type/sql", h.SearchSQL)
	g.POST("/reindex", h.Reindex)
}

// Classify handles GET /classify/:type.
func (h *Handler) Classify(c echo.Context) error {
	params, err := h.svc.Classifications(c.Param("type"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, params)
}

// Search handles GET /search/:type and returns a searchset Bundle.
func (h *Handler) Search(c echo.Context) error {
	req, err := h.svc.ParseSearch(c.Param("type"), c.QueryParams())
	if err != nil {
		return parseError(err)
	}
	result, err := h.svc.Search(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}

	entries := make([]map[string]interface{}, 0, len(result.Resources))
	for _, res := range result.Resources {
		entries = append(entries, map[string]interface{}{
			"fullUrl":  res.ResourceType() + "/" + res.ID(),
			"resource": res,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"total":        result.Total,
		"entry":        entries,
	})
}

// SearchSQL handles GET /search/:type/sql and returns the rendered SQL
// without running it.
func (h *Handler) SearchSQL(c echo.Context) error {
	req, err := h.svc.ParseSearch(c.Param("type"), c.QueryParams())
	if err != nil {
		return parseError(err)
	}
	built, err := h.svc.BuildSearch(req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, built)
}

type reindexRequest struct {
	ResourceTypes []string `json:"resourceTypes"`
}

// Reindex handles POST /reindex. An empty body reindexes every type.
func (h *Handler) Reindex(c echo.Context) error {
	var req reindexRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	result, err := h.svc.Reindex(c.Request().Context(), req.ResourceTypes...)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func parseError(err error) error {
	if errors.Is(err, ErrUnknownResourceType) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownResourceType):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, search.ErrUnknownParameter):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
