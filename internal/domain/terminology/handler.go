package terminology

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Terminology is the read side served over HTTP. *Expander satisfies it.
type Terminology interface {
	Expand(ctx context.Context, req ExpandRequest) (*Expansion, error)
	Lookup(ctx context.Context, system, code string) (*LookupResult, error)
}

// Handler exposes $expand and $lookup on the admin server.
type Handler struct {
	svc Terminology
}

// NewHandler creates a new terminology handler.
func NewHandler(svc Terminology) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers terminology routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ValueSet/$expand", h.ExpandValueSet)
	g.GET("/CodeSystem/$lookup", h.LookupCode)
}

// ExpandValueSet handles GET /ValueSet/$expand?url=...&filter=...&count=...
func (h *Handler) ExpandValueSet(c echo.Context) error {
	var req ExpandRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'url' is required")
	}

	exp, err := h.svc.Expand(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	contains := make([]map[string]interface{}, 0, len(exp.Contains))
	for _, e := range exp.Contains {
		item := map[string]interface{}{"code": e.Code}
		if e.System != "" {
			item["system"] = e.System
		}
		if e.Display != "" {
			item["display"] = e.Display
		}
		contains = append(contains, item)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"resourceType": "ValueSet",
		"url":          exp.URL,
		"expansion": map[string]interface{}{
			"identifier": uuid.New().String(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"offset":     exp.Offset,
			"contains":   contains,
		},
	})
}

// LookupCode handles GET /CodeSystem/$lookup?system=...&code=...
func (h *Handler) LookupCode(c echo.Context) error {
	system, code := c.QueryParam("system"), c.QueryParam("code")
	if system == "" || code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameters 'system' and 'code' are required")
	}
	res, err := h.svc.Lookup(c.Request().Context(), system, code)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res.Parameters())
}
