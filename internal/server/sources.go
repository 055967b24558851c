package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
)

const maxSourcesK = 50

// SourcesHandler previews what the research stage would retrieve.
type SourcesHandler struct {
	Index    core.GroundingIndex
	DefaultK int
}

func (h *SourcesHandler) Register(g *echo.Group) {
	g.GET("", h.search)
}

func (h *SourcesHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := h.DefaultK
	if v := c.QueryParam("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSourcesK {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be between 1 and 50")
		}
		k = n
	}
	if h.Index == nil {
		return c.JSON(http.StatusOK, []core.Source{})
	}
	sources, err := h.Index.Search(c.Request().Context(), q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, sources)
}
