package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var runsTracer trace.Tracer = otel.Tracer("advisor/internal/server/runs")

// RunsHandler serves pipeline runs. Store is optional; without it runs are
// executed but not retrievable later. Queue enables ?async=true.
type RunsHandler struct {
	Pipeline PipelineRunner
	Store    store.RunStore
	Queue    Enqueuer
	Logger   *log.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

// runResponse is the entry-point result plus persistence metadata.
type runResponse struct {
	core.Result
	Persisted bool `json:"persisted"`
}

type queuedResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func (h *RunsHandler) create(c echo.Context) error {
	var req core.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx, span := runsTracer.Start(c.Request().Context(), "http.runs.create",
		trace.WithAttributes(attribute.String("run.output_mode", req.OutputMode)))
	defer span.End()

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		return h.enqueue(c, req)
	}

	res, err := h.Pipeline.Run(ctx, req)
	if err != nil {
		if errors.Is(err, core.ErrEmptyQuestion) || errors.Is(err, core.ErrInvalidOutputMode) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	span.SetAttributes(attribute.String("run.id", res.RunID))

	resp := runResponse{Result: res}
	if h.Store != nil {
		if err := h.Store.Save(ctx, store.NewRun(req, res, time.Now())); err != nil {
			h.Logger.Printf("persist run %s: %v", res.RunID, err)
		} else {
			resp.Persisted = true
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// enqueue publishes the run for a worker; the result is fetched later by id.
func (h *RunsHandler) enqueue(c echo.Context, req core.Request) error {
	if h.Queue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run queue disabled")
	}
	ctx := c.Request().Context()
	subject, _ := SubjectFromContext(ctx)
	id, err := h.Queue.Enqueue(ctx, req, subject)
	if err != nil {
		if errors.Is(err, core.ErrEmptyQuestion) || errors.Is(err, core.ErrInvalidOutputMode) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, queuedResponse{RunID: id, Status: "queued"})
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run storage disabled")
	}
	run, err := h.Store.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.Store == nil {
		return c.JSON(http.StatusOK, []store.Run{})
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	runs, err := h.Store.List(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}
