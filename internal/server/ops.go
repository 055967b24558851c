package server

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/advisor/internal/agent/telemetry"
)

// OpsHandler exposes process-wide pipeline statistics. Authentication is
// applied by the caller's group.
type OpsHandler struct {
	Telemetry *telemetry.Telemetry
	Queue     QueueMonitor
}

func (h *OpsHandler) Register(g *echo.Group) {
	g.GET("/performance", h.performance)
	g.GET("/dashboard", h.dashboard)
	g.GET("/queue", h.queue)
}

type performanceResponse struct {
	Metrics telemetry.Metrics `json:"metrics"`
	Report  string            `json:"report"`
}

func (h *OpsHandler) snapshot() performanceResponse {
	if h.Telemetry == nil {
		return performanceResponse{}
	}
	return performanceResponse{Metrics: h.Telemetry.GetMetrics(), Report: h.Telemetry.GetPerformanceReport()}
}

// performance returns aggregated stage and run statistics.
//
//	@Summary  Pipeline performance statistics
//	@Tags     ops
//	@Security BearerAuth
//	@Produce  json
//	@Router   /api/ops/performance [get]
func (h *OpsHandler) performance(c echo.Context) error {
	return c.JSON(http.StatusOK, h.snapshot())
}

type queueResponse struct {
	Queued          int64      `json:"queued"`
	Pending         int64      `json:"pending"`
	Lag             int64      `json:"lag"`
	Consumers       int64      `json:"consumers"`
	OldestIdleMS    int64      `json:"oldest_idle_ms"`
	OldestRunID     string     `json:"oldest_run_id,omitempty"`
	Completed       int64      `json:"completed"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
}

// queue reports the run queue backlog and completion events.
func (h *OpsHandler) queue(c echo.Context) error {
	if h.Queue == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run queue disabled")
	}
	b, err := h.Queue.Backlog(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	resp := queueResponse{
		Queued:       b.Queued,
		Pending:      b.Pending,
		Lag:          b.Lag,
		Consumers:    b.Consumers,
		OldestIdleMS: b.OldestIdle.Milliseconds(),
		OldestRunID:  b.OldestRunID,
		Completed:    b.Completed,
	}
	if !b.LastCompletedAt.IsZero() {
		resp.LastCompletedAt = &b.LastCompletedAt
	}
	return c.JSON(http.StatusOK, resp)
}

// dashboard renders the same data as a static HTML page.
func (h *OpsHandler) dashboard(c echo.Context) error {
	p := h.snapshot()
	const pre = "<pre style=\"background:#0b1220;border:1px solid #1f2937;border-radius:8px;padding:12px;overflow:auto\">"

	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset=\"utf-8\"><meta name=\"viewport\" content=\"width=device-width, initial-scale=1\"><title>Advisor Ops</title></head><body style=\"font-family:system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial,sans-serif; color:#e5e7eb; background:#0f172a;\">")
	b.WriteString("<div style=\"max-width:960px;margin:24px auto;padding:0 16px\">")
	b.WriteString("<h1 style=\"font-size:18px;font-weight:600;margin-bottom:8px\">Advisory Pipeline</h1>")
	b.WriteString(pre + "<code>")
	if raw, err := json.MarshalIndent(p.Metrics, "", "  "); err == nil {
		b.WriteString(template.HTMLEscapeString(string(raw)))
	}
	b.WriteString("</code></pre>")
	if p.Report != "" {
		b.WriteString("<h2 style=\"font-size:14px;font-weight:600;margin:16px 0 8px\">Report</h2>")
		b.WriteString(pre)
		b.WriteString(template.HTMLEscapeString(p.Report))
		b.WriteString("</pre>")
	}
	b.WriteString("</div></body></html>")
	return c.HTML(http.StatusOK, b.String())
}
