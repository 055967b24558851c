package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/agent/telemetry"
	"github.com/mohammad-safakhou/advisor/internal/queue/streams"
	"github.com/mohammad-safakhou/advisor/internal/store"
)

const shutdownTimeout = 10 * time.Second

// PipelineRunner is the pipeline entry point.
type PipelineRunner interface {
	Run(ctx context.Context, req core.Request) (core.Result, error)
}

// Enqueuer hands a run to the background worker and returns its run id.
type Enqueuer interface {
	Enqueue(ctx context.Context, req core.Request, submittedBy string) (string, error)
}

// QueueMonitor reports the run queue backlog.
type QueueMonitor interface {
	Backlog(ctx context.Context) (streams.Backlog, error)
}

// Deps are the collaborators the API serves. Everything except Pipeline is
// optional.
type Deps struct {
	Pipeline     PipelineRunner
	Index        core.GroundingIndex
	Store        store.RunStore
	Queue        Enqueuer
	QueueBacklog QueueMonitor
	Telemetry    *telemetry.Telemetry
	Metrics      http.Handler
	Refresher    *Refresher
	Logger       *log.Logger
}

// Server is the HTTP API consumed by the presentation layer.
type Server struct {
	cfg    config.ServerConfig
	topK   int
	deps   Deps
	logger *log.Logger
	echo   *echo.Echo
}

// New builds the echo instance and registers routes.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("server: pipeline is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	s := &Server{
		cfg:    cfg.Server,
		topK:   cfg.Retrieval.TopK,
		deps:   deps,
		logger: logger,
		echo:   echo.New(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}
	registerDocs(e, s.cfg.OpenAPIPath)

	api := e.Group("/api")
	if s.cfg.JWTSecret != "" {
		api.Use(AuthMiddleware([]byte(s.cfg.JWTSecret)))
	}
	rh := &RunsHandler{Pipeline: s.deps.Pipeline, Store: s.deps.Store, Queue: s.deps.Queue, Logger: s.logger}
	rh.Register(api.Group("/runs"))
	sh := &SourcesHandler{Index: s.deps.Index, DefaultK: s.topK}
	sh.Register(api.Group("/sources"))
	oh := &OpsHandler{Telemetry: s.deps.Telemetry, Queue: s.deps.QueueBacklog}
	oh.Register(api.Group("/ops"))
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on cfg.Address until ctx is cancelled, then shuts down
// gracefully. The refresher, if any, runs for the same lifetime.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.Address
	if addr == "" {
		addr = ":10001"
	}
	if s.deps.Refresher != nil {
		s.deps.Refresher.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
