// Package server is the operator HTTP surface over the scheduler, the
// orchestrator and the update log.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"TickerVault/internal/model"
	"TickerVault/internal/updatelog"
)

// Jobs is the scheduler surface. *scheduler.Scheduler satisfies it.
type Jobs interface {
	Status() []model.JobStatus
	Toggle(ctx context.Context, id string, enabled bool) (model.JobStatus, error)
	Reschedule(ctx context.Context, id, expr string) (model.JobStatus, error)
	RunJobNow(ctx context.Context, id string) (model.JobStatus, error)
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Initialized() bool
}

// Pipeline is the orchestrator surface. *orchestrator.Orchestrator satisfies it.
type Pipeline interface {
	UpdatePortfolio(ctx context.Context, region string, forceRefresh bool) ([]model.SymbolResult, error)
	UpdateAllRegions(ctx context.Context, forceRefresh bool) (model.RunSummary, error)
	Rebackfill(ctx context.Context, symbol, region string) (model.SymbolResult, error)
	Regions() []string
	Running() bool
}

// Logs is the update log surface. *updatelog.Service satisfies it.
type Logs interface {
	List(ctx context.Context, limit int) ([]model.UpdateLogEntry, error)
	Clear(ctx context.Context) (int64, error)
	Start(ctx context.Context, typ string, details map[string]any) *updatelog.Run
}

// Reader serves stored quotes and performance snapshots.
type Reader interface {
	Quotes(ctx context.Context, region string) ([]model.Quote, error)
	LatestPerformance(ctx context.Context, region string) ([]model.PerformanceSnapshot, error)
}

// Deps are the services behind the routes. Metrics may be nil.
type Deps struct {
	Jobs     Jobs
	Pipeline Pipeline
	Logs     Logs
	Reader   Reader
	Metrics  http.Handler
}

// Server wraps an Echo instance.
type Server struct {
	echo     *echo.Echo
	addr     string
	deps     Deps
	validate *validator.Validate
	log      zerolog.Logger
}

// New builds the server and registers every route.
func New(addr string, deps Deps, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		addr:     addr,
		deps:     deps,
		validate: validator.New(),
		log:      log.With().Str("component", "http").Logger(),
	}
	e.Use(recoverMiddleware(s.log))
	e.Use(requestLogging(s.log))
	s.registerRoutes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.echo.Listener = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start("") }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
