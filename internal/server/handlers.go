package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/labstack/echo/v4"

	"TickerVault/internal/model"
	"TickerVault/internal/updatelog"
)

var errUnknownRegion = errors.New("unknown region")

type toggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type scheduleRequest struct {
	Cron string `json:"cron" validate:"required"`
}

type updateRequest struct {
	Region string `json:"region"`
	Force  bool   `json:"force"`
}

type statusResponse struct {
	Initialized   bool              `json:"initialized"`
	UpdateRunning bool              `json:"update_running"`
	Jobs          []model.JobStatus `json:"jobs"`
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/status", s.status)
	e.POST("/initialize", s.initialize)
	e.POST("/shutdown", s.shutdown)

	jobs := e.Group("/jobs/:id")
	jobs.POST("/toggle", s.toggle)
	jobs.POST("/run", s.run)
	jobs.POST("/schedule", s.schedule)

	e.GET("/logs", s.listLogs)
	e.DELETE("/logs", s.clearLogs)

	e.POST("/update", s.update)
	e.POST("/symbols/:region/:symbol/rebackfill", s.rebackfill)
	e.GET("/quotes", s.quotes)
	e.GET("/performance", s.performance)

	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}
}

func (s *Server) status(c echo.Context) error {
	return successResponse(c, statusResponse{
		Initialized:   s.deps.Jobs.Initialized(),
		UpdateRunning: s.deps.Pipeline.Running(),
		Jobs:          s.deps.Jobs.Status(),
	})
}

func (s *Server) initialize(c echo.Context) error {
	if err := s.deps.Jobs.Initialize(c.Request().Context()); err != nil {
		s.log.Error().Err(err).Msg("initialize scheduler")
		return errorResponse(c, err)
	}
	return s.status(c)
}

func (s *Server) shutdown(c echo.Context) error {
	if err := s.deps.Jobs.Shutdown(c.Request().Context()); err != nil {
		s.log.Error().Err(err).Msg("shutdown scheduler")
		return errorResponse(c, err)
	}
	return s.status(c)
}

func (s *Server) toggle(c echo.Context) error {
	req := &toggleRequest{}
	if verr := s.readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	st, err := s.deps.Jobs.Toggle(c.Request().Context(), c.Param("id"), *req.Enabled)
	if err != nil {
		return errorResponse(c, err)
	}
	return successResponse(c, st)
}

func (s *Server) schedule(c echo.Context) error {
	req := &scheduleRequest{}
	if verr := s.readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	st, err := s.deps.Jobs.Reschedule(c.Request().Context(), c.Param("id"), req.Cron)
	if err != nil {
		return errorResponse(c, err)
	}
	return successResponse(c, st)
}

// run executes the job before responding. The run is detached from the
// request so a dropped client does not abort it.
func (s *Server) run(c echo.Context) error {
	ctx := context.WithoutCancel(c.Request().Context())
	st, err := s.deps.Jobs.RunJobNow(ctx, c.Param("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return successResponse(c, st)
}

func (s *Server) listLogs(c echo.Context) error {
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return badRequestResponse(c, []APIError{{Code: "ERR_LIMIT", Field: "limit", Message: "limit must be between 1 and 1000"}})
		}
		limit = n
	}
	entries, err := s.deps.Logs.List(c.Request().Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list update log")
		return errorResponse(c, err)
	}
	if entries == nil {
		entries = []model.UpdateLogEntry{}
	}
	return successResponse(c, entries)
}

func (s *Server) clearLogs(c echo.Context) error {
	n, err := s.deps.Logs.Clear(c.Request().Context())
	if err != nil {
		s.log.Error().Err(err).Msg("clear update log")
		return errorResponse(c, err)
	}
	return successResponse(c, map[string]int64{"removed": n})
}

// update runs one region, or all regions when none is given, and records
// the outcome in the update log.
func (s *Server) update(c echo.Context) error {
	req := &updateRequest{}
	if verr := s.readAndValidate(c, req); verr != nil {
		return badRequestResponse(c, verr)
	}
	if req.Region != "" {
		if err := s.knownRegion(req.Region); err != nil {
			return errorResponse(c, err)
		}
	}
	ctx := context.WithoutCancel(c.Request().Context())

	run := s.deps.Logs.Start(ctx, updatelog.TypeManualUpdate, map[string]any{"region": req.Region, "force": req.Force})
	var (
		summary model.RunSummary
		err     error
	)
	if req.Region == "" {
		summary, err = s.deps.Pipeline.UpdateAllRegions(ctx, req.Force)
	} else {
		var results []model.SymbolResult
		results, err = s.deps.Pipeline.UpdatePortfolio(ctx, req.Region, req.Force)
		summary = model.Summarize(results)
	}
	run.FinishSummary(ctx, err, summary)
	if err != nil {
		return errorResponse(c, err)
	}
	return successResponse(c, summary)
}

func (s *Server) rebackfill(c echo.Context) error {
	region, symbol := c.Param("region"), c.Param("symbol")
	if err := s.knownRegion(region); err != nil {
		return errorResponse(c, err)
	}
	ctx := context.WithoutCancel(c.Request().Context())

	run := s.deps.Logs.Start(ctx, updatelog.TypeRebackfill, map[string]any{"symbol": symbol, "region": region})
	res, err := s.deps.Pipeline.Rebackfill(ctx, symbol, region)
	failed := err
	if failed == nil && !res.Success {
		failed = errors.New(res.Error)
	}
	run.Finish(ctx, failed, fmt.Sprintf("%d bars written", res.BarsWritten), nil)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", symbol).Msg("rebackfill")
		return errorResponse(c, err)
	}
	return successResponse(c, res)
}

func (s *Server) quotes(c echo.Context) error {
	region := c.QueryParam("region")
	if region == "" {
		return badRequestResponse(c, []APIError{{Code: "ERR_REQUIRED", Field: "region", Message: "region is required"}})
	}
	quotes, err := s.deps.Reader.Quotes(c.Request().Context(), region)
	if err != nil {
		return errorResponse(c, err)
	}
	if quotes == nil {
		quotes = []model.Quote{}
	}
	return successResponse(c, quotes)
}

func (s *Server) performance(c echo.Context) error {
	region := c.QueryParam("region")
	if region == "" {
		return badRequestResponse(c, []APIError{{Code: "ERR_REQUIRED", Field: "region", Message: "region is required"}})
	}
	snaps, err := s.deps.Reader.LatestPerformance(c.Request().Context(), region)
	if err != nil {
		return errorResponse(c, err)
	}
	if snaps == nil {
		snaps = []model.PerformanceSnapshot{}
	}
	return successResponse(c, snaps)
}

func (s *Server) knownRegion(region string) error {
	if slices.Contains(s.deps.Pipeline.Regions(), region) {
		return nil
	}
	return fmt.Errorf("%w %q", errUnknownRegion, region)
}
