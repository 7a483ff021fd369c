package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"appmanager/internal/constants"
	"appmanager/internal/db"
	"appmanager/internal/errors"
)

// handleStatus godoc
// @Summary Reconciler status
// @Tags reconciliation
// @Produce json
// @Success 200 {object} StatusResponse
// @Router /v2/reconciliation/status [get]
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Reconciler.Status())
}

// handleListRuns godoc
// @Summary List reconciliation runs
// @Description Newest first, without steps
// @Tags reconciliation
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} db.PaginatedResponse[types.ReconciliationRun]
// @Failure 400 {object} ErrorResponse
// @Router /v2/reconciliation/runs [get]
func (s *Server) handleListRuns(c echo.Context) error {
	if s.deps.Runs == nil {
		return errors.InternalError("run log not configured", nil)
	}

	opts := db.DefaultPaginationOptions()
	if raw := c.QueryParam("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			return errors.InvalidInput("page "+raw, "integer")
		}
		opts.Page = page
	}
	if raw := c.QueryParam("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			return errors.InvalidInput("page_size "+raw, "integer")
		}
		opts.PageSize = size
	}
	if opts.PageSize > constants.MaxPageSize {
		opts.PageSize = constants.MaxPageSize
	}

	page, err := s.deps.Runs.List(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// handleGetRun godoc
// @Summary Get a reconciliation run
// @Tags reconciliation
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} types.ReconciliationRun
// @Failure 404 {object} ErrorResponse
// @Router /v2/reconciliation/runs/{id} [get]
func (s *Server) handleGetRun(c echo.Context) error {
	if s.deps.Runs == nil {
		return errors.InternalError("run log not configured", nil)
	}
	run, err := s.deps.Runs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
