package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"appmanager/internal/errors"
	"appmanager/internal/logger"
	"appmanager/internal/reconciler"
	"appmanager/internal/types"
)

// handleCurrentState godoc
// @Summary Current state
// @Description Last observed state of every application. Never waits for a running pass.
// @Tags v2
// @Produce json
// @Success 200 {object} types.StateSnapshot
// @Router /v2/applications/state [get]
func (s *Server) handleCurrentState(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Store.GetCurrent())
}

// handleAppState godoc
// @Summary Current state of one application
// @Tags v2
// @Produce json
// @Param appId path int true "Application ID"
// @Success 200 {object} types.Application
// @Failure 404 {object} ErrorResponse
// @Router /v2/applications/{appId}/state [get]
func (s *Server) handleAppState(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	app, ok := s.deps.Store.GetCurrent().App(appID)
	if !ok {
		return errors.AppNotFound(appID)
	}
	return c.JSON(http.StatusOK, app)
}

// handleGetTarget godoc
// @Summary Target state
// @Tags v2
// @Produce json
// @Success 200 {object} types.StateSnapshot
// @Router /v2/state/target [get]
func (s *Server) handleGetTarget(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Store.GetTarget())
}

// handleSetTarget godoc
// @Summary Replace the target state
// @Description Validates and stores the whole target. Convergence starts on apply, or immediately with ?apply=true.
// @Tags v2
// @Accept json
// @Produce json
// @Param request body types.StateSnapshot true "Target state"
// @Param apply query bool false "Queue an apply after storing"
// @Success 200 {object} TargetResponse
// @Failure 400 {object} ErrorResponse
// @Router /v2/state/target [put]
func (s *Server) handleSetTarget(c echo.Context) error {
	snap := types.NewSnapshot()
	if err := c.Bind(snap); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "Malformed target state", err)
	}
	if snap.Apps == nil {
		snap.Apps = make(map[int]*types.Application)
	}
	for id, app := range snap.Apps {
		if app != nil && app.AppID == 0 {
			app.AppID = id
		}
	}

	if err := s.deps.Store.SetTarget(c.Request().Context(), snap); err != nil {
		return err
	}
	return s.targetWritten(c)
}

// handleSetAppTarget godoc
// @Summary Replace one application in the target state
// @Tags v2
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body types.Application true "Application"
// @Param apply query bool false "Queue an apply after storing"
// @Success 200 {object} TargetResponse
// @Failure 400 {object} ErrorResponse
// @Router /v2/applications/{appId}/target [put]
func (s *Server) handleSetAppTarget(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	var app types.Application
	if err := c.Bind(&app); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "Malformed application", err)
	}
	if app.AppID == 0 {
		app.AppID = appID
	}
	if app.AppID != appID {
		return errors.ValidationFailed("appId", strconv.Itoa(app.AppID), "does not match the path")
	}

	if err := s.deps.Store.SetTargetApp(c.Request().Context(), &app); err != nil {
		return err
	}
	return s.targetWritten(c)
}

// handleRemoveAppTarget godoc
// @Summary Remove an application from the target state
// @Tags v2
// @Produce json
// @Param appId path int true "Application ID"
// @Param apply query bool false "Queue an apply after storing"
// @Success 200 {object} TargetResponse
// @Failure 404 {object} ErrorResponse
// @Router /v2/applications/{appId}/target [delete]
func (s *Server) handleRemoveAppTarget(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	if err := s.deps.Store.RemoveTargetApp(c.Request().Context(), appID); err != nil {
		return err
	}
	return s.targetWritten(c)
}

func (s *Server) targetWritten(c echo.Context) error {
	apply := c.QueryParam("apply") == "true"
	if apply {
		s.deps.Reconciler.RequestApply(reconciler.TriggerApply)
	}
	return c.JSON(http.StatusOK, TargetResponse{
		Version: s.deps.Store.TargetVersion(),
		Applied: apply,
	})
}

// handleApply godoc
// @Summary Converge towards the target state
// @Description Queues a reconciliation pass and returns 202. With ?wait=true the pass runs before responding and its record is returned.
// @Tags v2
// @Produce json
// @Param wait query bool false "Run the pass synchronously"
// @Success 200 {object} ApplyResponse
// @Success 202 {object} ApplyResponse
// @Router /v2/applications/apply [post]
func (s *Server) handleApply(c echo.Context) error {
	if c.QueryParam("wait") != "true" {
		s.deps.Reconciler.RequestApply(reconciler.TriggerApply)
		return c.JSON(http.StatusAccepted, ApplyResponse{Accepted: true})
	}

	run, err := s.deps.Reconciler.Reconcile(c.Request().Context(), reconciler.TriggerApply)
	if err != nil && run == nil {
		return err
	}
	if err != nil {
		logger.GetLogger(c).WithError(err).Warn("Reconciliation pass failed")
	}
	return c.JSON(http.StatusOK, ApplyResponse{Accepted: true, Run: run})
}

// handleRestartApp godoc
// @Summary Restart every service of an application
// @Tags v2
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ForceRequest false "Options"
// @Success 200 {object} ActionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /v2/applications/{appId}/restart [post]
func (s *Server) handleRestartApp(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	var req ForceRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	run, err := s.deps.Reconciler.RestartApp(c.Request().Context(), appID, req.Force)
	return actionResult(c, run, err)
}

// handleRestartService godoc
// @Summary Restart one service
// @Tags v2
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ServiceActionRequest true "Service"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /v2/applications/{appId}/restart-service [post]
func (s *Server) handleRestartService(c echo.Context) error {
	return s.serviceAction(c, s.deps.Reconciler.RestartService)
}

// handleStopService godoc
// @Summary Stop one service
// @Tags v2
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ServiceActionRequest true "Service"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /v2/applications/{appId}/stop-service [post]
func (s *Server) handleStopService(c echo.Context) error {
	return s.serviceAction(c, s.deps.Reconciler.StopService)
}

// handleStartService godoc
// @Summary Start one service
// @Tags v2
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ServiceActionRequest true "Service"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /v2/applications/{appId}/start-service [post]
func (s *Server) handleStartService(c echo.Context) error {
	return s.serviceAction(c, s.deps.Reconciler.StartService)
}

func (s *Server) serviceAction(c echo.Context, action serviceActionFunc) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	var req ServiceActionRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if req.ServiceName == "" {
		return errors.ValidationFailed("serviceName", "", "serviceName is required")
	}
	run, err := action(c.Request().Context(), appID, req.ServiceName, req.Force)
	return actionResult(c, run, err)
}

// handlePurgeApp godoc
// @Summary Purge an application
// @Description Removes containers and named volumes; the services are recreated on fresh volumes
// @Tags v2
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ForceRequest false "Options"
// @Success 200 {object} ActionResponse
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /v2/applications/{appId}/purge [post]
func (s *Server) handlePurgeApp(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	var req ForceRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	run, err := s.deps.Reconciler.PurgeApp(c.Request().Context(), appID, req.Force)
	return actionResult(c, run, err)
}
