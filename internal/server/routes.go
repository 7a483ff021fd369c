package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"appmanager/internal/errors"
	"appmanager/internal/logger"
	"appmanager/internal/types"
)

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.echo.GET("/swagger/*", echoSwagger.WrapHandler)
	s.echo.GET("/ping", s.handlePing)

	v1 := s.echo.Group("/v1")
	v1.GET("/device", s.handleDevice)
	v1.GET("/healthy", s.handleHealthy)
	v1.GET("/apps/:appId", s.handleV1App)
	v1.POST("/apps/:appId/stop", s.handleV1Stop)
	v1.POST("/apps/:appId/start", s.handleV1Start)
	v1.POST("/restart", s.handleV1Restart)
	v1.POST("/purge", s.handleV1Purge)

	v2 := s.echo.Group("/v2")

	apps := v2.Group("/applications")
	apps.GET("/state", s.handleCurrentState)
	apps.POST("/apply", s.handleApply)
	apps.GET("/:appId/state", s.handleAppState)
	apps.POST("/:appId/restart", s.handleRestartApp)
	apps.POST("/:appId/restart-service", s.handleRestartService)
	apps.POST("/:appId/stop-service", s.handleStopService)
	apps.POST("/:appId/start-service", s.handleStartService)
	apps.POST("/:appId/purge", s.handlePurgeApp)
	apps.PUT("/:appId/target", s.handleSetAppTarget)
	apps.DELETE("/:appId/target", s.handleRemoveAppTarget)
	apps.GET("/:appId/logs", s.handleServiceLogs)

	state := v2.Group("/state")
	state.GET("/target", s.handleGetTarget)
	state.PUT("/target", s.handleSetTarget)

	rec := v2.Group("/reconciliation")
	rec.GET("/status", s.handleStatus)
	rec.GET("/runs", s.handleListRuns)
	rec.GET("/runs/:id", s.handleGetRun)
	rec.GET("/events", s.handleEvents)
}

func appIDParam(c echo.Context) (int, error) {
	raw := c.Param("appId")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.InvalidInput("appId "+raw, "positive integer")
	}
	return id, nil
}

func bindBody(c echo.Context, v interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "Malformed request body", err)
	}
	return nil
}

func actionResult(c echo.Context, run *types.ReconciliationRun, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ActionResponse{Status: "success", Run: run})
}

// handlePing godoc
// @Summary Liveness check
// @Tags health
// @Produce plain
// @Success 200 {string} string "OK"
// @Router /ping [get]
func (s *Server) handlePing(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// handleDevice godoc
// @Summary Device summary
// @Description Identity, application count and reconciler status
// @Tags v1
// @Produce json
// @Success 200 {object} DeviceResponse
// @Router /v1/device [get]
func (s *Server) handleDevice(c echo.Context) error {
	current := s.deps.Store.GetCurrent()
	status := s.deps.Reconciler.Status()

	resp := DeviceResponse{
		AppCount:       len(current.Apps),
		ServiceCount:   current.ServiceCount(),
		Status:         status.State,
		LastRunID:      status.LastRunID,
		LastError:      status.LastError,
		Pending:        status.Pending,
		TargetVersion:  status.TargetVersion,
		AppliedVersion: status.AppliedVersion,
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.deps.Device != nil {
		resp.DeviceID = s.deps.Device.ID
		resp.DeviceName = s.deps.Device.Name
	}
	return c.JSON(http.StatusOK, resp)
}

// handleHealthy godoc
// @Summary Health check
// @Description Succeeds when the container engine and the database answer
// @Tags v1
// @Produce plain
// @Success 200 {string} string "OK"
// @Failure 500 {object} ErrorResponse
// @Router /v1/healthy [get]
func (s *Server) handleHealthy(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if s.deps.Runtime != nil {
		if err := s.probe("runtime", func() error { return s.deps.Runtime.Ping(ctx) }); err != nil {
			logger.GetLogger(c).WithError(err).Warn("Health check: runtime unreachable")
			return errors.InternalError("container engine unreachable", err)
		}
	}
	if s.deps.Database != nil {
		if err := s.probe("database", func() error { return s.deps.Database.HealthCheck(ctx) }); err != nil {
			logger.GetLogger(c).WithError(err).Warn("Health check: database unreachable")
			return errors.InternalError("database unreachable", err)
		}
	}
	return c.String(http.StatusOK, "OK")
}

// probe runs check unless it passed within the health cache TTL.
// Failures are never cached.
func (s *Server) probe(name string, check func() error) error {
	_, err := s.health.GetOrLoad(name, func() (struct{}, error) {
		return struct{}{}, check()
	})
	return err
}

// handleV1App godoc
// @Summary Get an application
// @Description Current state of a single-service application
// @Tags v1
// @Produce json
// @Param appId path int true "Application ID"
// @Success 200 {object} V1AppResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/apps/{appId} [get]
func (s *Server) handleV1App(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	app, ok := s.deps.Store.GetCurrent().App(appID)
	if !ok {
		return errors.AppNotFound(appID)
	}
	if len(app.Services) != 1 {
		return errors.ValidationFailed("appId", strconv.Itoa(appID),
			"application has more than one service, use the v2 API")
	}

	svc := app.Services[0]
	return c.JSON(http.StatusOK, V1AppResponse{
		AppID:       app.AppID,
		AppName:     app.AppName,
		ServiceID:   svc.ServiceID,
		ServiceName: svc.ServiceName,
		ImageName:   svc.ImageName,
		ContainerID: svc.ContainerID,
		Status:      svc.Status,
		Env:         svc.Config.Environment,
	})
}

// handleV1Stop godoc
// @Summary Stop an application's service
// @Tags v1
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ForceRequest false "Options"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/apps/{appId}/stop [post]
func (s *Server) handleV1Stop(c echo.Context) error {
	return s.v1ServiceAction(c, s.deps.Reconciler.StopService)
}

// handleV1Start godoc
// @Summary Start an application's service
// @Tags v1
// @Accept json
// @Produce json
// @Param appId path int true "Application ID"
// @Param request body ForceRequest false "Options"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/apps/{appId}/start [post]
func (s *Server) handleV1Start(c echo.Context) error {
	return s.v1ServiceAction(c, s.deps.Reconciler.StartService)
}

type serviceActionFunc func(ctx context.Context, appID int, serviceName string, force bool) (*types.ReconciliationRun, error)

func (s *Server) v1ServiceAction(c echo.Context, action serviceActionFunc) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}
	var req ForceRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	name, err := s.deps.Reconciler.SoleService(appID)
	if err != nil {
		return err
	}
	run, err := action(c.Request().Context(), appID, name, req.Force)
	return actionResult(c, run, err)
}

func (s *Server) bindV1AppAction(c echo.Context) (V1AppActionRequest, error) {
	var req V1AppActionRequest
	if err := bindBody(c, &req); err != nil {
		return req, err
	}
	if req.AppID <= 0 {
		return req, errors.ValidationFailed("appId", strconv.Itoa(req.AppID), "appId is required")
	}
	return req, nil
}

// handleV1Restart godoc
// @Summary Restart an application
// @Tags v1
// @Accept json
// @Produce json
// @Param request body V1AppActionRequest true "Application"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/restart [post]
func (s *Server) handleV1Restart(c echo.Context) error {
	req, err := s.bindV1AppAction(c)
	if err != nil {
		return err
	}
	run, err := s.deps.Reconciler.RestartApp(c.Request().Context(), req.AppID, req.Force)
	return actionResult(c, run, err)
}

// handleV1Purge godoc
// @Summary Purge an application
// @Description Removes the application's containers and named volumes, then recreates the services
// @Tags v1
// @Accept json
// @Produce json
// @Param request body V1AppActionRequest true "Application"
// @Success 200 {object} ActionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v1/purge [post]
func (s *Server) handleV1Purge(c echo.Context) error {
	req, err := s.bindV1AppAction(c)
	if err != nil {
		return err
	}
	run, err := s.deps.Reconciler.PurgeApp(c.Request().Context(), req.AppID, req.Force)
	return actionResult(c, run, err)
}
