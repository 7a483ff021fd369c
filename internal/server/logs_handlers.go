package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"appmanager/internal/errors"
)

// handleServiceLogs godoc
// @Summary Recent service output
// @Description Tail of the combined stdout and stderr of an application's containers
// @Tags v2
// @Produce json
// @Param appId path int true "Application ID"
// @Param service query string false "Limit to one service"
// @Param tail query int false "Lines per service" default(100)
// @Success 200 {object} LogsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /v2/applications/{appId}/logs [get]
func (s *Server) handleServiceLogs(c echo.Context) error {
	appID, err := appIDParam(c)
	if err != nil {
		return err
	}

	tail := 0
	if raw := c.QueryParam("tail"); raw != "" {
		tail, err = strconv.Atoi(raw)
		if err != nil || tail < 0 {
			return errors.InvalidInput("tail "+raw, "non-negative integer")
		}
	}

	logs, err := s.deps.Reconciler.ServiceLogs(c.Request().Context(), appID, c.QueryParam("service"), tail)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LogsResponse{AppID: appID, Services: logs})
}
