package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"appmanager/internal/errors"
	"appmanager/internal/logger"
)

// ErrorHandler renders every error as the JSON error envelope
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errors.Response(err)
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch msg := he.Message.(type) {
		case errors.HTTPErrorResponse:
			body = msg
		case string:
			body = errors.HTTPErrorResponse{Error: errors.ErrorInfo{Code: codeForStatus(status), Message: msg}}
		default:
			body = errors.HTTPErrorResponse{Error: errors.ErrorInfo{Code: codeForStatus(status), Message: http.StatusText(status)}}
		}
		if he.Internal != nil {
			body.Error.Details = he.Internal.Error()
		}
	}

	logger.GetLogger(c).WithFields(logger.Fields{
		"status": status,
		"code":   body.Error.Code,
	}).Debug("Rendering error response")

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func codeForStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		return errors.ErrInvalidInput
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return errors.ErrNotFound
	case http.StatusServiceUnavailable:
		return errors.ErrRuntimeUnavailable
	default:
		return errors.ErrInternal
	}
}
