package errors

import (
	"net/http"
)

// HTTPErrorResponse represents the structure of error responses sent to clients
type HTTPErrorResponse struct {
	Error   ErrorInfo              `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ErrorInfo contains the core error information
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Response builds the status code and envelope for err.
func Response(err error) (int, HTTPErrorResponse) {
	if ae, ok := As(err); ok {
		return ae.GetHTTPStatus(), HTTPErrorResponse{
			Error: ErrorInfo{
				Code:    ae.Code,
				Message: ae.Message,
				Details: ae.Details,
			},
			Context: ae.Context,
		}
	}

	return http.StatusInternalServerError, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrInternal,
			Message: "Internal server error",
			Details: err.Error(),
		},
	}
}
