package errors

import "fmt"

// Configuration Errors
func ConfigNotFound(path string) *AppError {
	return NewWithDetails(ErrConfigNotFound, "Configuration file not found", fmt.Sprintf("Path: %s", path))
}

func ConfigInvalid(reason string) *AppError {
	return NewWithDetails(ErrConfigInvalid, "Invalid configuration", reason)
}

func ConfigParseError(cause error) *AppError {
	return Wrap(ErrConfigParse, "Failed to parse configuration", cause)
}

func ConfigValidationError(field, reason string) *AppError {
	return NewWithDetails(ErrConfigValidation, "Configuration validation failed",
		fmt.Sprintf("Field: %s, Reason: %s", field, reason))
}

// Reconciliation Errors

// ValidationFailed rejects a malformed target before it reaches the store.
func ValidationFailed(field, value, reason string) *AppError {
	return NewWithDetails(ErrValidationFailed, "Validation failed",
		fmt.Sprintf("Field: %s, Value: %s, Reason: %s", field, value, reason))
}

// RuntimeUnavailable means the engine could not be reached; callers may retry.
func RuntimeUnavailable(operation string, cause error) *AppError {
	return WrapWithDetails(ErrRuntimeUnavailable, "Container runtime unavailable",
		fmt.Sprintf("Operation: %s", operation), cause)
}

// OperationFailed means the engine answered and rejected the call.
func OperationFailed(operation, target string, cause error) *AppError {
	return WrapWithDetails(ErrOperationFailed, "Runtime operation failed",
		fmt.Sprintf("Operation: %s, Target: %s", operation, target), cause)
}

func ConflictError(resource, holder string) *AppError {
	return NewWithDetails(ErrConflict, "Resource conflict",
		fmt.Sprintf("Resource: %s, Held by: %s", resource, holder))
}

func LockBusy() *AppError {
	return New(ErrLockBusy, "Reconciliation already queued")
}

// Lookup Errors
func AppNotFound(appID int) *AppError {
	return NewWithDetails(ErrAppNotFound, "Application not found", fmt.Sprintf("App ID: %d", appID))
}

func ServiceNotFound(appID int, name string) *AppError {
	return NewWithDetails(ErrServiceNotFound, "Service not found",
		fmt.Sprintf("App ID: %d, Service: %s", appID, name))
}

func ContainerNotFound(id string) *AppError {
	return NewWithDetails(ErrContainerNotFound, "Container not found", fmt.Sprintf("ID: %s", id))
}

func RunNotFound(id string) *AppError {
	return NewWithDetails(ErrRunNotFound, "Reconciliation run not found", fmt.Sprintf("ID: %s", id))
}

// Database Errors
func DatabaseConnectionError(cause error) *AppError {
	return Wrap(ErrDatabaseConnection, "Database connection failed", cause)
}

func DatabaseQueryError(query string, cause error) *AppError {
	return WrapWithDetails(ErrDatabaseQuery, "Database query failed",
		fmt.Sprintf("Query: %s", query), cause)
}

func DatabaseMigrationError(version string, cause error) *AppError {
	return WrapWithDetails(ErrDatabaseMigration, "Database migration failed",
		fmt.Sprintf("Version: %s", version), cause)
}

// Network/API Errors
func NetworkConnectionError(endpoint string, cause error) *AppError {
	return WrapWithDetails(ErrNetworkConnection, "Network connection failed",
		fmt.Sprintf("Endpoint: %s", endpoint), cause)
}

func APICallError(method, url string, cause error) *AppError {
	return WrapWithDetails(ErrAPICall, "API call failed",
		fmt.Sprintf("Method: %s, URL: %s", method, url), cause)
}

// Input Errors
func InvalidInput(input, expected string) *AppError {
	return NewWithDetails(ErrInvalidInput, "Invalid input",
		fmt.Sprintf("Input: %s, Expected: %s", input, expected))
}

func InvalidPort(port interface{}, reason string) *AppError {
	return NewWithDetails(ErrInvalidPort, "Invalid port",
		fmt.Sprintf("Port: %v, Reason: %s", port, reason))
}

// Internal Errors
func InternalError(details string, cause error) *AppError {
	if cause != nil {
		return WrapWithDetails(ErrInternal, "Internal error", details, cause)
	}
	return NewWithDetails(ErrInternal, "Internal error", details)
}
