package commands

import (
	"fmt"
	"os"

	"appmanager/internal/errors"
	"appmanager/internal/logger"
)

// tipError keeps the original error in the chain so exit codes survive
type tipError struct {
	err error
	msg string
	tip string
}

func (e *tipError) Error() string {
	return e.msg + "\n\nTip: " + e.tip
}

func (e *tipError) Unwrap() error {
	return e.err
}

func withTip(err error, msg, tip string) error {
	return &tipError{err: err, msg: msg, tip: tip}
}

// HandleError processes errors and provides user-friendly output
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	ae, ok := errors.As(err)
	if !ok {
		return err
	}
	logger.WithError(err).Debug("Command failed")

	msg := ae.Message
	if ae.Details != "" {
		msg += ": " + ae.Details
	}

	switch ae.Code {
	case errors.ErrNetworkConnection:
		return withTip(err, msg, "Is the daemon running? Start it with 'appmanager serve' or pass --server")
	case errors.ErrAppNotFound:
		return withTip(err, msg, "Use 'appmanager state --target' to list applications")
	case errors.ErrServiceNotFound:
		return withTip(err, msg, "The service may not have been created yet. Run 'appmanager apply --wait' first")
	case errors.ErrRuntimeUnavailable:
		return withTip(err, msg, "Check that the Docker engine is running on the device")
	case errors.ErrLockBusy:
		return withTip(err, msg, "A reconciliation pass is running. Retry shortly")
	case errors.ErrConfigNotFound, errors.ErrConfigParse, errors.ErrConfigValidation, errors.ErrConfigInvalid:
		return withTip(err, msg, "Check config.toml and APPMANAGER_* environment variables")
	default:
		return err
	}
}

// ExitOnError prints err and exits with a code derived from its error code
func ExitOnError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	switch errors.GetCode(err) {
	case errors.ErrNetworkConnection, errors.ErrRuntimeUnavailable:
		os.Exit(69) // EX_UNAVAILABLE
	case errors.ErrValidationFailed, errors.ErrInvalidInput:
		os.Exit(65) // EX_DATAERR
	case errors.ErrAppNotFound, errors.ErrServiceNotFound, errors.ErrRunNotFound:
		os.Exit(2)
	case errors.ErrConfigNotFound, errors.ErrConfigParse, errors.ErrConfigValidation, errors.ErrConfigInvalid:
		os.Exit(78) // EX_CONFIG
	default:
		os.Exit(1)
	}
}
