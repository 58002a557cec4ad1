package models

import "fmt"

// ErrorCode is the stable, process-wide taxonomy for action and service
// failures. Codes end up in structured logs and failure findings.
type ErrorCode string

const (
	ErrResourceNotFound     ErrorCode = "RESOURCE_NOT_FOUND"
	ErrResourceNotSupported ErrorCode = "RESOURCE_NOT_SUPPORTED"
	ErrIllegalActionParams  ErrorCode = "ILLEGAL_ACTION_PARAMS"
	ErrActionUnexpected     ErrorCode = "ACTION_UNEXPECTED_ERROR"

	ErrAlertManagerDiscoveryFailed ErrorCode = "ALERT_MANAGER_DISCOVERY_FAILED"
	ErrAlertManagerRequestFailed   ErrorCode = "ALERT_MANAGER_REQUEST_FAILED"
	ErrAddSilenceFailed            ErrorCode = "ADD_SILENCE_FAILED"

	ErrHolmesDiscoveryFailed ErrorCode = "HOLMES_DISCOVERY_FAILED"
	ErrHolmesConnection      ErrorCode = "HOLMES_CONNECTION_ERROR"
	ErrHolmesRequest         ErrorCode = "HOLMES_REQUEST_ERROR"
	ErrHolmesUnexpected      ErrorCode = "HOLMES_UNEXPECTED_ERROR"

	ErrPrometheusNotFound        ErrorCode = "PROMETHEUS_NOT_FOUND"
	ErrPrometheusFlagsConnection ErrorCode = "PROMETHEUS_FLAGS_CONNECTION_ERROR"
)

// ActionError is the typed error surfaced from actions to the executor. The
// executor converts it into a failure finding and moves on to the next action
// in the chain.
type ActionError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewActionError builds an ActionError with an optional wrapped cause.
func NewActionError(code ErrorCode, msg string, cause error) *ActionError {
	return &ActionError{Code: code, Msg: msg, Err: cause}
}
