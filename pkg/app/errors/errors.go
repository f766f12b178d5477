package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents an application-level error with a code and optional cause
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Code extracts the application error code from err, or an empty string
// when err does not wrap an AppError.
func Code(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Error codes
const (
	ErrCodeAuthFailed    = "AUTH_FAILED"
	ErrCodeConfigLoad    = "CONFIG_LOAD_FAILED"
	ErrCodeSessionLoad   = "SESSION_LOAD_FAILED"
	ErrCodeSessionSave   = "SESSION_SAVE_FAILED"
	ErrCodeStreamConnect = "STREAM_CONNECT_FAILED"
	ErrCodeStreamSend    = "STREAM_SEND_FAILED"
	ErrCodeSchemaFetch   = "SCHEMA_FETCH_FAILED"
	ErrCodeSchemaSubmit  = "SCHEMA_SUBMIT_FAILED"
	ErrCodeFileOperation = "FILE_OPERATION_FAILED"
	ErrCodeCacheAccess   = "CACHE_ACCESS_FAILED"
	ErrCodeInvalidInput  = "INVALID_INPUT"
)
