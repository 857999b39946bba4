package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeChannelNotFound = "channel_not_found"
	ErrCodeNotReady        = "not_ready"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotReady        = errors.New("manager not ready")
	ErrInitInProgress  = errors.New("app initialization in progress")
	ErrTornDown        = errors.New("manager torn down")
	ErrNotPersisted    = errors.New("message has no id")
	ErrBadRequest      = errors.New("bad request")
	ErrForbidden       = errors.New("forbidden")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// AsCoreError maps core sentinels to a CoreError for transports. Unknown errors yield nil.
func AsCoreError(err error) *CoreError {
	var ce *CoreError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrChannelNotFound):
		return coreError(ErrCodeChannelNotFound, err.Error())
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrInitInProgress), errors.Is(err, ErrTornDown):
		return coreError(ErrCodeNotReady, err.Error())
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return coreError(ErrCodeForbidden, err.Error())
	default:
		return nil
	}
}
