package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedCommand is returned for commands of an unknown type.
	ErrUnrecognizedCommand = errors.New("unrecognized command")

	// ErrNotLive is returned for commands received while no view is live.
	ErrNotLive = errors.New("no live view")
)

// ErrorCode categorizes bridge errors.
type ErrorCode string

const (
	// ErrCodeBuild indicates the render engine rejected the spec.
	ErrCodeBuild ErrorCode = "BUILD_FAILED"

	// ErrCodeNotFound indicates a watched or commanded cell does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidWatch indicates a malformed watch list entry.
	ErrCodeInvalidWatch ErrorCode = "INVALID_WATCH"

	// ErrCodeInvalidUpdate indicates a command update that cannot be applied.
	ErrCodeInvalidUpdate ErrorCode = "INVALID_UPDATE"
)

// Error is a bridge failure with structured context.
type Error struct {
	Code    ErrorCode
	Message string

	// Session is the embed session the error belongs to, if any.
	Session string

	// Name is the watch or cell name involved, if any.
	Name string

	Err error
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s (name=%s)", e.Code, e.Message, e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsBuildError reports whether err is a build failure.
func IsBuildError(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == ErrCodeBuild
	}
	return false
}

// IsNotFoundError reports whether err is a missing-cell failure.
func IsNotFoundError(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == ErrCodeNotFound
	}
	return false
}

func newBuildError(session string, err error) *Error {
	return &Error{
		Code:    ErrCodeBuild,
		Message: err.Error(),
		Session: session,
		Err:     err,
	}
}

func newNotFoundError(session, name string, err error) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: err.Error(),
		Session: session,
		Name:    name,
		Err:     err,
	}
}
