package shared

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes
const (
	ErrCodeInvalidInput = 1001
	ErrCodeNotFound     = 1002
	ErrCodeInvalidMode  = 1003

	// Position specific errors (2000-2999)
	ErrCodeCapabilityUnavailable = 2001
	ErrCodePositionUnavailable   = 2002
	ErrCodePermissionDenied      = 2003
	ErrCodeTimeout               = 2004

	// Geo specific errors (3000-3999)
	ErrCodeInvalidRange = 3001
)

// Sentinels matched with errors.Is through the oops wrapping.
var (
	ErrCapabilityUnavailable = errors.New("location capability unavailable")
	ErrPositionUnavailable   = errors.New("position unavailable")
	ErrPermissionDenied      = errors.New("location permission denied")
	ErrTimeout               = errors.New("location request timed out")
	ErrInvalidRange          = errors.New("invalid distance range")
	ErrUnknownMode           = errors.New("unknown operating mode")
	ErrSessionStopped        = errors.New("session stopped")
)

// NewDomainError creates a new domain error using oops
func NewDomainError(code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Errorf("%s", message)
}

// WrapDomainError wraps an existing error with domain context
func WrapDomainError(err error, code int, message string) error {
	return oops.
		Code(codeToString(code)).
		In("domain").
		With("error_code", code).
		Wrapf(err, "%s", message)
}

// codeToString converts int error code to string
func codeToString(code int) string {
	switch code {
	case ErrCodeInvalidInput:
		return "INVALID_INPUT"
	case ErrCodeNotFound:
		return "NOT_FOUND"
	case ErrCodeInvalidMode:
		return "INVALID_MODE"
	case ErrCodeCapabilityUnavailable:
		return "CAPABILITY_UNAVAILABLE"
	case ErrCodePositionUnavailable:
		return "POSITION_UNAVAILABLE"
	case ErrCodePermissionDenied:
		return "PERMISSION_DENIED"
	case ErrCodeTimeout:
		return "TIMEOUT"
	case ErrCodeInvalidRange:
		return "INVALID_RANGE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Common domain error builders
func ErrInvalidInput(msg string) error {
	return NewDomainError(ErrCodeInvalidInput, msg)
}

func ErrNotFound(resource string) error {
	return NewDomainError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ErrInvalidMode(mode string) error {
	return WrapDomainError(ErrUnknownMode, ErrCodeInvalidMode, fmt.Sprintf("mode %q", mode))
}

func ErrStopped(mode string) error {
	return WrapDomainError(ErrSessionStopped, ErrCodeNotFound, fmt.Sprintf("%s session", mode))
}

func ErrCapability(msg string) error {
	return WrapDomainError(ErrCapabilityUnavailable, ErrCodeCapabilityUnavailable, msg)
}

func ErrPosition(msg string) error {
	return WrapDomainError(ErrPositionUnavailable, ErrCodePositionUnavailable, msg)
}

func ErrPermission(msg string) error {
	return WrapDomainError(ErrPermissionDenied, ErrCodePermissionDenied, msg)
}

func ErrPositionTimeout(msg string) error {
	return WrapDomainError(ErrTimeout, ErrCodeTimeout, msg)
}

func ErrInvalidRangef(format string, args ...any) error {
	return WrapDomainError(ErrInvalidRange, ErrCodeInvalidRange, fmt.Sprintf(format, args...))
}

// IsPositionError reports whether err is one of the non-fatal location failures.
// Such errors degrade to an unknown position and never end a subscription.
func IsPositionError(err error) bool {
	return errors.Is(err, ErrCapabilityUnavailable) ||
		errors.Is(err, ErrPositionUnavailable) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrTimeout)
}
