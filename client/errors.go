package client

import "fmt"

// ErrorCode classifies an ApiError.
type ErrorCode int

const (
	// ErrorUnknown is used when no better classification exists.
	ErrorUnknown ErrorCode = iota
	// ErrorCancelled: the operation was cancelled before it produced a result.
	ErrorCancelled
	// ErrorRequestTimeout: the transport gave up waiting.
	ErrorRequestTimeout
	// ErrorNotFound: the resource is absent (e.g. a CacheOnly miss).
	ErrorNotFound
	// ErrorInvalidArgument: the request itself is malformed.
	ErrorInvalidArgument
	// ErrorDuplicateRequest: the key is already owned by another operation.
	ErrorDuplicateRequest
)

// String returns a stable name for the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCancelled:
		return "cancelled"
	case ErrorRequestTimeout:
		return "request_timeout"
	case ErrorNotFound:
		return "not_found"
	case ErrorInvalidArgument:
		return "invalid_argument"
	case ErrorDuplicateRequest:
		return "duplicate_request"
	default:
		return "unknown"
	}
}

// ApiError is the error type returned by request operations.
type ApiError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// NewApiError builds an ApiError with a formatted message.
func NewApiError(code ErrorCode, format string, args ...any) *ApiError {
	return &ApiError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *ApiError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return e.Message
}

// Is matches any *ApiError with the same Code, so errors.Is(err, ErrCancelled)
// works for every cancellation regardless of message.
func (e *ApiError) Is(target error) bool {
	t, ok := target.(*ApiError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrCancelled        = &ApiError{Code: ErrorCancelled, Message: "Operation cancelled.", Retryable: true}
	ErrRequestTimeout   = &ApiError{Code: ErrorRequestTimeout, Message: "Network request timed out.", Retryable: true}
	ErrNotFound         = &ApiError{Code: ErrorNotFound, Message: "Resource not found."}
	ErrInvalidArgument  = &ApiError{Code: ErrorInvalidArgument, Message: "Invalid argument."}
	ErrDuplicateRequest = &ApiError{Code: ErrorDuplicateRequest, Message: "Request key is owned by another operation."}
)
