package repositories

import "fmt"

// ErrorCode enumerates machine readable failure reasons for repository
// operations.
type ErrorCode string

const (
	// ErrorUnknown represents an unspecified failure.
	ErrorUnknown ErrorCode = "repo_unknown"
	// ErrorNotFound indicates the requested row or document does not exist.
	ErrorNotFound ErrorCode = "repo_not_found"
	// ErrorInvalidInput indicates the caller supplied invalid arguments.
	ErrorInvalidInput ErrorCode = "repo_invalid_input"
	// ErrorUnavailable indicates the backing store could not be reached or
	// rejected the call (connectivity, auth, quota).
	ErrorUnavailable ErrorCode = "repo_unavailable"
)

// Error wraps store-specific failures with machine readable codes.
type Error struct {
	Op      string
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError constructs a typed repository error.
func NewError(op string, code ErrorCode, message string, err error) *Error {
	if message == "" {
		message = string(code)
	}
	return &Error{Op: op, Code: code, Message: message, Err: err}
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	return codeOf(err) == ErrorNotFound
}

// IsUnavailable reports whether err carries the unavailable code.
func IsUnavailable(err error) bool {
	return codeOf(err) == ErrorUnavailable
}

func codeOf(err error) ErrorCode {
	for err != nil {
		if repoErr, ok := err.(*Error); ok {
			return repoErr.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ErrorUnknown
		}
		err = unwrapper.Unwrap()
	}
	return ErrorUnknown
}
