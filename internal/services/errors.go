package services

import "fmt"

// ErrorKind groups flow errors by recovery path.
type ErrorKind string

const (
	// KindValidation covers bad input the user can correct and retry
	// immediately. No session state is mutated.
	KindValidation ErrorKind = "validation"
	// KindAuth covers one-time-code failures, recoverable by requesting a
	// fresh code.
	KindAuth ErrorKind = "auth"
	// KindDelivery covers email transport failures.
	KindDelivery ErrorKind = "delivery"
	// KindPersistence covers log store failures at submission time.
	KindPersistence ErrorKind = "persistence"
	// KindState covers interactions arriving in a state that does not
	// accept them.
	KindState ErrorKind = "state"
)

// Flow error codes surfaced to the interaction that triggered them.
const (
	CodeInvalidDomain    = "invalid_domain"
	CodeUnknownEmployee  = "unknown_employee"
	CodeAlreadySubmitted = "already_submitted"
	CodeCooldownActive   = "cooldown_active"
	CodeCodeExpired      = "code_expired"
	CodeTooManyAttempts  = "too_many_attempts"
	CodeCodeMismatch     = "code_mismatch"
	CodeDeliveryFailed   = "delivery_failed"
	CodeInvalidDecision  = "invalid_decision"
	CodeReviewIncomplete = "review_incomplete"
	CodeInvalidState     = "invalid_state"
	CodeSubmissionFailed = "submission_failed"
)

// FlowError is the error type returned across the verification flow. No flow
// error is fatal to the process; each is scoped to one session interaction.
type FlowError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error

	// RetryAfterSeconds is set for cooldown_active.
	RetryAfterSeconds int
	// AttemptsRemaining is set for code_mismatch.
	AttemptsRemaining int
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Unwrap exposes the underlying error, if any.
func (e *FlowError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewFlowError constructs a typed flow error.
func NewFlowError(kind ErrorKind, code, message string, err error) *FlowError {
	if message == "" {
		message = code
	}
	return &FlowError{Kind: kind, Code: code, Message: message, Err: err}
}

// AsFlowError extracts a FlowError from an error chain.
func AsFlowError(err error) (*FlowError, bool) {
	for err != nil {
		if flowErr, ok := err.(*FlowError); ok {
			return flowErr, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}
