// Package notifyerr provides structured error types for notificaties-core.
//
// All publisher- and admin-facing errors should use these types so that
// HTTP handlers, the scheduler, and the delivery worker can consistently
// classify, log, and (where relevant) retry them.
package notifyerr

import (
	"fmt"
)

// Code is a unique error identifier for categorization, and doubles as
// the wire-visible "code" field on validation error responses.
type Code string

const (
	// Publisher input errors
	CodeKanaalNaam              Code = "kanaal_naam"
	CodeMessageKanaal           Code = "message_kanaal"
	CodeKenmerkenInconsistent   Code = "kenmerken_inconsistent"
	CodeAbonnementFiltersInvalid Code = "inconsistent-abonnement-filters"
	CodeNoAuthOnCallbackURL     Code = "no-auth-on-callback-url"
	CodeInvalidCallbackURL      Code = "invalid-callback-url"
	CodeFutureNotAllowed        Code = "future_not_allowed"
	CodeSourceRequired          Code = "source_required"

	// Worker / scheduler internal codes (logged, never returned to publishers)
	CodeSubscriptionDoesNotExist  Code = "subscription_does_not_exist"
	CodeScheduledWorkDoesNotExist Code = "scheduled_work_does_not_exist"
	CodeDeliveryError             Code = "delivery_error"
	CodeAuthError                 Code = "auth_error"

	// General
	CodeValidation Code = "validation_error"
	CodeInternal   Code = "internal_error"
	CodeStorage    Code = "storage_error"
	CodeTimeout    Code = "timeout_error"
)

// NotifyError is the base error type for all notificaties-core errors.
type NotifyError struct {
	Code      Code
	Message   string
	Cause     error
	Retryable bool
	Metadata  map[string]string
}

func (e *NotifyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/As against Cause.
func (e *NotifyError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy of e wrapping cause.
func (e *NotifyError) WithCause(cause error) *NotifyError {
	return &NotifyError{Code: e.Code, Message: e.Message, Cause: cause, Retryable: e.Retryable, Metadata: e.Metadata}
}

// WithMessage returns a copy of e with a custom message.
func (e *NotifyError) WithMessage(msg string) *NotifyError {
	return &NotifyError{Code: e.Code, Message: msg, Cause: e.Cause, Retryable: e.Retryable, Metadata: e.Metadata}
}

// WithMetadata returns a copy of e with one extra metadata entry.
func (e *NotifyError) WithMetadata(key, value string) *NotifyError {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	return &NotifyError{Code: e.Code, Message: e.Message, Cause: e.Cause, Retryable: e.Retryable, Metadata: meta}
}

// Sentinel errors for the publisher-facing validation codes.
var (
	ErrKanaalNaam              = &NotifyError{Code: CodeKanaalNaam, Message: "kanaal met deze naam bestaat niet"}
	ErrMessageKanaal           = &NotifyError{Code: CodeMessageKanaal, Message: "kanaal met deze naam bestaat niet"}
	ErrKenmerkenInconsistent   = &NotifyError{Code: CodeKenmerkenInconsistent, Message: "kenmerken aren't consistent with kanaal filters"}
	ErrAbonnementFiltersInvalid = &NotifyError{Code: CodeAbonnementFiltersInvalid, Message: "abonnement filters aren't consistent with kanaal filters"}
	ErrNoAuthOnCallbackURL     = &NotifyError{Code: CodeNoAuthOnCallbackURL, Message: "callback url did not reject an unauthenticated request"}
	ErrInvalidCallbackURL      = &NotifyError{Code: CodeInvalidCallbackURL, Message: "callback url did not accept a synthetic notification"}
	ErrFutureNotAllowed        = &NotifyError{Code: CodeFutureNotAllowed, Message: "aanmaakdatum may not be in the future"}
	ErrSourceRequired          = &NotifyError{Code: CodeSourceRequired, Message: "source is required when a matching subscriber wants cloudevents"}

	ErrSubscriptionDoesNotExist  = &NotifyError{Code: CodeSubscriptionDoesNotExist, Message: "subscription does not exist", Retryable: false}
	ErrScheduledWorkDoesNotExist = &NotifyError{Code: CodeScheduledWorkDoesNotExist, Message: "scheduled work does not exist", Retryable: false}

	ErrStorage  = &NotifyError{Code: CodeStorage, Message: "storage error", Retryable: true}
	ErrInternal = &NotifyError{Code: CodeInternal, Message: "internal error", Retryable: false}
	ErrTimeout  = &NotifyError{Code: CodeTimeout, Message: "timeout", Retryable: true}
)

// New creates a non-retryable NotifyError.
func New(code Code, message string) *NotifyError {
	return &NotifyError{Code: code, Message: message}
}

// Wrap wraps cause in a non-retryable NotifyError.
func Wrap(cause error, code Code, message string) *NotifyError {
	return &NotifyError{Code: code, Message: message, Cause: cause}
}

// WrapRetryable wraps cause in a retryable NotifyError.
func WrapRetryable(cause error, code Code, message string) *NotifyError {
	return &NotifyError{Code: code, Message: message, Cause: cause, Retryable: true}
}

// IsRetryable reports whether err carries Retryable=true.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if nErr, ok := err.(*NotifyError); ok {
		return nErr.Retryable
	}
	return false
}

// GetCode extracts the Code from err, or CodeInternal if err isn't one of ours.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	if nErr, ok := err.(*NotifyError); ok {
		return nErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps a Code to the status a handler should respond with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeKanaalNaam, CodeMessageKanaal, CodeKenmerkenInconsistent,
		CodeAbonnementFiltersInvalid, CodeNoAuthOnCallbackURL,
		CodeInvalidCallbackURL, CodeFutureNotAllowed, CodeSourceRequired,
		CodeValidation:
		return 400
	case CodeTimeout:
		return 504
	default:
		return 500
	}
}
