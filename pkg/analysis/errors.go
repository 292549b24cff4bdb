package analysis

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

// Network and transport (001xx).
const (
	ErrCodeNetwork          ErrorCode = "00100"
	ErrCodeRequestEncode    ErrorCode = "00101"
	ErrCodeStreamIncomplete ErrorCode = "00102"
)

// Server responses (002xx).
const (
	ErrCodeServer          ErrorCode = "00200"
	ErrCodePaymentRequired ErrorCode = "00201"
	ErrCodeDecoding        ErrorCode = "00202"
)

// Local model preconditions (003xx).
const (
	ErrCodeModelLoadFailed    ErrorCode = "00300"
	ErrCodeModelNotAvailable  ErrorCode = "00301"
	ErrCodeModelNotDownloaded ErrorCode = "00302"
)

// Guardrail violations (004xx).
const (
	ErrCodeThermalCritical    ErrorCode = "00400"
	ErrCodeThermalSerious     ErrorCode = "00401"
	ErrCodeMemoryPressure     ErrorCode = "00402"
	ErrCodeMemoryCritical     ErrorCode = "00403"
	ErrCodeTimeout            ErrorCode = "00404"
	ErrCodeSafeguardTriggered ErrorCode = "00405"
)

// Output parsing (005xx).
const (
	ErrCodeParsingFailed ErrorCode = "00500"
)

// Error is the unified error type of the analysis engine. Code drives
// programmatic handling, Details carry diagnostic context (raw bodies,
// status codes, coding paths) that is logged but never shown to users.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code so sentinel comparison works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails attaches a diagnostic key/value and returns e.
func (e *Error) WithDetails(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the wrapped cause and returns e.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// NewError creates an Error with the given code.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any)}
}

// WrapError wraps an existing error under the given code.
func WrapError(err error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err, Details: make(map[string]any)}
}

// NewServerError builds a ServerError carrying the HTTP status; 402 maps
// to the distinct payment-required code because it drives a separate UI path.
func NewServerError(status int, body string) *Error {
	code := ErrCodeServer
	msg := fmt.Sprintf("server returned status %d", status)
	if status == 402 {
		code = ErrCodePaymentRequired
		msg = "payment required"
	}
	return NewError(code, msg).
		WithDetails("status", status).
		WithDetails("body", body)
}

// AsError converts err to *Error if it is (or wraps) one.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsPaymentRequired reports whether err is the 402 upsell path.
func IsPaymentRequired(err error) bool {
	if ae, ok := AsError(err); ok {
		return ae.Code == ErrCodePaymentRequired
	}
	return false
}

// IsGuardrail reports whether err is any thermal/memory/safeguard violation.
func IsGuardrail(err error) bool {
	if ae, ok := AsError(err); ok {
		switch ae.Code {
		case ErrCodeThermalCritical, ErrCodeThermalSerious,
			ErrCodeMemoryPressure, ErrCodeMemoryCritical,
			ErrCodeTimeout, ErrCodeSafeguardTriggered:
			return true
		}
	}
	return false
}

// IsModelUnavailable reports whether err is a local-model precondition
// failure that a remote fallback can recover from.
func IsModelUnavailable(err error) bool {
	if ae, ok := AsError(err); ok {
		switch ae.Code {
		case ErrCodeModelLoadFailed, ErrCodeModelNotAvailable, ErrCodeModelNotDownloaded:
			return true
		}
	}
	return false
}

// IsTimeout reports whether err is a guardrail timeout.
func IsTimeout(err error) bool {
	if ae, ok := AsError(err); ok {
		return ae.Code == ErrCodeTimeout
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrStreamIncomplete   = NewError(ErrCodeStreamIncomplete, "stream ended without final event")
	ErrModelLoadFailed    = NewError(ErrCodeModelLoadFailed, "no viable local model could be loaded")
	ErrModelNotDownloaded = NewError(ErrCodeModelNotDownloaded, "model weights not downloaded")
	ErrParsingFailed      = NewError(ErrCodeParsingFailed, "model output could not be parsed")
)
