package core

import (
	"errors"
	"fmt"
)

// Error is the typed error carried across the call core and the gateway.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	CallID        string    `json:"call_id,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"

	ErrValidation        ErrorType = "validation_error"
	ErrAlreadyActive     ErrorType = "already_active"
	ErrGenerationFailed  ErrorType = "generation_failed"
	ErrSTT               ErrorType = "stt_error"
	ErrLLM               ErrorType = "llm_error"
	ErrTTS               ErrorType = "tts_error"
	ErrIllegalTransition ErrorType = "illegal_transition"
	ErrCapacityExceeded  ErrorType = "capacity_exceeded"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{
		Type:    ErrAuthentication,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{
		Type:       ErrRateLimit,
		Message:    message,
		RetryAfter: &retryAfter,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// NewValidationError creates a script or input validation error.
func NewValidationError(message string) *Error {
	return &Error{
		Type:    ErrValidation,
		Message: message,
	}
}

// NewAlreadyActiveError reports a second activation of a script flow.
func NewAlreadyActiveError(scriptName string) *Error {
	return &Error{
		Type:    ErrAlreadyActive,
		Message: fmt.Sprintf("script flow %q is already active", scriptName),
	}
}

// NewIllegalTransitionError reports a call state change the state machine forbids.
func NewIllegalTransitionError(callID, from, to string) *Error {
	return &Error{
		Type:    ErrIllegalTransition,
		Message: fmt.Sprintf("illegal transition %s -> %s", from, to),
		CallID:  callID,
	}
}

// NewCapacityExceededError reports that no more call sessions can be admitted.
func NewCapacityExceededError(max int) *Error {
	retryAfter := 1
	return &Error{
		Type:       ErrCapacityExceeded,
		Message:    fmt.Sprintf("max concurrent sessions (%d) reached", max),
		RetryAfter: &retryAfter,
	}
}

// NewGenerationFailedError wraps the last LLM failure after retries are exhausted.
func NewGenerationFailedError(cause error) *Error {
	return &Error{
		Type:    ErrGenerationFailed,
		Message: fmt.Sprintf("generation failed: %v", cause),
		cause:   cause,
	}
}

// NewProviderError creates a provider-specific error.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:          ErrProvider,
		Message:       fmt.Sprintf("%s: %v", provider, underlying),
		ProviderError: underlying.Error(),
		cause:         underlying,
	}
}

// NewCollaboratorError wraps a failure from an STT, LLM or TTS backend under the given type.
func NewCollaboratorError(t ErrorType, provider string, underlying error) *Error {
	return &Error{
		Type:          t,
		Message:       fmt.Sprintf("%s: %v", provider, underlying),
		ProviderError: underlying.Error(),
		cause:         underlying,
	}
}

// IsRetryable returns true if the error is retryable.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrLLM, ErrSTT, ErrTTS, ErrCapacityExceeded:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}

// AsError returns the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsType reports whether any *Error in err's chain has type t.
func IsType(err error, t ErrorType) bool {
	for err != nil {
		ce, ok := AsError(err)
		if !ok {
			return false
		}
		if ce.Type == t {
			return true
		}
		err = ce.Unwrap()
	}
	return false
}
